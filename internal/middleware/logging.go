package middleware

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"drive-relay/internal/logger"
)

const requestIDHeader = "X-Request-ID"

const requestIDContextKey contextKey = "request_id"

// Logging tags every request with an id and writes one access line after
// the handler returns. Webhook lines carry the provider message id and the
// masked sender so a delivery can be traced into the audit trail.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDContextKey, requestID))

		started := time.Now()
		recorder := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(started).Milliseconds(),
			"client_ip", extractClientIP(r),
		}
		attrs = append(attrs, webhookAttrs(r)...)
		if recorder.status >= 400 {
			attrs = append(attrs, failureAttrs(r, recorder.body.Bytes())...)
		}

		level := slog.LevelInfo
		switch {
		case recorder.status >= 500:
			level = slog.LevelError
		case recorder.status >= 400:
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "request", attrs...)
	})
}

// webhookAttrs reads the form the webhook handler already parsed. The body
// is never read here, so a request the handler rejected early adds nothing.
func webhookAttrs(r *http.Request) []any {
	if !strings.HasPrefix(r.URL.Path, webhookPrefix) || r.PostForm == nil {
		return nil
	}

	var attrs []any
	if sid := r.PostForm.Get("MessageSid"); sid != "" {
		attrs = append(attrs, "message_id", sid)
	}
	if from := r.PostForm.Get("From"); from != "" {
		attrs = append(attrs, "sender", logger.MaskSender(from))
	}
	if status := r.PostForm.Get("MessageStatus"); status != "" {
		attrs = append(attrs, "delivery_status", status)
	}
	return attrs
}

// failureAttrs adds the query and, for JSON envelopes, the error fields.
// TwiML bodies are not JSON and are skipped.
func failureAttrs(r *http.Request, body []byte) []any {
	var attrs []any
	if r.URL.RawQuery != "" {
		attrs = append(attrs, "query", r.URL.RawQuery)
	}
	if len(body) == 0 {
		return attrs
	}

	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details string `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return attrs
	}

	attrs = append(attrs, "error_code", envelope.Error.Code, "error_message", envelope.Error.Message)
	if envelope.Error.Details != "" {
		attrs = append(attrs, "error_details", envelope.Error.Details)
	}
	return attrs
}

// RequestIDFromContext returns the id assigned by Logging, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.status = statusCode
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	// Bodies are kept only for error responses.
	if rw.status >= 400 {
		rw.body.Write(b)
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack keeps the websocket upgrade working behind this wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
