package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"drive-relay/internal/middleware"
	"drive-relay/internal/model"
	"drive-relay/internal/twiml"
)

type MessageDispatcher interface {
	Handle(ctx context.Context, msg model.InboundMessage) (reply string, handled bool)
}

type WebhookHandler struct {
	dispatcher MessageDispatcher
}

func NewWebhookHandler(dispatcher MessageDispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

// WhatsApp accepts a provider form post and answers with a TwiML reply.
// A redelivered message id gets 200 with an empty body so the provider
// stops retrying without the user seeing a second answer.
func (h *WebhookHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("webhook form unreadable", "request_id", middleware.RequestIDFromContext(r.Context()), "error", err)
		twiml.Write(w, http.StatusBadRequest, "")
		return
	}

	msg := model.InboundMessage{
		MessageID:   strings.TrimSpace(r.PostForm.Get("MessageSid")),
		SenderID:    strings.TrimSpace(r.PostForm.Get("From")),
		Body:        strings.TrimSpace(r.PostForm.Get("Body")),
		ProfileName: strings.TrimSpace(r.PostForm.Get("ProfileName")),
	}
	if msg.MessageID == "" || msg.SenderID == "" {
		slog.Warn("webhook missing message id or sender", "request_id", middleware.RequestIDFromContext(r.Context()))
		twiml.Write(w, http.StatusBadRequest, "")
		return
	}

	slog.Info("whatsapp message received",
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"message_id", msg.MessageID,
		"sender", msg.SenderID,
		"body_length", len(msg.Body),
	)

	reply, handled := h.dispatcher.Handle(r.Context(), msg)
	if !handled {
		w.WriteHeader(http.StatusOK)
		return
	}

	twiml.Write(w, http.StatusOK, reply)
}

// Status logs delivery callbacks for sent replies.
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	slog.Info("message status update",
		"message_id", r.PostForm.Get("MessageSid"),
		"status", r.PostForm.Get("MessageStatus"),
		"error_code", r.PostForm.Get("ErrorCode"),
	)
	w.WriteHeader(http.StatusOK)
}
