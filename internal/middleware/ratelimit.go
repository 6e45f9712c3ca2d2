package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"drive-relay/internal/model"
	"drive-relay/internal/twiml"
)

const (
	defaultWebhookRPM = 120
	defaultAPIRPM     = 60
	webhookPrefix     = "/webhook/"
)

type clientLimiter struct {
	webhook  *rate.Limiter
	api      *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware throttles per client IP before any message parsing.
// It sits in front of the per-sender hourly limit, which runs inside the
// dispatcher. A non-positive webhook RPM disables webhook throttling.
type RateLimitMiddleware struct {
	webhookRPM int
	apiRPM     int
	mu         sync.Mutex
	clients    map[string]*clientLimiter
}

func NewRateLimitMiddleware(webhookRPM int, apiRPM int) *RateLimitMiddleware {
	if webhookRPM == 0 {
		webhookRPM = defaultWebhookRPM
	}
	if apiRPM <= 0 {
		apiRPM = defaultAPIRPM
	}

	return &RateLimitMiddleware{
		webhookRPM: webhookRPM,
		apiRPM:     apiRPM,
		clients:    map[string]*clientLimiter{},
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.ToLower(r.URL.Path)
		if path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		isWebhook := strings.HasPrefix(path, webhookPrefix)
		if isWebhook && m.webhookRPM < 0 {
			next.ServeHTTP(w, r)
			return
		}

		limiter := m.getLimiter(extractClientIP(r))
		target := limiter.api
		if isWebhook {
			target = limiter.webhook
		}

		if !target.Allow() {
			w.Header().Set("Retry-After", "60")
			if isWebhook {
				twiml.Write(w, http.StatusTooManyRequests, "")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = jsonEncode(w, model.APIResponse{
				Success: false,
				Error: &model.APIError{
					Code:    "RATE_LIMITED",
					Message: "Too many requests",
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) getLimiter(clientIP string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if limiter, exists := m.clients[clientIP]; exists {
		limiter.lastSeen = now
		m.gcLocked(now)
		return limiter
	}

	created := &clientLimiter{
		webhook:  newPerMinute(m.webhookRPM),
		api:      newPerMinute(m.apiRPM),
		lastSeen: now,
	}
	m.clients[clientIP] = created
	m.gcLocked(now)

	return created
}

func newPerMinute(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
}

func (m *RateLimitMiddleware) gcLocked(now time.Time) {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := now.Add(-10 * time.Minute)
	for ip, limiter := range m.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}

func extractClientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	realIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	if strings.TrimSpace(r.RemoteAddr) == "" {
		return "unknown"
	}

	return r.RemoteAddr
}
