// Package handlers contains HTTP handler implementations.
package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/lessondrip/coursebot/internal/infrastructure/external/telegram"
	"github.com/lessondrip/coursebot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM WEBHOOK HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// Fixed response bodies of the inbound listener.
const (
	BodyOK           = "OK"
	BodyBadRequest   = "Bad Request"
	BodyUnauthorized = "Unauthorized"
	BodyTooLarge     = "Request Entity Too Large"
	BodyAlive        = "✅ Бот запущен"
)

// SecretTokenHeader carries the secret_token given to setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// DefaultMaxBodyBytes limits the webhook payload.
const DefaultMaxBodyBytes = 1 << 20

// UpdateHandler processes one decoded update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update *telegram.Update) error
}

// WebhookConfig contains configuration for WebhookHandler.
type WebhookConfig struct {
	// Secret, when set, must match the SecretTokenHeader of every POST.
	Secret string

	// MaxBodyBytes caps the request body (default 1 MiB).
	MaxBodyBytes int64

	Logger *slog.Logger
}

// WebhookHandler is the inbound listener. POST / carries an update; anything
// else gets the liveness banner.
type WebhookHandler struct {
	updates      UpdateHandler
	secret       []byte
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(updates UpdateHandler, config WebhookConfig) *WebhookHandler {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &WebhookHandler{
		updates:      updates,
		secret:       []byte(config.Secret),
		maxBodyBytes: config.MaxBodyBytes,
		logger:       config.Logger.With(logger.Component("webhook")),
	}
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/" {
		writeText(w, http.StatusOK, BodyAlive)
		return
	}

	if !h.authorized(r) {
		h.logger.Warn("webhook secret mismatch", slog.String("ip", clientIP(r)))
		writeText(w, http.StatusUnauthorized, BodyUnauthorized)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, BodyTooLarge)
			return
		}
		h.logger.Warn("failed to read update", logger.Err(err))
		writeText(w, http.StatusBadRequest, BodyBadRequest)
		return
	}

	if !json.Valid(raw) {
		h.logger.Warn("invalid update payload", slog.Int("bytes", len(raw)))
		writeText(w, http.StatusBadRequest, BodyBadRequest)
		return
	}

	// Valid JSON that does not fit an update carries nothing to route.
	var update telegram.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		h.logger.Debug("ignoring update of unexpected shape", logger.Err(err))
		writeText(w, http.StatusOK, BodyOK)
		return
	}

	// Routing and store failures are logged by the processor. Telegram only
	// needs to know the update was received.
	_ = h.updates.HandleUpdate(r.Context(), &update)

	writeText(w, http.StatusOK, BodyOK)
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if len(h.secret) == 0 {
		return true
	}
	got := []byte(r.Header.Get(SecretTokenHeader))
	return subtle.ConstantTimeCompare(got, h.secret) == 1
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
