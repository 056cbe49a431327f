package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lessondrip/coursebot/internal/infrastructure/external/telegram"
	"github.com/lessondrip/coursebot/pkg/logger"
)

// Update receiving modes.
const (
	ModeWebhook = "webhook"
	ModePolling = "polling"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the bot lifecycle.
type BotConfig struct {
	// Mode is the update receiving mode: "webhook" or "polling".
	Mode string

	// WebhookURL is registered with setWebhook in webhook mode.
	WebhookURL string

	// WebhookSecret is passed as secret_token; Telegram echoes it back in
	// the X-Telegram-Bot-Api-Secret-Token header.
	WebhookSecret string

	// MaxConnections for webhook delivery, 0 keeps the Telegram default.
	MaxConnections int

	Logger *slog.Logger
}

// BotAPI is the subset of the Bot API client used by the bot lifecycle.
type BotAPI interface {
	GetMe(ctx context.Context) (*telegram.User, error)
	SetWebhook(ctx context.Context, params telegram.WebhookParams) error
	DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error
	StartPolling(ctx context.Context, handler telegram.UpdateHandler) error
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot wires the Bot API client to the processor for the configured mode.
type Bot struct {
	config    BotConfig
	api       BotAPI
	processor *Processor
	logger    *slog.Logger
}

// NewBot creates a new Bot.
func NewBot(api BotAPI, processor *Processor, config BotConfig) (*Bot, error) {
	if config.Mode == "" {
		config.Mode = ModeWebhook
	}
	if config.Mode != ModeWebhook && config.Mode != ModePolling {
		return nil, fmt.Errorf("unknown bot mode: %s", config.Mode)
	}
	if config.Mode == ModeWebhook && config.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required for webhook mode")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Bot{
		config:    config,
		api:       api,
		processor: processor,
		logger:    config.Logger.With(logger.Component("bot")),
	}, nil
}

// Identify calls getMe and returns the bot username, used to recognise
// "/start@username" commands. It runs before the router is built.
func Identify(ctx context.Context, api BotAPI, log *slog.Logger) (string, error) {
	me, err := api.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("bot: failed to call getMe: %w", err)
	}

	if log != nil {
		log.Info("bot verified",
			logger.Component("bot"),
			slog.Int64("id", me.ID),
			slog.String("username", me.Username),
		)
	}

	return me.Username, nil
}

// Run starts receiving updates. In webhook mode it registers the webhook once
// and returns; a registration failure is logged and not returned, the inbound
// listener keeps serving. In polling mode it blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	switch b.config.Mode {
	case ModePolling:
		return b.runPolling(ctx)
	default:
		b.registerWebhook(ctx)
		return nil
	}
}

func (b *Bot) registerWebhook(ctx context.Context) {
	err := b.api.SetWebhook(ctx, telegram.WebhookParams{
		URL:            b.config.WebhookURL,
		SecretToken:    b.config.WebhookSecret,
		MaxConnections: b.config.MaxConnections,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		b.logger.Error("failed to set webhook",
			slog.String("url", b.config.WebhookURL),
			logger.Err(err),
		)
		return
	}

	b.logger.Info("webhook set", slog.String("url", b.config.WebhookURL))
}

func (b *Bot) runPolling(ctx context.Context) error {
	// getUpdates fails with 409 while a webhook is set.
	if err := b.api.DeleteWebhook(ctx, false); err != nil {
		b.logger.Warn("failed to delete webhook before polling", logger.Err(err))
	}

	if err := b.api.StartPolling(ctx, b.processor.HandleUpdate); err != nil {
		return fmt.Errorf("bot: polling stopped: %w", err)
	}
	return nil
}
