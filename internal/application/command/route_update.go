// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lessondrip/coursebot/internal/domain/course"
	"github.com/lessondrip/coursebot/internal/domain/entitlement"
	"github.com/lessondrip/coursebot/internal/domain/outbound"
	"github.com/lessondrip/coursebot/internal/domain/payment"
	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/pkg/logger"
	"github.com/lessondrip/coursebot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTE UPDATE COMMAND
// Classifies one inbound chat message and decides what to send back:
// the free intro with a payment link, the full catalog after payment,
// or the next dripped lesson.
// ══════════════════════════════════════════════════════════════════════════════

const startCommand = "/start"

// RouteUpdateCommand is one inbound text message.
type RouteUpdateCommand struct {
	UpdateID int64
	ChatID   shared.ChatID
	SenderID shared.TelegramID
	Text     string
}

// Outcome names the branch the router took.
type Outcome string

const (
	OutcomeIgnored            Outcome = "ignored"
	OutcomeActivated          Outcome = "activated"
	OutcomeActivationMismatch Outcome = "activation_mismatch"
	OutcomeColdStart          Outcome = "cold_start"
	OutcomeDripDelivered      Outcome = "drip_delivered"
	OutcomeDripIdle           Outcome = "drip_idle"
	OutcomeHint               Outcome = "hint"
)

// RouteUpdateResult contains the intents to deliver, in order.
type RouteUpdateResult struct {
	Outcome Outcome
	Intents []outbound.Intent

	// FirstActivation is set when this update created the entitlement.
	FirstActivation bool

	// LessonIndex is the lesson delivered by a drip, or the last catalog
	// index after activation.
	LessonIndex int
}

// Batch converts the result into a dispatchable batch.
func (r *RouteUpdateResult) Batch(updateID int64) outbound.Batch {
	return outbound.Batch{UpdateID: updateID, Intents: r.Intents}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RouteUpdateHandlerConfig contains configuration for the handler.
type RouteUpdateHandlerConfig struct {
	// BotUsername, when set, makes "/start@OtherBot" count as plain text.
	BotUsername string
	Messages    Messages
	Clock       timeutil.Clock
	Logger      *slog.Logger
}

// RouteUpdateHandler handles the RouteUpdateCommand.
type RouteUpdateHandler struct {
	store      entitlement.Store
	catalog    *course.Catalog
	activation payment.Activation
	checkout   payment.Checkout

	botUsername string
	messages    Messages
	clock       timeutil.Clock
	logger      *slog.Logger
}

// NewRouteUpdateHandler creates a new RouteUpdateHandler.
func NewRouteUpdateHandler(
	store entitlement.Store,
	catalog *course.Catalog,
	activation payment.Activation,
	checkout payment.Checkout,
	config RouteUpdateHandlerConfig,
) *RouteUpdateHandler {
	if config.Clock == nil {
		config.Clock = timeutil.SystemClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &RouteUpdateHandler{
		store:       store,
		catalog:     catalog,
		activation:  activation,
		checkout:    checkout,
		botUsername: strings.TrimPrefix(config.BotUsername, "@"),
		messages:    config.Messages.withDefaults(),
		clock:       config.Clock,
		logger:      config.Logger.With(logger.Component("router")),
	}
}

// Handle executes the route update command. On error no intents are returned.
func (h *RouteUpdateHandler) Handle(ctx context.Context, cmd RouteUpdateCommand) (*RouteUpdateResult, error) {
	if cmd.Text == "" || !cmd.SenderID.IsValid() || !cmd.ChatID.IsValid() {
		return &RouteUpdateResult{Outcome: OutcomeIgnored, LessonIndex: course.NothingDue}, nil
	}

	param, isStart := h.parseStart(cmd.Text)
	if !isStart {
		return h.drip(ctx, cmd)
	}

	paidFor, err := h.activation.Parse(param)
	if err != nil {
		if param != "" && !errors.Is(err, shared.ErrNotActivationToken) {
			h.logger.DebugContext(ctx, "malformed activation parameter, treating as cold start",
				logger.UserID(cmd.SenderID.Int64()),
				slog.String("param", param),
			)
		}
		return h.coldStart(cmd), nil
	}

	if paidFor != cmd.SenderID {
		h.logger.InfoContext(ctx, "activation link used by another user",
			logger.UserID(cmd.SenderID.Int64()),
			slog.Int64("link_user_id", paidFor.Int64()),
		)
		return &RouteUpdateResult{
			Outcome:     OutcomeActivationMismatch,
			Intents:     []outbound.Intent{outbound.Text(cmd.ChatID, h.messages.ActivationMismatch)},
			LessonIndex: course.NothingDue,
		}, nil
	}

	return h.activate(ctx, cmd)
}

// parseStart reports whether text is the start command addressed to this bot
// and returns its first argument.
func (h *RouteUpdateHandler) parseStart(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}

	name, mention, hasMention := strings.Cut(fields[0], "@")
	if name != startCommand {
		return "", false
	}
	if hasMention && h.botUsername != "" && !strings.EqualFold(mention, h.botUsername) {
		return "", false
	}

	if len(fields) > 1 {
		return fields[1], true
	}
	return "", true
}

// coldStart sends the free intro and the payment prompt. It does not look at
// the store, so a paid user sending plain /start sees the intro again.
func (h *RouteUpdateHandler) coldStart(cmd RouteUpdateCommand) *RouteUpdateResult {
	welcome := h.catalog.Welcome()
	link := h.checkout.Link(cmd.SenderID)

	return &RouteUpdateResult{
		Outcome: OutcomeColdStart,
		Intents: []outbound.Intent{
			outbound.Video(cmd.ChatID, welcome.MediaRef, welcome.Caption),
			outbound.Text(cmd.ChatID, h.messages.paymentPrompt(link)),
		},
		LessonIndex: course.NothingDue,
	}
}

// activate grants access and sends the whole catalog. Re-activation sends
// everything again while the stored state stays the same.
func (h *RouteUpdateHandler) activate(ctx context.Context, cmd RouteUpdateCommand) (*RouteUpdateResult, error) {
	unlock, err := h.store.Lock(ctx, cmd.SenderID)
	if err != nil {
		return nil, fmt.Errorf("route_update: failed to lock entitlement: %w", err)
	}
	defer unlock()

	now := h.clock.Now()
	record, created, err := h.store.CreateIfAbsent(ctx, cmd.SenderID, now)
	if err != nil {
		return nil, fmt.Errorf("route_update: failed to create entitlement: %w", err)
	}

	length := h.catalog.Len()
	if length > 0 {
		record, err = h.store.Advance(ctx, cmd.SenderID, length-1)
		if err != nil {
			return nil, fmt.Errorf("route_update: failed to advance entitlement: %w", err)
		}
	}

	intents := make([]outbound.Intent, 0, length+1)
	for _, lesson := range h.catalog.Lessons() {
		intents = append(intents, outbound.Video(cmd.ChatID, lesson.MediaRef, lesson.Caption))
	}
	intents = append(intents, outbound.Text(cmd.ChatID, h.messages.ActivationThanks))

	h.logger.InfoContext(ctx, "entitlement activated",
		logger.UserID(cmd.SenderID.Int64()),
		slog.Bool("first", created),
		slog.Time("activated_at", record.ActivatedAt),
		slog.Int("lessons", length),
	)

	return &RouteUpdateResult{
		Outcome:         OutcomeActivated,
		Intents:         intents,
		FirstActivation: created,
		LessonIndex:     record.LastDeliveredIndex,
	}, nil
}

// drip handles any non-start text: at most one newly unlocked lesson for
// users with access, a hint for everyone else.
func (h *RouteUpdateHandler) drip(ctx context.Context, cmd RouteUpdateCommand) (*RouteUpdateResult, error) {
	unlock, err := h.store.Lock(ctx, cmd.SenderID)
	if err != nil {
		return nil, fmt.Errorf("route_update: failed to lock entitlement: %w", err)
	}
	defer unlock()

	record, err := h.store.Get(ctx, cmd.SenderID)
	if err != nil {
		if shared.IsNotFound(err) {
			return &RouteUpdateResult{
				Outcome:     OutcomeHint,
				Intents:     []outbound.Intent{outbound.Text(cmd.ChatID, h.messages.StartHint)},
				LessonIndex: course.NothingDue,
			}, nil
		}
		return nil, fmt.Errorf("route_update: failed to get entitlement: %w", err)
	}

	index, due := course.DueLesson(record.LastDeliveredIndex, record.ActivatedAt, h.clock.Now(), h.catalog.Len())
	if !due {
		return &RouteUpdateResult{Outcome: OutcomeDripIdle, LessonIndex: record.LastDeliveredIndex}, nil
	}

	lesson, _ := h.catalog.Lesson(index)
	if _, err := h.store.Advance(ctx, cmd.SenderID, index); err != nil {
		return nil, fmt.Errorf("route_update: failed to advance entitlement: %w", err)
	}

	h.logger.InfoContext(ctx, "lesson unlocked",
		logger.UserID(cmd.SenderID.Int64()),
		slog.Int("lesson_index", index),
	)

	return &RouteUpdateResult{
		Outcome:     OutcomeDripDelivered,
		Intents:     []outbound.Intent{outbound.Video(cmd.ChatID, lesson.MediaRef, lesson.Caption)},
		LessonIndex: index,
	}, nil
}
