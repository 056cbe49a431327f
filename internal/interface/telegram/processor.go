// Package telegram turns Bot API updates into router commands and hands the
// resulting intents to the dispatcher. The same Processor serves webhook and
// long-polling modes.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lessondrip/coursebot/internal/application/command"
	"github.com/lessondrip/coursebot/internal/domain/outbound"
	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/internal/infrastructure/external/telegram"
	"github.com/lessondrip/coursebot/pkg/logger"
)

// Result label used when routing failed.
const resultError = "error"

// UpdateRouter decides what to send for one message.
type UpdateRouter interface {
	Handle(ctx context.Context, cmd command.RouteUpdateCommand) (*command.RouteUpdateResult, error)
}

// BatchDispatcher delivers intents without blocking the caller.
type BatchDispatcher interface {
	Dispatch(batch outbound.Batch) error
}

// Recorder counts processed updates.
type Recorder interface {
	RecordUpdate(result string)
	RecordDuplicate()
	RecordActivation(first bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpdate(string)   {}
func (nopRecorder) RecordDuplicate()      {}
func (nopRecorder) RecordActivation(bool) {}

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSOR
// ══════════════════════════════════════════════════════════════════════════════

// ProcessorConfig contains configuration for the Processor.
type ProcessorConfig struct {
	// DedupSize is the number of recent update ids remembered.
	DedupSize int

	// DedupTTL is how long an update id is remembered.
	DedupTTL time.Duration

	// RouteTimeout bounds store access for one update. Routing is detached
	// from the inbound request so a dropped connection does not abort it.
	RouteTimeout time.Duration

	Recorder Recorder
	Logger   *slog.Logger
}

// DefaultProcessorConfig returns sensible defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		DedupSize:    10_000,
		DedupTTL:     10 * time.Minute,
		RouteTimeout: 10 * time.Second,
	}
}

// Processor handles single updates.
type Processor struct {
	router       UpdateRouter
	dispatcher   BatchDispatcher
	recorder     Recorder
	routeTimeout time.Duration
	logger       *slog.Logger

	seenMu sync.Mutex
	seen   *expirable.LRU[int64, struct{}]
}

// NewProcessor creates a new update processor.
func NewProcessor(router UpdateRouter, dispatcher BatchDispatcher, config ProcessorConfig) *Processor {
	defaults := DefaultProcessorConfig()
	if config.DedupSize <= 0 {
		config.DedupSize = defaults.DedupSize
	}
	if config.DedupTTL <= 0 {
		config.DedupTTL = defaults.DedupTTL
	}
	if config.RouteTimeout <= 0 {
		config.RouteTimeout = defaults.RouteTimeout
	}
	if config.Recorder == nil {
		config.Recorder = nopRecorder{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Processor{
		router:       router,
		dispatcher:   dispatcher,
		recorder:     config.Recorder,
		routeTimeout: config.RouteTimeout,
		logger:       config.Logger.With(logger.Component("processor")),
		seen:         expirable.NewLRU[int64, struct{}](config.DedupSize, nil, config.DedupTTL),
	}
}

// HandleUpdate routes one update and schedules its replies. It has the
// telegram.UpdateHandler signature so it can be passed to StartPolling.
// The returned error is informational; the update is consumed either way.
func (p *Processor) HandleUpdate(ctx context.Context, update *telegram.Update) (err error) {
	if update == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("update panic recovered",
				logger.UpdateID(update.UpdateID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			p.recorder.RecordUpdate(resultError)
			err = fmt.Errorf("processor: panic: %v", r)
		}
	}()

	if p.isDuplicate(update.UpdateID) {
		p.recorder.RecordDuplicate()
		p.logger.Debug("duplicate update skipped", logger.UpdateID(update.UpdateID))
		return nil
	}

	cmd := toCommand(update)

	routeCtx := logger.WithAttrs(context.WithoutCancel(ctx), logger.UpdateID(update.UpdateID))
	routeCtx, cancel := context.WithTimeout(routeCtx, p.routeTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.router.Handle(routeCtx, cmd)
	if err != nil {
		p.recorder.RecordUpdate(resultError)
		p.logger.Error("failed to route update",
			logger.UpdateID(update.UpdateID),
			logger.UserID(cmd.SenderID.Int64()),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
		return fmt.Errorf("processor: failed to route update %d: %w", update.UpdateID, err)
	}

	p.recorder.RecordUpdate(string(result.Outcome))
	if result.Outcome == command.OutcomeActivated {
		p.recorder.RecordActivation(result.FirstActivation)
	}

	p.logger.Debug("update routed",
		logger.UpdateID(update.UpdateID),
		logger.UserID(cmd.SenderID.Int64()),
		slog.String("outcome", string(result.Outcome)),
		slog.Int("intents", len(result.Intents)),
		logger.Latency(time.Since(start)),
	)

	if err := p.dispatcher.Dispatch(result.Batch(update.UpdateID)); err != nil {
		p.logger.Warn("failed to schedule replies",
			logger.UpdateID(update.UpdateID),
			logger.Err(err),
		)
	}

	return nil
}

// isDuplicate reports whether id was seen recently and remembers it otherwise.
// Zero ids are never deduplicated.
func (p *Processor) isDuplicate(id int64) bool {
	if id == 0 {
		return false
	}

	p.seenMu.Lock()
	defer p.seenMu.Unlock()

	if p.seen.Contains(id) {
		return true
	}
	p.seen.Add(id, struct{}{})
	return false
}

// toCommand extracts the fields the router needs. Only new messages are
// routed; edits and other update kinds produce an empty command.
func toCommand(update *telegram.Update) command.RouteUpdateCommand {
	cmd := command.RouteUpdateCommand{UpdateID: update.UpdateID}

	msg := update.Message
	if msg == nil {
		return cmd
	}

	cmd.Text = msg.Text
	if msg.Chat != nil {
		cmd.ChatID = shared.ChatID(msg.Chat.ID)
	}
	if msg.From != nil && !msg.From.IsBot {
		cmd.SenderID = shared.TelegramID(msg.From.ID)
	}

	return cmd
}
