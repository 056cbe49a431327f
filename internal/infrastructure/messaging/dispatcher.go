// Package messaging delivers outbound intents produced by the router.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lessondrip/coursebot/internal/domain/outbound"
	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/pkg/logger"
)

// ErrDispatcherClosed is returned by Dispatch after Close was called.
var ErrDispatcherClosed = errors.New("messaging: dispatcher closed")

// Send outcomes reported to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeUnreachable = "unreachable"
	OutcomeRateLimited = "rate_limited"
)

// Send methods reported to the Observer.
const (
	MethodVideo = "sendVideo"
	MethodText  = "sendMessage"
)

// Sender performs the actual network calls. telegram.Gateway implements it.
type Sender interface {
	SendVideo(ctx context.Context, chatID shared.ChatID, mediaRef, caption string) error
	SendText(ctx context.Context, chatID shared.ChatID, text string) error
}

// Observer receives one call per attempted send.
type Observer interface {
	ObserveSend(method, outcome string, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveSend(string, string, time.Duration) {}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher executes batches of intents in the background:
// - intents of one batch are sent sequentially, in order
// - every send has its own timeout
// - failures are logged and counted, never retried
// - at most WorkerPoolSize batches run at once
type Dispatcher struct {
	sender      Sender
	observer    Observer
	sendTimeout time.Duration
	logger      *slog.Logger

	mu         sync.RWMutex
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	workerPool chan struct{}

	stats dispatcherCounters
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// WorkerPoolSize is the number of batches delivered concurrently
	WorkerPoolSize int

	// SendTimeout bounds every single Bot API call
	SendTimeout time.Duration

	// Observer receives per-send metrics
	Observer Observer

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkerPoolSize: 32,
		SendTimeout:    15 * time.Second,
	}
}

// NewDispatcher creates a new intent dispatcher.
func NewDispatcher(sender Sender, config DispatcherConfig) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = defaults.WorkerPoolSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	if config.Observer == nil {
		config.Observer = nopObserver{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		sender:      sender,
		observer:    config.Observer,
		sendTimeout: config.SendTimeout,
		logger:      config.Logger.With(logger.Component("dispatcher")),
		ctx:         ctx,
		cancel:      cancel,
		workerPool:  make(chan struct{}, config.WorkerPoolSize),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHING
// ══════════════════════════════════════════════════════════════════════════════

// Dispatch schedules the batch and returns immediately.
func (d *Dispatcher) Dispatch(batch outbound.Batch) error {
	if batch.Empty() {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.stats.batches.Add(1)
	d.wg.Add(1)
	go d.run(batch)

	return nil
}

func (d *Dispatcher) run(batch outbound.Batch) {
	defer d.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic recovered",
				logger.UpdateID(batch.UpdateID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	select {
	case d.workerPool <- struct{}{}:
		defer func() { <-d.workerPool }()
	case <-d.ctx.Done():
		d.stats.dropped.Add(int64(len(batch.Intents)))
		d.logger.Warn("batch dropped on shutdown",
			logger.UpdateID(batch.UpdateID),
			slog.Int("intents", len(batch.Intents)),
		)
		return
	}

	_ = d.Deliver(d.ctx, batch)
}

// Deliver sends the batch synchronously. A failed intent does not stop the
// ones after it. The returned error joins every send failure.
func (d *Dispatcher) Deliver(ctx context.Context, batch outbound.Batch) error {
	var errs []error

	for i, intent := range batch.Intents {
		if err := ctx.Err(); err != nil {
			remaining := len(batch.Intents) - i
			d.stats.dropped.Add(int64(remaining))
			errs = append(errs, fmt.Errorf("dispatch: %d intents not sent: %w", remaining, err))
			break
		}

		if err := d.send(ctx, intent); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, shared.ErrForbidden) {
				// The user blocked the bot; nothing to fix on our side.
				level = slog.LevelInfo
			}
			d.logger.Log(ctx, level, "send failed",
				logger.UpdateID(batch.UpdateID),
				logger.ChatID(intent.ChatID.Int64()),
				slog.String("kind", string(intent.Kind)),
				slog.Int("position", i),
				logger.Err(err),
			)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, intent outbound.Intent) error {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	var (
		method string
		err    error
	)

	start := time.Now()
	switch intent.Kind {
	case outbound.KindVideo:
		method = MethodVideo
		err = d.sender.SendVideo(ctx, intent.ChatID, intent.MediaRef, intent.Caption)
	case outbound.KindText:
		method = MethodText
		err = d.sender.SendText(ctx, intent.ChatID, intent.Text)
	default:
		return fmt.Errorf("dispatch: unknown intent kind %q", intent.Kind)
	}
	elapsed := time.Since(start)

	outcome := OutcomeOK
	switch {
	case err == nil:
		d.stats.sent.Add(1)
	case errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeTimeout
		d.stats.failed.Add(1)
	case errors.Is(err, shared.ErrForbidden):
		outcome = OutcomeUnreachable
		d.stats.failed.Add(1)
	case errors.Is(err, shared.ErrRateLimited):
		outcome = OutcomeRateLimited
		d.stats.failed.Add(1)
	default:
		outcome = OutcomeError
		d.stats.failed.Add(1)
	}
	d.observer.ObserveSend(method, outcome, elapsed)

	if err != nil {
		return fmt.Errorf("dispatch: %s failed: %w", method, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Close stops accepting batches and waits for in-flight ones. When ctx ends
// first, pending sends are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
		err = ctx.Err()
	}
	d.cancel()

	s := d.Stats()
	d.logger.Info("dispatcher stopped",
		slog.Int64("batches", s.Batches),
		slog.Int64("sent", s.Sent),
		slog.Int64("failed", s.Failed),
		slog.Int64("dropped", s.Dropped),
	)

	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

type dispatcherCounters struct {
	batches atomic.Int64
	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// DispatcherStats is a point-in-time snapshot.
type DispatcherStats struct {
	Batches int64
	Sent    int64
	Failed  int64
	Dropped int64
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Batches: d.stats.batches.Load(),
		Sent:    d.stats.sent.Load(),
		Failed:  d.stats.failed.Load(),
		Dropped: d.stats.dropped.Load(),
	}
}
