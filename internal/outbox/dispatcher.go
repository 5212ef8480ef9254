package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/instantpay/instantpay/internal/messaging"
)

const maxBackoff = 5 * time.Minute

// Options tune the dispatch loop.
type Options struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Dispatcher periodically drains due PENDING events to the messaging
// transport. Delivery is at-least-once: an event is marked SENT only after
// the broker acknowledged, so a crash between publish and retirement means
// the event goes out again on the next cycle.
type Dispatcher struct {
	store     Store
	publisher messaging.Publisher
	logger    *slog.Logger
	opts      Options
}

// NewDispatcher wires a dispatcher over a store and a transport.
func NewDispatcher(store Store, publisher messaging.Publisher, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	return &Dispatcher{store: store, publisher: publisher, logger: logger, opts: opts}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started",
		"interval", d.opts.PollInterval.String(),
		"batch_size", d.opts.BatchSize,
		"max_attempts", d.opts.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.Cycle(ctx)
		}
	}
}

// Cycle runs a single fetch-publish-retire pass.
func (d *Dispatcher) Cycle(ctx context.Context) {
	events, err := d.store.FetchDue(ctx, d.opts.BatchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	d.logger.Debug("processing outbox events", "count", len(events))

	for _, event := range events {
		if err := d.publisher.Publish(ctx, event.Topic, event.Payload); err != nil {
			d.handleFailure(ctx, event, err)
			continue
		}

		if err := d.store.MarkSent(ctx, event.ID); err != nil {
			// The publish went out; the event stays PENDING and will be
			// re-published next cycle. Consumers dedupe on transaction id.
			d.logger.Error("outbox retire failed", "event_id", event.ID, "error", err)
			continue
		}

		d.logger.Info("outbox event sent", "event_id", event.ID, "topic", event.Topic, "attempts", event.Attempts+1)
	}
}

func (d *Dispatcher) handleFailure(ctx context.Context, event Event, cause error) {
	attempts := event.Attempts + 1
	if attempts >= d.opts.MaxAttempts {
		if err := d.store.MarkFailed(ctx, event.ID); err != nil {
			d.logger.Error("outbox dead-letter failed", "event_id", event.ID, "error", err)
			return
		}
		d.logger.Error("outbox event dead-lettered",
			"event_id", event.ID, "topic", event.Topic, "attempts", attempts, "error", cause)
		return
	}

	next := time.Now().UTC().Add(d.backoffFor(attempts))
	if err := d.store.ScheduleRetry(ctx, event.ID, next); err != nil {
		d.logger.Error("outbox retry schedule failed", "event_id", event.ID, "error", err)
		return
	}
	d.logger.Warn("outbox publish failed, retry scheduled",
		"event_id", event.ID, "topic", event.Topic, "attempts", attempts, "next_attempt_at", next, "error", cause)
}

func (d *Dispatcher) backoffFor(attempts int) time.Duration {
	backoff := d.opts.RetryBackoff << (attempts - 1)
	if backoff > maxBackoff || backoff <= 0 {
		return maxBackoff
	}
	return backoff
}
