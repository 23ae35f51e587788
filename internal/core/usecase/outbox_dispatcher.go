package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
)

const (
	defaultDispatchInterval = 2 * time.Second
	defaultDispatchBatch    = 50
	defaultMaxAttempts      = 5
	maxBackoff              = 5 * time.Minute
)

// OutboxDispatcher delivers queued validation events to a publisher. Failed
// deliveries are retried with growing delays until the attempt budget is
// spent; permanent failures are dead-lettered at once.
type OutboxDispatcher struct {
	repo        ports.OutboxRepository
	publisher   ports.EventPublisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time

	wake chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	delivered atomic.Int64
	retried   atomic.Int64
	dead      atomic.Int64
}

type OutboxDispatcherMetrics struct {
	Delivered int64
	Retried   int64
	Dead      int64
}

type DispatcherOption func(*OutboxDispatcher)

func WithDispatchInterval(d time.Duration) DispatcherOption {
	return func(o *OutboxDispatcher) {
		if d > 0 {
			o.interval = d
		}
	}
}

func WithDispatchBatchSize(n int) DispatcherOption {
	return func(o *OutboxDispatcher) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithMaxAttempts sets how many failed deliveries move an event to dead.
func WithMaxAttempts(n int) DispatcherOption {
	return func(o *OutboxDispatcher) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(o *OutboxDispatcher) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, opts ...DispatcherOption) *OutboxDispatcher {
	d := &OutboxDispatcher{
		repo:        repo,
		publisher:   publisher,
		interval:    defaultDispatchInterval,
		batchSize:   defaultDispatchBatch,
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling loop once; later calls are no-ops until Close.
func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

// Close stops the loop and logs the delivery counters of the dispatcher.
func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	d.wg.Wait()
	m := d.Metrics()
	d.logger.Info("outbox dispatcher stopped",
		slog.Int64("delivered", m.Delivered),
		slog.Int64("retried", m.Retried),
		slog.Int64("dead", m.Dead),
	)
	return nil
}

// Notify wakes the loop ahead of the next tick. It never blocks.
func (d *OutboxDispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("outbox dispatch failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DispatchPending publishes one batch of due events and reports how many
// were delivered. A returned error comes from the repository; publisher
// failures are recorded on the event instead.
func (d *OutboxDispatcher) DispatchPending(ctx context.Context) (int, error) {
	events, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := d.deliver(ctx, event); err != nil {
			if markErr := d.fail(ctx, event, err); markErr != nil {
				return delivered, markErr
			}
			continue
		}
		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return delivered, err
		}
		d.delivered.Add(1)
		delivered++
	}
	return delivered, nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, event domain.OutboxEvent) error {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
		return fmt.Errorf("%w: decode payload: %w", domain.ErrPermanentDelivery, err)
	}
	return d.publisher.Publish(ctx, event.Topic, envelope)
}

func (d *OutboxDispatcher) fail(ctx context.Context, event domain.OutboxEvent, cause error) error {
	attempts := event.Attempts + 1
	if attempts >= d.maxAttempts || errors.Is(cause, domain.ErrPermanentDelivery) {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, cause.Error()); err != nil {
			return err
		}
		d.dead.Add(1)
		d.logger.Warn("outbox event dead-lettered",
			slog.String("event_id", event.EventID),
			slog.String("topic", event.Topic),
			slog.Int("attempts", attempts),
			slog.Any("error", cause),
		)
		return nil
	}

	next := d.now().Add(backoffDuration(attempts)).Format(time.RFC3339Nano)
	if err := d.repo.MarkFailed(ctx, event.ID, attempts, next, cause.Error()); err != nil {
		return err
	}
	d.retried.Add(1)
	d.logger.Debug("outbox event rescheduled",
		slog.String("event_id", event.EventID),
		slog.Int("attempts", attempts),
		slog.String("next_attempt_at", next),
	)
	return nil
}

func (d *OutboxDispatcher) Metrics() OutboxDispatcherMetrics {
	return OutboxDispatcherMetrics{
		Delivered: d.delivered.Load(),
		Retried:   d.retried.Load(),
		Dead:      d.dead.Load(),
	}
}

// backoffDuration grows with the square of the attempt number, capped at
// five minutes.
func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Second
	}
	if d := time.Duration(attempt*attempt) * time.Second; d < maxBackoff {
		return d
	}
	return maxBackoff
}
