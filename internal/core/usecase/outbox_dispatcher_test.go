package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

type memOutbox struct {
	mu         sync.Mutex
	events     map[int64]*domain.OutboxEvent
	order      []int64
	fetchErr   error
	dispatched []int64
	failed     map[int64]string
	dead       map[int64]int
}

func newMemOutbox(events ...domain.OutboxEvent) *memOutbox {
	o := &memOutbox{
		events: make(map[int64]*domain.OutboxEvent),
		failed: make(map[int64]string),
		dead:   make(map[int64]int),
	}
	for i := range events {
		ev := events[i]
		ev.Status = "pending"
		o.events[ev.ID] = &ev
		o.order = append(o.order, ev.ID)
	}
	return o
}

func (o *memOutbox) FetchPending(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fetchErr != nil {
		return nil, o.fetchErr
	}
	var out []domain.OutboxEvent
	for _, id := range o.order {
		ev := o.events[id]
		if ev.Status != "pending" || ev.NextAttemptAt.After(time.Now()) {
			continue
		}
		out = append(out, *ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (o *memOutbox) MarkDispatched(_ context.Context, id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[id].Status = "dispatched"
	o.dispatched = append(o.dispatched, id)
	return nil
}

func (o *memOutbox) MarkFailed(_ context.Context, id int64, attempts int, next string, msg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	at, err := time.Parse(time.RFC3339Nano, next)
	if err != nil {
		return err
	}
	o.events[id].Attempts = attempts
	o.events[id].NextAttemptAt = at
	o.failed[id] = msg
	return nil
}

func (o *memOutbox) MarkDead(_ context.Context, id int64, attempts int, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[id].Status = "dead"
	o.events[id].Attempts = attempts
	o.dead[id] = attempts
	return nil
}

func (o *memOutbox) dispatchedIDs() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.dispatched...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	failFn func(topic string) error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ domain.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFn != nil {
		if err := p.failFn(topic); err != nil {
			return err
		}
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

func queued(id int64, report string, attempts int) domain.OutboxEvent {
	env := domain.EventEnvelope{
		EventID:       fmt.Sprintf("evt-%d", id),
		EventType:     domain.EventValidationCompleted,
		SchemaVersion: domain.CurrentEventSchemaVersion,
		Client:        "acme",
		ReportID:      report,
	}
	payload, _ := json.Marshal(env)
	return domain.OutboxEvent{
		ID:          id,
		EventID:     env.EventID,
		Client:      "acme",
		Topic:       "events.acme.validation.completed." + report,
		PayloadJSON: payload,
		Attempts:    attempts,
	}
}

func TestOutboxDispatcherDispatchPending(t *testing.T) {
	transient := errors.New("connection refused")
	tests := []struct {
		name          string
		events        []domain.OutboxEvent
		failFn        func(topic string) error
		wantDelivered int
		wantFailed    []int64
		wantDead      map[int64]int
		wantMetrics   OutboxDispatcherMetrics
	}{
		{
			name:          "all delivered",
			events:        []domain.OutboxEvent{queued(1, "a", 0), queued(2, "b", 0)},
			wantDelivered: 2,
			wantDead:      map[int64]int{},
			wantMetrics:   OutboxDispatcherMetrics{Delivered: 2},
		},
		{
			name:   "transient failure is rescheduled",
			events: []domain.OutboxEvent{queued(1, "a", 0), queued(2, "b", 0)},
			failFn: func(topic string) error {
				if topic == "events.acme.validation.completed.a" {
					return transient
				}
				return nil
			},
			wantDelivered: 1,
			wantFailed:    []int64{1},
			wantDead:      map[int64]int{},
			wantMetrics:   OutboxDispatcherMetrics{Delivered: 1, Retried: 1},
		},
		{
			name:        "attempt budget spent",
			events:      []domain.OutboxEvent{queued(1, "a", 2)},
			failFn:      func(string) error { return transient },
			wantDead:    map[int64]int{1: 3},
			wantMetrics: OutboxDispatcherMetrics{Dead: 1},
		},
		{
			name:   "permanent failure dead-letters at once",
			events: []domain.OutboxEvent{queued(1, "a", 0)},
			failFn: func(string) error {
				return fmt.Errorf("%w: status 410", domain.ErrPermanentDelivery)
			},
			wantDead:    map[int64]int{1: 1},
			wantMetrics: OutboxDispatcherMetrics{Dead: 1},
		},
		{
			name: "undecodable payload",
			events: []domain.OutboxEvent{func() domain.OutboxEvent {
				ev := queued(1, "a", 0)
				ev.PayloadJSON = json.RawMessage(`{`)
				return ev
			}()},
			wantDead:    map[int64]int{1: 1},
			wantMetrics: OutboxDispatcherMetrics{Dead: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemOutbox(tt.events...)
			pub := &recordingPublisher{failFn: tt.failFn}
			d := NewOutboxDispatcher(repo, pub, WithMaxAttempts(3))

			got, err := d.DispatchPending(context.Background())
			if err != nil {
				t.Fatalf("DispatchPending: %v", err)
			}
			if got != tt.wantDelivered {
				t.Fatalf("delivered %d, want %d", got, tt.wantDelivered)
			}
			var failed []int64
			for id := range repo.failed {
				failed = append(failed, id)
			}
			if diff := cmp.Diff(tt.wantFailed, failed); diff != "" {
				t.Fatalf("failed mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantDead, repo.dead); diff != "" {
				t.Fatalf("dead mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantMetrics, d.Metrics()); diff != "" {
				t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOutboxDispatcherReschedulesWithBackoff(t *testing.T) {
	repo := newMemOutbox(queued(1, "a", 1))
	pub := &recordingPublisher{failFn: func(string) error { return errors.New("timeout") }}
	d := NewOutboxDispatcher(repo, pub)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	if _, err := d.DispatchPending(context.Background()); err != nil {
		t.Fatalf("DispatchPending: %v", err)
	}
	ev := repo.events[1]
	if ev.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", ev.Attempts)
	}
	if want := fixed.Add(4 * time.Second); !ev.NextAttemptAt.Equal(want) {
		t.Fatalf("next attempt %s, want %s", ev.NextAttemptAt, want)
	}
	if repo.failed[1] != "timeout" {
		t.Fatalf("last error %q", repo.failed[1])
	}
}

func TestOutboxDispatcherRespectsBatchSize(t *testing.T) {
	repo := newMemOutbox(queued(1, "a", 0), queued(2, "b", 0), queued(3, "c", 0))
	pub := &recordingPublisher{}
	d := NewOutboxDispatcher(repo, pub, WithDispatchBatchSize(2))

	if n, err := d.DispatchPending(context.Background()); err != nil || n != 2 {
		t.Fatalf("first batch: %d, %v", n, err)
	}
	if n, err := d.DispatchPending(context.Background()); err != nil || n != 1 {
		t.Fatalf("second batch: %d, %v", n, err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, repo.dispatchedIDs()); diff != "" {
		t.Fatalf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestOutboxDispatcherFetchError(t *testing.T) {
	repo := newMemOutbox()
	repo.fetchErr = errors.New("database is locked")
	d := NewOutboxDispatcher(repo, &recordingPublisher{})

	if _, err := d.DispatchPending(context.Background()); !errors.Is(err, repo.fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestOutboxDispatcherNotifyWakesLoop(t *testing.T) {
	repo := newMemOutbox()
	pub := &recordingPublisher{}
	d := NewOutboxDispatcher(repo, pub, WithDispatchInterval(time.Hour))
	d.Start(context.Background())
	defer d.Close()

	ev := queued(7, "late", 0)
	ev.Status = "pending"
	repo.mu.Lock()
	repo.events[ev.ID] = &ev
	repo.order = append(repo.order, ev.ID)
	repo.mu.Unlock()

	d.Notify()
	d.Notify()

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.published()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notify did not trigger a dispatch")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if diff := cmp.Diff([]string{"events.acme.validation.completed.late"}, pub.published()); diff != "" {
		t.Fatalf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestOutboxDispatcherStartCloseIdempotent(t *testing.T) {
	d := NewOutboxDispatcher(newMemOutbox(), &recordingPublisher{}, WithDispatchInterval(10*time.Millisecond))
	d.Start(context.Background())
	d.Start(context.Background())
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 4 * time.Second},
		{10, 100 * time.Second},
		{100, maxBackoff},
	}
	for _, tt := range tests {
		if got := backoffDuration(tt.attempt); got != tt.want {
			t.Errorf("backoffDuration(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestOutboxDispatcherCloseLogsCounters(t *testing.T) {
	var logs bytes.Buffer
	pub := &recordingPublisher{}
	d := NewOutboxDispatcher(newMemOutbox(queued(1, "r-1", 0)), pub,
		WithDispatchInterval(time.Hour),
		WithDispatchLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	d.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.published()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event was not dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(logs.String(), `msg="outbox dispatcher stopped" delivered=1 retried=0 dead=0`) {
		t.Fatalf("missing counters in logs:\n%s", logs.String())
	}
}
