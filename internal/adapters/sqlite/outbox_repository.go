package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/edocval/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

const defaultOutboxBatch = 50

// OutboxRepository reads and settles rows queued by ReportRepository.Create.
type OutboxRepository struct {
	db  *gormsqlite.DB
	now func() time.Time
}

func NewOutboxRepository(db *gormsqlite.DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// FetchPending returns due pending events, oldest first.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	var rows []outboxEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("status = ?", domain.OutboxPending).
			Where("next_attempt_at <= ?", r.now()).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}

	events := make([]domain.OutboxEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].toOutboxEvent()
	}
	return events, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64) error {
	at := r.now()
	return r.settle(ctx, id, outboxEventModel{Status: domain.OutboxDispatched, DispatchedAt: &at},
		"status", "dispatched_at", "last_error")
}

// MarkFailed keeps the event pending and pushes it to nextAttemptAt, an
// RFC 3339 timestamp.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	next, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("outbox event %d: next attempt %q: %w", id, nextAttemptAt, err)
	}
	return r.settle(ctx, id, outboxEventModel{Attempts: attempts, NextAttemptAt: next.UTC(), LastError: errMsg},
		"attempts", "next_attempt_at", "last_error")
}

func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	return r.settle(ctx, id, outboxEventModel{Status: domain.OutboxDead, Attempts: attempts, LastError: errMsg},
		"status", "attempts", "last_error")
}

// settle writes the named columns of values onto row id. Select lets zero
// values such as an empty last_error through.
func (r *OutboxRepository) settle(ctx context.Context, id int64, values outboxEventModel, columns ...string) error {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&outboxEventModel{}).Where("id = ?", id).Select(columns).Updates(&values)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("update outbox event %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("outbox event %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (m outboxEventModel) toOutboxEvent() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:            m.ID,
		EventID:       m.EventID,
		Client:        m.Client,
		Topic:         m.Topic,
		PayloadJSON:   json.RawMessage(m.PayloadJSON),
		Status:        m.Status,
		Attempts:      m.Attempts,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		DispatchedAt:  m.DispatchedAt,
	}
}
