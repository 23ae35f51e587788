package ports

import (
	"context"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

type ReportRepository interface {
	Create(ctx context.Context, report domain.Report, event domain.EventEnvelope) error
	Get(ctx context.Context, id string) (domain.Report, error)
	List(ctx context.Context, filter domain.ReportFilter) ([]domain.Report, error)
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}

type APIKeyRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error)
	Upsert(ctx context.Context, key domain.APIKey) error
	Revoke(ctx context.Context, tokenHash string) error
}
