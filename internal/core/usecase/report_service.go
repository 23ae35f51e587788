package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
)

// ReportService stores completed validation runs and queues a
// validation.completed event for each of them.
type ReportService struct {
	repo       ports.ReportRepository
	now        func() time.Time
	onRecorded func()
}

type ReportOption func(*ReportService)

// OnRecorded registers a hook run after each report and its event commit.
func OnRecorded(fn func()) ReportOption {
	return func(s *ReportService) { s.onRecorded = fn }
}

func NewReportService(repo ports.ReportRepository, opts ...ReportOption) *ReportService {
	s := &ReportService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ReportService) Record(ctx context.Context, report domain.Report) (domain.Report, error) {
	if err := report.Validate(); err != nil {
		return domain.Report{}, err
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Client == "" {
		report.Client = "anonymous"
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = s.now()
	}

	payload, err := json.Marshal(domain.ValidationCompletedPayload{
		ReportID:   report.ID,
		Profile:    report.Profile,
		Document:   report.Document,
		Status:     report.Status(),
		ErrorCount: report.Outcome.Len(),
		DurationMS: report.Duration.Milliseconds(),
	})
	if err != nil {
		return domain.Report{}, fmt.Errorf("marshal event payload: %w", err)
	}

	event := domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     domain.EventValidationCompleted,
		SchemaVersion: domain.CurrentEventSchemaVersion,
		Client:        report.Client,
		ReportID:      report.ID,
		OccurredAt:    report.CreatedAt,
		Payload:       payload,
	}
	if err := s.repo.Create(ctx, report, event); err != nil {
		return domain.Report{}, err
	}
	if s.onRecorded != nil {
		s.onRecorded()
	}
	return report, nil
}

func (s *ReportService) Get(ctx context.Context, id string) (domain.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Report{}, domain.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// List returns one page of reports. The page carries the clamped limit so
// callers can tell whether another page may follow.
func (s *ReportService) List(ctx context.Context, filter domain.ReportFilter) (domain.ReportPage, error) {
	if err := filter.Validate(); err != nil {
		return domain.ReportPage{}, err
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	reports, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.ReportPage{}, err
	}
	return domain.ReportPage{Reports: reports, Limit: filter.Limit}, nil
}
