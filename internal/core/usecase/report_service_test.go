package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

type stubReportRepo struct {
	created []domain.Report
	events  []domain.EventEnvelope
	filter  domain.ReportFilter
	listed  []domain.Report
	getFn   func(id string) (domain.Report, error)
}

func (r *stubReportRepo) Create(_ context.Context, report domain.Report, event domain.EventEnvelope) error {
	r.created = append(r.created, report)
	r.events = append(r.events, event)
	return nil
}

func (r *stubReportRepo) Get(_ context.Context, id string) (domain.Report, error) {
	if r.getFn != nil {
		return r.getFn(id)
	}
	return domain.Report{}, domain.ErrNotFound
}

func (r *stubReportRepo) List(_ context.Context, filter domain.ReportFilter) ([]domain.Report, error) {
	r.filter = filter
	return r.listed, nil
}

func TestReportServiceRecordQueuesEvent(t *testing.T) {
	repo := &stubReportRepo{}
	svc := NewReportService(repo)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	outcome := domain.NewOutcome()
	outcome.Append("missing element", "/Invoice")

	got, err := svc.Record(context.Background(), domain.Report{
		Profile:  "peppol",
		Document: "invoice.xml",
		Outcome:  outcome,
		Duration: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Fatalf("expected generated uuid, got %q", got.ID)
	}
	if got.Client != "anonymous" || !got.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected defaults: %+v", got)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected one event, got %d", len(repo.events))
	}

	event := repo.events[0]
	if event.EventType != domain.EventValidationCompleted || event.ReportID != got.ID || event.SchemaVersion != domain.CurrentEventSchemaVersion {
		t.Fatalf("unexpected envelope: %+v", event)
	}
	var payload domain.ValidationCompletedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Status != domain.StatusError || payload.ErrorCount != 1 || payload.DurationMS != 1500 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestReportServiceRecordRejectsInvalidReport(t *testing.T) {
	repo := &stubReportRepo{}
	svc := NewReportService(repo)

	_, err := svc.Record(context.Background(), domain.Report{Document: "a.xml"})
	if !errors.Is(err, domain.ErrInvalidReport) {
		t.Fatalf("expected ErrInvalidReport, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatal("invalid report must not be stored")
	}
}

func TestReportServiceOnRecordedRunsAfterCommit(t *testing.T) {
	calls := 0
	svc := NewReportService(&stubReportRepo{}, OnRecorded(func() { calls++ }))

	if _, err := svc.Record(context.Background(), domain.Report{Document: "a.xml"}); err == nil {
		t.Fatal("expected invalid report to fail")
	}
	if calls != 0 {
		t.Fatalf("hook ran for a rejected report")
	}
	if _, err := svc.Record(context.Background(), domain.Report{Profile: "peppol", Document: "a.xml"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one hook call, got %d", calls)
	}
}

func TestReportServiceGetRejectsMalformedID(t *testing.T) {
	called := false
	svc := NewReportService(&stubReportRepo{getFn: func(string) (domain.Report, error) {
		called = true
		return domain.Report{}, nil
	}})

	if _, err := svc.Get(context.Background(), "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if called {
		t.Fatal("repository must not be queried for malformed ids")
	}
}

func TestReportServiceListClampsLimit(t *testing.T) {
	tests := []struct {
		limit, want int
	}{
		{0, 100},
		{25, 25},
		{5000, 1000},
	}
	for _, tt := range tests {
		repo := &stubReportRepo{}
		svc := NewReportService(repo)
		page, err := svc.List(context.Background(), domain.ReportFilter{Limit: tt.limit})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if repo.filter.Limit != tt.want || page.Limit != tt.want {
			t.Fatalf("limit %d clamped to %d (page %d), want %d", tt.limit, repo.filter.Limit, page.Limit, tt.want)
		}
	}

	svc := NewReportService(&stubReportRepo{})
	if _, err := svc.List(context.Background(), domain.ReportFilter{Status: "Maybe"}); !errors.Is(err, domain.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestReportServiceListPageCursor(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubReportRepo{listed: []domain.Report{
		{ID: "b", CreatedAt: created},
		{ID: "a", CreatedAt: created},
	}}
	svc := NewReportService(repo)

	page, err := svc.List(context.Background(), domain.ReportFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	next, ok := page.Next()
	if !ok || next.ID != "a" || !next.CreatedAt.Equal(created) {
		t.Fatalf("unexpected next cursor %+v (ok=%v)", next, ok)
	}

	page, err = svc.List(context.Background(), domain.ReportFilter{Limit: 3})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, ok := page.Next(); ok {
		t.Fatal("a short page must not offer a cursor")
	}
}
