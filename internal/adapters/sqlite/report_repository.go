package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/edocval/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

type ReportRepository struct {
	db *gormsqlite.DB
}

func NewReportRepository(db *gormsqlite.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create stores the report, its records and the outbox event in one
// transaction.
func (r *ReportRepository) Create(ctx context.Context, report domain.Report, event domain.EventEnvelope) error {
	envelope, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		model := reportModel{
			ID:         report.ID,
			Client:     report.Client,
			Profile:    report.Profile,
			Document:   report.Document,
			Status:     string(report.Status()),
			ErrorCount: report.Outcome.Len(),
			DurationMS: report.Duration.Milliseconds(),
			CreatedAt:  report.CreatedAt.UTC(),
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert report: %w", err)
		}

		records := report.Outcome.Errors()
		if len(records) > 0 {
			rows := make([]reportErrorModel, 0, len(records))
			for _, rec := range records {
				rows = append(rows, reportErrorModel{ReportID: report.ID, Seq: rec.ID, Message: rec.Message, Location: rec.Location})
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("insert report errors: %w", err)
			}
		}

		outbox := outboxEventModel{
			EventID:       event.EventID,
			Client:        event.Client,
			Topic:         "events." + event.Client + "." + event.EventType,
			PayloadJSON:   string(envelope),
			Status:        domain.OutboxPending,
			Attempts:      0,
			NextAttemptAt: event.OccurredAt.UTC(),
			LastError:     "",
			CreatedAt:     event.OccurredAt.UTC(),
		}
		if err := tx.Create(&outbox).Error; err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

func (r *ReportRepository) Get(ctx context.Context, id string) (domain.Report, error) {
	var (
		model reportModel
		rows  []reportErrorModel
	)
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			return err
		}
		return tx.Where("report_id = ?", id).Order("seq ASC").Find(&rows).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Report{}, domain.ErrNotFound
		}
		return domain.Report{}, fmt.Errorf("get report: %w", err)
	}
	return toReport(model, rows), nil
}

// List returns reports newest first, ties broken by descending id. Before
// is a keyset on (created_at, id).
func (r *ReportRepository) List(ctx context.Context, filter domain.ReportFilter) ([]domain.Report, error) {
	var (
		models []reportModel
		rows   []reportErrorModel
	)
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&reportModel{})
		if filter.Client != "" {
			query = query.Where("client = ?", filter.Client)
		}
		if filter.Profile != "" {
			query = query.Where("profile = ?", filter.Profile)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", string(filter.Status))
		}
		if before := filter.Before; !before.IsZero() {
			at := before.CreatedAt.UTC()
			if before.ID == "" {
				query = query.Where("created_at < ?", at)
			} else {
				query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, before.ID)
			}
		}
		if err := query.Order("created_at DESC").Order("id DESC").Limit(filter.Limit).Find(&models).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		ids := make([]string, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ID)
		}
		return tx.Where("report_id IN ?", ids).Order("report_id ASC").Order("seq ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	byReport := make(map[string][]reportErrorModel, len(models))
	for _, row := range rows {
		byReport[row.ReportID] = append(byReport[row.ReportID], row)
	}
	result := make([]domain.Report, 0, len(models))
	for _, m := range models {
		result = append(result, toReport(m, byReport[m.ID]))
	}
	return result, nil
}

func toReport(m reportModel, rows []reportErrorModel) domain.Report {
	records := make([]domain.ErrorRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.ErrorRecord{ID: row.Seq, Message: row.Message, Location: row.Location})
	}
	return domain.Report{
		ID:        m.ID,
		Client:    m.Client,
		Profile:   m.Profile,
		Document:  m.Document,
		Outcome:   domain.NewOutcome(records...),
		Duration:  time.Duration(m.DurationMS) * time.Millisecond,
		CreatedAt: m.CreatedAt.UTC(),
	}
}
