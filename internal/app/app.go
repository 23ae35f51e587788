package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/edocval/internal/adapters/events"
	"github.com/atvirokodosprendimai/edocval/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/edocval/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/edocval/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
	"github.com/atvirokodosprendimai/edocval/internal/core/usecase"
	"github.com/atvirokodosprendimai/edocval/migrations"
)

// closeStack closes its members in reverse order of registration.
type closeStack []io.Closer

func (s closeStack) Close() error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		errs = append(errs, s[i].Close())
	}
	return errors.Join(errs...)
}

// OpenStore opens the report database and applies pending migrations.
func OpenStore(ctx context.Context, path string, logger *slog.Logger) (*gormsqlite.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gormsqlite.Open(path, gormsqlite.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("writer pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	applied, err := migrations.Up(ctx, sqlDB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("database migrated", slog.String("path", path), slog.Any("versions", applied))
	}
	return db, nil
}

// NewServer wires the validation pipeline, the report store and the event
// outbox behind the HTTP API. The returned closer stops the dispatcher and
// closes the database.
func NewServer(ctx context.Context, cfg Config, logger *slog.Logger) (*http.Server, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	validation, err := NewValidation(cfg.Engine, logger)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range validation.Profiles.List() {
		if err := p.RequirePaths(); err != nil {
			return nil, nil, fmt.Errorf("%w (set it in the profiles file or pass --schema and --rules-dir)", err)
		}
	}

	db, err := OpenStore(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	closers := closeStack{db}

	dispatcher := usecase.NewOutboxDispatcher(sqliteadapter.NewOutboxRepository(db), newPublisher(cfg, logger),
		usecase.WithDispatchInterval(cfg.OutboxInterval),
		usecase.WithDispatchBatchSize(100),
		usecase.WithDispatchLogger(logger),
	)
	dispatcher.Start(context.Background())
	closers = append(closers, dispatcher)

	reports := usecase.NewReportService(sqliteadapter.NewReportRepository(db), usecase.OnRecorded(dispatcher.Notify))
	auth := usecase.NewAuthService(sqliteadapter.NewAPIKeyRepository(db))

	if err := bootstrapKey(ctx, auth, cfg); err != nil {
		_ = closers.Close()
		return nil, nil, err
	}
	if cfg.OpenAccess {
		auth = nil
		logger.Warn("API authentication disabled")
	}

	handler := httpapi.NewHandler(validation.Pipeline, validation.Profiles, reports, auth,
		httpapi.WithLogger(logger),
		httpapi.WithMaxDocumentSize(cfg.MaxDocumentSize),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server, closers, nil
}

func newPublisher(cfg Config, logger *slog.Logger) ports.EventPublisher {
	if cfg.WebhookURL == "" {
		return events.NewLogPublisher(logger)
	}
	return events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
}

func bootstrapKey(ctx context.Context, auth *usecase.AuthService, cfg Config) error {
	if cfg.BootstrapAPIKey == "" {
		return nil
	}
	name := cfg.BootstrapKeyName
	if name == "" {
		name = "bootstrap"
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := auth.Register(ctx, cfg.BootstrapAPIKey, cfg.BootstrapClient, name); err != nil {
		return fmt.Errorf("bootstrap api key: %w", err)
	}
	return nil
}
