package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
)

// SchemaStage checks documents for structural conformance to an XSD.
type SchemaStage struct {
	engine ports.SchemaEngine
	logger *slog.Logger
}

func NewSchemaStage(engine ports.SchemaEngine, logger *slog.Logger) *SchemaStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaStage{engine: engine, logger: logger}
}

// Validate returns one record per engine notification, numbered from 1.
// A missing schema yields a *domain.ResourceError; a schema the engine
// cannot load yields an error wrapping domain.ErrSchemaLoad.
func (s *SchemaStage) Validate(ctx context.Context, doc domain.Document, schemaPath string, opts ...CheckOption) ([]domain.ErrorRecord, error) {
	if err := requireFile(domain.ResourceSchema, schemaPath); err != nil {
		return nil, err
	}
	if s.engine == nil {
		return nil, fmt.Errorf("%w: no schema engine configured", domain.ErrSchemaLoad)
	}

	schema, err := s.engine.Load(ctx, schemaPath)
	if err != nil {
		if errors.Is(err, domain.ErrSchemaLoad) || errors.Is(err, domain.ErrResourceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrSchemaLoad, err)
	}

	findings := make([]domain.Finding, 0)
	if err := schema.Validate(ctx, doc, func(f domain.Finding) {
		findings = append(findings, f)
	}); err != nil {
		return nil, fmt.Errorf("validate against %s: %w", schemaPath, err)
	}

	records := numberFindings(findings, applyCheckOptions(opts))
	s.logger.Debug("schema stage finished",
		slog.String("schema", schemaPath),
		slog.Int("findings", len(findings)),
		slog.Int("errors", len(records)),
	)
	return records, nil
}
