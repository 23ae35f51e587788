package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
)

// RuleStage evaluates a compiled Schematron rule set against a document.
type RuleStage struct {
	engine ports.RuleEngine
	logger *slog.Logger
}

func NewRuleStage(engine ports.RuleEngine, logger *slog.Logger) *RuleStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleStage{engine: engine, logger: logger}
}

// Validate returns one record per rule violation, numbered from 1. Only a
// missing rule set is returned as an error; compile, bind and run failures
// become a single synthetic record.
func (s *RuleStage) Validate(ctx context.Context, doc domain.Document, ruleSetPath string, opts ...CheckOption) ([]domain.ErrorRecord, error) {
	if err := requireFile(domain.ResourceRuleSet, ruleSetPath); err != nil {
		return nil, err
	}
	if s.engine == nil {
		return s.failure(ruleSetPath, errors.New("no rule engine configured")), nil
	}

	program, err := s.engine.Compile(ctx, ruleSetPath)
	if err != nil {
		if errors.Is(err, domain.ErrResourceNotFound) {
			return nil, err
		}
		return s.failure(ruleSetPath, err), nil
	}

	report, err := program.Run(ctx, doc)
	if err != nil {
		return s.failure(ruleSetPath, err), nil
	}

	findings, err := parseSVRL(report)
	if err != nil {
		return s.failure(ruleSetPath, fmt.Errorf("read report: %w", err)), nil
	}

	records := numberFindings(findings, applyCheckOptions(opts))
	s.logger.Debug(formatResults(records), slog.String("rules", ruleSetPath))
	return records, nil
}

func (s *RuleStage) failure(ruleSetPath string, cause error) []domain.ErrorRecord {
	s.logger.Warn("rule stage failed", slog.String("rules", ruleSetPath), slog.Any("error", cause))
	return []domain.ErrorRecord{{ID: 1, Message: fmt.Sprintf("Schematron validation failed: %v", cause)}}
}

func formatResults(records []domain.ErrorRecord) string {
	var b strings.Builder
	b.WriteString("Schematron Validation Results:")
	for _, rec := range records {
		fmt.Fprintf(&b, "\n- Error %d: %s", rec.ID, rec.Message)
	}
	return b.String()
}
