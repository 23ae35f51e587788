package usecase

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

type checkConfig struct {
	skipWarnings bool
}

// CheckOption adjusts how a stage turns engine findings into records.
type CheckOption func(*checkConfig)

// SkipWarnings drops findings the engine classified as warning or info.
func SkipWarnings() CheckOption {
	return func(c *checkConfig) {
		c.skipWarnings = true
	}
}

func applyCheckOptions(opts []CheckOption) checkConfig {
	var cfg checkConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// numberFindings converts findings into stage-relative records starting at 1.
func numberFindings(findings []domain.Finding, cfg checkConfig) []domain.ErrorRecord {
	records := make([]domain.ErrorRecord, 0, len(findings))
	for _, f := range findings {
		if cfg.skipWarnings && !f.IsError() {
			continue
		}
		records = append(records, domain.ErrorRecord{
			ID:       len(records) + 1,
			Message:  f.Message,
			Location: f.Location,
		})
	}
	return records
}

func requireFile(kind domain.ResourceKind, path string) error {
	if strings.TrimSpace(path) == "" {
		return &domain.ResourceError{Kind: kind, Path: path}
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &domain.ResourceError{Kind: kind, Path: path}
		}
		return fmt.Errorf("stat %s file %s: %w", kind, path, err)
	}
	if info.IsDir() {
		return &domain.ResourceError{Kind: kind, Path: path}
	}
	return nil
}

// guard runs a stage and turns a panic into an error so it can be reported.
func guard(fn func() ([]domain.ErrorRecord, error)) (records []domain.ErrorRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return fn()
}
