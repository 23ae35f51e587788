package app

import (
	"fmt"
	"log/slog"

	"github.com/atvirokodosprendimai/edocval/internal/adapters/profilefile"
	"github.com/atvirokodosprendimai/edocval/internal/adapters/schematron"
	"github.com/atvirokodosprendimai/edocval/internal/adapters/xmltree"
	"github.com/atvirokodosprendimai/edocval/internal/adapters/xsdschema"
	"github.com/atvirokodosprendimai/edocval/internal/adapters/xsltexec"
	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
	"github.com/atvirokodosprendimai/edocval/internal/core/usecase"
)

// Validation bundles what a validation run needs.
type Validation struct {
	Pipeline *usecase.Pipeline
	Profiles *usecase.ProfileRegistry
}

func NewValidation(cfg EngineConfig, logger *slog.Logger) (*Validation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	profiles, err := loadProfiles(cfg.ProfilesFile)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].SchemaPath == "" {
			profiles[i].SchemaPath = cfg.DefaultSchema
		}
		if profiles[i].RuleSetDir == "" {
			profiles[i].RuleSetDir = cfg.DefaultRulesDir
		}
	}
	registry, err := usecase.NewProfileRegistry(profiles...)
	if err != nil {
		return nil, err
	}

	rules, err := newRuleEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	schemas := xsdschema.NewEngine(
		xsdschema.WithAllowMissingImports(cfg.AllowMissingImports),
		xsdschema.WithLogger(logger),
	)
	pipeline := usecase.NewPipeline(xmltree.NewParser(), schemas, rules,
		usecase.WithTimeout(cfg.Timeout),
		usecase.WithLogger(logger),
	)
	return &Validation{Pipeline: pipeline, Profiles: registry}, nil
}

func loadProfiles(path string) ([]domain.Profile, error) {
	if path == "" {
		return domain.DefaultProfiles(), nil
	}
	profiles, err := profilefile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return profiles, nil
}

func newRuleEngine(cfg EngineConfig, logger *slog.Logger) (ports.RuleEngine, error) {
	switch cfg.RuleEngine {
	case RuleEngineXSLT:
		engine, err := xsltexec.NewEngine(xsltexec.ParseCommand(cfg.XSLTCommand),
			xsltexec.WithTimeout(cfg.XSLTTimeout),
			xsltexec.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("xslt engine: %w", err)
		}
		return engine, nil
	default:
		return schematron.NewEngine(
			schematron.WithSkipUnsupported(cfg.SkipUnsupported),
			schematron.WithLogger(logger),
		), nil
	}
}
