package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
)

type RunState int

const (
	StateNotStarted RunState = iota
	StateRunning
	StateCompleted
)

func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request names the inputs of one validation run. The rule set is looked up
// as RuleSetDir joined with the profile's rule set file name.
type Request struct {
	Profile      domain.Profile
	DocumentPath string
	SchemaPath   string
	RuleSetDir   string
}

func (r Request) RuleSetPath() string {
	return filepath.Join(r.RuleSetDir, r.Profile.RuleSetFile)
}

// Pipeline runs the schema stage and, for schema-plus-rule profiles, the
// rule stage, and merges their records into one outcome. Run never returns
// an error: every failure is reported inside the outcome.
type Pipeline struct {
	parser   ports.DocumentParser
	schema   *SchemaStage
	rules    *RuleStage
	timeout  time.Duration
	logger   *slog.Logger
	observer func(RunState)
}

type PipelineOption func(*Pipeline)

// WithTimeout bounds a whole run. Zero disables the deadline.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(RunState)) PipelineOption {
	return func(p *Pipeline) {
		p.observer = fn
	}
}

func NewPipeline(parser ports.DocumentParser, schemas ports.SchemaEngine, rules ports.RuleEngine, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{parser: parser, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.schema = NewSchemaStage(schemas, p.logger)
	p.rules = NewRuleStage(rules, p.logger)
	return p
}

func (p *Pipeline) Run(ctx context.Context, req Request) (outcome domain.ValidationOutcome) {
	p.transition(StateNotStarted)
	started := time.Now()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.transition(StateRunning)
	defer func() {
		if r := recover(); r != nil {
			outcome = domain.FailedOutcome(fmt.Sprintf("Validation failed: %v", r))
		}
		p.transition(StateCompleted)
		p.logger.Info("validation completed",
			slog.String("profile", req.Profile.Name),
			slog.String("document", req.DocumentPath),
			slog.String("status", string(outcome.Status())),
			slog.Int("errors", outcome.Len()),
			slog.Duration("duration", time.Since(started)),
		)
	}()

	return p.run(ctx, req)
}

func (p *Pipeline) run(ctx context.Context, req Request) domain.ValidationOutcome {
	if err := req.Profile.Validate(); err != nil {
		return domain.FailedOutcome(fmt.Sprintf("Validation failed: %v", err))
	}
	if err := checkResources(req); err != nil {
		return domain.FailedOutcome(err.Error())
	}

	doc, err := p.parse(ctx, req.DocumentPath)
	if err != nil {
		return domain.FailedOutcome(fmt.Sprintf("Validation failed: %v", err))
	}

	var opts []CheckOption
	if !req.Profile.IncludeWarnings {
		opts = append(opts, SkipWarnings())
	}

	var outcome domain.ValidationOutcome
	records, err := guard(func() ([]domain.ErrorRecord, error) {
		return p.schema.Validate(ctx, doc, req.SchemaPath, opts...)
	})
	switch {
	case errors.Is(err, domain.ErrResourceNotFound):
		return domain.FailedOutcome(err.Error())
	case err != nil:
		if ctx.Err() != nil {
			return domain.FailedOutcome(fmt.Sprintf("Validation failed: %v", ctx.Err()))
		}
		outcome.Append(fmt.Sprintf("Schema validation failed: %v", err), "")
	default:
		outcome.Merge(records)
	}

	if !req.Profile.RulesEnabled() {
		return outcome
	}
	if err := ctx.Err(); err != nil {
		return domain.FailedOutcome(fmt.Sprintf("Validation failed: %v", err))
	}

	records, err = guard(func() ([]domain.ErrorRecord, error) {
		return p.rules.Validate(ctx, doc, req.RuleSetPath(), opts...)
	})
	switch {
	case errors.Is(err, domain.ErrResourceNotFound):
		return domain.FailedOutcome(err.Error())
	case err != nil:
		outcome.Append(fmt.Sprintf("Schematron validation failed: %v", err), "")
	default:
		outcome.Merge(records)
	}
	if err := ctx.Err(); err != nil {
		return domain.FailedOutcome(fmt.Sprintf("Validation failed: %v", err))
	}
	return outcome
}

func checkResources(req Request) error {
	if err := requireFile(domain.ResourceDocument, req.DocumentPath); err != nil {
		return err
	}
	if err := requireFile(domain.ResourceSchema, req.SchemaPath); err != nil {
		return err
	}
	if req.Profile.RulesEnabled() {
		if err := requireFile(domain.ResourceRuleSet, req.RuleSetPath()); err != nil {
			return err
		}
	}
	return nil
}

// parse runs the parser on its own goroutine so a deadline can abandon it.
func (p *Pipeline) parse(ctx context.Context, path string) (domain.Document, error) {
	type result struct {
		doc domain.Document
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("%w: parser panic: %v", domain.ErrDocumentParse, r)}
			}
		}()
		doc, err := p.parser.Parse(ctx, path)
		ch <- result{doc: doc, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.Document{}, ctx.Err()
	case r := <-ch:
		return r.doc, r.err
	}
}

func (p *Pipeline) transition(state RunState) {
	p.logger.Debug("pipeline state", slog.String("state", state.String()))
	if p.observer != nil {
		p.observer(state)
	}
}
