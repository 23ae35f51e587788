// Package schematron evaluates ISO Schematron rule sets natively with XPath
// and reports the result as SVRL.
//
// Rule sets written for XPath 2.0 query bindings are accepted, but only the
// expressions the XPath engine understands can be compiled. Enable
// WithSkipUnsupported to drop the rest instead of failing the rule set.
package schematron

import (
	"context"
	"log/slog"

	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
)

const defaultMaxIncludeDepth = 16

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSkipUnsupported drops rules and checks whose expressions fail to
// compile. Each dropped expression is logged at warn level.
func WithSkipUnsupported(skip bool) Option {
	return func(e *Engine) {
		e.skipUnsupported = skip
	}
}

func WithMaxIncludeDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxIncludeDepth = depth
		}
	}
}

type Engine struct {
	logger          *slog.Logger
	skipUnsupported bool
	maxIncludeDepth int
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default(), maxIncludeDepth: defaultMaxIncludeDepth}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile loads the rule set at path with its includes. Programs are not
// cached: each call returns a fresh Program that is safe to run on one
// goroutine.
func (e *Engine) Compile(ctx context.Context, path string) (ports.RuleProgram, error) {
	return e.compile(ctx, path)
}

func (e *Engine) compile(ctx context.Context, path string) (*Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := &loader{maxDepth: e.maxIncludeDepth}
	raw, err := l.load(path)
	if err != nil {
		return nil, err
	}
	c := &compiler{logger: e.logger, skipUnsupported: e.skipUnsupported}
	prog, err := c.compile(raw)
	if err != nil {
		return nil, err
	}
	if n := prog.Skipped(); n > 0 {
		e.logger.Warn("rule set compiled with skipped expressions",
			slog.String("rules", path),
			slog.Int("skipped", n),
		)
	}
	e.logger.Debug("rule set compiled",
		slog.String("rules", path),
		slog.Int("patterns", len(prog.patterns)),
	)
	return prog, nil
}

var _ ports.RuleEngine = (*Engine)(nil)

var _ ports.RuleProgram = (*Program)(nil)
