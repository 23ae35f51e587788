// Package xsdschema adapts github.com/jacoelho/xsd to the schema engine port.
package xsdschema

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jacoelho/xsd"
	xsderrors "github.com/jacoelho/xsd/errors"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
)

type Option func(*Engine)

// WithAllowMissingImports skips xs:import elements without a schemaLocation
// instead of failing the load.
func WithAllowMissingImports(allow bool) Option {
	return func(e *Engine) {
		e.allowMissingImports = allow
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine compiles schemas and keeps them until the file changes on disk.
type Engine struct {
	allowMissingImports bool
	logger              *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedSchema
}

type cachedSchema struct {
	modTime time.Time
	size    int64
	schema  *compiled
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default(), cache: make(map[string]cachedSchema)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Load(ctx context.Context, path string) (ports.CompiledSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSchemaLoad, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domain.ResourceError{Kind: domain.ResourceSchema, Path: path}
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrSchemaLoad, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.cache[abs]; ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		return c.schema, nil
	}

	started := time.Now()
	opts := xsd.NewLoadOptions().WithAllowMissingImportLocations(e.allowMissingImports)
	schema, err := xsd.LoadWithOptions(os.DirFS(filepath.Dir(abs)), filepath.Base(abs), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSchemaLoad, err)
	}
	e.logger.Debug("schema compiled", slog.String("schema", abs), slog.Duration("duration", time.Since(started)))

	c := &compiled{schema: schema}
	e.cache[abs] = cachedSchema{modTime: info.ModTime(), size: info.Size(), schema: c}
	return c, nil
}

type compiled struct {
	schema *xsd.Schema
}

// Validate reports every violation the engine collects. Only failures that
// are not validation results are returned as errors.
func (c *compiled) Validate(ctx context.Context, doc domain.Document, onViolation func(domain.Finding)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.schema.Validate(bytes.NewReader(doc.Content))
	if err == nil {
		return nil
	}
	violations, ok := xsderrors.AsValidations(err)
	if !ok {
		return err
	}
	for i := range violations {
		v := &violations[i]
		onViolation(domain.Finding{
			Message:  v.Error(),
			Location: location(v),
			Severity: domain.SeverityError,
		})
	}
	return nil
}

func location(v *xsderrors.Validation) string {
	if v.Path != "" {
		return v.Path
	}
	if v.Line > 0 {
		return fmt.Sprintf("line %d, column %d", v.Line, v.Column)
	}
	return ""
}
