package ports

import (
	"context"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

// DocumentParser turns a document instance on disk into an addressable tree.
type DocumentParser interface {
	Parse(ctx context.Context, path string) (domain.Document, error)
}

// SchemaEngine loads XML Schema Definitions.
type SchemaEngine interface {
	Load(ctx context.Context, path string) (CompiledSchema, error)
}

// CompiledSchema reports one callback per structural violation, in engine
// order. A returned error means validation could not run.
type CompiledSchema interface {
	Validate(ctx context.Context, doc domain.Document, onViolation func(domain.Finding)) error
}

// RuleEngine compiles rule-set resources into executable programs.
type RuleEngine interface {
	Compile(ctx context.Context, path string) (RuleProgram, error)
}

// RuleProgram runs against a bound document and returns an SVRL report.
type RuleProgram interface {
	Run(ctx context.Context, doc domain.Document) ([]byte, error)
}
