// Package xsltexec runs compiled Schematron stylesheets through an external
// XSLT processor such as Saxon.
package xsltexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
)

const (
	RulesPlaceholder    = "{rules}"
	DocumentPlaceholder = "{document}"

	defaultTimeout = 2 * time.Minute
	waitDelay      = 2 * time.Second
)

var ErrInvalidCommand = errors.New("invalid xslt command")

type Option func(*Engine)

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

type Engine struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewEngine takes the processor invocation as an argument list. Arguments may
// embed {rules} and {document}, and {rules} must appear at least once.
func NewEngine(command []string, opts ...Option) (*Engine, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	if !strings.Contains(strings.Join(command, " "), RulesPlaceholder) {
		return nil, fmt.Errorf("%w: command must reference %s", ErrInvalidCommand, RulesPlaceholder)
	}
	e := &Engine{command: append([]string(nil), command...), timeout: defaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ParseCommand splits a command template on whitespace.
func ParseCommand(template string) []string {
	return strings.Fields(template)
}

func (e *Engine) Compile(ctx context.Context, path string) (ports.RuleProgram, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domain.ResourceError{Kind: domain.ResourceRuleSet, Path: path}
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrRuleCompile, err)
	}
	if info.IsDir() {
		return nil, &domain.ResourceError{Kind: domain.ResourceRuleSet, Path: path}
	}
	if _, err := exec.LookPath(e.command[0]); err != nil {
		return nil, fmt.Errorf("%w: processor %s: %w", domain.ErrRuleCompile, e.command[0], err)
	}
	return &program{engine: e, rules: path}, nil
}

type program struct {
	engine *Engine
	rules  string
}

func (p *program) Run(ctx context.Context, doc domain.Document) ([]byte, error) {
	docPath, cleanup, err := documentFile(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRuleBind, err)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, p.engine.timeout)
	defer cancel()

	args := make([]string, len(p.engine.command))
	for i, a := range p.engine.command {
		a = strings.ReplaceAll(a, RulesPlaceholder, p.rules)
		args[i] = strings.ReplaceAll(a, DocumentPlaceholder, docPath)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	started := time.Now()
	err = cmd.Run()
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		p.engine.logger.Debug("xslt processor stderr", slog.String("rules", p.rules), slog.String("stderr", msg))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrRuleExecute, ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s: %s", domain.ErrRuleExecute, err, msg)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrRuleExecute, err)
	}
	p.engine.logger.Debug("xslt processor finished",
		slog.String("rules", p.rules),
		slog.Duration("duration", time.Since(started)),
		slog.Int("bytes", stdout.Len()),
	)
	return stdout.Bytes(), nil
}

// documentFile returns a path the processor can read, writing the content to
// a temporary file when the document is not on disk.
func documentFile(doc domain.Document) (string, func(), error) {
	if doc.Path != "" {
		if info, err := os.Stat(doc.Path); err == nil && !info.IsDir() {
			return doc.Path, func() {}, nil
		}
	}
	if len(doc.Content) == 0 {
		return "", nil, errors.New("document has neither a readable path nor content")
	}
	f, err := os.CreateTemp("", "edocval-*.xml")
	if err != nil {
		return "", nil, err
	}
	if _, err := f.Write(doc.Content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
