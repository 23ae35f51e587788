package xsltexec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewEngineValidatesCommand(t *testing.T) {
	if _, err := NewEngine(nil); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	if _, err := NewEngine([]string{"saxon", "-s:{document}"}); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected missing rules placeholder error, got %v", err)
	}
}

func TestRunReturnsProcessorOutput(t *testing.T) {
	rules := writeFile(t, "rules.xsl", "<svrl/>")
	engine, err := NewEngine([]string{"sh", "-c", `cat "$1"; printf '%s' "$2" >&2`, "sh", RulesPlaceholder, DocumentPlaceholder})
	if err != nil {
		t.Fatal(err)
	}

	prog, err := engine.Compile(context.Background(), rules)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out, err := prog.Run(context.Background(), domain.Document{Content: []byte("<Invoice/>")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(out) != "<svrl/>" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRunReportsProcessorFailure(t *testing.T) {
	rules := writeFile(t, "rules.xsl", "")
	doc := writeFile(t, "doc.xml", "<Invoice/>")
	engine, err := NewEngine([]string{"sh", "-c", "echo 'Static error in XPath' >&2; exit 2", "sh", RulesPlaceholder})
	if err != nil {
		t.Fatal(err)
	}
	prog, err := engine.Compile(context.Background(), rules)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	_, err = prog.Run(context.Background(), domain.Document{Path: doc})
	if !errors.Is(err, domain.ErrRuleExecute) || !strings.Contains(err.Error(), "Static error in XPath") {
		t.Fatalf("expected execute error with stderr, got %v", err)
	}
}

func TestRunTimesOut(t *testing.T) {
	rules := writeFile(t, "rules.xsl", "")
	engine, err := NewEngine([]string{"sh", "-c", "exec sleep 5", "sh", RulesPlaceholder}, WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	prog, err := engine.Compile(context.Background(), rules)
	if err != nil {
		t.Fatal(err)
	}

	_, err = prog.Run(context.Background(), domain.Document{Content: []byte("<a/>")})
	if !errors.Is(err, domain.ErrRuleExecute) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestCompileChecksResources(t *testing.T) {
	engine, err := NewEngine([]string{"sh", RulesPlaceholder})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Compile(context.Background(), filepath.Join(t.TempDir(), "none.xsl")); !errors.Is(err, domain.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}

	missing, err := NewEngine([]string{"definitely-not-a-processor-binary", RulesPlaceholder})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := missing.Compile(context.Background(), writeFile(t, "r.xsl", "")); !errors.Is(err, domain.ErrRuleCompile) {
		t.Fatalf("expected ErrRuleCompile, got %v", err)
	}
}
