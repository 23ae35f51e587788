package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/usecase"
)

const personXSD = `<?xml version="1.0"?>
<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="person">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="name" type="xs:string"/>
      </xs:sequence>
    </xs:complexType>
  </xs:element>
</xs:schema>
`

const personRules = `<?xml version="1.0"?>
<sch:schema xmlns:sch="http://purl.oclc.org/dsdl/schematron" queryBinding="xslt2">
  <sch:pattern id="names">
    <sch:rule context="person">
      <sch:assert id="P-01" test="string-length(name) &gt; 1">Name is too short</sch:assert>
    </sch:rule>
  </sch:pattern>
</sch:schema>
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewValidationRunsBothStages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "person.xsd"), personXSD)
	writeFile(t, filepath.Join(dir, "rules", domain.PEPPOLRuleSetFile), personRules)
	writeFile(t, filepath.Join(dir, "doc.xml"), `<person><name>A</name></person>`)

	v, err := NewValidation(EngineConfig{RuleEngine: RuleEngineNative}, nil)
	if err != nil {
		t.Fatalf("new validation: %v", err)
	}
	profile, err := v.Profiles.Get("peppol")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}

	outcome := v.Pipeline.Run(context.Background(), usecase.Request{
		Profile:      profile,
		DocumentPath: filepath.Join(dir, "doc.xml"),
		SchemaPath:   filepath.Join(dir, "person.xsd"),
		RuleSetDir:   filepath.Join(dir, "rules"),
	})
	if outcome.Status() != domain.StatusError || outcome.Len() != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome.Errors())
	}
	if got := outcome.Errors()[0].Message; !strings.Contains(got, "[P-01] Name is too short") {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestNewValidationUsesProfilesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	writeFile(t, path, "profiles:\n  - name: custom\n    mode: schema-only\n")

	v, err := NewValidation(EngineConfig{RuleEngine: RuleEngineNative, ProfilesFile: path}, nil)
	if err != nil {
		t.Fatalf("new validation: %v", err)
	}
	if _, err := v.Profiles.Get("custom"); err != nil {
		t.Fatalf("expected custom profile: %v", err)
	}
	if _, err := v.Profiles.Get("peppol"); err == nil {
		t.Fatal("profiles file replaces the built-in set")
	}
}

func TestNewValidationRejectsBadXSLTCommand(t *testing.T) {
	_, err := NewValidation(EngineConfig{RuleEngine: RuleEngineXSLT, XSLTCommand: "saxon -s:{document}"}, nil)
	if err == nil {
		t.Fatal("expected error for command without rules placeholder")
	}
}

func TestNewServerServesAPI(t *testing.T) {
	cfg := validConfig(t)
	cfg.BootstrapAPIKey = "secret"
	cfg.BootstrapClient = "acme"

	server, closer, err := NewServer(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = closer.Close() })

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("profiles: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/profiles/peppol/validate", strings.NewReader(`<person><name>A</name></person>`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "[P-01] Name is too short") {
		t.Fatalf("validate: unexpected response %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reports without key: expected 401, got %d", rec.Code)
	}
}

const pairXSD = `<?xml version="1.0"?>
<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="pair">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="left" type="xs:integer"/>
        <xs:element name="right" type="xs:integer"/>
      </xs:sequence>
    </xs:complexType>
  </xs:element>
</xs:schema>
`

func TestNewValidationSchemaOnlyNumbersViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pair.xsd"), pairXSD)
	writeFile(t, filepath.Join(dir, "doc.xml"), `<pair><left>one</left><right>two</right></pair>`)

	v, err := NewValidation(EngineConfig{RuleEngine: RuleEngineNative, DefaultSchema: filepath.Join(dir, "pair.xsd")}, nil)
	if err != nil {
		t.Fatalf("new validation: %v", err)
	}
	profile, err := v.Profiles.Get("oioubl")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.SchemaPath != filepath.Join(dir, "pair.xsd") {
		t.Fatalf("default schema not applied: %q", profile.SchemaPath)
	}

	outcome := v.Pipeline.Run(context.Background(), usecase.Request{
		Profile:      profile,
		DocumentPath: filepath.Join(dir, "doc.xml"),
		SchemaPath:   profile.SchemaPath,
	})
	if outcome.Status() != domain.StatusError || outcome.Len() != 2 {
		t.Fatalf("expected two violations, got %+v", outcome.Errors())
	}
	var ids []int
	for _, rec := range outcome.Errors() {
		ids = append(ids, rec.ID)
	}
	if diff := cmp.Diff([]int{1, 2}, ids); diff != "" {
		t.Fatalf("unexpected ids (-want +got):\n%s", diff)
	}
}

func TestNewServerRequiresProfilePaths(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "no schema", mutate: func(c *Config) { c.Engine.DefaultSchema = "" }, want: "no schema path"},
		{name: "no rules dir", mutate: func(c *Config) { c.Engine.DefaultRulesDir = "" }, want: "profile peppol has no rule set directory"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(&cfg)
			_, _, err := NewServer(context.Background(), cfg, nil)
			if !errors.Is(err, domain.ErrInvalidProfile) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

func TestCloseStackClosesInReverseOrder(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	stack := closeStack{
		closeFunc(func() error { order = append(order, "db"); return nil }),
		closeFunc(func() error { order = append(order, "dispatcher"); return boom }),
	}

	if err := stack.Close(); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if diff := cmp.Diff([]string{"dispatcher", "db"}, order); diff != "" {
		t.Fatalf("close order mismatch (-want +got):\n%s", diff)
	}
}
