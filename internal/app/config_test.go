package app

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "person.xsd"), personXSD)
	writeFile(t, filepath.Join(dir, "rules", domain.PEPPOLRuleSetFile), personRules)
	return Config{
		Engine: EngineConfig{
			RuleEngine:      RuleEngineNative,
			DefaultSchema:   filepath.Join(dir, "person.xsd"),
			DefaultRulesDir: filepath.Join(dir, "rules"),
		},
		Addr:   ":0",
		DBPath: filepath.Join(dir, "edocval.sqlite"),
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing addr", mutate: func(c *Config) { c.Addr = "" }, wantErr: true},
		{name: "unknown rule engine", mutate: func(c *Config) { c.Engine.RuleEngine = "saxon" }, wantErr: true},
		{name: "xslt without command", mutate: func(c *Config) { c.Engine.RuleEngine = RuleEngineXSLT }, wantErr: true},
		{name: "xslt with command", mutate: func(c *Config) {
			c.Engine.RuleEngine = RuleEngineXSLT
			c.Engine.XSLTCommand = "saxon -xsl:{rules} -s:{document}"
		}},
		{name: "missing profiles file", mutate: func(c *Config) { c.Engine.ProfilesFile = "/does/not/exist.yaml" }, wantErr: true},
		{name: "bad webhook url", mutate: func(c *Config) { c.WebhookURL = "not a url" }, wantErr: true},
		{name: "bootstrap key without client", mutate: func(c *Config) { c.BootstrapAPIKey = "k" }, wantErr: true},
		{name: "missing default schema", mutate: func(c *Config) { c.Engine.DefaultSchema = "/does/not/exist.xsd" }, wantErr: true},
		{name: "rules dir is a file", mutate: func(c *Config) { c.Engine.DefaultRulesDir = c.Engine.DefaultSchema }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.Engine.Timeout = -1 }, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output: %q", out)
	}

	if _, err := NewLogger(&buf, "loud", "text"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := NewLogger(&buf, "info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
