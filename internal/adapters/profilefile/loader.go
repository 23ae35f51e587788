// Package profilefile reads document family profiles from YAML.
package profilefile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

//go:embed profiles.schema.json
var schemaJSON []byte

var fileSchema = mustCompileSchema()

type file struct {
	Profiles []entry `yaml:"profiles"`
}

type entry struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	Mode            string `yaml:"mode"`
	Schema          string `yaml:"schema"`
	RulesDir        string `yaml:"rules_dir"`
	RuleSetFile     string `yaml:"rule_set_file"`
	IncludeWarnings *bool  `yaml:"include_warnings"`
}

// Load reads a profiles file. Relative schema and rules paths are resolved
// against the directory of the file.
func Load(path string) ([]domain.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles %s: %w", path, err)
	}
	return Parse(data, filepath.Dir(path))
}

func Parse(data []byte, baseDir string) ([]domain.Profile, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidProfile, err)
	}

	defaults := make(map[string]domain.Profile)
	for _, p := range domain.DefaultProfiles() {
		defaults[p.Name] = p
	}

	out := make([]domain.Profile, 0, len(f.Profiles))
	for _, e := range f.Profiles {
		mode, err := domain.ParseMode(e.Mode)
		if err != nil {
			return nil, err
		}
		p := domain.Profile{
			Name:            e.Name,
			Description:     e.Description,
			Mode:            mode,
			SchemaPath:      resolve(baseDir, e.Schema),
			RuleSetDir:      resolve(baseDir, e.RulesDir),
			RuleSetFile:     e.RuleSetFile,
			IncludeWarnings: true,
		}
		if e.IncludeWarnings != nil {
			p.IncludeWarnings = *e.IncludeWarnings
		}
		if p.RuleSetFile == "" {
			p.RuleSetFile = defaults[p.Name].RuleSetFile
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// validate checks the document against the embedded JSON Schema. YAML is
// converted to JSON values first so the validator sees JSON types only.
func validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidProfile, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidProfile, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidProfile, err)
	}

	if err := fileSchema.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidProfile, strings.Join(collectCauses(ve), "; "))
		}
		return fmt.Errorf("%w: %w", domain.ErrInvalidProfile, err)
	}
	return nil
}

func collectCauses(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectCauses(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, fmt.Sprintf("%s: %s", ve.InstanceLocation, ve.Message))
	}
	return msgs
}

func mustCompileSchema() *santhosh.Schema {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("profiles.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("profiles.schema.json")
}
