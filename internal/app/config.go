package app

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

const (
	RuleEngineNative = "native"
	RuleEngineXSLT   = "xslt"
)

// EngineConfig selects and tunes the validation engines. DefaultSchema and
// DefaultRulesDir fill profiles that do not name their own files.
type EngineConfig struct {
	ProfilesFile        string        `validate:"omitempty,file"`
	DefaultSchema       string        `validate:"omitempty,file"`
	DefaultRulesDir     string        `validate:"omitempty,dir"`
	RuleEngine          string        `validate:"oneof=native xslt"`
	XSLTCommand         string        `validate:"required_if=RuleEngine xslt"`
	XSLTTimeout         time.Duration `validate:"gte=0"`
	SkipUnsupported     bool
	AllowMissingImports bool
	Timeout             time.Duration `validate:"gte=0"`
}

type Config struct {
	Engine EngineConfig

	Addr             string `validate:"required"`
	DBPath           string `validate:"required"`
	MaxDocumentSize  int64  `validate:"gte=0"`
	OpenAccess       bool
	BootstrapAPIKey  string
	BootstrapClient  string `validate:"required_with=BootstrapAPIKey"`
	BootstrapKeyName string
	WebhookURL       string `validate:"omitempty,url"`
	WebhookSecret    string
	OutboxInterval   time.Duration `validate:"gte=0"`
}

func (c EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("engine config validation failed: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
