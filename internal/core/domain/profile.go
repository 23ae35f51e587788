package domain

import (
	"fmt"
	"regexp"
	"strings"
)

type Mode string

const (
	ModeSchemaOnly     Mode = "schema-only"
	ModeSchemaPlusRule Mode = "schema-plus-rule"
)

func ParseMode(raw string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case ModeSchemaOnly, ModeSchemaPlusRule:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidProfile, raw)
	}
}

const (
	OIOUBLRuleSetFile = "rules.sch"
	PEPPOLRuleSetFile = "peppol_rules.sch"
)

var profileNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Profile configures validation for one document family. SchemaPath and
// RuleSetDir are defaults a request may override.
type Profile struct {
	Name            string
	Description     string
	Mode            Mode
	SchemaPath      string
	RuleSetDir      string
	RuleSetFile     string
	IncludeWarnings bool
}

func (p Profile) RulesEnabled() bool {
	return p.Mode == ModeSchemaPlusRule
}

func (p Profile) Validate() error {
	if !profileNamePattern.MatchString(p.Name) {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidProfile, p.Name)
	}
	if p.Mode != ModeSchemaOnly && p.Mode != ModeSchemaPlusRule {
		return fmt.Errorf("%w: profile %s has unknown mode %q", ErrInvalidProfile, p.Name, p.Mode)
	}
	if p.RulesEnabled() && p.RuleSetFile == "" {
		return fmt.Errorf("%w: profile %s requires a rule set file", ErrInvalidProfile, p.Name)
	}
	return nil
}

// RequirePaths fails when p does not name the files a request without
// overrides needs.
func (p Profile) RequirePaths() error {
	if p.SchemaPath == "" {
		return fmt.Errorf("%w: profile %s has no schema path", ErrInvalidProfile, p.Name)
	}
	if p.RulesEnabled() && p.RuleSetDir == "" {
		return fmt.Errorf("%w: profile %s has no rule set directory", ErrInvalidProfile, p.Name)
	}
	return nil
}

// DefaultProfiles returns the built-in document families.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:            "oioubl",
			Description:     "OIOUBL documents, structural validation only",
			Mode:            ModeSchemaOnly,
			RuleSetFile:     OIOUBLRuleSetFile,
			IncludeWarnings: true,
		},
		{
			Name:            "peppol",
			Description:     "PEPPOL BIS documents, structural and business rule validation",
			Mode:            ModeSchemaPlusRule,
			RuleSetFile:     PEPPOLRuleSetFile,
			IncludeWarnings: true,
		},
	}
}
