package domain

import (
	"errors"
	"fmt"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrSchemaLoad       = errors.New("schema load failure")
	ErrDocumentParse    = errors.New("document parse failure")
	ErrRuleCompile      = errors.New("rule set compile failure")
	ErrRuleBind         = errors.New("rule set bind failure")
	ErrRuleExecute      = errors.New("rule set execution failure")

	ErrNotFound       = errors.New("not found")
	ErrUnknownProfile = errors.New("unknown profile")
	ErrInvalidProfile = errors.New("invalid profile")
	ErrInvalidFormat  = errors.New("invalid format")
	ErrInvalidReport  = errors.New("invalid report")
	ErrInvalidFilter  = errors.New("invalid filter")

	// ErrPermanentDelivery marks an event the receiver will never accept.
	ErrPermanentDelivery = errors.New("permanent delivery failure")
)

type ResourceKind string

const (
	ResourceDocument ResourceKind = "XML"
	ResourceSchema   ResourceKind = "XSD"
	ResourceRuleSet  ResourceKind = "Schematron"
)

// ResourceError reports a required input file that does not exist.
type ResourceError struct {
	Kind ResourceKind
	Path string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("the specified %s file does not exist: %s", e.Kind, e.Path)
}

func (e *ResourceError) Is(target error) bool {
	return target == ErrResourceNotFound
}
