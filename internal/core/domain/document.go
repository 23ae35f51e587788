package domain

import "github.com/antchfx/xmlquery"

// Document is a parsed document instance. Content keeps the raw bytes for
// engines that stream the input themselves.
type Document struct {
	Path    string
	Content []byte
	Root    *xmlquery.Node
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding is one violation as reported by an engine, before it is numbered.
type Finding struct {
	Message  string
	Location string
	Severity Severity
}

func (f Finding) IsError() bool {
	return f.Severity == "" || f.Severity == SeverityError
}
