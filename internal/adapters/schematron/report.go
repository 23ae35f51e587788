package schematron

import (
	"encoding/xml"
	"fmt"
)

const svrlNamespace = "http://purl.oclc.org/dsdl/svrl"

type svrlOutput struct {
	XMLName       xml.Name `xml:"svrl:schematron-output"`
	NS            string   `xml:"xmlns:svrl,attr"`
	Title         string   `xml:"title,attr,omitempty"`
	SchemaVersion string   `xml:"schemaVersion,attr,omitempty"`
	Entries       []any
}

type svrlNSPrefix struct {
	XMLName xml.Name `xml:"svrl:ns-prefix-in-attribute-values"`
	URI     string   `xml:"uri,attr"`
	Prefix  string   `xml:"prefix,attr"`
}

type svrlActivePattern struct {
	XMLName  xml.Name `xml:"svrl:active-pattern"`
	ID       string   `xml:"id,attr,omitempty"`
	Name     string   `xml:"name,attr,omitempty"`
	Document string   `xml:"document,attr,omitempty"`
}

type svrlFiredRule struct {
	XMLName xml.Name `xml:"svrl:fired-rule"`
	Context string   `xml:"context,attr"`
	ID      string   `xml:"id,attr,omitempty"`
	Role    string   `xml:"role,attr,omitempty"`
	Flag    string   `xml:"flag,attr,omitempty"`
}

// svrlFinding is a failed-assert or successful-report; XMLName is set per entry.
type svrlFinding struct {
	XMLName  xml.Name
	Test     string   `xml:"test,attr"`
	ID       string   `xml:"id,attr,omitempty"`
	Flag     string   `xml:"flag,attr,omitempty"`
	Role     string   `xml:"role,attr,omitempty"`
	Location string   `xml:"location,attr"`
	Text     svrlText `xml:"svrl:text"`
}

type svrlText struct {
	Value string `xml:",chardata"`
}

type reportBuilder struct {
	out svrlOutput
}

func newReport(p *Program) *reportBuilder {
	b := &reportBuilder{out: svrlOutput{NS: svrlNamespace, Title: p.title, SchemaVersion: p.schemaVersion}}
	for _, ns := range p.namespaces {
		b.out.Entries = append(b.out.Entries, svrlNSPrefix{URI: ns.uri, Prefix: ns.prefix})
	}
	return b
}

func (b *reportBuilder) activePattern(p *pattern, document string) {
	b.out.Entries = append(b.out.Entries, svrlActivePattern{ID: p.id, Name: p.name, Document: document})
}

func (b *reportBuilder) firedRule(r *rule) {
	b.out.Entries = append(b.out.Entries, svrlFiredRule{Context: r.context, ID: r.id, Role: r.role, Flag: r.flag})
}

// finding records a check that fired. Rule role and flag apply when the
// check declares none.
func (b *reportBuilder) finding(c *check, r *rule, location, text string) {
	name := "svrl:failed-assert"
	if c.kind == kindReport {
		name = "svrl:successful-report"
	}
	f := svrlFinding{
		XMLName:  xml.Name{Local: name},
		Test:     c.test,
		ID:       c.id,
		Flag:     c.flag,
		Role:     c.role,
		Location: location,
		Text:     svrlText{Value: text},
	}
	if f.Flag == "" {
		f.Flag = r.flag
	}
	if f.Role == "" {
		f.Role = r.role
	}
	b.out.Entries = append(b.out.Entries, f)
}

func (b *reportBuilder) bytes() ([]byte, error) {
	body, err := xml.MarshalIndent(b.out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode svrl: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
