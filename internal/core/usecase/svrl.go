package usecase

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

const svrlNamespace = "http://purl.oclc.org/dsdl/svrl"

var (
	svrlRootExpr = xpath.MustCompile(
		`/*[local-name()='schematron-output' and namespace-uri()='` + svrlNamespace + `']`)
	svrlFindingExpr = xpath.MustCompile(
		`//*[namespace-uri()='` + svrlNamespace + `' and (local-name()='failed-assert' or local-name()='successful-report')]`)
)

// parseSVRL reads failed asserts and successful reports from an SVRL report
// in document order.
func parseSVRL(report []byte) ([]domain.Finding, error) {
	if len(bytes.TrimSpace(report)) == 0 {
		return nil, errors.New("empty report")
	}
	root, err := xmlquery.Parse(bytes.NewReader(report))
	if err != nil {
		return nil, fmt.Errorf("parse svrl: %w", err)
	}
	if xmlquery.QuerySelector(root, svrlRootExpr) == nil {
		return nil, errors.New("not an svrl report")
	}

	nodes := xmlquery.QuerySelectorAll(root, svrlFindingExpr)
	findings := make([]domain.Finding, 0, len(nodes))
	for _, n := range nodes {
		findings = append(findings, domain.Finding{
			Message:  svrlMessage(n),
			Location: n.SelectAttr("location"),
			Severity: severityOf(n.SelectAttr("role"), n.SelectAttr("flag")),
		})
	}
	return findings, nil
}

func svrlMessage(n *xmlquery.Node) string {
	text := ""
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == "text" {
			text = strings.Join(strings.Fields(c.InnerText()), " ")
			break
		}
	}
	if text == "" {
		text = "assertion failed: " + n.SelectAttr("test")
	}
	if id := n.SelectAttr("id"); id != "" {
		return "[" + id + "] " + text
	}
	return text
}

func severityOf(values ...string) domain.Severity {
	for _, v := range values {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "warning", "warn":
			return domain.SeverityWarning
		case "info", "information":
			return domain.SeverityInfo
		case "error", "fatal":
			return domain.SeverityError
		}
	}
	return domain.SeverityError
}
