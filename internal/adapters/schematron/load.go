package schematron

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

const (
	isoNamespace  = "http://purl.oclc.org/dsdl/schematron"
	asccNamespace = "http://www.ascc.net/xml/schematron"
)

type checkKind int

const (
	kindAssert checkKind = iota
	kindReport
)

type rawSchema struct {
	title         string
	schemaVersion string
	queryBinding  string
	namespaces    []namespace
	lets          []rawLet
	patterns      []*rawPattern
}

type namespace struct {
	prefix string
	uri    string
}

type rawLet struct {
	name  string
	value string
}

type rawPattern struct {
	id       string
	name     string
	abstract bool
	isA      string
	params   []rawLet
	lets     []rawLet
	rules    []*rawRule
}

type rawRule struct {
	id       string
	abstract bool
	context  string
	role     string
	flag     string
	lets     []rawLet
	items    []rawItem
}

// rawItem is either a check or a reference to an abstract rule.
type rawItem struct {
	check   *rawCheck
	extends string
}

type rawCheck struct {
	kind    checkKind
	id      string
	flag    string
	role    string
	test    string
	message []rawPart
}

type rawPart struct {
	text   string
	expr   string
	isName bool
}

type loader struct {
	maxDepth int
	stack    []string
}

func isSchematron(n *xmlquery.Node) bool {
	return n.Type == xmlquery.ElementNode && (n.NamespaceURI == isoNamespace || n.NamespaceURI == asccNamespace)
}

func (l *loader) load(path string) (*rawSchema, error) {
	root, err := l.parseFile(path)
	if err != nil {
		return nil, err
	}
	if !isSchematron(root) || root.Data != "schema" {
		return nil, fmt.Errorf("%w: %s: root element is not a schematron schema", domain.ErrRuleCompile, path)
	}

	s := &rawSchema{
		schemaVersion: root.SelectAttr("schemaVersion"),
		queryBinding:  strings.ToLower(strings.TrimSpace(root.SelectAttr("queryBinding"))),
	}
	children, err := l.children(root, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		switch c.node.Data {
		case "title":
			s.title = normalizeSpace(c.node.InnerText())
		case "ns":
			s.namespaces = append(s.namespaces, namespace{prefix: c.node.SelectAttr("prefix"), uri: c.node.SelectAttr("uri")})
		case "let":
			s.lets = append(s.lets, readLet(c.node))
		case "pattern":
			p, err := l.readPattern(c.node, c.dir)
			if err != nil {
				return nil, err
			}
			s.patterns = append(s.patterns, p)
		}
	}
	return s, nil
}

func (l *loader) parseFile(path string) (*xmlquery.Node, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if len(l.stack) == 0 {
				return nil, &domain.ResourceError{Kind: domain.ResourceRuleSet, Path: path}
			}
			return nil, fmt.Errorf("%w: include %s not found", domain.ErrRuleCompile, path)
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrRuleCompile, path, err)
	}
	doc, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrRuleCompile, path, err)
	}
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no root element", domain.ErrRuleCompile, path)
}

type located struct {
	node *xmlquery.Node
	dir  string
}

// children lists the schematron child elements of n, replacing every
// sch:include with the root element of the referenced file.
func (l *loader) children(n *xmlquery.Node, dir string) ([]located, error) {
	var out []located
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !isSchematron(c) {
			continue
		}
		if c.Data != "include" {
			out = append(out, located{node: c, dir: dir})
			continue
		}
		inc, err := l.include(c, dir)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

func (l *loader) include(n *xmlquery.Node, dir string) (located, error) {
	href, _, _ := strings.Cut(n.SelectAttr("href"), "#")
	if href == "" {
		return located{}, fmt.Errorf("%w: include without href", domain.ErrRuleCompile)
	}
	path := href
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, href)
	}
	path = filepath.Clean(path)
	for _, p := range l.stack {
		if p == path {
			return located{}, fmt.Errorf("%w: include cycle through %s", domain.ErrRuleCompile, path)
		}
	}
	if len(l.stack) >= l.maxDepth {
		return located{}, fmt.Errorf("%w: includes nested deeper than %d", domain.ErrRuleCompile, l.maxDepth)
	}

	l.stack = append(l.stack, path)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()

	root, err := l.parseFile(path)
	if err != nil {
		return located{}, err
	}
	if !isSchematron(root) {
		return located{}, fmt.Errorf("%w: %s: included root is not a schematron element", domain.ErrRuleCompile, path)
	}
	if root.Data == "include" {
		return l.include(root, filepath.Dir(path))
	}
	return located{node: root, dir: filepath.Dir(path)}, nil
}

func (l *loader) readPattern(n *xmlquery.Node, dir string) (*rawPattern, error) {
	p := &rawPattern{
		id:       n.SelectAttr("id"),
		abstract: n.SelectAttr("abstract") == "true",
		isA:      n.SelectAttr("is-a"),
	}
	children, err := l.children(n, dir)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		switch c.node.Data {
		case "title":
			p.name = normalizeSpace(c.node.InnerText())
		case "param":
			p.params = append(p.params, rawLet{name: c.node.SelectAttr("name"), value: c.node.SelectAttr("value")})
		case "let":
			p.lets = append(p.lets, readLet(c.node))
		case "rule":
			r, err := l.readRule(c.node, c.dir)
			if err != nil {
				return nil, err
			}
			p.rules = append(p.rules, r)
		}
	}
	if p.name == "" {
		p.name = n.SelectAttr("name")
	}
	return p, nil
}

func (l *loader) readRule(n *xmlquery.Node, dir string) (*rawRule, error) {
	r := &rawRule{
		id:       n.SelectAttr("id"),
		abstract: n.SelectAttr("abstract") == "true",
		context:  n.SelectAttr("context"),
		role:     n.SelectAttr("role"),
		flag:     n.SelectAttr("flag"),
	}
	children, err := l.children(n, dir)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		switch c.node.Data {
		case "let":
			r.lets = append(r.lets, readLet(c.node))
		case "extends":
			r.items = append(r.items, rawItem{extends: c.node.SelectAttr("rule")})
		case "assert", "report":
			r.items = append(r.items, rawItem{check: readCheck(c.node)})
		}
	}
	if !r.abstract && strings.TrimSpace(r.context) == "" {
		return nil, fmt.Errorf("%w: rule %q has no context", domain.ErrRuleCompile, r.id)
	}
	return r, nil
}

func readLet(n *xmlquery.Node) rawLet {
	return rawLet{name: n.SelectAttr("name"), value: n.SelectAttr("value")}
}

func readCheck(n *xmlquery.Node) *rawCheck {
	c := &rawCheck{
		kind: kindAssert,
		id:   n.SelectAttr("id"),
		flag: n.SelectAttr("flag"),
		role: n.SelectAttr("role"),
		test: n.SelectAttr("test"),
	}
	if n.Data == "report" {
		c.kind = kindReport
	}
	c.message = readMessage(n)
	return c
}

// readMessage flattens mixed content. value-of and name become expressions,
// emph, dir and span contribute their text.
func readMessage(n *xmlquery.Node) []rawPart {
	var parts []rawPart
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.TextNode, xmlquery.CharDataNode:
			parts = append(parts, rawPart{text: c.Data})
		case xmlquery.ElementNode:
			if !isSchematron(c) {
				continue
			}
			switch c.Data {
			case "value-of":
				parts = append(parts, rawPart{expr: c.SelectAttr("select")})
			case "name":
				parts = append(parts, rawPart{isName: true, expr: c.SelectAttr("path")})
			default:
				parts = append(parts, readMessage(c)...)
			}
		}
	}
	return parts
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
