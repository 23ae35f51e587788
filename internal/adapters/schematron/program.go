package schematron

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

// Program is a compiled rule set. A Program holds xpath state and must not
// be run concurrently.
type Program struct {
	title         string
	schemaVersion string
	namespaces    []namespace
	patterns      []*pattern
	skipped       int

	ns    map[string]string
	cache map[string]*xpath.Expr
}

// maxCachedExprs bounds the expressions compiled at run time after variable
// values have been filled in.
const maxCachedExprs = 4096

type pattern struct {
	id    string
	name  string
	rules []*rule
}

type rule struct {
	id      string
	role    string
	flag    string
	context string
	match   *expr
	checks  []*check
}

type check struct {
	kind    checkKind
	id      string
	flag    string
	role    string
	test    string
	expr    *expr
	message []messagePart
}

type messagePart struct {
	text   string
	expr   *expr
	isName bool
}

// expr is a compiled template. Templates that refer to variables are
// compiled again per context once the values are known.
type expr struct {
	tmpl   template
	static *xpath.Expr
}

// Skipped reports how many expressions were dropped at compile time.
func (p *Program) Skipped() int {
	return p.skipped
}

type match struct {
	node  *xmlquery.Node
	rule  *rule
	order int
}

// Run evaluates every pattern against doc and returns an SVRL report. Within
// a pattern each node is handled by the first rule whose context matches it,
// and rules fire in document order.
func (p *Program) Run(ctx context.Context, doc domain.Document) (report []byte, err error) {
	if doc.Root == nil {
		return nil, fmt.Errorf("%w: document %s has no tree", domain.ErrRuleBind, doc.Path)
	}
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("%w: %v", domain.ErrRuleExecute, r)
		}
	}()

	order := documentOrder(doc.Root)
	top := (&evaluator{prog: p, root: doc.Root, globals: make(map[*variable]string)}).at(doc.Root)
	out := newReport(p)
	for _, pat := range p.patterns {
		out.activePattern(pat, doc.Path)

		fired := make(map[nodeKey]bool)
		var matches []match
		for _, r := range pat.rules {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrRuleExecute, err)
			}
			sel, err := top.compile(r.match)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %q context: %w", domain.ErrRuleExecute, r.id, err)
			}
			for _, n := range xmlquery.QuerySelectorAll(doc.Root, sel) {
				k := keyOf(n)
				if fired[k] {
					continue
				}
				fired[k] = true
				matches = append(matches, match{node: n, rule: r, order: order.of(k)})
			}
		}
		slices.SortStableFunc(matches, func(a, b match) int { return a.order - b.order })

		for _, m := range matches {
			out.firedRule(m.rule)
			e := top.at(m.node)
			for _, c := range m.rule.checks {
				v, err := e.evaluate(c.expr)
				if err != nil {
					return nil, fmt.Errorf("%w: %s: %w", domain.ErrRuleExecute, checkLabel(&rawCheck{kind: c.kind, id: c.id}), err)
				}
				ok := truthy(v)
				if (c.kind == kindAssert && !ok) || (c.kind == kindReport && ok) {
					msg, err := c.render(e)
					if err != nil {
						return nil, fmt.Errorf("%w: %s message: %w", domain.ErrRuleExecute, checkLabel(&rawCheck{kind: c.kind, id: c.id}), err)
					}
					out.finding(c, m.rule, locationOf(m.node), msg)
				}
			}
		}
	}
	return out.bytes()
}

func (c *check) render(e *evaluator) (string, error) {
	var b strings.Builder
	for _, part := range c.message {
		if part.expr == nil {
			if part.isName {
				b.WriteString(qualifiedName(e.node))
			} else {
				b.WriteString(part.text)
			}
			continue
		}
		v, err := e.evaluate(part.expr)
		if err != nil {
			return "", err
		}
		if !part.isName {
			b.WriteString(stringValue(v))
		} else if first := firstNode(v); first != nil {
			b.WriteString(first.LocalName())
		}
	}
	return normalizeSpace(b.String()), nil
}

// evaluator evaluates expressions for one context node. Rule variables are
// computed at most once per node; global ones once per run, on the root.
type evaluator struct {
	prog    *Program
	root    *xmlquery.Node
	node    *xmlquery.Node
	globals map[*variable]string
	locals  map[*variable]string
}

func (e *evaluator) at(n *xmlquery.Node) *evaluator {
	return &evaluator{prog: e.prog, root: e.root, node: n, globals: e.globals, locals: make(map[*variable]string)}
}

func (e *evaluator) evaluate(x *expr) (any, error) {
	compiled, err := e.compile(x)
	if err != nil {
		return nil, err
	}
	return compiled.Evaluate(xmlquery.CreateXPathNavigator(e.node)), nil
}

func (e *evaluator) compile(x *expr) (*xpath.Expr, error) {
	if x.static != nil {
		return x.static, nil
	}
	return e.fill(x.tmpl)
}

func (e *evaluator) fill(t template) (*xpath.Expr, error) {
	src, err := t.fill(e.value)
	if err != nil {
		return nil, err
	}
	return e.prog.compiled(src)
}

func (e *evaluator) value(v *variable) (string, error) {
	cache, node := e.locals, e.node
	if v.global {
		cache, node = e.globals, e.root
	}
	if lit, ok := cache[v]; ok {
		return lit, nil
	}
	compiled, err := e.fill(v.body)
	if err != nil {
		return "", fmt.Errorf("let %s: %w", v.name, err)
	}
	lit := literal(compiled.Evaluate(xmlquery.CreateXPathNavigator(node)))
	cache[v] = lit
	return lit, nil
}

func (p *Program) compiled(src string) (*xpath.Expr, error) {
	if x, ok := p.cache[src]; ok {
		return x, nil
	}
	x, err := xpath.CompileWithNS(src, p.ns)
	if err != nil {
		return nil, err
	}
	if len(p.cache) < maxCachedExprs {
		p.cache[src] = x
	}
	return x, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	case *xpath.NodeIterator:
		return t.MoveNext()
	default:
		return v != nil
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if math.IsNaN(t) {
			return "NaN"
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case *xpath.NodeIterator:
		if first := firstNode(t); first != nil {
			return first.Value()
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func firstNode(v any) xpath.NodeNavigator {
	iter, ok := v.(*xpath.NodeIterator)
	if !ok || !iter.MoveNext() {
		return nil
	}
	return iter.Current()
}

// nodeKey identifies a node across selections. Attribute nodes are rebuilt
// on every query, so they are keyed by owner element and name.
type nodeKey struct {
	node *xmlquery.Node
	attr string
}

func keyOf(n *xmlquery.Node) nodeKey {
	if n.Type == xmlquery.AttributeNode && n.Parent != nil {
		return nodeKey{node: n.Parent, attr: n.NamespaceURI + "|" + n.Data}
	}
	return nodeKey{node: n}
}

type nodeOrder map[*xmlquery.Node]int

func documentOrder(root *xmlquery.Node) nodeOrder {
	order := make(nodeOrder)
	var walk func(n *xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		order[n] = len(order) * 2
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return order
}

// of places attributes directly after their owner element.
func (o nodeOrder) of(k nodeKey) int {
	idx, ok := o[k.node]
	if !ok {
		return math.MaxInt
	}
	if k.attr != "" {
		return idx + 1
	}
	return idx
}

func qualifiedName(n *xmlquery.Node) string {
	if n.Prefix != "" {
		return n.Prefix + ":" + n.Data
	}
	return n.Data
}

// locationOf builds an XPath of positional steps from the root to n.
func locationOf(n *xmlquery.Node) string {
	var steps []string
	for cur := n; cur != nil && cur.Type != xmlquery.DocumentNode; cur = cur.Parent {
		switch cur.Type {
		case xmlquery.AttributeNode:
			steps = append(steps, "@"+qualifiedName(cur))
		case xmlquery.ElementNode:
			steps = append(steps, fmt.Sprintf("%s[%d]", qualifiedName(cur), position(cur)))
		case xmlquery.TextNode, xmlquery.CharDataNode:
			steps = append(steps, "text()")
		}
	}
	if len(steps) == 0 {
		return "/"
	}
	slices.Reverse(steps)
	return "/" + strings.Join(steps, "/")
}

func position(n *xmlquery.Node) int {
	pos := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == xmlquery.ElementNode && s.Data == n.Data && s.NamespaceURI == n.NamespaceURI {
			pos++
		}
	}
	return pos
}
