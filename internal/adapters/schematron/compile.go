package schematron

import (
	"fmt"
	"log/slog"

	"github.com/antchfx/xpath"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

var supportedBindings = map[string]bool{
	"":       true,
	"xpath":  true,
	"xpath2": true,
	"xpath3": true,
	"xslt":   true,
	"xslt2":  true,
	"xslt3":  true,
}

type compiler struct {
	logger          *slog.Logger
	skipUnsupported bool

	ns               map[string]string
	abstractRules    map[string]*rawRule
	abstractPatterns map[string]*rawPattern
	skipped          int
	vars             int
	checked          map[*variable]error
}

func (c *compiler) compile(s *rawSchema) (*Program, error) {
	if !supportedBindings[s.queryBinding] {
		return nil, fmt.Errorf("%w: unsupported queryBinding %q", domain.ErrRuleCompile, s.queryBinding)
	}

	c.ns = make(map[string]string, len(s.namespaces))
	for _, n := range s.namespaces {
		if n.prefix == "" || n.uri == "" {
			return nil, fmt.Errorf("%w: ns declaration needs prefix and uri", domain.ErrRuleCompile)
		}
		c.ns[n.prefix] = n.uri
	}

	c.abstractRules = make(map[string]*rawRule)
	c.abstractPatterns = make(map[string]*rawPattern)
	for _, p := range s.patterns {
		if p.abstract {
			if p.id == "" {
				return nil, fmt.Errorf("%w: abstract pattern without id", domain.ErrRuleCompile)
			}
			c.abstractPatterns[p.id] = p
		}
		for _, r := range p.rules {
			if r.abstract {
				if r.id == "" {
					return nil, fmt.Errorf("%w: abstract rule without id", domain.ErrRuleCompile)
				}
				c.abstractRules[r.id] = r
			}
		}
	}

	c.checked = make(map[*variable]error)
	prog := &Program{
		title:         s.title,
		schemaVersion: s.schemaVersion,
		namespaces:    s.namespaces,
		ns:            c.ns,
		cache:         make(map[string]*xpath.Expr),
	}
	global := c.bind(nil, s.lets, true)
	for _, raw := range s.patterns {
		if raw.abstract {
			continue
		}
		p, err := c.instantiate(raw)
		if err != nil {
			return nil, err
		}
		compiled, err := c.compilePattern(p, global)
		if err != nil {
			return nil, err
		}
		prog.patterns = append(prog.patterns, compiled)
	}
	prog.skipped = c.skipped
	return prog, nil
}

// instantiate resolves is-a by copying the abstract pattern with its
// parameters bound.
func (c *compiler) instantiate(p *rawPattern) (*rawPattern, error) {
	if p.isA == "" {
		return p, nil
	}
	base, ok := c.abstractPatterns[p.isA]
	if !ok {
		return nil, fmt.Errorf("%w: pattern %q is-a unknown abstract pattern %q", domain.ErrRuleCompile, p.id, p.isA)
	}
	params := make(map[string]string, len(p.params))
	for _, prm := range p.params {
		params[prm.name] = prm.value
	}

	out := &rawPattern{id: p.id, name: p.name, lets: bindLets(base.lets, params)}
	if out.name == "" {
		out.name = base.name
	}
	out.lets = append(out.lets, p.lets...)
	for _, r := range base.rules {
		out.rules = append(out.rules, bindRule(r, params))
	}
	return out, nil
}

func bindLets(lets []rawLet, params map[string]string) []rawLet {
	out := make([]rawLet, 0, len(lets))
	for _, l := range lets {
		out = append(out, rawLet{name: l.name, value: bindParams(l.value, params)})
	}
	return out
}

func bindRule(r *rawRule, params map[string]string) *rawRule {
	out := *r
	out.context = bindParams(r.context, params)
	out.lets = bindLets(r.lets, params)
	out.items = make([]rawItem, 0, len(r.items))
	for _, it := range r.items {
		if it.check == nil {
			out.items = append(out.items, it)
			continue
		}
		chk := *it.check
		chk.test = bindParams(chk.test, params)
		chk.message = make([]rawPart, 0, len(it.check.message))
		for _, part := range it.check.message {
			part.expr = bindParams(part.expr, params)
			chk.message = append(chk.message, part)
		}
		out.items = append(out.items, rawItem{check: &chk})
	}
	return &out
}

func (c *compiler) compilePattern(p *rawPattern, global scope) (*pattern, error) {
	out := &pattern{id: p.id, name: p.name}
	patternScope := c.bind(global, p.lets, true)
	for _, r := range p.rules {
		if r.abstract {
			continue
		}
		lets, checks, err := c.flatten(r, map[string]bool{})
		if err != nil {
			return nil, err
		}
		compiled, err := c.compileRule(r, patternScope, c.bind(patternScope, lets, false), checks)
		if err != nil {
			return nil, err
		}
		if compiled != nil {
			out.rules = append(out.rules, compiled)
		}
	}
	return out, nil
}

// flatten inlines extends references, depth first and in document order.
func (c *compiler) flatten(r *rawRule, seen map[string]bool) ([]rawLet, []*rawCheck, error) {
	lets := append([]rawLet(nil), r.lets...)
	var checks []*rawCheck
	for _, it := range r.items {
		if it.check != nil {
			checks = append(checks, it.check)
			continue
		}
		base, ok := c.abstractRules[it.extends]
		if !ok {
			return nil, nil, fmt.Errorf("%w: rule %q extends unknown abstract rule %q", domain.ErrRuleCompile, r.id, it.extends)
		}
		if seen[it.extends] {
			return nil, nil, fmt.Errorf("%w: abstract rule %q extends itself", domain.ErrRuleCompile, it.extends)
		}
		seen[it.extends] = true
		baseLets, baseChecks, err := c.flatten(base, seen)
		if err != nil {
			return nil, nil, err
		}
		delete(seen, it.extends)
		lets = append(lets, baseLets...)
		checks = append(checks, baseChecks...)
	}
	return lets, checks, nil
}

// compileRule resolves the context against the pattern scope and the checks
// against the rule scope, which adds the rule's own lets.
func (c *compiler) compileRule(r *rawRule, patternScope, ruleScope scope, checks []*rawCheck) (*rule, error) {
	sel := patternScope.expand(r.context)
	sel.src = matchPattern(sel.src)
	match, err := c.compileExpr(sel)
	if err != nil {
		if c.skip("rule", r.id, r.context, err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: rule %q context %q: %w", domain.ErrRuleCompile, r.id, r.context, err)
	}

	out := &rule{id: r.id, role: r.role, flag: r.flag, context: r.context, match: match}
	for _, chk := range checks {
		compiled, err := c.compileCheck(chk, ruleScope)
		if err != nil {
			return nil, err
		}
		if compiled != nil {
			out.checks = append(out.checks, compiled)
		}
	}
	return out, nil
}

func (c *compiler) compileCheck(chk *rawCheck, sc scope) (*check, error) {
	test, err := c.compileExpr(sc.expand(chk.test))
	if err != nil {
		if c.skip("test", chk.id, chk.test, err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s test %q: %w", domain.ErrRuleCompile, checkLabel(chk), chk.test, err)
	}

	out := &check{kind: chk.kind, id: chk.id, flag: chk.flag, role: chk.role, test: chk.test, expr: test}
	for _, part := range chk.message {
		p := messagePart{text: part.text, isName: part.isName}
		if part.expr != "" {
			e, err := c.compileExpr(sc.expand(part.expr))
			if err != nil {
				if c.skip("message", chk.id, part.expr, err) {
					continue
				}
				return nil, fmt.Errorf("%w: %s message select %q: %w", domain.ErrRuleCompile, checkLabel(chk), part.expr, err)
			}
			p.expr = e
		}
		out.message = append(out.message, p)
	}
	return out, nil
}

// compileExpr checks the syntax of t, and of every variable it defers to
// run time, by compiling it with empty string literals in place of the
// markers. Only static templates keep the compiled expression.
func (c *compiler) compileExpr(t template) (*expr, error) {
	for _, v := range t.vars {
		err, seen := c.checked[v]
		if !seen {
			if _, err = c.compileExpr(v.body); err != nil {
				err = fmt.Errorf("let %s: %w", v.name, err)
			}
			c.checked[v] = err
		}
		if err != nil {
			return nil, err
		}
	}
	src, _ := t.fill(func(*variable) (string, error) { return "''", nil })
	compiled, err := xpath.CompileWithNS(src, c.ns)
	if err != nil {
		return nil, err
	}
	out := &expr{tmpl: t}
	if t.static() {
		out.static = compiled
	}
	return out, nil
}

func (c *compiler) skip(what, id, src string, err error) bool {
	if !c.skipUnsupported {
		return false
	}
	c.skipped++
	c.logger.Warn("skipping unsupported expression",
		slog.String("kind", what),
		slog.String("id", id),
		slog.String("expression", src),
		slog.Any("error", err),
	)
	return true
}

func checkLabel(chk *rawCheck) string {
	kind := "assert"
	if chk.kind == kindReport {
		kind = "report"
	}
	if chk.id == "" {
		return kind
	}
	return fmt.Sprintf("%s %q", kind, chk.id)
}
