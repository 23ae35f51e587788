package schematron

import (
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// variable is one sch:let binding. Its body is expanded once, against the
// lets declared before it. Global variables (schema and pattern lets) are
// evaluated on the document root, rule variables on each matched node.
type variable struct {
	id     int
	name   string
	global bool
	body   template
}

type scope map[string]*variable

// template is an expanded expression. References that sit inside a
// predicate are kept as markers in src and filled with literal values at
// run time, since a predicate moves the context away from the rule node.
type template struct {
	src  string
	vars []*variable
}

const markerByte = '\x00'

func marker(v *variable) string {
	return string(markerByte) + strconv.Itoa(v.id) + string(markerByte)
}

func (t template) static() bool {
	return len(t.vars) == 0
}

// fill replaces every marker with the literal returned by value.
func (t template) fill(value func(*variable) (string, error)) (string, error) {
	src := t.src
	for _, v := range t.vars {
		lit, err := value(v)
		if err != nil {
			return "", err
		}
		src = strings.ReplaceAll(src, marker(v), lit)
	}
	return src, nil
}

// bind returns a child scope holding lets. Each let may refer to the ones
// before it.
func (c *compiler) bind(parent scope, lets []rawLet, global bool) scope {
	out := make(scope, len(parent)+len(lets))
	maps.Copy(out, parent)
	for _, l := range lets {
		if l.name == "" {
			continue
		}
		c.vars++
		out[l.name] = &variable{id: c.vars, name: l.name, global: global, body: out.expand(l.value)}
	}
	return out
}

// expand inlines $name references outside predicates as the parenthesised
// variable body and turns references inside predicates into markers.
// References inside string literals are left alone.
func (s scope) expand(src string) template {
	if !strings.Contains(src, "$") {
		return template{src: src}
	}
	var (
		b     strings.Builder
		vars  []*variable
		quote byte
		depth int
	)
	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
			b.WriteByte(ch)
			continue
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '[':
			depth++
		case ch == ']':
			depth--
		}
		if ch != '$' {
			b.WriteByte(ch)
			continue
		}
		j := i + 1
		for j < len(src) && isNameChar(src[j], j == i+1) {
			j++
		}
		v, ok := s[src[i+1:j]]
		if !ok {
			b.WriteByte(ch)
			continue
		}
		if depth > 0 {
			b.WriteString(marker(v))
			vars = addVar(vars, v)
		} else {
			b.WriteString("(" + v.body.src + ")")
			for _, dep := range v.body.vars {
				vars = addVar(vars, dep)
			}
		}
		i = j - 1
	}
	return template{src: b.String(), vars: vars}
}

func addVar(vars []*variable, v *variable) []*variable {
	if slices.Contains(vars, v) {
		return vars
	}
	return append(vars, v)
}

// bindParams performs the textual parameter substitution of abstract
// patterns. Unlike variables, parameters are replaced everywhere, string
// literals included.
func bindParams(src string, params map[string]string) string {
	if len(params) == 0 || !strings.Contains(src, "$") {
		return src
	}
	var b strings.Builder
	for i := 0; i < len(src); i++ {
		ch := src[i]
		if ch != '$' {
			b.WriteByte(ch)
			continue
		}
		j := i + 1
		for j < len(src) && isNameChar(src[j], j == i+1) {
			j++
		}
		v, ok := params[src[i+1:j]]
		if !ok {
			b.WriteByte(ch)
			continue
		}
		b.WriteString(v)
		i = j - 1
	}
	return b.String()
}

// literal renders an evaluated XPath value as an expression yielding the
// same string, number or boolean. A node-set becomes the string value of
// its first node.
func literal(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "true()"
		}
		return "false()"
	case float64:
		switch {
		case math.IsNaN(t):
			return "number('NaN')"
		case math.IsInf(t, 1):
			return "(1 div 0)"
		case math.IsInf(t, -1):
			return "(-1 div 0)"
		}
		return "(" + strconv.FormatFloat(t, 'f', -1, 64) + ")"
	default:
		return quoteString(stringValue(v))
	}
}

// quoteString writes s as an XPath 1.0 string literal. XPath 1.0 has no
// escapes, so a value holding both quote kinds is built with concat.
func quoteString(s string) string {
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	for i, p := range parts {
		parts[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(parts, `, "'", `) + ")"
}

func isNameChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case first:
		return false
	case c >= '0' && c <= '9', c == '-', c == '.', c == ':':
		return true
	}
	return false
}

// matchPattern turns a rule context, which is an XSLT match pattern, into
// an expression selecting every matching node from the document root.
func matchPattern(context string) string {
	branches := splitUnion(context)
	for i, br := range branches {
		br = strings.TrimSpace(br)
		if !strings.HasPrefix(br, "/") {
			br = "//" + br
		}
		branches[i] = br
	}
	return strings.Join(branches, " | ")
}

func splitUnion(src string) []string {
	var (
		out   []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case ch == '|' && depth == 0:
			out = append(out, src[start:i])
			start = i + 1
		}
	}
	return append(out, src[start:])
}
