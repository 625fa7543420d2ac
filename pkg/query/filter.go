package query

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
)

// Expr is a node of a parsed filter.
type Expr interface {
	Matches(doc bson.D, c collation.Collator) bool
	// Paths returns the field paths the node reads, truncated before any
	// numeric component. whole is true when the node needs the entire
	// document.
	Paths() (paths []path.Path, whole bool)
	Render() bson.D
}

// Filter is a parsed find filter. Its root is an implicit $and.
type Filter struct {
	root *AndExpr
	raw  bson.D
}

// ParseFilter parses a filter document.
func ParseFilter(doc bson.D) (*Filter, error) {
	children, err := parseClauses(doc)
	if err != nil {
		return nil, err
	}
	return &Filter{root: &AndExpr{Children: children}, raw: doc}, nil
}

// MustParseFilter is ParseFilter for static filters.
func MustParseFilter(doc bson.D) *Filter {
	f, err := ParseFilter(doc)
	if err != nil {
		panic(err)
	}
	return f
}

// MatchAll returns the empty filter.
func MatchAll() *Filter { return &Filter{root: &AndExpr{}, raw: bson.D{}} }

// Matches reports whether doc satisfies the filter.
func (f *Filter) Matches(doc bson.D, c collation.Collator) bool {
	if f == nil {
		return true
	}
	return f.root.Matches(doc, c)
}

// IsEmpty reports whether the filter matches every document.
func (f *Filter) IsEmpty() bool { return f == nil || len(f.root.Children) == 0 }

// Clauses returns the top-level conjuncts.
func (f *Filter) Clauses() []Expr {
	if f == nil {
		return nil
	}
	return f.root.Children
}

// Paths returns the paths read by the filter.
func (f *Filter) Paths() ([]path.Path, bool) {
	if f == nil {
		return nil, false
	}
	return f.root.Paths()
}

// Document returns the filter as given.
func (f *Filter) Document() bson.D {
	if f == nil {
		return bson.D{}
	}
	return f.raw
}

func parseClauses(doc bson.D) ([]Expr, error) {
	var out []Expr
	for _, e := range doc {
		switch e.Key {
		case "$and", "$or", "$nor":
			children, err := parseLogical(e)
			if err != nil {
				return nil, err
			}
			switch e.Key {
			case "$and":
				out = append(out, &AndExpr{Children: children})
			case "$or":
				out = append(out, &OrExpr{Children: children})
			default:
				out = append(out, &NorExpr{Children: children})
			}
		case "$expr":
			expr, err := ParseExpression(e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, &ExprExpr{Expr: expr})
		case "$comment":
		default:
			if strings.HasPrefix(e.Key, "$") {
				return nil, errors.New(errors.ErrorTypeCapability, "unsupported top-level filter operator").
					WithDetail("operator", e.Key)
			}
			preds, err := parseField(path.Parse(e.Key), e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, preds...)
		}
	}
	return out, nil
}

func parseLogical(e bson.E) ([]Expr, error) {
	arr, ok := e.Value.(bson.A)
	if !ok || len(arr) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "logical operator takes a non-empty array").
			WithDetail("operator", e.Key)
	}
	var children []Expr
	for _, item := range arr {
		d, ok := item.(bson.D)
		if !ok {
			return nil, errors.New(errors.ErrorTypeValidation, "logical operator entries must be documents").
				WithDetail("operator", e.Key)
		}
		clauses, err := parseClauses(d)
		if err != nil {
			return nil, err
		}
		if len(clauses) == 1 {
			children = append(children, clauses[0])
		} else {
			children = append(children, &AndExpr{Children: clauses})
		}
	}
	return children, nil
}

func isOperatorDoc(v interface{}) (bson.D, bool) {
	d, ok := v.(bson.D)
	if !ok || len(d) == 0 {
		return nil, false
	}
	return d, strings.HasPrefix(d[0].Key, "$")
}

func parseField(p path.Path, v interface{}) ([]Expr, error) {
	if re, ok := v.(primitive.Regex); ok {
		pe, err := newRegexExpr(p, re.Pattern, re.Options)
		if err != nil {
			return nil, err
		}
		return []Expr{pe}, nil
	}
	ops, ok := isOperatorDoc(v)
	if !ok {
		return []Expr{&PathExpr{Path: p, Op: OpEq, Value: v}}, nil
	}
	preds, err := parseOperators(p, ops)
	if err != nil {
		return nil, err
	}
	out := make([]Expr, len(preds))
	for i, pe := range preds {
		out[i] = pe
	}
	return out, nil
}

func parseOperators(p path.Path, ops bson.D) ([]*PathExpr, error) {
	var out []*PathExpr
	var options string
	hasOptions, regexIdx := false, -1
	for _, op := range ops {
		switch op.Key {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
			out = append(out, &PathExpr{Path: p, Op: op.Key, Value: op.Value})
		case OpIn, OpNin:
			arr, ok := op.Value.(bson.A)
			if !ok {
				return nil, errors.New(errors.ErrorTypeValidation, "$in and $nin take an array").
					WithDetail("path", p.String())
			}
			pe := &PathExpr{Path: p, Op: op.Key, Value: arr}
			for _, item := range arr {
				if re, ok := item.(primitive.Regex); ok {
					compiled, err := compileRegex(re.Pattern, re.Options)
					if err != nil {
						return nil, err
					}
					pe.inRegex = append(pe.inRegex, compiled)
				}
			}
			out = append(out, pe)
		case OpExists:
			out = append(out, &PathExpr{Path: p, Op: OpExists, Value: Truthy(op.Value, true)})
		case OpType:
			pe := &PathExpr{Path: p, Op: OpType, Value: op.Value}
			if err := pe.parseTypes(); err != nil {
				return nil, err
			}
			out = append(out, pe)
		case OpRegex:
			pattern, opts := "", ""
			switch x := op.Value.(type) {
			case string:
				pattern = x
			case primitive.Regex:
				pattern, opts = x.Pattern, x.Options
			default:
				return nil, errors.New(errors.ErrorTypeValidation, "$regex takes a string or a regular expression").
					WithDetail("path", p.String())
			}
			if !hasOptions {
				options = opts
			}
			regexIdx = len(out)
			out = append(out, &PathExpr{Path: p, Op: OpRegex, Value: pattern})
		case OpOptions:
			s, ok := op.Value.(string)
			if !ok {
				return nil, errors.New(errors.ErrorTypeValidation, "$options takes a string").
					WithDetail("path", p.String())
			}
			options, hasOptions = s, true
		case OpNot:
			var sub []*PathExpr
			switch x := op.Value.(type) {
			case primitive.Regex:
				re, err := newRegexExpr(p, x.Pattern, x.Options)
				if err != nil {
					return nil, err
				}
				sub = []*PathExpr{re}
			case bson.D:
				if _, ok := isOperatorDoc(x); !ok {
					return nil, errors.New(errors.ErrorTypeValidation, "$not takes an operator document or a regular expression").
						WithDetail("path", p.String())
				}
				parsed, err := parseOperators(p, x)
				if err != nil {
					return nil, err
				}
				sub = parsed
			default:
				return nil, errors.New(errors.ErrorTypeValidation, "$not takes an operator document or a regular expression").
					WithDetail("path", p.String())
			}
			out = append(out, &PathExpr{Path: p, Op: OpNot, sub: sub})
		default:
			return nil, errors.New(errors.ErrorTypeCapability, "unsupported filter operator").
				WithDetail("operator", op.Key).
				WithDetail("path", p.String())
		}
	}
	if hasOptions && regexIdx < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "$options needs a $regex").
			WithDetail("path", p.String())
	}
	if regexIdx >= 0 {
		pattern := out[regexIdx].Value.(string)
		re, err := newRegexExpr(p, pattern, options)
		if err != nil {
			return nil, err
		}
		out[regexIdx] = re
	}
	return out, nil
}

func newRegexExpr(p path.Path, pattern, options string) (*PathExpr, error) {
	re, err := compileRegex(pattern, options)
	if err != nil {
		return nil, err
	}
	return &PathExpr{
		Path:  p,
		Op:    OpRegex,
		Value: primitive.Regex{Pattern: pattern, Options: options},
		regex: re,
	}, nil
}

func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			if !strings.ContainsRune(flags, o) {
				flags += string(o)
			}
		case 'x', 'u':
		default:
			return nil, errors.New(errors.ErrorTypeValidation, "invalid regular expression option").
				WithDetail("option", string(o))
		}
	}
	if strings.ContainsRune(options, 'x') {
		pattern = stripExtended(pattern)
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid regular expression").
			WithDetail("pattern", pattern)
	}
	return re, nil
}

// stripExtended drops unescaped whitespace and #-comments, as the 'x'
// option asks.
func stripExtended(pattern string) string {
	var sb strings.Builder
	escaped, comment := false, false
	for _, r := range pattern {
		switch {
		case comment:
			if r == '\n' {
				comment = false
			}
		case escaped:
			sb.WriteRune(r)
			escaped = false
		case r == '\\':
			sb.WriteRune(r)
			escaped = true
		case r == '#':
			comment = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func renderChildren(children []Expr) bson.A {
	out := make(bson.A, 0, len(children))
	for _, c := range children {
		out = append(out, c.Render())
	}
	return out
}

func pathsOf(children []Expr) ([]path.Path, bool) {
	var out []path.Path
	for _, c := range children {
		ps, whole := c.Paths()
		if whole {
			return nil, true
		}
		out = append(out, ps...)
	}
	return out, false
}

// typeCodes maps numeric $type codes to type aliases. The "number" alias
// has no code.
var typeCodes = map[int64]string{
	1: "double", 2: "string", 3: "object", 4: "array", 5: "binData", 6: "undefined",
	7: "objectId", 8: "bool", 9: "date", 10: "null", 11: "regex", 12: "dbPointer",
	13: "javascript", 14: "symbol", 15: "javascriptWithScope", 16: "int", 17: "timestamp",
	18: "long", 19: "decimal", -1: "minKey", 127: "maxKey",
}

func (e *PathExpr) parseTypes() error {
	var raw bson.A
	if a, ok := e.Value.(bson.A); ok {
		raw = a
	} else {
		raw = bson.A{e.Value}
	}
	for _, r := range raw {
		switch {
		case document.IsNumber(r):
			code, _ := document.ToInt64(r)
			name, ok := typeCodes[code]
			if !ok {
				return errors.New(errors.ErrorTypeValidation, "unknown $type code").
					WithDetail("code", code)
			}
			e.types = append(e.types, name)
		default:
			s, ok := r.(string)
			if !ok {
				return errors.New(errors.ErrorTypeValidation, "$type takes a type alias or code")
			}
			known := s == "number"
			for _, name := range typeCodes {
				if name == s {
					known = true
				}
			}
			if !known {
				return errors.New(errors.ErrorTypeValidation, "unknown $type alias").
					WithDetail("alias", s)
			}
			e.types = append(e.types, s)
		}
	}
	return nil
}
