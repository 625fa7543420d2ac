package query

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/path"
)

// Filter operators.
const (
	OpEq      = "$eq"
	OpNe      = "$ne"
	OpGt      = "$gt"
	OpGte     = "$gte"
	OpLt      = "$lt"
	OpLte     = "$lte"
	OpIn      = "$in"
	OpNin     = "$nin"
	OpExists  = "$exists"
	OpType    = "$type"
	OpRegex   = "$regex"
	OpOptions = "$options"
	OpNot     = "$not"
)

// PathExpr is a single-operator predicate on one field path.
type PathExpr struct {
	Path  path.Path
	Op    string
	Value interface{}

	regex   *regexp.Regexp
	inRegex []*regexp.Regexp
	types   []string
	sub     []*PathExpr
}

// AndExpr matches when every child matches.
type AndExpr struct{ Children []Expr }

// OrExpr matches when any child matches.
type OrExpr struct{ Children []Expr }

// NorExpr matches when no child matches.
type NorExpr struct{ Children []Expr }

// ExprExpr wraps an aggregation expression used as a predicate.
type ExprExpr struct{ Expr Expression }

func (e *AndExpr) Matches(doc bson.D, c collation.Collator) bool {
	for _, ch := range e.Children {
		if !ch.Matches(doc, c) {
			return false
		}
	}
	return true
}

func (e *AndExpr) Paths() ([]path.Path, bool) { return pathsOf(e.Children) }

func (e *AndExpr) Render() bson.D {
	if len(e.Children) == 1 {
		return e.Children[0].Render()
	}
	return bson.D{{Key: "$and", Value: renderChildren(e.Children)}}
}

func (e *OrExpr) Matches(doc bson.D, c collation.Collator) bool {
	for _, ch := range e.Children {
		if ch.Matches(doc, c) {
			return true
		}
	}
	return false
}

func (e *OrExpr) Paths() ([]path.Path, bool) { return pathsOf(e.Children) }

func (e *OrExpr) Render() bson.D {
	return bson.D{{Key: "$or", Value: renderChildren(e.Children)}}
}

func (e *NorExpr) Matches(doc bson.D, c collation.Collator) bool {
	for _, ch := range e.Children {
		if ch.Matches(doc, c) {
			return false
		}
	}
	return true
}

func (e *NorExpr) Paths() ([]path.Path, bool) { return pathsOf(e.Children) }

func (e *NorExpr) Render() bson.D {
	return bson.D{{Key: "$nor", Value: renderChildren(e.Children)}}
}

func (e *ExprExpr) Matches(doc bson.D, c collation.Collator) bool {
	return Truthy(e.Expr.Evaluate(doc, c))
}

func (e *ExprExpr) Paths() ([]path.Path, bool) {
	deps, whole := e.Expr.Dependencies()
	if whole {
		return nil, true
	}
	out := make([]path.Path, len(deps))
	for i, d := range deps {
		out[i] = d.TruncateAtNumeric()
	}
	return out, false
}

func (e *ExprExpr) Render() bson.D {
	return bson.D{{Key: "$expr", Value: e.Expr.Render()}}
}

func (e *PathExpr) Paths() ([]path.Path, bool) {
	return []path.Path{e.Path.TruncateAtNumeric()}, false
}

func (e *PathExpr) Render() bson.D {
	return bson.D{{Key: e.Path.String(), Value: e.renderOp()}}
}

func (e *PathExpr) renderOp() bson.D {
	if e.Op == OpNot {
		inner := bson.D{}
		for _, s := range e.sub {
			inner = append(inner, s.renderOp()...)
		}
		return bson.D{{Key: OpNot, Value: inner}}
	}
	return bson.D{{Key: e.Op, Value: e.Value}}
}

// Matches applies the predicate with implicit array traversal: a document
// matches when any value reachable along the path satisfies it. At the end
// of the path both the array itself and each of its elements are tried.
func (e *PathExpr) Matches(doc bson.D, c collation.Collator) bool {
	switch e.Op {
	case OpNe:
		return !visit(doc, e.Path, func(v interface{}, present bool) bool {
			return equalsTarget(v, present, e.Value, c)
		})
	case OpNin:
		return !visit(doc, e.Path, func(v interface{}, present bool) bool {
			return e.inMatch(v, present, c)
		})
	case OpNot:
		for _, s := range e.sub {
			if !s.Matches(doc, c) {
				return true
			}
		}
		return false
	case OpExists:
		found := visit(doc, e.Path, func(_ interface{}, present bool) bool { return present })
		return found == e.Value.(bool)
	}
	return visit(doc, e.Path, func(v interface{}, present bool) bool {
		return e.matchValue(v, present, c)
	})
}

func (e *PathExpr) matchValue(v interface{}, present bool, c collation.Collator) bool {
	switch e.Op {
	case OpEq:
		return equalsTarget(v, present, e.Value, c)
	case OpIn:
		return e.inMatch(v, present, c)
	case OpGt, OpGte, OpLt, OpLte:
		if document.IsNullish(e.Value) {
			// Only the equality part of a range can match null.
			return (e.Op == OpGte || e.Op == OpLte) && equalsTarget(v, present, nil, c)
		}
		if !present || !comparable(v, e.Value) {
			return false
		}
		r := document.Compare(v, e.Value, c)
		switch e.Op {
		case OpGt:
			return r > 0
		case OpGte:
			return r >= 0
		case OpLt:
			return r < 0
		}
		return r <= 0
	case OpRegex:
		return present && regexMatch(e.regex, v)
	case OpType:
		if !present {
			return false
		}
		name := document.TypeName(v)
		for _, t := range e.types {
			if t == name || (t == "number" && document.IsNumber(v)) {
				return true
			}
		}
	}
	return false
}

func (e *PathExpr) inMatch(v interface{}, present bool, c collation.Collator) bool {
	for _, target := range e.Value.(bson.A) {
		if _, isRegex := target.(primitive.Regex); isRegex {
			continue
		}
		if equalsTarget(v, present, target, c) {
			return true
		}
	}
	if !present {
		return false
	}
	for _, re := range e.inRegex {
		if regexMatch(re, v) {
			return true
		}
	}
	return false
}

// comparable reports whether a range operator may compare v with target.
// Range predicates never cross type brackets, except that MinKey and MaxKey
// bound everything.
func comparable(v, target interface{}) bool {
	tc := document.ClassOf(target)
	if tc == document.ClassMinKey || tc == document.ClassMaxKey {
		return true
	}
	return document.ClassOf(v) == tc
}

func equalsTarget(v interface{}, present bool, target interface{}, c collation.Collator) bool {
	if document.IsNullish(target) {
		return !present || document.IsNullish(v)
	}
	if !present {
		return false
	}
	if re, ok := target.(primitive.Regex); ok {
		other, isRegex := v.(primitive.Regex)
		return isRegex && other == re
	}
	return document.Compare(v, target, c) == 0
}

func regexMatch(re *regexp.Regexp, v interface{}) bool {
	switch s := v.(type) {
	case string:
		return re.MatchString(s)
	case primitive.Symbol:
		return re.MatchString(string(s))
	}
	return false
}

// visit walks p through v and calls fn for every candidate value, stopping
// at the first call that returns true. fn sees present=false where the path
// ends early: a missing field, or a scalar where a document was expected.
// An array met before the end of the path is traversed one level: its
// documents continue the walk, and a numeric component also indexes it.
// Arrays nested directly in arrays are not traversed.
func visit(v interface{}, p path.Path, fn func(v interface{}, present bool) bool) bool {
	if d, ok := v.(bson.D); ok {
		return visitDoc(d, p, fn)
	}
	return fn(nil, false)
}

func visitDoc(doc bson.D, p path.Path, fn func(interface{}, bool) bool) bool {
	if len(p) == 0 {
		return fn(doc, true)
	}
	v, ok := document.Lookup(doc, p[0])
	if !ok {
		return fn(nil, false)
	}
	return visitValue(v, p[1:], fn)
}

func visitValue(v interface{}, rest path.Path, fn func(interface{}, bool) bool) bool {
	if len(rest) == 0 {
		if arr, ok := v.(bson.A); ok {
			if fn(arr, true) {
				return true
			}
			for _, el := range arr {
				if fn(el, true) {
					return true
				}
			}
			return false
		}
		return fn(v, true)
	}
	switch x := v.(type) {
	case bson.D:
		return visitDoc(x, rest, fn)
	case bson.A:
		if path.IsNumeric(rest[0]) {
			if idx, ok := arrayIndex(rest[0]); ok && idx < len(x) {
				if visitValue(x[idx], rest[1:], fn) {
					return true
				}
			}
		}
		for _, el := range x {
			switch y := el.(type) {
			case bson.D:
				if visitDoc(y, rest, fn) {
					return true
				}
			case bson.A:
			default:
				if fn(nil, false) {
					return true
				}
			}
		}
		return false
	}
	return fn(nil, false)
}

func arrayIndex(c string) (int, bool) {
	n := 0
	for _, r := range c {
		n = n*10 + int(r-'0')
		if n > 1<<30 {
			return 0, false
		}
	}
	return n, true
}
