package query

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
)

// Expression is a parsed aggregation expression.
type Expression interface {
	// Evaluate returns the value of the expression over doc; the boolean is
	// false when the value is missing.
	Evaluate(doc bson.D, c collation.Collator) (interface{}, bool)
	// Dependencies returns the field paths read by the expression. whole is
	// true when the expression needs the entire document.
	Dependencies() (paths []path.Path, whole bool)
	// Render returns the expression in its document form.
	Render() interface{}
}

// ParseExpression parses an aggregation expression: "$field.path",
// "$$ROOT", literals, {$literal: v}, operator documents and
// object/array literals of expressions.
func ParseExpression(v interface{}) (Expression, error) {
	switch x := v.(type) {
	case string:
		if strings.HasPrefix(x, "$$") {
			switch x {
			case "$$ROOT", "$$CURRENT":
				return rootExpr{}, nil
			}
			return nil, errors.New(errors.ErrorTypeCapability, "unsupported expression variable").
				WithDetail("variable", x)
		}
		if strings.HasPrefix(x, "$") {
			if len(x) == 1 {
				return nil, errors.New(errors.ErrorTypeValidation, "'$' is not a valid field path")
			}
			return FieldPath(path.Parse(x[1:])), nil
		}
		return constExpr{v: x}, nil
	case bson.A:
		items := make([]Expression, 0, len(x))
		for _, el := range x {
			e, err := ParseExpression(el)
			if err != nil {
				return nil, err
			}
			items = append(items, e)
		}
		return arrayExpr(items), nil
	case bson.D:
		if len(x) == 1 && strings.HasPrefix(x[0].Key, "$") {
			return parseOperator(x[0].Key, x[0].Value)
		}
		fields := make([]namedExpr, 0, len(x))
		for _, e := range x {
			if strings.HasPrefix(e.Key, "$") {
				return nil, errors.New(errors.ErrorTypeValidation, "expression objects hold exactly one operator").
					WithDetail("operator", e.Key)
			}
			sub, err := ParseExpression(e.Value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, namedExpr{name: e.Key, expr: sub})
		}
		return objectExpr(fields), nil
	}
	return constExpr{v: v}, nil
}

// FieldPath returns the expression "$p".
func FieldPath(p path.Path) Expression { return fieldExpr{p: p} }

// FieldPathOf returns the path read by e when e is a bare field path.
func FieldPathOf(e Expression) (path.Path, bool) {
	f, ok := e.(fieldExpr)
	return f.p, ok
}

// Constant returns a literal expression.
func Constant(v interface{}) Expression { return constExpr{v: v} }

// IsConstant reports whether e evaluates to the same value for every document.
func IsConstant(e Expression) bool {
	_, ok := e.(constExpr)
	return ok
}

type fieldExpr struct{ p path.Path }

func (e fieldExpr) Evaluate(doc bson.D, _ collation.Collator) (interface{}, bool) {
	return document.EvaluatePath(doc, e.p)
}

func (e fieldExpr) Dependencies() ([]path.Path, bool) { return []path.Path{e.p}, false }

func (e fieldExpr) Render() interface{} { return "$" + e.p.String() }

type rootExpr struct{}

func (rootExpr) Evaluate(doc bson.D, _ collation.Collator) (interface{}, bool) { return doc, true }

func (rootExpr) Dependencies() ([]path.Path, bool) { return nil, true }

func (rootExpr) Render() interface{} { return "$$ROOT" }

type constExpr struct{ v interface{} }

func (e constExpr) Evaluate(bson.D, collation.Collator) (interface{}, bool) { return e.v, true }

func (constExpr) Dependencies() ([]path.Path, bool) { return nil, false }

func (e constExpr) Render() interface{} {
	if s, ok := e.v.(string); ok && strings.HasPrefix(s, "$") {
		return bson.D{{Key: "$literal", Value: s}}
	}
	return e.v
}

type namedExpr struct {
	name string
	expr Expression
}

type objectExpr []namedExpr

func (e objectExpr) Evaluate(doc bson.D, c collation.Collator) (interface{}, bool) {
	out := make(bson.D, 0, len(e))
	for _, f := range e {
		if v, ok := f.expr.Evaluate(doc, c); ok {
			out = append(out, bson.E{Key: f.name, Value: v})
		}
	}
	return out, true
}

func (e objectExpr) Dependencies() ([]path.Path, bool) {
	exprs := make([]Expression, len(e))
	for i, f := range e {
		exprs[i] = f.expr
	}
	return dependenciesOf(exprs)
}

func (e objectExpr) Render() interface{} {
	out := make(bson.D, 0, len(e))
	for _, f := range e {
		out = append(out, bson.E{Key: f.name, Value: f.expr.Render()})
	}
	return out
}

type arrayExpr []Expression

func (e arrayExpr) Evaluate(doc bson.D, c collation.Collator) (interface{}, bool) {
	out := make(bson.A, 0, len(e))
	for _, item := range e {
		v, ok := item.Evaluate(doc, c)
		if !ok {
			v = nil
		}
		out = append(out, v)
	}
	return out, true
}

func (e arrayExpr) Dependencies() ([]path.Path, bool) { return dependenciesOf(e) }

func (e arrayExpr) Render() interface{} {
	out := make(bson.A, 0, len(e))
	for _, item := range e {
		out = append(out, item.Render())
	}
	return out
}

type operatorExpr struct {
	op   string
	args []Expression
	eval func(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool)
}

func (e *operatorExpr) Evaluate(doc bson.D, c collation.Collator) (interface{}, bool) {
	return e.eval(e.args, doc, c)
}

func (e *operatorExpr) Dependencies() ([]path.Path, bool) { return dependenciesOf(e.args) }

func (e *operatorExpr) Render() interface{} {
	args := make(bson.A, 0, len(e.args))
	for _, a := range e.args {
		args = append(args, a.Render())
	}
	return bson.D{{Key: e.op, Value: args}}
}

func dependenciesOf(exprs []Expression) ([]path.Path, bool) {
	var out []path.Path
	for _, e := range exprs {
		deps, whole := e.Dependencies()
		if whole {
			return nil, true
		}
		out = append(out, deps...)
	}
	return out, false
}

type evalFunc func(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool)

type operatorSpec struct {
	minArgs, maxArgs int // maxArgs < 0 means variadic
	eval             evalFunc
}

var operators = map[string]operatorSpec{
	"$eq":     {2, 2, comparison(func(r int) bool { return r == 0 })},
	"$ne":     {2, 2, comparison(func(r int) bool { return r != 0 })},
	"$gt":     {2, 2, comparison(func(r int) bool { return r > 0 })},
	"$gte":    {2, 2, comparison(func(r int) bool { return r >= 0 })},
	"$lt":     {2, 2, comparison(func(r int) bool { return r < 0 })},
	"$lte":    {2, 2, comparison(func(r int) bool { return r <= 0 })},
	"$cmp":    {2, 2, evalCmp},
	"$and":    {0, -1, evalAnd},
	"$or":     {0, -1, evalOr},
	"$not":    {1, 1, evalNot},
	"$add":    {0, -1, evalAdd},
	"$ifNull": {2, -1, evalIfNull},
	"$size":   {1, 1, evalSize},
	"$type":   {1, 1, evalType},
}

func parseOperator(op string, arg interface{}) (Expression, error) {
	if op == "$literal" {
		return constExpr{v: arg}, nil
	}
	spec, ok := operators[op]
	if !ok {
		return nil, errors.New(errors.ErrorTypeCapability, "unsupported expression operator").
			WithDetail("operator", op)
	}
	var raw bson.A
	if a, ok := arg.(bson.A); ok {
		raw = a
	} else {
		raw = bson.A{arg}
	}
	if len(raw) < spec.minArgs || (spec.maxArgs >= 0 && len(raw) > spec.maxArgs) {
		return nil, errors.New(errors.ErrorTypeValidation, "wrong number of arguments").
			WithDetail("operator", op).
			WithDetail("got", len(raw))
	}
	args := make([]Expression, 0, len(raw))
	for _, r := range raw {
		e, err := ParseExpression(r)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return &operatorExpr{op: op, args: args, eval: spec.eval}, nil
}

// compareMissing orders a missing value before every present value.
func compareMissing(a interface{}, aok bool, b interface{}, bok bool, c collation.Collator) int {
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	return document.Compare(a, b, c)
}

func comparison(accept func(int) bool) evalFunc {
	return func(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool) {
		a, aok := args[0].Evaluate(doc, c)
		b, bok := args[1].Evaluate(doc, c)
		return accept(compareMissing(a, aok, b, bok, c)), true
	}
}

func evalCmp(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool) {
	a, aok := args[0].Evaluate(doc, c)
	b, bok := args[1].Evaluate(doc, c)
	return int32(compareMissing(a, aok, b, bok, c)), true
}

// Truthy reports the boolean value of an expression result.
func Truthy(v interface{}, ok bool) bool {
	if !ok || document.IsNullish(v) {
		return false
	}
	if b, isBool := v.(bool); isBool {
		return b
	}
	if document.IsNumber(v) {
		f, _ := document.ToFloat64(v)
		return f != 0
	}
	return true
}

func evalAnd(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool) {
	for _, a := range args {
		if !Truthy(a.Evaluate(doc, c)) {
			return false, true
		}
	}
	return true, true
}

func evalOr(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool) {
	for _, a := range args {
		if Truthy(a.Evaluate(doc, c)) {
			return true, true
		}
	}
	return false, true
}

func evalNot(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool) {
	return !Truthy(args[0].Evaluate(doc, c)), true
}

func evalAdd(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool) {
	var sum interface{} = int32(0)
	for _, a := range args {
		v, ok := a.Evaluate(doc, c)
		if !ok || document.IsNullish(v) {
			return nil, true
		}
		if !document.IsNumber(v) {
			return nil, true
		}
		sum = document.Add(sum, v)
	}
	return sum, true
}

func evalIfNull(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool) {
	for _, a := range args[:len(args)-1] {
		if v, ok := a.Evaluate(doc, c); ok && !document.IsNullish(v) {
			return v, true
		}
	}
	return args[len(args)-1].Evaluate(doc, c)
}

func evalSize(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool) {
	v, ok := args[0].Evaluate(doc, c)
	if a, isArr := v.(bson.A); ok && isArr {
		return int32(len(a)), true
	}
	return nil, true
}

func evalType(args []Expression, doc bson.D, c collation.Collator) (interface{}, bool) {
	v, ok := args[0].Evaluate(doc, c)
	if !ok {
		return "missing", true
	}
	return document.TypeName(v), true
}
