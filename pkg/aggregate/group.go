package aggregate

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/collation"
	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
	"github.com/ajitpratap0/strata/pkg/query"
)

// Accumulator operators.
const (
	AccSum      = "$sum"
	AccAvg      = "$avg"
	AccMin      = "$min"
	AccMax      = "$max"
	AccPush     = "$push"
	AccAddToSet = "$addToSet"
	AccFirst    = "$first"
	AccLast     = "$last"
	AccCount    = "$count"
	AccTop      = "$top"
	AccBottom   = "$bottom"
)

// Accumulator is one output field of a $group.
type Accumulator struct {
	Field string
	Op    string
	// Arg is the accumulated expression; for $top/$bottom it is the output.
	Arg    query.Expression
	SortBy []SortKey
}

// GroupStage is $group.
type GroupStage struct {
	ID           query.Expression
	Accumulators []Accumulator
}

func (s *GroupStage) Name() string { return "$group" }

func (s *GroupStage) Render() bson.D {
	body := bson.D{{Key: "_id", Value: s.ID.Render()}}
	for _, a := range s.Accumulators {
		var arg interface{}
		switch a.Op {
		case AccTop, AccBottom:
			arg = bson.D{{Key: "output", Value: a.Arg.Render()}, {Key: "sortBy", Value: renderSortKeys(a.SortBy)}}
		case AccCount:
			arg = bson.D{}
		default:
			arg = a.Arg.Render()
		}
		body = append(body, bson.E{Key: a.Field, Value: bson.D{{Key: a.Op, Value: arg}}})
	}
	return bson.D{{Key: "$group", Value: body}}
}

// Dependencies returns the paths read by the group key, accumulators and
// sort keys. whole is true when some expression needs the entire document.
func (s *GroupStage) Dependencies() ([]path.Path, bool) {
	deps, whole := s.ID.Dependencies()
	if whole {
		return nil, true
	}
	for _, a := range s.Accumulators {
		if a.Arg != nil {
			d, w := a.Arg.Dependencies()
			if w {
				return nil, true
			}
			deps = append(deps, d...)
		}
		for _, k := range a.SortBy {
			deps = append(deps, k.Path)
		}
	}
	return deps, false
}

func parseGroup(d bson.D) (*GroupStage, error) {
	g := &GroupStage{}
	hasID := false
	for _, e := range d {
		if e.Key == "_id" {
			id, err := query.ParseExpression(e.Value)
			if err != nil {
				return nil, err
			}
			g.ID, hasID = id, true
			continue
		}
		if strings.HasPrefix(e.Key, "$") || strings.Contains(e.Key, ".") {
			return nil, errors.New(errors.ErrorTypeValidation, "invalid $group output field name").
				WithDetail("field", e.Key)
		}
		acc, err := parseAccumulator(e)
		if err != nil {
			return nil, err
		}
		g.Accumulators = append(g.Accumulators, acc)
	}
	if !hasID {
		return nil, errors.New(errors.ErrorTypeValidation, "$group needs an _id")
	}
	return g, nil
}

func parseAccumulator(e bson.E) (Accumulator, error) {
	spec, ok := e.Value.(bson.D)
	if !ok || len(spec) != 1 {
		return Accumulator{}, errors.New(errors.ErrorTypeValidation, "accumulator must be a single-operator document").
			WithDetail("field", e.Key)
	}
	acc := Accumulator{Field: e.Key, Op: spec[0].Key}
	switch acc.Op {
	case AccSum, AccAvg, AccMin, AccMax, AccPush, AccAddToSet, AccFirst, AccLast:
		arg, err := query.ParseExpression(spec[0].Value)
		if err != nil {
			return Accumulator{}, err
		}
		acc.Arg = arg
	case AccCount:
		if d, ok := spec[0].Value.(bson.D); !ok || len(d) != 0 {
			return Accumulator{}, errors.New(errors.ErrorTypeValidation, "$count accumulator takes an empty document").
				WithDetail("field", e.Key)
		}
	case AccTop, AccBottom:
		body, ok := spec[0].Value.(bson.D)
		if !ok {
			return Accumulator{}, errors.New(errors.ErrorTypeValidation, "$top and $bottom take {output, sortBy}").
				WithDetail("field", e.Key)
		}
		for _, f := range body {
			switch f.Key {
			case "output":
				arg, err := query.ParseExpression(f.Value)
				if err != nil {
					return Accumulator{}, err
				}
				acc.Arg = arg
			case "sortBy":
				sd, ok := f.Value.(bson.D)
				if !ok {
					return Accumulator{}, errors.New(errors.ErrorTypeValidation, "sortBy takes a document").
						WithDetail("field", e.Key)
				}
				keys, err := parseSortKeys(sd)
				if err != nil {
					return Accumulator{}, err
				}
				acc.SortBy = keys
			default:
				return Accumulator{}, errors.New(errors.ErrorTypeValidation, "unknown $top/$bottom argument").
					WithDetail("argument", f.Key)
			}
		}
		if acc.Arg == nil || acc.SortBy == nil {
			return Accumulator{}, errors.New(errors.ErrorTypeValidation, "$top and $bottom need output and sortBy").
				WithDetail("field", e.Key)
		}
	default:
		return Accumulator{}, errors.New(errors.ErrorTypeCapability, "unsupported accumulator").
			WithDetail("accumulator", acc.Op)
	}
	return acc, nil
}

// accumulatorState folds the documents of one group.
type accumulatorState interface {
	add(doc bson.D)
	result() interface{}
}

func (a Accumulator) newState(c collation.Collator) accumulatorState {
	switch a.Op {
	case AccSum:
		return &sumState{arg: a.Arg, c: c, sum: int32(0)}
	case AccAvg:
		return &avgState{arg: a.Arg, c: c}
	case AccMin:
		return &extremeState{arg: a.Arg, c: c, want: -1}
	case AccMax:
		return &extremeState{arg: a.Arg, c: c, want: 1}
	case AccPush:
		return &pushState{arg: a.Arg, c: c, values: bson.A{}}
	case AccAddToSet:
		return &setState{arg: a.Arg, c: c, seen: make(map[string]struct{}), values: bson.A{}}
	case AccFirst:
		return &firstState{arg: a.Arg, c: c}
	case AccLast:
		return &lastState{arg: a.Arg, c: c}
	case AccCount:
		return &countState{}
	case AccTop:
		return &rankState{arg: a.Arg, c: c, keys: a.SortBy, bottom: false}
	case AccBottom:
		return &rankState{arg: a.Arg, c: c, keys: a.SortBy, bottom: true}
	}
	return &countState{}
}

type sumState struct {
	arg query.Expression
	c   collation.Collator
	sum interface{}
}

func (s *sumState) add(doc bson.D) {
	v, ok := s.arg.Evaluate(doc, s.c)
	if ok && document.IsNumber(v) {
		s.sum = document.Add(s.sum, v)
	}
}

func (s *sumState) result() interface{} { return s.sum }

type avgState struct {
	arg   query.Expression
	c     collation.Collator
	total float64
	n     int
}

func (s *avgState) add(doc bson.D) {
	v, ok := s.arg.Evaluate(doc, s.c)
	if !ok || !document.IsNumber(v) {
		return
	}
	f, _ := document.ToFloat64(v)
	s.total += f
	s.n++
}

func (s *avgState) result() interface{} {
	if s.n == 0 {
		return nil
	}
	return s.total / float64(s.n)
}

type extremeState struct {
	arg   query.Expression
	c     collation.Collator
	want  int
	value interface{}
	set   bool
}

func (s *extremeState) add(doc bson.D) {
	v, ok := s.arg.Evaluate(doc, s.c)
	if !ok || document.IsNullish(v) {
		return
	}
	if !s.set || document.Compare(v, s.value, s.c)*s.want > 0 {
		s.value, s.set = v, true
	}
}

func (s *extremeState) result() interface{} { return s.value }

type pushState struct {
	arg    query.Expression
	c      collation.Collator
	values bson.A
}

func (s *pushState) add(doc bson.D) {
	if v, ok := s.arg.Evaluate(doc, s.c); ok {
		s.values = append(s.values, v)
	}
}

func (s *pushState) result() interface{} { return s.values }

type setState struct {
	arg    query.Expression
	c      collation.Collator
	seen   map[string]struct{}
	values bson.A
}

func (s *setState) add(doc bson.D) {
	v, ok := s.arg.Evaluate(doc, s.c)
	if !ok {
		return
	}
	k := document.HashKey(v, s.c)
	if _, dup := s.seen[k]; dup {
		return
	}
	s.seen[k] = struct{}{}
	s.values = append(s.values, v)
}

func (s *setState) result() interface{} { return s.values }

type firstState struct {
	arg   query.Expression
	c     collation.Collator
	value interface{}
	set   bool
}

func (s *firstState) add(doc bson.D) {
	if s.set {
		return
	}
	v, ok := s.arg.Evaluate(doc, s.c)
	if !ok {
		v = nil
	}
	s.value, s.set = v, true
}

func (s *firstState) result() interface{} { return s.value }

type lastState struct {
	arg   query.Expression
	c     collation.Collator
	value interface{}
}

func (s *lastState) add(doc bson.D) {
	v, ok := s.arg.Evaluate(doc, s.c)
	if !ok {
		v = nil
	}
	s.value = v
}

func (s *lastState) result() interface{} { return s.value }

type countState struct{ n int64 }

func (s *countState) add(bson.D) { s.n++ }

func (s *countState) result() interface{} { return narrowInt(s.n) }

// rankState keeps the output of the first ($top) or last ($bottom)
// document in sortBy order. Ties go to the earliest document for $top and
// the latest for $bottom, matching a stable sort followed by $first/$last.
type rankState struct {
	arg    query.Expression
	c      collation.Collator
	keys   []SortKey
	bottom bool
	best   bson.D
	value  interface{}
	set    bool
}

func (s *rankState) add(doc bson.D) {
	if s.set {
		r := compareByKeys(doc, s.best, s.keys, s.c)
		if s.bottom && r < 0 || !s.bottom && r >= 0 {
			return
		}
	}
	v, ok := s.arg.Evaluate(doc, s.c)
	if !ok {
		v = nil
	}
	s.best, s.value, s.set = doc, v, true
}

func (s *rankState) result() interface{} { return s.value }

func narrowInt(n int64) interface{} {
	if n <= 1<<31-1 {
		return int32(n)
	}
	return n
}

// group runs g over docs. Groups are emitted in order of first appearance.
// A missing key groups with null.
func (g *GroupStage) run(docs []bson.D, c collation.Collator) []bson.D {
	type bucket struct {
		id     interface{}
		states []accumulatorState
	}
	var order []*bucket
	buckets := make(map[string]*bucket)

	for _, doc := range docs {
		id, ok := g.ID.Evaluate(doc, c)
		if !ok {
			id = nil
		}
		k := document.HashKey(id, c)
		b, exists := buckets[k]
		if !exists {
			b = &bucket{id: id, states: make([]accumulatorState, len(g.Accumulators))}
			for i, a := range g.Accumulators {
				b.states[i] = a.newState(c)
			}
			buckets[k] = b
			order = append(order, b)
		}
		for _, st := range b.states {
			st.add(doc)
		}
	}

	out := make([]bson.D, 0, len(order))
	for _, b := range order {
		d := make(bson.D, 0, len(g.Accumulators)+1)
		d = append(d, bson.E{Key: "_id", Value: b.id})
		for i, a := range g.Accumulators {
			d = append(d, bson.E{Key: a.Field, Value: b.states[i].result()})
		}
		out = append(out, d)
	}
	return out
}
