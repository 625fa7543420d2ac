package document

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/path"
)

// EvaluatePath resolves an aggregation field path ("$a.b.c") against doc.
//
// Arrays are traversed one element at a time and only embedded documents
// contribute; scalars and nested arrays inside an array are skipped, and
// elements where the rest of the path is missing are omitted. So "$a.b" on
// {a: [{b: 1}, 2, [{b: 3}]]} is [1]. The boolean is false when the value is
// missing.
func EvaluatePath(doc bson.D, p path.Path) (interface{}, bool) {
	if len(p) == 0 {
		return doc, true
	}
	return evalObject(doc, p)
}

func evalObject(doc bson.D, p path.Path) (interface{}, bool) {
	v, ok := Lookup(doc, p[0])
	if !ok {
		return nil, false
	}
	if len(p) == 1 {
		return v, true
	}
	switch x := v.(type) {
	case bson.D:
		return evalObject(x, p[1:])
	case bson.A:
		return evalArray(x, p[1:]), true
	}
	return nil, false
}

func evalArray(arr bson.A, p path.Path) bson.A {
	out := bson.A{}
	for _, e := range arr {
		d, ok := e.(bson.D)
		if !ok {
			continue
		}
		if v, ok := evalObject(d, p); ok {
			out = append(out, v)
		}
	}
	return out
}
