package columnar

import (
	"encoding/binary"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/path"
)

// Emission is one (path, cell) pair produced by Shred.
type Emission struct {
	Path path.Path
	Cell Cell
}

// Shred decomposes doc into one cell per reachable path, in document order.
// A field name repeated within one object contributes only its first
// occurrence.
func Shred(doc bson.D) ([]Emission, error) {
	paths := Paths(doc)
	out := make([]Emission, 0, len(paths))
	for _, p := range paths {
		enc := cellEncoder{}
		found := enc.encode(doc, p, 0)
		if enc.err != nil {
			return nil, enc.err
		}
		if !found {
			continue
		}
		out = append(out, Emission{Path: p, Cell: Cell{Shape: enc.shape, Values: enc.values}})
	}
	return out, nil
}

// Paths lists every path reachable in doc, descending through objects and
// through arrays at any depth.
func Paths(doc bson.D) []path.Path {
	seen := make(map[string]struct{})
	var out []path.Path

	var walk func(v interface{}, prefix path.Path)
	walk = func(v interface{}, prefix path.Path) {
		switch x := v.(type) {
		case bson.D:
			local := make(map[string]struct{}, len(x))
			for _, e := range x {
				if _, dup := local[e.Key]; dup {
					continue
				}
				local[e.Key] = struct{}{}
				p := prefix.Append(e.Key)
				if _, ok := seen[p.Key()]; !ok {
					seen[p.Key()] = struct{}{}
					out = append(out, p)
				}
				walk(e.Value, p)
			}
		case bson.A:
			for _, e := range x {
				walk(e, prefix)
			}
		}
	}
	walk(doc, nil)
	return out
}

type cellEncoder struct {
	shape  []byte
	values []bson.RawValue
	err    error
}

// encode writes the shape of v for path p starting at depth d and reports
// whether p was reached.
func (e *cellEncoder) encode(v interface{}, p path.Path, d int) bool {
	if d == len(p) {
		e.leaf(v)
		return true
	}
	switch x := v.(type) {
	case bson.D:
		i := document.Index(x, p[d])
		if i < 0 {
			e.shape = append(e.shape, tagNoMatch)
			return false
		}
		e.shape = append(e.shape, tagObjectStep)
		e.shape = binary.AppendUvarint(e.shape, uint64(i))
		return e.encode(x[i].Value, p, d+1)
	case bson.A:
		e.shape = append(e.shape, tagArray)
		e.shape = binary.AppendUvarint(e.shape, uint64(len(x)))
		found := false
		for _, el := range x {
			if e.encode(el, p, d) {
				found = true
			}
		}
		return found
	}
	e.shape = append(e.shape, tagNoMatch)
	return false
}

func (e *cellEncoder) leaf(v interface{}) {
	switch x := v.(type) {
	case bson.D:
		e.shape = append(e.shape, tagObjectLeaf)
	case bson.A:
		e.shape = append(e.shape, tagArray)
		e.shape = binary.AppendUvarint(e.shape, uint64(len(x)))
		for _, el := range x {
			e.leaf(el)
		}
	default:
		rv, err := encodeValue(v)
		if err != nil && e.err == nil {
			e.err = err
		}
		e.shape = append(e.shape, tagValue)
		e.values = append(e.values, rv)
	}
}
