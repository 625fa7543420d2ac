package columnar

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
)

type nodeKind uint8

const (
	kindUnknown nodeKind = iota
	kindObject
	kindArray
	kindScalar
)

// node is one position of a partially rebuilt document.
type node struct {
	kind   nodeKind
	fields []field // ordered by ord
	elems  []*node
	value  interface{}
}

type field struct {
	ord  int
	name string
	node *node
}

func (n *node) become(k nodeKind) error {
	if n.kind == kindUnknown {
		n.kind = k
		return nil
	}
	if n.kind != k {
		return errCorruptCell("cells disagree on the shape of a position")
	}
	return nil
}

func (n *node) child(ord int, name string) (*node, error) {
	i := sort.Search(len(n.fields), func(i int) bool { return n.fields[i].ord >= ord })
	if i < len(n.fields) && n.fields[i].ord == ord {
		if n.fields[i].name != name {
			return nil, errCorruptCell("cells disagree on a field name")
		}
		return n.fields[i].node, nil
	}
	c := &node{}
	n.fields = append(n.fields, field{})
	copy(n.fields[i+1:], n.fields[i:])
	n.fields[i] = field{ord: ord, name: name, node: c}
	return c, nil
}

func (n *node) grow(size int) error {
	if len(n.elems) == 0 {
		n.elems = make([]*node, size)
		for i := range n.elems {
			n.elems[i] = &node{}
		}
		return nil
	}
	if len(n.elems) != size {
		return errCorruptCell("cells disagree on an array length")
	}
	return nil
}

func (n *node) object() bson.D {
	out := make(bson.D, 0, len(n.fields))
	for _, f := range n.fields {
		if f.node.kind == kindUnknown {
			continue
		}
		out = append(out, bson.E{Key: f.name, Value: f.node.materialize()})
	}
	return out
}

func (n *node) materialize() interface{} {
	switch n.kind {
	case kindObject:
		return n.object()
	case kindArray:
		out := make(bson.A, len(n.elems))
		for i, e := range n.elems {
			out[i] = e.materialize()
		}
		return out
	case kindScalar:
		return n.value
	}
	return nil
}

// Assembler rebuilds one row's partial document from its cells.
// Positions no added cell describes are left out of the result.
type Assembler struct {
	root  *node
	cells int
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{root: &node{kind: kindObject}}
}

// Reset discards everything added so far.
func (a *Assembler) Reset() {
	a.root = &node{kind: kindObject}
	a.cells = 0
}

// Cells returns how many cells were merged since the last Reset.
func (a *Assembler) Cells() int { return a.cells }

// Add merges the cell stored for p.
func (a *Assembler) Add(p path.Path, c Cell) error {
	r := &cellReader{shape: c.Shape, values: c.Values}
	if err := r.decode(a.root, p, 0); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to assemble cell").
			WithDetail("path", p.String())
	}
	if !r.exhausted() {
		return errCorruptCell("trailing bytes").WithDetail("path", p.String())
	}
	a.cells++
	return nil
}

// Document returns the assembled document. The result shares no state with
// the assembler.
func (a *Assembler) Document() bson.D {
	return a.root.object()
}

func (r *cellReader) decode(n *node, p path.Path, d int) error {
	tag, err := r.tag()
	if err != nil {
		return err
	}

	switch tag {
	case tagNoMatch:
		return nil

	case tagObjectStep:
		if d >= len(p) {
			return errCorruptCell("object step past the end of the path")
		}
		ord, err := r.uvarint()
		if err != nil {
			return err
		}
		if err := n.become(kindObject); err != nil {
			return err
		}
		c, err := n.child(int(ord), p[d])
		if err != nil {
			return err
		}
		return r.decode(c, p, d+1)

	case tagArray:
		size, err := r.uvarint()
		if err != nil {
			return err
		}
		if size > uint64(r.remaining()) {
			return errCorruptCell("array length exceeds shape")
		}
		if err := n.become(kindArray); err != nil {
			return err
		}
		if err := n.grow(int(size)); err != nil {
			return err
		}
		for _, e := range n.elems {
			if err := r.decode(e, p, d); err != nil {
				return err
			}
		}
		return nil

	case tagObjectLeaf:
		if d != len(p) {
			return errCorruptCell("object leaf before the end of the path")
		}
		return n.become(kindObject)

	case tagValue:
		if d != len(p) {
			return errCorruptCell("value before the end of the path")
		}
		v, err := r.value()
		if err != nil {
			return err
		}
		if err := n.become(kindScalar); err != nil {
			return err
		}
		n.value = v
		return nil
	}
	return errCorruptCell("unknown shape tag")
}
