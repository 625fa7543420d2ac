package query

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/strata/pkg/document"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
)

const idField = "_id"

type idMode uint8

const (
	idDefault idMode = iota
	idInclude
	idExclude
)

// Projection is a parsed find projection.
type Projection struct {
	inclusion bool
	paths     []path.Path // listed paths other than a bare _id
	id        idMode
	root      *projNode
	raw       bson.D
}

type projNode struct {
	leaf     bool
	children map[string]*projNode
}

func (n *projNode) add(p path.Path) error {
	cur := n
	for i, c := range p {
		if cur.leaf {
			return errors.New(errors.ErrorTypeValidation, "path collision in projection").
				WithDetail("path", p.String()).
				WithDetail("conflicts_with", p.Prefix(i).String())
		}
		if cur.children == nil {
			cur.children = make(map[string]*projNode)
		}
		next, ok := cur.children[c]
		if !ok {
			next = &projNode{}
			cur.children[c] = next
		}
		cur = next
	}
	if cur.leaf || len(cur.children) > 0 {
		return errors.New(errors.ErrorTypeValidation, "path collision in projection").
			WithDetail("path", p.String())
	}
	cur.leaf = true
	return nil
}

// ParseProjection parses {path: 1|0|true|false, ...}. An empty document
// keeps whole documents.
func ParseProjection(doc bson.D) (*Projection, error) {
	p := &Projection{root: &projNode{}, raw: doc}
	decided := false

	for _, e := range doc {
		include, err := projectionFlag(e)
		if err != nil {
			return nil, err
		}
		if e.Key == idField {
			if include {
				p.id = idInclude
			} else {
				p.id = idExclude
			}
			continue
		}
		fp := path.Parse(e.Key)
		for _, c := range fp {
			if strings.HasPrefix(c, "$") {
				return nil, errors.New(errors.ErrorTypeValidation, "projection paths can not start with '$'").
					WithDetail("path", e.Key)
			}
		}
		if decided && include != p.inclusion {
			return nil, errors.New(errors.ErrorTypeValidation, "projection can not mix inclusion and exclusion").
				WithDetail("path", e.Key)
		}
		p.inclusion, decided = include, true
		if err := p.root.add(fp); err != nil {
			return nil, err
		}
		p.paths = append(p.paths, fp)
	}

	if !decided {
		// Only _id was mentioned: {_id: 1} keeps just _id, {_id: 0} drops it.
		p.inclusion = p.id == idInclude
	}
	if p.id == idExclude && p.inclusion {
		if _, ok := p.root.children[idField]; ok {
			return nil, errors.New(errors.ErrorTypeValidation, "path collision in projection").
				WithDetail("path", idField)
		}
	}
	return p, nil
}

// MustParseProjection is ParseProjection for static projections.
func MustParseProjection(doc bson.D) *Projection {
	p, err := ParseProjection(doc)
	if err != nil {
		panic(err)
	}
	return p
}

// InclusionOf builds an inclusion projection over paths. Overlapping paths
// are simplified to their shortest prefix.
func InclusionOf(paths []path.Path, includeID bool) *Projection {
	p := &Projection{inclusion: true, root: &projNode{}, id: idExclude}
	if includeID {
		p.id = idInclude
	}
	for _, fp := range path.Simplify(paths) {
		if fp.Equal(path.Path{idField}) {
			p.id = idInclude
			continue
		}
		_ = p.root.add(fp)
		p.paths = append(p.paths, fp)
	}
	raw := bson.D{}
	if p.id == idExclude {
		raw = append(raw, bson.E{Key: idField, Value: int32(0)})
	}
	for _, fp := range p.paths {
		raw = append(raw, bson.E{Key: fp.String(), Value: int32(1)})
	}
	p.raw = raw
	return p
}

func projectionFlag(e bson.E) (bool, error) {
	switch v := e.Value.(type) {
	case bool:
		return v, nil
	case int, int32, int64, float64:
		f, _ := document.ToFloat64(v)
		return f != 0, nil
	}
	return false, errors.New(errors.ErrorTypeCapability, "only 0/1 and true/false projection values are supported").
		WithDetail("path", e.Key).
		WithDetail("type", document.TypeName(e.Value))
}

// IsEmpty reports whether p keeps whole documents.
func (p *Projection) IsEmpty() bool {
	return p == nil || (len(p.paths) == 0 && p.id == idDefault)
}

// IsInclusion reports whether p lists the fields to keep.
func (p *Projection) IsInclusion() bool {
	return p != nil && p.inclusion && !p.IsEmpty()
}

// IsExclusion reports whether p lists fields to drop.
func (p *Projection) IsExclusion() bool {
	return p != nil && !p.inclusion && !p.IsEmpty()
}

// IncludesID reports whether the whole _id field is part of the output.
func (p *Projection) IncludesID() bool {
	if p == nil || p.id == idExclude {
		return false
	}
	if !p.inclusion {
		return true
	}
	_, sub := p.root.children[idField]
	return !sub
}

// Paths returns the listed paths, plus _id when an inclusion keeps it.
func (p *Projection) Paths() []path.Path {
	if p == nil {
		return nil
	}
	out := append([]path.Path(nil), p.paths...)
	if p.inclusion && p.IncludesID() {
		out = append(out, path.Path{idField})
	}
	return out
}

// Document returns the projection as given.
func (p *Projection) Document() bson.D {
	if p == nil {
		return bson.D{}
	}
	return p.raw
}

// Apply projects doc. Inside arrays an inclusion keeps only embedded
// documents, projected recursively; scalars and nested arrays are dropped.
// An exclusion leaves array elements that are not documents untouched.
func (p *Projection) Apply(doc bson.D) bson.D {
	if p.IsEmpty() {
		return doc
	}
	if p.inclusion {
		return p.root.include(doc, p.IncludesID())
	}
	return p.root.exclude(doc, p.id == idExclude)
}

func (n *projNode) include(doc bson.D, keepID bool) bson.D {
	out := bson.D{}
	for _, e := range doc {
		child, ok := n.children[e.Key]
		if !ok {
			if keepID && e.Key == idField {
				out = append(out, e)
			}
			continue
		}
		if child.leaf {
			out = append(out, e)
			continue
		}
		if v, ok := child.includeValue(e.Value); ok {
			out = append(out, bson.E{Key: e.Key, Value: v})
		}
	}
	return out
}

func (n *projNode) includeValue(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case bson.D:
		return n.include(x, false), true
	case bson.A:
		out := bson.A{}
		for _, el := range x {
			if d, ok := el.(bson.D); ok {
				out = append(out, n.include(d, false))
			}
		}
		return out, true
	}
	return nil, false
}

func (n *projNode) exclude(doc bson.D, dropID bool) bson.D {
	out := bson.D{}
	for _, e := range doc {
		if dropID && e.Key == idField {
			continue
		}
		child, ok := n.children[e.Key]
		if !ok {
			out = append(out, e)
			continue
		}
		if child.leaf {
			continue
		}
		out = append(out, bson.E{Key: e.Key, Value: child.excludeValue(e.Value)})
	}
	return out
}

func (n *projNode) excludeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case bson.D:
		return n.exclude(x, false)
	case bson.A:
		out := make(bson.A, 0, len(x))
		for _, el := range x {
			if d, ok := el.(bson.D); ok {
				out = append(out, n.exclude(d, false))
			} else {
				out = append(out, el)
			}
		}
		return out
	}
	return v
}
