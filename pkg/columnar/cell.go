package columnar

import (
	"encoding/binary"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// Shape tags.
const (
	tagObjectStep byte = 'o' // object holding the next path field; uvarint ordinal follows
	tagNoMatch    byte = '_' // position that does not reach the path
	tagArray      byte = '[' // array; uvarint length and one encoding per element follow
	tagValue      byte = 'v' // scalar at the path; consumes one value
	tagObjectLeaf byte = 'O' // object at the path; its fields live in child columns
)

// Cell is one document's contribution to one column.
type Cell struct {
	Shape  []byte
	Values []bson.RawValue
}

// Equal reports whether two cells are byte-identical.
func (c Cell) Equal(o Cell) bool {
	if string(c.Shape) != string(o.Shape) || len(c.Values) != len(o.Values) {
		return false
	}
	for i := range c.Values {
		if c.Values[i].Type != o.Values[i].Type || string(c.Values[i].Value) != string(o.Values[i].Value) {
			return false
		}
	}
	return true
}

// MemoryUsage estimates the bytes retained by c.
func (c Cell) MemoryUsage() int64 {
	total := int64(len(c.Shape)) + 48
	for _, v := range c.Values {
		total += int64(len(v.Value)) + 32
	}
	return total
}

// IsArrayValued reports whether the path sits inside or at an array.
func (c Cell) IsArrayValued() bool {
	for _, b := range c.Shape {
		if b == tagArray {
			return true
		}
	}
	return false
}

func encodeValue(v interface{}) (bson.RawValue, error) {
	switch v.(type) {
	case nil, primitive.Null:
		return bson.RawValue{Type: bsontype.Null}, nil
	}
	t, data, err := bson.MarshalValue(v)
	if err != nil {
		return bson.RawValue{}, errors.Wrap(err, errors.ErrorTypeValidation, "value is not BSON encodable")
	}
	return bson.RawValue{Type: t, Value: data}, nil
}

func decodeValue(rv bson.RawValue) (interface{}, error) {
	if rv.Type == bsontype.Null {
		return nil, nil
	}
	var out interface{}
	if err := rv.Unmarshal(&out); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "corrupt cell value").
			WithDetail("bson_type", rv.Type.String())
	}
	return out, nil
}

// cellReader walks a cell's shape and values in order.
type cellReader struct {
	shape  []byte
	values []bson.RawValue
	pos    int
	vpos   int
}

func (r *cellReader) tag() (byte, error) {
	if r.pos >= len(r.shape) {
		return 0, errCorruptCell("truncated shape")
	}
	b := r.shape[r.pos]
	r.pos++
	return b, nil
}

func (r *cellReader) uvarint() (uint64, error) {
	x, n := binary.Uvarint(r.shape[r.pos:])
	if n <= 0 {
		return 0, errCorruptCell("bad length")
	}
	r.pos += n
	return x, nil
}

func (r *cellReader) value() (interface{}, error) {
	if r.vpos >= len(r.values) {
		return nil, errCorruptCell("missing value")
	}
	rv := r.values[r.vpos]
	r.vpos++
	return decodeValue(rv)
}

func (r *cellReader) remaining() int {
	return len(r.shape) - r.pos
}

func (r *cellReader) exhausted() bool {
	return r.pos == len(r.shape) && r.vpos == len(r.values)
}

func errCorruptCell(reason string) *errors.Error {
	return errors.New(errors.ErrorTypeStorage, "corrupt cell").WithDetail("reason", reason)
}
