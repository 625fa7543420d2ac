package document

import (
	"bytes"
	"sort"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// Normalize converts any BSON-marshalable document (bson.D, bson.M, struct)
// into a bson.D whose values use only the canonical driver types.
func Normalize(doc interface{}) (bson.D, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "document is not BSON encodable")
	}
	var out bson.D
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "document is not BSON decodable")
	}
	return canonicalD(out), nil
}

// NormalizeValue converts a single value the way Normalize converts fields.
func NormalizeValue(v interface{}) (interface{}, error) {
	d, err := Normalize(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return nil, err
	}
	return d[0].Value, nil
}

// canonicalD rewrites maps left behind by custom decoders into ordered
// documents so that every object in the tree is a bson.D.
func canonicalD(d bson.D) bson.D {
	for i := range d {
		d[i].Value = canonical(d[i].Value)
	}
	return d
}

func canonical(v interface{}) interface{} {
	switch x := v.(type) {
	case bson.D:
		return canonicalD(x)
	case bson.A:
		for i := range x {
			x[i] = canonical(x[i])
		}
		return x
	case []interface{}:
		return canonical(bson.A(x))
	case bson.M:
		return mapToD(x)
	case map[string]interface{}:
		return mapToD(x)
	case primitive.Null:
		return nil
	}
	return v
}

func mapToD(m map[string]interface{}) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: canonical(m[k])})
	}
	return out
}

// Validate rejects documents the column store can not represent faithfully:
// duplicate field names within one object and field names that are not
// valid UTF-8.
func Validate(doc bson.D) error {
	return validateValue(doc, "")
}

func validateValue(v interface{}, at string) error {
	switch x := v.(type) {
	case bson.D:
		seen := make(map[string]struct{}, len(x))
		for _, e := range x {
			if !utf8.ValidString(e.Key) {
				return errors.New(errors.ErrorTypeValidation, "field name is not valid UTF-8").
					WithDetail("parent", at)
			}
			if _, dup := seen[e.Key]; dup {
				return errors.New(errors.ErrorTypeValidation, "duplicate field name").
					WithDetail("field", e.Key).
					WithDetail("parent", at)
			}
			seen[e.Key] = struct{}{}
			if err := validateValue(e.Value, join(at, e.Key)); err != nil {
				return err
			}
		}
	case bson.A:
		for _, e := range x {
			if err := validateValue(e, at); err != nil {
				return err
			}
		}
	}
	return nil
}

func join(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

// Lookup returns the value of the first field named key.
func Lookup(doc bson.D, key string) (interface{}, bool) {
	for _, e := range doc {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Index returns the position of the first field named key, or -1.
func Index(doc bson.D, key string) int {
	for i, e := range doc {
		if e.Key == key {
			return i
		}
	}
	return -1
}

// IsObject reports whether v is an embedded document.
func IsObject(v interface{}) bool {
	_, ok := v.(bson.D)
	return ok
}

// IsArray reports whether v is an array.
func IsArray(v interface{}) bool {
	_, ok := v.(bson.A)
	return ok
}

// IsNullish reports whether v is null or undefined.
func IsNullish(v interface{}) bool {
	switch v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return true
	}
	return false
}

// Identical reports whether a and b encode to the same BSON bytes: same
// field order, same types and same values. Unlike Compare, int32(7) and
// 7.0 differ.
func Identical(a, b bson.D) bool {
	ab, err := bson.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := bson.Marshal(b)
	return err == nil && bytes.Equal(ab, bb)
}
