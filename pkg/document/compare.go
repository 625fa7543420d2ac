package document

import (
	"bytes"
	"math"
	"math/big"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/strata/pkg/collation"
)

// Class is a value's canonical type bracket. Values of different classes
// order by class; values within a class compare by content.
type Class int

const (
	ClassMinKey        Class = -1
	ClassUndefined     Class = 0
	ClassNull          Class = 5
	ClassNumber        Class = 10
	ClassString        Class = 15
	ClassObject        Class = 20
	ClassArray         Class = 25
	ClassBinary        Class = 30
	ClassObjectID      Class = 35
	ClassBool          Class = 40
	ClassDate          Class = 45
	ClassTimestamp     Class = 47
	ClassRegex         Class = 50
	ClassDBPointer     Class = 55
	ClassCode          Class = 60
	ClassCodeWithScope Class = 65
	ClassMaxKey        Class = 127
)

// ClassOf returns the canonical class of v.
func ClassOf(v interface{}) Class {
	switch v.(type) {
	case primitive.MinKey:
		return ClassMinKey
	case primitive.Undefined:
		return ClassUndefined
	case nil, primitive.Null:
		return ClassNull
	case int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64, primitive.Decimal128:
		return ClassNumber
	case string, primitive.Symbol:
		return ClassString
	case bson.D, bson.M, map[string]interface{}:
		return ClassObject
	case bson.A, []interface{}:
		return ClassArray
	case primitive.Binary, []byte:
		return ClassBinary
	case primitive.ObjectID:
		return ClassObjectID
	case bool:
		return ClassBool
	case primitive.DateTime, time.Time:
		return ClassDate
	case primitive.Timestamp:
		return ClassTimestamp
	case primitive.Regex:
		return ClassRegex
	case primitive.DBPointer:
		return ClassDBPointer
	case primitive.JavaScript:
		return ClassCode
	case primitive.CodeWithScope:
		return ClassCodeWithScope
	case primitive.MaxKey:
		return ClassMaxKey
	}
	return ClassMaxKey
}

// TypeName returns the $type alias of v.
func TypeName(v interface{}) string {
	switch v.(type) {
	case primitive.MinKey:
		return "minKey"
	case primitive.MaxKey:
		return "maxKey"
	case primitive.Undefined:
		return "undefined"
	case nil, primitive.Null:
		return "null"
	case int32, int, int8, int16, uint8, uint16:
		return "int"
	case int64, uint32:
		return "long"
	case float32, float64:
		return "double"
	case primitive.Decimal128:
		return "decimal"
	case string:
		return "string"
	case primitive.Symbol:
		return "symbol"
	case bson.D, bson.M, map[string]interface{}:
		return "object"
	case bson.A, []interface{}:
		return "array"
	case primitive.Binary, []byte:
		return "binData"
	case primitive.ObjectID:
		return "objectId"
	case bool:
		return "bool"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.Timestamp:
		return "timestamp"
	case primitive.Regex:
		return "regex"
	case primitive.DBPointer:
		return "dbPointer"
	case primitive.JavaScript:
		return "javascript"
	case primitive.CodeWithScope:
		return "javascriptWithScope"
	}
	return "unknown"
}

// Compare orders a and b canonically. Strings compare with c when it is not
// nil, byte-wise otherwise.
func Compare(a, b interface{}, c collation.Collator) int {
	ca, cb := ClassOf(a), ClassOf(b)
	if ca != cb {
		return cmpInt(int64(ca), int64(cb))
	}

	switch ca {
	case ClassMinKey, ClassMaxKey, ClassNull, ClassUndefined:
		return 0
	case ClassNumber:
		return compareNumbers(a, b)
	case ClassString:
		return compareStrings(stringOf(a), stringOf(b), c)
	case ClassObject:
		return compareObjects(asD(a), asD(b), c)
	case ClassArray:
		return compareArrays(asA(a), asA(b), c)
	case ClassBinary:
		ba, bb := binaryOf(a), binaryOf(b)
		if len(ba.Data) != len(bb.Data) {
			return cmpInt(int64(len(ba.Data)), int64(len(bb.Data)))
		}
		if ba.Subtype != bb.Subtype {
			return cmpInt(int64(ba.Subtype), int64(bb.Subtype))
		}
		return bytes.Compare(ba.Data, bb.Data)
	case ClassObjectID:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return bytes.Compare(oa[:], ob[:])
	case ClassBool:
		return cmpBool(a.(bool), b.(bool))
	case ClassDate:
		return cmpInt(dateMillis(a), dateMillis(b))
	case ClassTimestamp:
		ta, tb := a.(primitive.Timestamp), b.(primitive.Timestamp)
		if ta.T != tb.T {
			return cmpInt(int64(ta.T), int64(tb.T))
		}
		return cmpInt(int64(ta.I), int64(tb.I))
	case ClassRegex:
		ra, rb := a.(primitive.Regex), b.(primitive.Regex)
		if r := strings.Compare(ra.Pattern, rb.Pattern); r != 0 {
			return r
		}
		return strings.Compare(ra.Options, rb.Options)
	case ClassDBPointer:
		pa, pb := a.(primitive.DBPointer), b.(primitive.DBPointer)
		if r := strings.Compare(pa.DB, pb.DB); r != 0 {
			return r
		}
		return bytes.Compare(pa.Pointer[:], pb.Pointer[:])
	case ClassCode:
		return strings.Compare(string(a.(primitive.JavaScript)), string(b.(primitive.JavaScript)))
	case ClassCodeWithScope:
		wa, wb := a.(primitive.CodeWithScope), b.(primitive.CodeWithScope)
		if r := strings.Compare(string(wa.Code), string(wb.Code)); r != 0 {
			return r
		}
		return Compare(wa.Scope, wb.Scope, nil)
	}
	return 0
}

// Equal reports whether a and b compare equal.
func Equal(a, b interface{}, c collation.Collator) bool {
	return Compare(a, b, c) == 0
}

func compareStrings(a, b string, c collation.Collator) int {
	if c == nil {
		return strings.Compare(a, b)
	}
	return sign(c.Compare(a, b))
}

func compareObjects(a, b bson.D, c collation.Collator) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		ca, cb := ClassOf(a[i].Value), ClassOf(b[i].Value)
		if ca != cb {
			return cmpInt(int64(ca), int64(cb))
		}
		if r := strings.Compare(a[i].Key, b[i].Key); r != 0 {
			return r
		}
		if r := Compare(a[i].Value, b[i].Value, c); r != 0 {
			return r
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

func compareArrays(a, b bson.A, c collation.Collator) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if r := Compare(a[i], b[i], c); r != 0 {
			return r
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

// number is a decoded numeric value.
type number struct {
	isInt bool
	i     int64
	f     float64
	dec   *big.Float // set for finite Decimal128 values
}

func numberOf(v interface{}) number {
	switch x := v.(type) {
	case int:
		return number{isInt: true, i: int64(x)}
	case int8:
		return number{isInt: true, i: int64(x)}
	case int16:
		return number{isInt: true, i: int64(x)}
	case int32:
		return number{isInt: true, i: int64(x)}
	case int64:
		return number{isInt: true, i: x}
	case uint8:
		return number{isInt: true, i: int64(x)}
	case uint16:
		return number{isInt: true, i: int64(x)}
	case uint32:
		return number{isInt: true, i: int64(x)}
	case float32:
		return number{f: float64(x)}
	case float64:
		return number{f: x}
	case primitive.Decimal128:
		if x.IsNaN() {
			return number{f: math.NaN()}
		}
		if inf := x.IsInf(); inf != 0 {
			return number{f: math.Inf(inf)}
		}
		if bf, ok := new(big.Float).SetPrec(256).SetString(x.String()); ok {
			return number{dec: bf}
		}
		return number{f: math.NaN()}
	}
	return number{f: math.NaN()}
}

func (n number) bigFloat() *big.Float {
	switch {
	case n.dec != nil:
		return n.dec
	case n.isInt:
		return new(big.Float).SetPrec(256).SetInt64(n.i)
	default:
		return new(big.Float).SetPrec(256).SetFloat64(n.f)
	}
}

func (n number) isNaN() bool {
	return !n.isInt && n.dec == nil && math.IsNaN(n.f)
}

func (n number) isInf() bool {
	return !n.isInt && n.dec == nil && math.IsInf(n.f, 0)
}

// compareNumbers orders numbers by value. NaN sorts below every other
// number and equals itself.
func compareNumbers(a, b interface{}) int {
	na, nb := numberOf(a), numberOf(b)
	if na.isNaN() || nb.isNaN() {
		switch {
		case na.isNaN() && nb.isNaN():
			return 0
		case na.isNaN():
			return -1
		default:
			return 1
		}
	}
	if na.isInt && nb.isInt {
		return cmpInt(na.i, nb.i)
	}
	if na.isInf() || nb.isInf() {
		fa, fb := na.approx(), nb.approx()
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return na.bigFloat().Cmp(nb.bigFloat())
}

func (n number) approx() float64 {
	switch {
	case n.dec != nil:
		f, _ := n.dec.Float64()
		return f
	case n.isInt:
		return float64(n.i)
	}
	return n.f
}

func stringOf(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case primitive.Symbol:
		return string(x)
	}
	return ""
}

func asD(v interface{}) bson.D {
	switch x := v.(type) {
	case bson.D:
		return x
	case bson.M:
		return mapToD(x)
	case map[string]interface{}:
		return mapToD(x)
	}
	return nil
}

func asA(v interface{}) bson.A {
	switch x := v.(type) {
	case bson.A:
		return x
	case []interface{}:
		return bson.A(x)
	}
	return nil
}

func binaryOf(v interface{}) primitive.Binary {
	switch x := v.(type) {
	case primitive.Binary:
		return x
	case []byte:
		return primitive.Binary{Data: x}
	}
	return primitive.Binary{}
}

func dateMillis(v interface{}) int64 {
	switch x := v.(type) {
	case primitive.DateTime:
		return int64(x)
	case time.Time:
		return x.UnixMilli()
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func sign(r int) int {
	switch {
	case r < 0:
		return -1
	case r > 0:
		return 1
	}
	return 0
}
