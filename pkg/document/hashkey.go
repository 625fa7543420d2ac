package document

import (
	"encoding/binary"
	"math"
	"math/big"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/strata/pkg/collation"
)

// HashKey returns a string that is identical for two values exactly when
// Compare reports them equal under c. It is used to bucket group keys and
// $addToSet members without pairwise comparison.
func HashKey(v interface{}, c collation.Collator) string {
	var sb strings.Builder
	writeHashKey(&sb, v, c)
	return sb.String()
}

func writeHashKey(sb *strings.Builder, v interface{}, c collation.Collator) {
	class := ClassOf(v)
	sb.WriteByte(byte(class))

	switch class {
	case ClassNumber:
		writeLenPrefixed(sb, canonicalNumber(v))
	case ClassString:
		s := stringOf(v)
		if c != nil {
			writeLenPrefixed(sb, string(c.Key(s)))
		} else {
			writeLenPrefixed(sb, s)
		}
	case ClassObject:
		d := asD(v)
		writeUvarint(sb, uint64(len(d)))
		for _, e := range d {
			writeLenPrefixed(sb, e.Key)
			writeHashKey(sb, e.Value, c)
		}
	case ClassArray:
		a := asA(v)
		writeUvarint(sb, uint64(len(a)))
		for _, e := range a {
			writeHashKey(sb, e, c)
		}
	case ClassBinary:
		b := binaryOf(v)
		sb.WriteByte(b.Subtype)
		writeLenPrefixed(sb, string(b.Data))
	case ClassObjectID:
		oid := v.(primitive.ObjectID)
		sb.Write(oid[:])
	case ClassBool:
		if v.(bool) {
			sb.WriteByte(1)
		} else {
			sb.WriteByte(0)
		}
	case ClassDate:
		writeUvarint(sb, uint64(dateMillis(v)))
	case ClassTimestamp:
		ts := v.(primitive.Timestamp)
		writeUvarint(sb, uint64(ts.T))
		writeUvarint(sb, uint64(ts.I))
	case ClassRegex:
		re := v.(primitive.Regex)
		writeLenPrefixed(sb, re.Pattern)
		writeLenPrefixed(sb, re.Options)
	case ClassDBPointer:
		p := v.(primitive.DBPointer)
		writeLenPrefixed(sb, p.DB)
		sb.Write(p.Pointer[:])
	case ClassCode:
		writeLenPrefixed(sb, string(v.(primitive.JavaScript)))
	case ClassCodeWithScope:
		w := v.(primitive.CodeWithScope)
		writeLenPrefixed(sb, string(w.Code))
		writeHashKey(sb, w.Scope, nil)
	}
}

// canonicalNumber renders a number so that numerically equal int32, int64,
// double and decimal values produce the same text.
func canonicalNumber(v interface{}) string {
	n := numberOf(v)
	switch {
	case n.isNaN():
		return "nan"
	case n.isInt:
		return strconv.FormatInt(n.i, 10)
	case n.isInf():
		if math.IsInf(n.f, 1) {
			return "+inf"
		}
		return "-inf"
	}
	f := n.bigFloat()
	if f.Sign() == 0 {
		return "0"
	}
	if f.IsInt() {
		if i, acc := f.Int64(); acc == big.Exact {
			return strconv.FormatInt(i, 10)
		}
	}
	return f.Text('e', -1)
}

func writeLenPrefixed(sb *strings.Builder, s string) {
	writeUvarint(sb, uint64(len(s)))
	sb.WriteString(s)
}

func writeUvarint(sb *strings.Builder, x uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], x)
	sb.Write(buf[:n])
}
