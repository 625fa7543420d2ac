package document

import (
	"math"
)

// IsNumber reports whether v is a numeric BSON value.
func IsNumber(v interface{}) bool {
	return ClassOf(v) == ClassNumber
}

// ToFloat64 converts a numeric value. ok is false for non-numbers.
func ToFloat64(v interface{}) (float64, bool) {
	if !IsNumber(v) {
		return 0, false
	}
	return numberOf(v).approx(), true
}

// ToInt64 converts an integral numeric value.
func ToInt64(v interface{}) (int64, bool) {
	if !IsNumber(v) {
		return 0, false
	}
	n := numberOf(v)
	if n.isInt {
		return n.i, true
	}
	f := n.approx()
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Add sums two numbers with the widening rules of $sum: int32 widens to
// int64 and int64 widens to double on overflow. Any double or decimal
// operand makes the result a double.
func Add(a, b interface{}) interface{} {
	na, nb := numberOf(a), numberOf(b)
	if na.isInt && nb.isInt {
		sum := na.i + nb.i
		overflow := (na.i > 0 && nb.i > 0 && sum < 0) || (na.i < 0 && nb.i < 0 && sum >= 0)
		if overflow {
			return float64(na.i) + float64(nb.i)
		}
		_, aLong := a.(int64)
		_, bLong := b.(int64)
		if !aLong && !bLong && sum >= math.MinInt32 && sum <= math.MaxInt32 {
			return int32(sum)
		}
		return sum
	}
	return na.approx() + nb.approx()
}
