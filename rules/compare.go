package rules

import (
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// looseEqual compares two values the way stored workflow conditions
// expect: cross-type numeric and string coercion is allowed, so "5"
// equals 5 and "true" does not equal true only when neither side
// coerces to a common representation.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if af, aerr := cast.ToFloat64E(a); aerr == nil {
		if bf, berr := cast.ToFloat64E(b); berr == nil {
			return af == bf
		}
	}

	as, aerr := cast.ToStringE(a)
	bs, berr := cast.ToStringE(b)
	if aerr == nil && berr == nil {
		return as == bs
	}

	return reflect.DeepEqual(a, b)
}

// compareOrdered returns -1/0/1 for a against b. The second return is
// false when the operands are not comparable; callers treat that as a
// failed comparison rather than an error.
func compareOrdered(a, b interface{}) (int, bool) {
	af, aerr := cast.ToFloat64E(a)
	bf, berr := cast.ToFloat64E(b)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	as, aerr := cast.ToStringE(a)
	bs, berr := cast.ToStringE(b)
	if aerr == nil && berr == nil {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

// stringContains reports whether haystack contains the operand's
// string form.
func stringContains(haystack string, operand interface{}) bool {
	needle, err := cast.ToStringE(operand)
	if err != nil {
		return false
	}
	return strings.Contains(haystack, needle)
}
