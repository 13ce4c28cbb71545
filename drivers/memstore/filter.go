package memstore

import (
	"reflect"
	"strings"

	"github.com/Fliegerweb/searchsync/x"
)

// match evaluates a filter against a row. A plain value means equality, a
// nested map holds operators. Conditions across fields and across operators
// are conjunctive.
func match(row x.Row, f x.Filter) bool {
	for field, cond := range f {
		val := row[field]
		switch c := cond.(type) {
		case x.Filter:
			if !matchOps(val, c) {
				return false
			}
		case map[string]interface{}:
			if !matchOps(val, c) {
				return false
			}
		default:
			if !valuesEqual(val, cond) {
				return false
			}
		}
	}
	return true
}

func matchOps(val interface{}, ops map[string]interface{}) bool {
	for op, arg := range ops {
		if !matchOp(val, op, arg) {
			return false
		}
	}
	return true
}

func matchOp(val interface{}, op string, arg interface{}) bool {
	switch op {
	case "_eq":
		return valuesEqual(val, arg)
	case "_neq":
		return !valuesEqual(val, arg)
	case "_in":
		return contains(arg, val)
	case "_nin":
		return !contains(arg, val)
	case "_gt":
		c, ok := compareValues(val, arg)
		return ok && c > 0
	case "_gte":
		c, ok := compareValues(val, arg)
		return ok && c >= 0
	case "_lt":
		c, ok := compareValues(val, arg)
		return ok && c < 0
	case "_lte":
		c, ok := compareValues(val, arg)
		return ok && c <= 0
	case "_null":
		want, _ := arg.(bool)
		return (val == nil) == want
	case "_nnull":
		want, _ := arg.(bool)
		return (val != nil) == want
	default:
		log.WithField("op", op).Warn("Unknown filter operator, matching nothing")
		return false
	}
}

// valuesEqual compares loosely across numeric types, since ids and values
// arrive as int from fixtures and as float64 from JSON.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, aok := toFloat(a); aok {
		fb, bok := toFloat(b)
		return bok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func contains(arg, val interface{}) bool {
	list, ok := arg.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(item, val) {
			return true
		}
	}
	return false
}

// compareValues orders two numbers or two strings. Anything else does not
// order, which makes the range operators match nothing.
func compareValues(a, b interface{}) (int, bool) {
	if fa, aok := toFloat(a); aok {
		fb, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
