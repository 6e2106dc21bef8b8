package index

import (
	"encoding/json"
	"fmt"
	"strings"
)

// kind orders field values of different types: a missing field sorts
// before any present value, null before typed values.
type kind uint8

const (
	kindMissing kind = iota
	kindNull
	kindBool
	kindNumber
	kindString
	kindOther // lists and nested objects, compared by canonical JSON
)

// fieldKey is the comparable encoding of one field value.
type fieldKey struct {
	kind kind
	b    bool
	num  float64
	str  string
}

// encodeField maps a document field value to its comparable key.
// present is false when the field does not exist in the document.
func encodeField(v any, present bool) fieldKey {
	if !present {
		return fieldKey{kind: kindMissing}
	}
	switch t := v.(type) {
	case nil:
		return fieldKey{kind: kindNull}
	case bool:
		return fieldKey{kind: kindBool, b: t}
	case float64:
		return fieldKey{kind: kindNumber, num: t}
	case int:
		return fieldKey{kind: kindNumber, num: float64(t)}
	case int64:
		return fieldKey{kind: kindNumber, num: float64(t)}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return fieldKey{kind: kindString, str: t.String()}
		}
		return fieldKey{kind: kindNumber, num: f}
	case string:
		return fieldKey{kind: kindString, str: t}
	default:
		// Canonical JSON keeps comparison deterministic for composite
		// values; ordering among them is arbitrary but stable.
		data, err := json.Marshal(t)
		if err != nil {
			return fieldKey{kind: kindOther, str: fmt.Sprintf("%v", t)}
		}
		return fieldKey{kind: kindOther, str: string(data)}
	}
}

// compareField orders two field keys. Result is -1, 0, or 1.
func compareField(a, b fieldKey) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case kindMissing, kindNull:
		return 0
	case kindBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case kindNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(a.str, b.str)
	}
}

// compareKeys orders compound keys field by field in declared order.
func compareKeys(a, b []fieldKey) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareField(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// fieldValue resolves a possibly dotted field path against a document
// value, returning the value and whether the path exists.
func fieldValue(value map[string]any, path string) (any, bool) {
	cur := any(value)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// encodeDocKey builds the compound key for a document over the given
// fields.
func encodeDocKey(value map[string]any, fields []string) []fieldKey {
	key := make([]fieldKey, len(fields))
	for i, f := range fields {
		v, ok := fieldValue(value, f)
		key[i] = encodeField(v, ok)
	}
	return key
}

// encodeQueryKey builds a compound key from caller-supplied values,
// one per indexed field.
func encodeQueryKey(values []any) []fieldKey {
	key := make([]fieldKey, len(values))
	for i, v := range values {
		key[i] = encodeField(v, true)
	}
	return key
}
