package metadata

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Kind is the storage class of a normalized value.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindReal
)

// String returns the SQLite column type for k.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "INTEGER"
	case KindReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// ParseKind maps a SQLite column type back to a Kind. Unknown types are TEXT.
func ParseKind(sqlType string) Kind {
	switch sqlType {
	case "INTEGER":
		return KindInteger
	case "REAL":
		return KindReal
	default:
		return KindText
	}
}

// Value is a scalar ready for storage. Literal holds the source spelling of
// a number when it differs from the canonical form ("1.50", "1e3").
type Value struct {
	Kind    Kind
	Int     int64
	Real    float64
	Text    string
	Literal string
}

func Integer(v int64) Value { return Value{Kind: KindInteger, Int: v} }

func Real(v float64) Value { return Value{Kind: KindReal, Real: v} }

func Text(v string) Value { return Value{Kind: KindText, Text: v} }

// String renders the text form of v: the source literal for numbers that
// carry one, otherwise the canonical decimal.
func (v Value) String() string {
	if v.Literal != "" && v.Kind != KindText {
		return v.Literal
	}
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	default:
		return v.Text
	}
}

// As converts v to kind, widening where needed. The second return value is
// false when the conversion would lose information (text into a number
// column, or a real into an integer column).
func (v Value) As(kind Kind) (any, bool) {
	switch kind {
	case KindText:
		return v.String(), true
	case KindReal:
		switch v.Kind {
		case KindReal:
			return v.Real, true
		case KindInteger:
			return float64(v.Int), true
		}
	case KindInteger:
		if v.Kind == KindInteger {
			return v.Int, true
		}
	}
	return nil, false
}

// Canonical reports whether v's text form is the canonical decimal, so
// storing the number natively loses nothing.
func (v Value) Canonical() bool {
	return v.Kind == KindText || v.Literal == ""
}

// ParseNumber reads a JSON number literal into a Value, keeping the literal
// when it is not canonical. ok is false when literal is not a number.
func ParseNumber(literal string) (Value, bool) {
	v := numberValue(json.Number(strings.TrimSpace(literal)))
	return v, v.Kind != KindText
}

// Document is a flat, storage-ready metadata record.
type Document map[string]Value

// Keys returns the document keys in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
