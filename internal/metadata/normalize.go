package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// ErrNotObject is returned when a sidecar does not hold a JSON object.
var ErrNotObject = errors.New("metadata document is not a JSON object")

// Decode parses one sidecar document. Numbers are kept as json.Number so
// large integer IDs are not rounded through float64.
func Decode(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return doc, nil
}

// Normalize flattens a raw document into storage-ready scalars. Integral
// numbers stay integers, other numbers are reals, booleans become 0/1, nulls
// are dropped, and lists or objects become canonical JSON text. Keys are
// trimmed; empty keys are dropped. When two keys trim to the same name the
// one sorting last wins.
func Normalize(raw map[string]any) Document {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(Document, len(raw))
	for _, key := range keys {
		name := strings.TrimSpace(key)
		if name == "" {
			continue
		}
		if value, ok := normalizeValue(raw[key]); ok {
			doc[name] = value
		}
	}
	return doc
}

func normalizeValue(v any) (Value, bool) {
	switch val := v.(type) {
	case nil:
		return Value{}, false
	case string:
		return Text(val), true
	case bool:
		if val {
			return Integer(1), true
		}
		return Integer(0), true
	case json.Number:
		return numberValue(val), true
	case float64:
		return floatValue(val, ""), true
	case float32:
		return floatValue(float64(val), ""), true
	case int:
		return Integer(int64(val)), true
	case int64:
		return Integer(val), true
	case int32:
		return Integer(int64(val)), true
	case uint32:
		return Integer(int64(val)), true
	default:
		text, err := CanonicalJSON(val)
		if err != nil {
			return Text(fmt.Sprint(val)), true
		}
		return Text(text), true
	}
}

func numberValue(n json.Number) Value {
	if i, err := n.Int64(); err == nil {
		return withLiteral(Integer(i), n.String())
	}
	f, err := n.Float64()
	if err != nil {
		return Text(n.String())
	}
	return withLiteral(floatValue(f, n.String()), n.String())
}

// withLiteral records literal on numeric values whose canonical text differs.
func withLiteral(v Value, literal string) Value {
	if v.Kind != KindText && v.String() != literal {
		v.Literal = literal
	}
	return v
}

// floatValue keeps integral values as integers when they fit in int64.
// Integers too large for int64 keep their literal digits as text.
func floatValue(f float64, literal string) Value {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		if literal != "" {
			return Text(literal)
		}
		return Text(fmt.Sprint(f))
	}
	if f == math.Trunc(f) {
		if f >= math.MinInt64 && f < math.MaxInt64 && (literal == "" || !isPlainInteger(literal)) {
			return Integer(int64(f))
		}
		if literal != "" {
			return Text(literal)
		}
	}
	return Real(f)
}

func isPlainInteger(literal string) bool {
	s := strings.TrimPrefix(literal, "-")
	return s != "" && strings.Trim(s, "0123456789") == ""
}

// CanonicalJSON renders v as compact JSON with sorted object keys and no HTML
// escaping.
func CanonicalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
