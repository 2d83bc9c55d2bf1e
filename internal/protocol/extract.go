// Package protocol implements the flat envelope codec spoken with the controller.
//
// Decoding is a single-level extractor: only top-level keys are read, nested
// objects and arrays are kept as their verbatim text, and nothing is decoded
// recursively. Handlers only ever see flat parameter shapes.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
)

// Kind classifies an extracted value.
type Kind uint8

const (
	// KindMissing marks the zero Value returned for absent keys.
	KindMissing Kind = iota
	// KindString is a quoted string; Text holds the unescaped content.
	KindString
	// KindScalar is a bare number, boolean or null; Text holds the trimmed token.
	KindScalar
	// KindObject is a nested object; Text holds the verbatim sub-document.
	KindObject
	// KindArray is a nested array; Text holds the verbatim sub-document.
	KindArray
)

// Value is one extracted top-level value.
type Value struct {
	Kind Kind
	Text string
}

// IsNull reports whether the value is absent or the literal null.
func (v Value) IsNull() bool {
	return v.Kind == KindMissing || (v.Kind == KindScalar && v.Text == "null")
}

// Fields holds the top-level key/value pairs of one object.
type Fields map[string]Value

// DecodeObject extracts the top-level keys of an object document.
func DecodeObject(text string) (Fields, error) {
	const op = "protocol/decode"
	sc := scanner{s: strings.TrimSpace(text)}
	if len(sc.s) < 2 || sc.s[0] != '{' || sc.s[len(sc.s)-1] != '}' {
		return nil, errs.Invalid(op, "document is not an object")
	}
	sc.i = 1
	fields := make(Fields)
	for {
		sc.skipSpace()
		if sc.i >= len(sc.s) {
			return nil, errs.Invalid(op, "unterminated object")
		}
		switch sc.s[sc.i] {
		case '}':
			if sc.i != len(sc.s)-1 {
				return nil, errs.Invalid(op, "unexpected data after offset %d", sc.i)
			}
			return fields, nil
		case ',':
			sc.i++
			continue
		case '"':
		default:
			return nil, errs.Invalid(op, "expected key at offset %d", sc.i)
		}

		rawKey, err := sc.readString()
		if err != nil {
			return nil, err
		}
		sc.skipSpace()
		if sc.i >= len(sc.s) || sc.s[sc.i] != ':' {
			return nil, errs.Invalid(op, "expected ':' after key %q", rawKey)
		}
		sc.i++
		sc.skipSpace()
		if sc.i >= len(sc.s) {
			return nil, errs.Invalid(op, "missing value for key %q", rawKey)
		}

		var value Value
		switch sc.s[sc.i] {
		case '"':
			raw, err := sc.readString()
			if err != nil {
				return nil, err
			}
			value = Value{Kind: KindString, Text: unescape(raw)}
		case '{', '[':
			kind := KindObject
			if sc.s[sc.i] == '[' {
				kind = KindArray
			}
			raw, err := sc.readComposite()
			if err != nil {
				return nil, err
			}
			value = Value{Kind: kind, Text: raw}
		default:
			raw := sc.readScalar('}')
			if raw == "" {
				return nil, errs.Invalid(op, "missing value for key %q", rawKey)
			}
			value = Value{Kind: KindScalar, Text: raw}
		}
		fields[unescape(rawKey)] = value
	}
}

// SplitArray splits an array document into its top-level elements. Quoted
// elements are unescaped, everything else is returned trimmed and verbatim.
func SplitArray(text string) ([]string, error) {
	const op = "protocol/array"
	sc := scanner{s: strings.TrimSpace(text)}
	if len(sc.s) < 2 || sc.s[0] != '[' || sc.s[len(sc.s)-1] != ']' {
		return nil, errs.Invalid(op, "document is not an array")
	}
	sc.i = 1
	var out []string
	expectValue := true
	for {
		sc.skipSpace()
		if sc.i >= len(sc.s) {
			return nil, errs.Invalid(op, "unterminated array")
		}
		c := sc.s[sc.i]
		switch {
		case c == ']':
			if sc.i != len(sc.s)-1 {
				return nil, errs.Invalid(op, "unexpected data after offset %d", sc.i)
			}
			return out, nil
		case c == ',':
			if expectValue {
				return nil, errs.Invalid(op, "empty element at offset %d", sc.i)
			}
			expectValue = true
			sc.i++
		case c == '"':
			raw, err := sc.readString()
			if err != nil {
				return nil, err
			}
			out = append(out, unescape(raw))
			expectValue = false
		case c == '{' || c == '[':
			raw, err := sc.readComposite()
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
			expectValue = false
		default:
			out = append(out, sc.readScalar(']'))
			expectValue = false
		}
	}
}

// Has reports whether key is present and not null.
func (f Fields) Has(key string) bool {
	v, ok := f[key]
	return ok && !v.IsNull()
}

// Raw returns the extracted value for key.
func (f Fields) Raw(key string) (Value, bool) {
	v, ok := f[key]
	return v, ok
}

// String returns the textual form of key. Nested documents come back verbatim.
func (f Fields) String(key string) (string, bool) {
	v, ok := f[key]
	if !ok || v.IsNull() {
		return "", false
	}
	return v.Text, true
}

// Float parses key as a number. Quoted numbers are accepted.
func (f Fields) Float(key string) (float64, bool) {
	v, ok := f[key]
	if !ok || (v.Kind != KindScalar && v.Kind != KindString) {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Int parses key as an integer. Integral floats such as 5.0 are accepted.
func (f Fields) Int(key string) (int64, bool) {
	v, ok := f[key]
	if !ok || (v.Kind != KindScalar && v.Kind != KindString) {
		return 0, false
	}
	text := strings.TrimSpace(v.Text)
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, true
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil || n != float64(int64(n)) {
		return 0, false
	}
	return int64(n), true
}

// Bool parses key as a boolean.
func (f Fields) Bool(key string) (bool, bool) {
	v, ok := f[key]
	if !ok || (v.Kind != KindScalar && v.Kind != KindString) {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v.Text))
	if err != nil {
		return false, false
	}
	return b, true
}

type scanner struct {
	s string
	i int
}

func (sc *scanner) skipSpace() {
	for sc.i < len(sc.s) {
		switch sc.s[sc.i] {
		case ' ', '\t', '\n', '\r':
			sc.i++
		default:
			return
		}
	}
}

// readString consumes a quoted string starting at the current offset and
// returns its raw content. A backslash suspends recognition of the next byte.
func (sc *scanner) readString() (string, error) {
	start := sc.i + 1
	for j := start; j < len(sc.s); j++ {
		switch sc.s[j] {
		case '\\':
			j++
		case '"':
			sc.i = j + 1
			return sc.s[start:j], nil
		}
	}
	return "", errs.Invalid("protocol/decode", "unterminated string at offset %d", sc.i)
}

// readComposite consumes a nested object or array and returns it verbatim.
func (sc *scanner) readComposite() (string, error) {
	start := sc.i
	depth := 0
	inString := false
	for j := start; j < len(sc.s); j++ {
		c := sc.s[j]
		if inString {
			switch c {
			case '\\':
				j++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				sc.i = j + 1
				return sc.s[start : j+1], nil
			}
		}
	}
	return "", errs.Invalid("protocol/decode", "unterminated nested value at offset %d", start)
}

// readScalar consumes a bare token up to the next comma or closing byte.
func (sc *scanner) readScalar(closing byte) string {
	start := sc.i
	for sc.i < len(sc.s) && sc.s[sc.i] != ',' && sc.s[sc.i] != closing {
		sc.i++
	}
	return strings.TrimSpace(sc.s[start:sc.i])
}

func unescape(raw string) string {
	if !strings.ContainsRune(raw, '\\') {
		return raw
	}
	var out string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &out); err != nil {
		return raw
	}
	return out
}

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindMissing:
		return "missing"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}
