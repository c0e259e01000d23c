package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// Attribute limits enforced by Validate.
const (
	MaxAttributes        = 100
	MaxAttributeKeyLen   = 128
	MaxAttributeValueLen = 2048
)

// Attribute is one key/value pair of domain-specific item metadata.
// Values are restricted to a closed scalar set: string, number, boolean,
// or null. Nested objects and arrays are rejected so serialization and
// validation stay well-defined.
type Attribute struct {
	Key   string
	Value any
}

// Attributes is an ordered set of attributes. JSON round-trips preserve
// document order; Canonicalize sorts by key so stored forms compare
// byte-for-byte.
type Attributes []Attribute

// Get returns the value for key and whether it is present.
func (a Attributes) Get(key string) (any, bool) {
	for _, attr := range a {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return nil, false
}

// Validate checks the closed-scalar-set rule, key uniqueness, and size
// limits. It returns a validation error naming the offending key.
func (a Attributes) Validate() error {
	if len(a) > MaxAttributes {
		return attributesInvalid(fmt.Sprintf("too many attributes: %d (max %d)", len(a), MaxAttributes))
	}
	seen := make(map[string]struct{}, len(a))
	for _, attr := range a {
		if attr.Key == "" {
			return attributesInvalid("attribute key must not be empty")
		}
		if len(attr.Key) > MaxAttributeKeyLen {
			return attributesInvalid(fmt.Sprintf("attribute key %q exceeds %d bytes", attr.Key, MaxAttributeKeyLen))
		}
		if _, dup := seen[attr.Key]; dup {
			return attributesInvalid(fmt.Sprintf("duplicate attribute key %q", attr.Key))
		}
		seen[attr.Key] = struct{}{}

		switch v := attr.Value.(type) {
		case nil, bool, float64, float32, int, int32, int64:
		case string:
			if len(v) > MaxAttributeValueLen {
				return attributesInvalid(fmt.Sprintf("value for %q exceeds %d bytes", attr.Key, MaxAttributeValueLen))
			}
		case json.Number:
		default:
			return attributesInvalid(fmt.Sprintf("value for %q must be a string, number, boolean, or null", attr.Key))
		}
	}
	return nil
}

func attributesInvalid(msg string) error {
	return vitrineerrors.ValidationError(msg, nil).WithDetail("field", "attributes")
}

// Canonicalize returns a copy sorted by key with numeric values
// normalized to float64. Stored attributes always use this form.
func (a Attributes) Canonicalize() Attributes {
	out := make(Attributes, len(a))
	for i, attr := range a {
		out[i] = Attribute{Key: attr.Key, Value: normalizeScalar(attr.Value)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func normalizeScalar(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return n.String()
		}
		return f
	default:
		return v
	}
}

// MarshalJSON renders the attributes as a JSON object in slice order.
func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, attr := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(attr.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(attr.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object preserving its document order.
// Nested objects and arrays fail with a validation error.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to parse attributes: %w", err)
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return attributesInvalid("attributes must be a JSON object")
	}

	var out Attributes
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to parse attribute key: %w", err)
		}
		key := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to parse attribute value: %w", err)
		}
		if delim, ok := valTok.(json.Delim); ok && (delim == '{' || delim == '[') {
			return attributesInvalid(fmt.Sprintf("value for %q must be a scalar, not a nested %v", key, delim))
		}
		out = append(out, Attribute{Key: key, Value: normalizeScalar(valTok)})
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to parse attributes: %w", err)
	}

	*a = out
	return nil
}

// encodeAttributes serializes canonical attributes for storage.
func encodeAttributes(a Attributes) (string, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	data, err := a.Canonicalize().MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(data), nil
}

// decodeAttributes parses attributes from their stored form.
func decodeAttributes(raw string) (Attributes, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var a Attributes
	if err := a.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	return a, nil
}
