package store

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

func TestAttributes_Validate_Valid(t *testing.T) {
	attrs := Attributes{
		{Key: "color", Value: "red"},
		{Key: "weight_kg", Value: 12.5},
		{Key: "in_stock", Value: true},
		{Key: "stock_count", Value: 42},
		{Key: "note", Value: nil},
	}

	assert.NoError(t, attrs.Validate())
}

func TestAttributes_Validate_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		attrs Attributes
	}{
		{"empty key", Attributes{{Key: "", Value: "x"}}},
		{"duplicate key", Attributes{{Key: "color", Value: "red"}, {Key: "color", Value: "blue"}}},
		{"nested object", Attributes{{Key: "meta", Value: map[string]any{"a": 1}}}},
		{"nested array", Attributes{{Key: "tags", Value: []any{"a", "b"}}}},
		{"oversized key", Attributes{{Key: strings.Repeat("k", MaxAttributeKeyLen+1), Value: "x"}}},
		{"oversized value", Attributes{{Key: "desc", Value: strings.Repeat("v", MaxAttributeValueLen+1)}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.attrs.Validate()
			require.Error(t, err)
			assert.True(t, vitrineerrors.IsValidation(err))
		})
	}
}

func TestAttributes_Validate_TooMany(t *testing.T) {
	attrs := make(Attributes, 0, MaxAttributes+1)
	for i := 0; i <= MaxAttributes; i++ {
		attrs = append(attrs, Attribute{Key: "k" + string(rune('a'+i%26)) + string(rune('a'+i/26)), Value: i})
	}

	err := attrs.Validate()
	require.Error(t, err)
	assert.True(t, vitrineerrors.IsValidation(err))
}

func TestAttributes_JSONRoundTrip_PreservesOrder(t *testing.T) {
	// Given: attributes in a deliberate non-alphabetical order
	attrs := Attributes{
		{Key: "material", Value: "velvet"},
		{Key: "color", Value: "red"},
		{Key: "seats", Value: float64(3)},
	}

	// When: marshalled and unmarshalled
	data, err := json.Marshal(attrs)
	require.NoError(t, err)

	var decoded Attributes
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Then: document order survives the round trip
	require.Len(t, decoded, 3)
	assert.Equal(t, "material", decoded[0].Key)
	assert.Equal(t, "color", decoded[1].Key)
	assert.Equal(t, "seats", decoded[2].Key)
	assert.Equal(t, "velvet", decoded[0].Value)
}

func TestAttributes_UnmarshalRejectsNesting(t *testing.T) {
	var attrs Attributes
	err := json.Unmarshal([]byte(`{"meta": {"nested": true}}`), &attrs)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"tags": ["a", "b"]}`), &attrs)
	require.Error(t, err)
}

func TestAttributes_Canonicalize(t *testing.T) {
	attrs := Attributes{
		{Key: "material", Value: "velvet"},
		{Key: "color", Value: "red"},
		{Key: "seats", Value: 3},
	}

	canonical := attrs.Canonicalize()

	// Sorted by key, ints normalized to float64
	require.Len(t, canonical, 3)
	assert.Equal(t, "color", canonical[0].Key)
	assert.Equal(t, "material", canonical[1].Key)
	assert.Equal(t, "seats", canonical[2].Key)
	assert.Equal(t, float64(3), canonical[2].Value)

	// Original is untouched
	assert.Equal(t, "material", attrs[0].Key)
}

func TestAttributes_Get(t *testing.T) {
	attrs := Attributes{
		{Key: "color", Value: "red"},
		{Key: "seats", Value: float64(3)},
	}

	v, ok := attrs.Get("color")
	assert.True(t, ok)
	assert.Equal(t, "red", v)

	_, ok = attrs.Get("missing")
	assert.False(t, ok)
}

func TestEncodeDecodeAttributes(t *testing.T) {
	// Empty encodes to the empty object
	encoded, err := encodeAttributes(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", encoded)

	decoded, err := decodeAttributes("{}")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	decoded, err = decodeAttributes("")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	// Values survive storage encoding
	attrs := Attributes{{Key: "color", Value: "red"}, {Key: "seats", Value: float64(3)}}
	encoded, err = encodeAttributes(attrs)
	require.NoError(t, err)

	decoded, err = decodeAttributes(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "color", decoded[0].Key)
	assert.Equal(t, float64(3), decoded[1].Value)
}
