package ident

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	// Given: the same external id
	// Then: every derivation yields the same key
	for _, id := range []string{"sku-1", "SKU-1", "", "商品-42", "https://shop.example/p/9"} {
		assert.Equal(t, DeriveKey(id), DeriveKey(id), "id %q", id)
	}
}

func TestDeriveKey_ProducesValidUUID(t *testing.T) {
	key := DeriveKey("sku-1")

	parsed, err := uuid.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestDeriveKey_DistinctInputsDistinctKeys(t *testing.T) {
	// No collisions over a realistic id corpus.
	seen := make(map[string]string, 10000)
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("sku-%d", i)
		key := DeriveKey(id)
		if prev, ok := seen[key]; ok {
			t.Fatalf("collision: %q and %q both derive %s", prev, id, key)
		}
		seen[key] = id
	}
}

func TestDeriveKey_EmptyStringIsValidInput(t *testing.T) {
	key := DeriveKey("")

	_, err := uuid.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, key, DeriveKey(""))
	assert.NotEqual(t, key, DeriveKey(" "), "whitespace is a different identifier")
}

func TestDeriveKey_CaseSensitive(t *testing.T) {
	assert.NotEqual(t, DeriveKey("sku-1"), DeriveKey("SKU-1"))
}

func TestNewTaskID_Unique(t *testing.T) {
	a := NewTaskID()
	b := NewTaskID()

	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}
