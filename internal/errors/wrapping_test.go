package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Predicates must see through fmt.Errorf %w wrapping, because store and
// transport layers add call-site context before returning upward.
func TestPredicates_SeeThroughWrapChain(t *testing.T) {
	base := RetryableError("vector index unreachable", nil)
	wrapped := fmt.Errorf("failed to upsert chunk 3: %w", base)
	doubleWrapped := fmt.Errorf("indexing sku-9: %w", wrapped)

	assert.True(t, IsRetryable(wrapped))
	assert.True(t, IsRetryable(doubleWrapped))
	assert.Equal(t, ErrCodeVectorIndexIO, GetCode(doubleWrapped))
	assert.Equal(t, CategoryNetwork, GetCategory(doubleWrapped))
}

func TestIsFatal_SeeThroughWrapChain(t *testing.T) {
	base := SchemaMismatchError("collection dimension 512, requested 768", nil)
	wrapped := fmt.Errorf("failed to ensure collection: %w", base)

	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsSchemaMismatch(wrapped))
}

func TestIsNotFound_SeeThroughWrapChain(t *testing.T) {
	base := NotFoundError("item sku-1 not found", nil)
	wrapped := fmt.Errorf("failed to resolve reference: %w", base)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsFatal(wrapped))
}

// When two taxonomy errors are chained, errors.As finds the outermost one,
// so the outer classification wins. Layers that translate errors construct
// a fresh taxonomy error rather than wrapping one in another.
func TestOutermostVitrineErrorWins(t *testing.T) {
	inner := RetryableError("socket closed", nil)
	outer := New(ErrCodePipelineFailed, "unit of work failed", inner)

	assert.False(t, IsRetryable(outer), "outer non-retryable classification wins")
	assert.Equal(t, ErrCodePipelineFailed, GetCode(outer))
}
