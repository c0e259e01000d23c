package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesMessageHintAndCode(t *testing.T) {
	err := NotFoundError("item sku-1 not found", nil).
		WithSuggestion("Run 'vitrine index sku-1' to index it first")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: item sku-1 not found")
	assert.Contains(t, out, "Hint: Run 'vitrine index sku-1'")
	assert.Contains(t, out, "Code: ERR_403_NOT_FOUND")
}

func TestFormatForCLI_WrapsPlainError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
}

func TestFormatForCLI_NilReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON_RoundTrips(t *testing.T) {
	err := ConflictError("external_id sku-1 already exists", nil).
		WithDetail("external_id", "sku-1")

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, ErrCodeDuplicateID, decoded["code"])
	assert.Equal(t, "VALIDATION", decoded["category"])
	assert.Equal(t, false, decoded["retryable"])
	details := decoded["details"].(map[string]any)
	assert.Equal(t, "sku-1", details["external_id"])
}

func TestFormatForLog_ProducesAttrMap(t *testing.T) {
	cause := errors.New("connection refused")
	err := RetryableError("vector index unreachable", cause).
		WithDetail("endpoint", "localhost:6333")

	attrs := FormatForLog(err)

	assert.Equal(t, ErrCodeVectorIndexIO, attrs["error_code"])
	assert.Equal(t, true, attrs["retryable"])
	assert.Equal(t, "connection refused", attrs["cause"])
	assert.Equal(t, "localhost:6333", attrs["detail_endpoint"])
}

func TestFormatForLog_PlainError(t *testing.T) {
	attrs := FormatForLog(errors.New("plain"))
	assert.Equal(t, "plain", attrs["error"])
}
