package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow-cli/internal/resilience"
)

func TestParseResponse_PlainJSON(t *testing.T) {
	raw, err := ParseResponse(`{"date":"2024-01-05","vendor_name":"Acme Co","amount":"100.00","confidence":0.95}`)
	require.NoError(t, err)

	assert.Equal(t, "2024-01-05", raw.Date)
	assert.Equal(t, "Acme Co", raw.VendorName)
	assert.Equal(t, "100.00", raw.Amount)
	require.NotNil(t, raw.Confidence)
	assert.Equal(t, 0.95, *raw.Confidence)
}

func TestParseResponse_MarkdownFence(t *testing.T) {
	raw, err := ParseResponse("```json\n{\"vendor_name\":\"Acme\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Acme", raw.VendorName)
}

func TestParseResponse_SurroundingProse(t *testing.T) {
	raw, err := ParseResponse(`Here is the extraction: {"vendor_name":"Acme","amount":42.5} Let me know if you need more.`)
	require.NoError(t, err)
	assert.Equal(t, "Acme", raw.VendorName)
	assert.Equal(t, 42.5, raw.Amount)
}

func TestParseResponse_NumericAmount(t *testing.T) {
	raw, err := ParseResponse(`{"amount": 1234.5}`)
	require.NoError(t, err)
	assert.Equal(t, 1234.5, raw.Amount)
}

func TestParseResponse_MissingConfidenceIsNil(t *testing.T) {
	raw, err := ParseResponse(`{"vendor_name":"Acme"}`)
	require.NoError(t, err)
	assert.Nil(t, raw.Confidence)
}

func TestParseResponse_NoJSON(t *testing.T) {
	_, err := ParseResponse("I could not read this document.")
	require.Error(t, err)
	assert.Equal(t, resilience.CodeProcessingFailed, resilience.CodeOf(err))
}
