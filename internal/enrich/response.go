package enrich

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow-cli/internal/resilience"
)

// RawFields is the loosely-typed shape of an AI response before
// sanitization. Amount is any because models return both numbers and
// strings; Confidence is a pointer so a missing field is distinguishable
// from zero.
type RawFields struct {
	Date            string   `json:"date"`
	VendorName      string   `json:"vendor_name"`
	InvoiceNumber   string   `json:"invoice_number"`
	Amount          any      `json:"amount"`
	DocumentType    string   `json:"document_type"`
	TransactionType string   `json:"transaction_type"`
	Confidence      *float64 `json:"confidence"`
}

// ParseResponse extracts the first JSON object from the response text,
// tolerating markdown fences and leading/trailing prose. Only a response
// with no JSON object at all fails: missing fields are handled by
// sanitization, not here.
func ParseResponse(text string) (RawFields, error) {
	cleaned := cleanJSON(text)

	var raw RawFields
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return RawFields{}, resilience.NewCoded(resilience.CodeProcessingFailed,
			eris.Wrap(err, "enrich: no JSON object found in response"))
	}
	return raw, nil
}

// cleanJSON strips markdown code fences and extracts the first JSON
// object from text that may contain other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
