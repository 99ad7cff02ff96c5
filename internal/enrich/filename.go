package enrich

import (
	"path/filepath"
	"strings"

	"github.com/sells-group/docflow-cli/internal/model"
)

// DeriveFilename builds the canonical document identifier
// date_vendor_invoice_amount.<ext>. When the result would exceed the
// ceiling, the vendor and invoice segments are shortened (in that order)
// until it fits; date and amount are never truncated.
func DeriveFilename(fields model.EnrichedFields, originalName string, ceiling int) string {
	ext := strings.ToLower(filepath.Ext(originalName))

	vendor := fields.VendorName
	invoice := fields.InvoiceNumber

	name := joinSegments(fields.Date, vendor, invoice, fields.Amount) + ext
	if ceiling <= 0 || len(name) <= ceiling {
		return name
	}

	overflow := len(name) - ceiling
	vendor = shorten(vendor, overflow)
	name = joinSegments(fields.Date, vendor, invoice, fields.Amount) + ext
	if len(name) <= ceiling {
		return name
	}

	overflow = len(name) - ceiling
	invoice = shorten(invoice, overflow)
	return joinSegments(fields.Date, vendor, invoice, fields.Amount) + ext
}

// minSegment is the floor a shortened segment keeps for readability.
const minSegment = 8

func shorten(seg string, by int) string {
	keep := len(seg) - by
	if keep < minSegment {
		keep = minSegment
	}
	if keep >= len(seg) {
		return seg
	}
	return seg[:keep]
}

func joinSegments(parts ...string) string {
	return strings.Join(parts, "_")
}

// ParseDerivedName reconstructs enriched fields from a canonical derived
// filename. The vendor segment may itself contain underscores, so the
// date is the first segment, the amount the last, the invoice number the
// second-to-last, and the vendor everything in between. Reconstructed
// records get the documented restored-confidence default and the inflow
// transaction default; the caller decides whether that is acceptable or
// re-enrichment is needed. Returns false when the name does not carry at
// least four segments.
func ParseDerivedName(derivedName string, confidence float64) (model.EnrichedFields, bool) {
	base := strings.TrimSuffix(derivedName, filepath.Ext(derivedName))
	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return model.EnrichedFields{}, false
	}

	return model.EnrichedFields{
		Date:            parts[0],
		VendorName:      strings.Join(parts[1:len(parts)-2], "_"),
		InvoiceNumber:   parts[len(parts)-2],
		Amount:          parts[len(parts)-1],
		DocumentType:    model.DocTypeOther,
		TransactionType: model.TransactionInflow,
		Confidence:      confidence,
	}, true
}
