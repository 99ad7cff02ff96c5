// Package enrich derives structured financial fields from a document via
// the AI classification service, then sanitizes every field so the result
// is always fully populated.
package enrich

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/model"
)

// UnknownVendor is the fallback vendor name when the AI returns nothing
// usable.
const UnknownVendor = "Unknown_Vendor"

// fallbackDateLayouts are tried, in order, for dates not already in
// YYYY-MM-DD form.
var fallbackDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2006/01/02",
	"01-02-2006",
	"20060102",
}

// SanitizeDate accepts YYYY-MM-DD as-is, re-parses anything else as a
// generic date, and defaults to today when nothing parses.
func SanitizeDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if _, err := time.Parse("2006-01-02", raw); err == nil {
		return raw
	}
	for _, layout := range fallbackDateLayouts[1:] {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return now.Format("2006-01-02")
}

// SanitizeVendor strips filesystem-unsafe and non-ASCII characters,
// collapses whitespace runs to single underscores, and trims. Empty
// results fall back to "Unknown_Vendor".
func SanitizeVendor(raw string) string {
	v := sanitizeNameSegment(raw)
	if v == "" {
		return UnknownVendor
	}
	return v
}

// SanitizeInvoiceNumber is like SanitizeVendor but falls back to a
// generated 8-character id so every record carries a usable invoice key.
func SanitizeInvoiceNumber(raw string) string {
	v := sanitizeNameSegment(raw)
	if v == "" {
		return strings.ToUpper(uuid.New().String()[:8])
	}
	return v
}

// unsafeChars are stripped from filename segments.
const unsafeChars = `/\:*?"<>|#%&{}$!'@+=` + "`"

func sanitizeNameSegment(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r > unicode.MaxASCII || strings.ContainsRune(unsafeChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	// Collapse whitespace runs to single underscores.
	fields := strings.Fields(b.String())
	return strings.Trim(strings.Join(fields, "_"), "_.")
}

// SanitizeAmount strips currency symbols, thousands separators, and
// parentheses (negative-amount markers), parses the remainder as a
// decimal, and renders it with exactly two fractional digits. Anything
// non-numeric becomes "0.00".
func SanitizeAmount(raw string) string {
	s := strings.TrimSpace(raw)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-':
			negative = true
		}
	}

	val, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return "0.00"
	}
	if negative {
		val = -val
	}
	return strconv.FormatFloat(val, 'f', 2, 64)
}

// SanitizeDocumentType snaps the raw value to the fixed enumeration;
// anything unknown becomes "other".
func SanitizeDocumentType(raw string) model.DocumentType {
	dt := model.DocumentType(strings.ToLower(strings.TrimSpace(raw)))
	for _, valid := range model.AllDocumentTypes() {
		if dt == valid {
			return dt
		}
	}
	return model.DocTypeOther
}

// transaction type synonyms, checked after a direct match fails.
var (
	inflowSynonyms  = []string{"income", "revenue", "credit", "deposit"}
	outflowSynonyms = []string{"expense", "cost", "debit", "withdrawal", "purchase"}
)

// SanitizeTransactionType snaps the raw value to inflow/outflow via
// direct match, then synonym lists, defaulting to inflow.
func SanitizeTransactionType(raw string) model.TransactionType {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch model.TransactionType(v) {
	case model.TransactionInflow:
		return model.TransactionInflow
	case model.TransactionOutflow:
		return model.TransactionOutflow
	}
	for _, syn := range inflowSynonyms {
		if v == syn {
			return model.TransactionInflow
		}
	}
	for _, syn := range outflowSynonyms {
		if v == syn {
			return model.TransactionOutflow
		}
	}
	return model.TransactionInflow
}

// defaultConfidence is used when the AI omits the confidence field.
const defaultConfidence = 0.8

// SanitizeConfidence clamps to [0,1]; nil means missing and gets the
// default.
func SanitizeConfidence(raw *float64) float64 {
	if raw == nil {
		return defaultConfidence
	}
	switch {
	case *raw < 0:
		return 0
	case *raw > 1:
		return 1
	default:
		return *raw
	}
}

// Sanitize normalizes a raw AI response into fully-populated enriched
// fields. Single-field sanitization never aborts the record: each field
// independently substitutes its default.
func Sanitize(raw RawFields, now time.Time) model.EnrichedFields {
	amount, ok := raw.Amount.(string)
	if !ok {
		if f, isNum := raw.Amount.(float64); isNum {
			amount = strconv.FormatFloat(f, 'f', -1, 64)
		}
	}

	fields := model.EnrichedFields{
		Date:            SanitizeDate(raw.Date, now),
		VendorName:      SanitizeVendor(raw.VendorName),
		InvoiceNumber:   SanitizeInvoiceNumber(raw.InvoiceNumber),
		Amount:          SanitizeAmount(amount),
		DocumentType:    SanitizeDocumentType(raw.DocumentType),
		TransactionType: SanitizeTransactionType(raw.TransactionType),
		Confidence:      SanitizeConfidence(raw.Confidence),
	}

	zap.L().Debug("enrich: sanitized fields",
		zap.String("vendor", fields.VendorName),
		zap.String("amount", fields.Amount),
		zap.String("transaction_type", string(fields.TransactionType)),
	)
	return fields
}
