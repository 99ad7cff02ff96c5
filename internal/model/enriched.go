package model

// DocumentType is the kind of financial document, snapped to a fixed set.
type DocumentType string

const (
	DocTypeInvoice   DocumentType = "invoice"
	DocTypeReceipt   DocumentType = "receipt"
	DocTypeBill      DocumentType = "bill"
	DocTypeStatement DocumentType = "statement"
	DocTypeContract  DocumentType = "contract"
	DocTypeOther     DocumentType = "other"
)

// AllDocumentTypes returns the valid document types.
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocTypeInvoice, DocTypeReceipt, DocTypeBill,
		DocTypeStatement, DocTypeContract, DocTypeOther,
	}
}

// TransactionType is the money direction of a document.
type TransactionType string

const (
	TransactionInflow  TransactionType = "inflow"
	TransactionOutflow TransactionType = "outflow"
)

// EnrichedFields is the AI-derived classification of a document. After
// sanitization every field is populated; there is no partial state.
type EnrichedFields struct {
	Date            string          `json:"date"`
	VendorName      string          `json:"vendor_name"`
	InvoiceNumber   string          `json:"invoice_number"`
	Amount          string          `json:"amount"`
	DocumentType    DocumentType    `json:"document_type"`
	TransactionType TransactionType `json:"transaction_type"`
	Confidence      float64         `json:"confidence"`
}

// PendingRecord is an enriched document awaiting terminal placement. One
// per BlobRef: the pending table never holds two rows for the same blob.
type PendingRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	BlobRef  string `json:"blob_ref"`

	OriginalName string `json:"original_name"`
	DerivedName  string `json:"derived_name"`
	EmailSubject string `json:"email_subject,omitempty"`
	EmailSender  string `json:"email_sender,omitempty"`

	EnrichedFields
}

// CategoryRecord is a terminal placement in the inflow or outflow table.
// Immutable once written.
type CategoryRecord struct {
	ID       string        `json:"id"`
	TenantID string        `json:"tenant_id"`
	BlobRef  string        `json:"blob_ref"`
	Table    CategoryTable `json:"table"`

	DerivedName string `json:"derived_name"`
	EnrichedFields
}

// CategoryTable addresses one of the two terminal tables.
type CategoryTable string

const (
	CategoryInflow  CategoryTable = "inflow"
	CategoryOutflow CategoryTable = "outflow"
)

// CategoryFor maps a transaction type to its terminal table.
func CategoryFor(tt TransactionType) CategoryTable {
	if tt == TransactionOutflow {
		return CategoryOutflow
	}
	return CategoryInflow
}
