package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a working record.
type Status string

const (
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusDeleted    Status = "deleted"
)

// Reason-field machine prefixes. Operator edits in the working table use
// these prefixes as the transition signal picked up by reconciliation, so
// they are part of the external contract and must not change.
const (
	ReasonDeletedPrefix     = "Deleted: "
	ReasonReactivatedPrefix = "Reactivated on "
)

// WorkingRecord is one ingested document in a tenant's working table.
type WorkingRecord struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	OriginalName  string    `json:"original_name"`
	DerivedName   string    `json:"derived_name,omitempty"`
	BlobRef       string    `json:"blob_ref"`
	InvoiceNumber string    `json:"invoice_number,omitempty"`
	Status        Status    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	Attempts      int       `json:"attempts"`
	EmailSubject  string    `json:"email_subject,omitempty"`
	EmailSender   string    `json:"email_sender,omitempty"`

	// History is the structured transition log, written atomically with
	// every status change. Detection never depends on it being present:
	// external operator edits only touch Status and Reason.
	History []TransitionEvent `json:"history,omitempty"`

	LastModified time.Time `json:"last_modified"`
}

// PendingDeletion reports whether the record is an operator deletion that
// has not been processed yet: status Deleted with a free-text reason that
// does not yet carry the machine prefix.
func (r *WorkingRecord) PendingDeletion() bool {
	return r.Status == StatusDeleted &&
		strings.TrimSpace(r.Reason) != "" &&
		!strings.HasPrefix(r.Reason, ReasonDeletedPrefix)
}

// PendingReactivation reports whether an operator flipped a deleted record
// back to Active without clearing the deletion marker.
func (r *WorkingRecord) PendingReactivation() bool {
	return r.Status == StatusActive && strings.HasPrefix(r.Reason, ReasonDeletedPrefix)
}

// Enrichable reports whether the record should be picked up by the next
// enrichment pass. Records at or over the attempt cap are excluded
// regardless of status.
func (r *WorkingRecord) Enrichable(maxAttempts int) bool {
	return r.Status == StatusActive &&
		r.DerivedName == "" &&
		r.Attempts < maxAttempts &&
		!r.PendingReactivation()
}
