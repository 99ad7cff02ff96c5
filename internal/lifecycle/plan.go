// Package lifecycle is the document lifecycle state machine. It computes
// legal transitions for working records and emits the store and blob
// mutations each transition requires. It performs no I/O: the engine
// package executes the plans it produces.
package lifecycle

import (
	"github.com/sells-group/docflow-cli/internal/model"
)

// Table addresses one of the four logical record tables.
type Table string

const (
	TableWorking  Table = "working"
	TablePending  Table = "pending_categorization"
	TableInflow   Table = "category_inflow"
	TableOutflow  Table = "category_outflow"
)

// CategoryTables lists the two terminal tables.
func CategoryTables() []Table {
	return []Table{TableInflow, TableOutflow}
}

// TableFor maps a terminal category to its table.
func TableFor(ct model.CategoryTable) Table {
	if ct == model.CategoryOutflow {
		return TableOutflow
	}
	return TableInflow
}

// BlobOpKind tags a planned blob mutation.
type BlobOpKind string

const (
	// BlobRemoveFromCategories deletes the blob from both category
	// subtrees if present. The staging copy is never touched by deletion.
	BlobRemoveFromCategories BlobOpKind = "remove_from_categories"
	// BlobRestoreToStaging puts the blob back under staging if absent.
	BlobRestoreToStaging BlobOpKind = "restore_to_staging"
	// BlobMoveToCategory moves the blob from staging to a category subtree.
	BlobMoveToCategory BlobOpKind = "move_to_category"
)

// BlobOp is one planned blob mutation.
type BlobOp struct {
	Kind     BlobOpKind
	BlobRef  string
	Category model.CategoryTable
}

// RowDelete removes the row with the given blob reference from a table.
type RowDelete struct {
	Table   Table
	BlobRef string
}

// WorkingUpdate rewrites the status/reason of one working row, always
// last in plan order. Optional fields are nil when unchanged. Status,
// Reason, and Event always travel together so the reason prefix signal
// and the structured history can never diverge from the status.
type WorkingUpdate struct {
	RecordID string
	Status   model.Status
	Reason   string
	Event    model.TransitionEvent

	Attempts      *int
	DerivedName   *string
	InvoiceNumber *string
}

// Plan is the full mutation set for one record transition. The engine
// executes blob ops first, then row deletes, then row inserts, then the
// working update, so a crash mid-plan never leaves the working row
// claiming a state whose downstream artifacts still (or don't yet) exist.
type Plan struct {
	Kind     model.TransitionKind
	RecordID string
	BlobRef  string

	BlobOps        []BlobOp
	RowDeletes     []RowDelete
	PendingInsert  *model.PendingRecord
	CategoryInsert *model.CategoryRecord
	WorkingUpdate  *WorkingUpdate
}

func intPtr(v int) *int { return &v }
func strPtr(v string) *string { return &v }
