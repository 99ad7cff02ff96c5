package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow-cli/internal/model"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func activeRecord() *model.WorkingRecord {
	return &model.WorkingRecord{
		ID:           "rec-1",
		TenantID:     "acme",
		OriginalName: "scan_0042.pdf",
		BlobRef:      "blob-1",
		Status:       model.StatusActive,
	}
}

func TestPlanDeletion(t *testing.T) {
	rec := activeRecord()
	rec.Status = model.StatusDeleted
	rec.Reason = "duplicate upload"

	plan := PlanDeletion(rec, testNow)
	require.NotNil(t, plan)

	// Blob removal and downstream row deletes precede the working update.
	require.Len(t, plan.BlobOps, 1)
	assert.Equal(t, BlobRemoveFromCategories, plan.BlobOps[0].Kind)
	assert.ElementsMatch(t,
		[]Table{TablePending, TableInflow, TableOutflow},
		[]Table{plan.RowDeletes[0].Table, plan.RowDeletes[1].Table, plan.RowDeletes[2].Table},
	)

	require.NotNil(t, plan.WorkingUpdate)
	assert.Equal(t, model.StatusDeleted, plan.WorkingUpdate.Status)
	assert.Equal(t, "Deleted: duplicate upload (2026-03-14 09:30:00)", plan.WorkingUpdate.Reason)
	assert.Equal(t, model.TransitionDeleted, plan.WorkingUpdate.Event.Kind)
	assert.Equal(t, "duplicate upload", plan.WorkingUpdate.Event.Justification)
}

func TestPlanDeletion_AlreadyProcessedIsSkipped(t *testing.T) {
	rec := activeRecord()
	rec.Status = model.StatusDeleted
	rec.Reason = model.ReasonDeletedPrefix + "duplicate upload (2026-03-01 10:00:00)"

	assert.Nil(t, PlanDeletion(rec, testNow))
}

func TestPlanDeletion_EmptyReasonNotDetected(t *testing.T) {
	rec := activeRecord()
	rec.Status = model.StatusDeleted
	rec.Reason = "  "

	assert.Nil(t, PlanDeletion(rec, testNow))
}

func TestPlanDeletion_GuardIsOnStatus(t *testing.T) {
	// A malformed reason on an Active row must never trigger deletion:
	// deletion detection requires status Deleted.
	rec := activeRecord()
	rec.Reason = "some stray text"

	assert.Nil(t, PlanDeletion(rec, testNow))
}

func TestPlanReactivation_Reconstructible(t *testing.T) {
	rec := activeRecord()
	rec.Reason = model.ReasonDeletedPrefix + "mistake (2026-03-01 10:00:00)"
	rec.DerivedName = "2024-01-05_Acme_Co_INV-9_100.00.pdf"
	rec.InvoiceNumber = "INV-9"

	fields := &model.EnrichedFields{
		Date:            "2024-01-05",
		VendorName:      "Acme_Co",
		InvoiceNumber:   "INV-9",
		Amount:          "100.00",
		DocumentType:    model.DocTypeOther,
		TransactionType: model.TransactionInflow,
		Confidence:      RestoredConfidence,
	}

	plan := PlanReactivation(rec, fields, testNow)
	require.NotNil(t, plan)

	// Enrichment is skipped: the record goes straight back to pending.
	require.NotNil(t, plan.PendingInsert)
	assert.Equal(t, "blob-1", plan.PendingInsert.BlobRef)
	assert.Equal(t, RestoredConfidence, plan.PendingInsert.Confidence)
	assert.Nil(t, plan.WorkingUpdate.Attempts)

	require.Len(t, plan.BlobOps, 1)
	assert.Equal(t, BlobRestoreToStaging, plan.BlobOps[0].Kind)

	assert.Equal(t, model.StatusActive, plan.WorkingUpdate.Status)
	assert.Contains(t, plan.WorkingUpdate.Reason, model.ReasonReactivatedPrefix)
	assert.Contains(t, plan.WorkingUpdate.Reason, "Previous: "+rec.Reason)
}

func TestPlanReactivation_NotReconstructible(t *testing.T) {
	rec := activeRecord()
	rec.Reason = model.ReasonDeletedPrefix + "mistake (2026-03-01 10:00:00)"
	// DerivedName empty: the enrichment pipeline must reprocess.

	plan := PlanReactivation(rec, nil, testNow)
	require.NotNil(t, plan)

	assert.Nil(t, plan.PendingInsert)
	require.NotNil(t, plan.WorkingUpdate.Attempts)
	assert.Equal(t, 0, *plan.WorkingUpdate.Attempts)
}

func TestPlanReactivation_Idempotent(t *testing.T) {
	// A row that was already reactivated (reason starts with the
	// reactivation prefix) must not match again.
	rec := activeRecord()
	rec.Reason = ReactivationReason(model.ReasonDeletedPrefix+"mistake", testNow)

	assert.Nil(t, PlanReactivation(rec, nil, testNow))
}

func TestPlanReactivation_GuardIsOnStatus(t *testing.T) {
	// Deleted status + deletion prefix is a processed deletion, not a
	// reactivation, even though the prefix matches.
	rec := activeRecord()
	rec.Status = model.StatusDeleted
	rec.Reason = model.ReasonDeletedPrefix + "done (2026-03-01 10:00:00)"

	assert.Nil(t, PlanReactivation(rec, nil, testNow))
}

func TestCanReconstruct(t *testing.T) {
	rec := activeRecord()
	assert.False(t, CanReconstruct(rec))

	rec.DerivedName = "2024-01-05_Acme_INV-9_100.00.pdf"
	rec.InvoiceNumber = "INV-9"
	assert.True(t, CanReconstruct(rec))

	rec.DerivedName = rec.OriginalName
	assert.False(t, CanReconstruct(rec), "derived equal to original means no enrichment happened")
}

func TestPlanEnrichStart(t *testing.T) {
	rec := activeRecord()
	rec.Reason = "uploaded by mail ingest"

	plan := PlanEnrichStart(rec, testNow)

	require.NotNil(t, plan.WorkingUpdate)
	assert.Equal(t, model.StatusProcessing, plan.WorkingUpdate.Status)
	assert.Equal(t, rec.Reason, plan.WorkingUpdate.Reason, "reason text is untouched")
	assert.Nil(t, plan.WorkingUpdate.Attempts, "attempts advance on completion, not on start")
	assert.Equal(t, model.TransitionEnrichStarted, plan.WorkingUpdate.Event.Kind)
	assert.Equal(t, model.StatusActive, plan.WorkingUpdate.Event.From)
}

func TestPlanEnrichSuccess(t *testing.T) {
	rec := activeRecord()
	rec.Attempts = 1
	fields := model.EnrichedFields{
		Date:            "2024-01-05",
		VendorName:      "Acme_Co",
		InvoiceNumber:   "INV-9",
		Amount:          "100.00",
		DocumentType:    model.DocTypeInvoice,
		TransactionType: model.TransactionOutflow,
		Confidence:      0.95,
	}

	plan := PlanEnrichSuccess(rec, fields, "2024-01-05_Acme_Co_INV-9_100.00.pdf", testNow)

	require.NotNil(t, plan.PendingInsert)
	assert.Equal(t, fields, plan.PendingInsert.EnrichedFields)
	assert.NotEmpty(t, plan.PendingInsert.ID)

	require.NotNil(t, plan.WorkingUpdate)
	assert.Equal(t, model.StatusActive, plan.WorkingUpdate.Status)
	assert.Equal(t, 2, *plan.WorkingUpdate.Attempts)
	assert.Equal(t, "2024-01-05_Acme_Co_INV-9_100.00.pdf", *plan.WorkingUpdate.DerivedName)
	assert.Equal(t, "INV-9", *plan.WorkingUpdate.InvoiceNumber)
}

func TestPlanEnrichFailure(t *testing.T) {
	rec := activeRecord()
	rec.Attempts = 2

	plan := PlanEnrichFailure(rec, "no JSON object found", testNow)

	assert.Equal(t, model.StatusFailed, plan.WorkingUpdate.Status)
	assert.Equal(t, 3, *plan.WorkingUpdate.Attempts)
	assert.Equal(t, "AI Processing Failed: no JSON object found (2026-03-14 09:30:00)", plan.WorkingUpdate.Reason)
}

func TestPlanRetry(t *testing.T) {
	rec := activeRecord()
	rec.Status = model.StatusFailed
	rec.Attempts = 3

	plan := PlanRetry(rec, testNow)
	require.NotNil(t, plan)
	assert.Equal(t, model.StatusActive, plan.WorkingUpdate.Status)
	assert.Equal(t, 0, *plan.WorkingUpdate.Attempts)
	assert.Equal(t, "Retry requested on 2026-03-14 09:30:00", plan.WorkingUpdate.Reason)

	rec.Status = model.StatusActive
	assert.Nil(t, PlanRetry(rec, testNow), "only Failed records are retryable")
}

func TestPlanInterrupted(t *testing.T) {
	rec := activeRecord()
	rec.Status = model.StatusProcessing
	rec.Attempts = 1

	plan := PlanInterrupted(rec, testNow)
	require.NotNil(t, plan)
	assert.Equal(t, model.StatusFailed, plan.WorkingUpdate.Status)
	assert.Equal(t, 2, *plan.WorkingUpdate.Attempts, "the interrupted attempt counts")
	assert.Equal(t, "AI Processing Failed: enrichment interrupted (2026-03-14 09:30:00)", plan.WorkingUpdate.Reason)

	rec.Status = model.StatusActive
	assert.Nil(t, PlanInterrupted(rec, testNow), "only Processing records are stranded")
}

func TestPlanCategorization(t *testing.T) {
	p := &model.PendingRecord{
		ID:          "pend-1",
		TenantID:    "acme",
		BlobRef:     "blob-1",
		DerivedName: "2024-01-05_Acme_INV-9_100.00.pdf",
		EnrichedFields: model.EnrichedFields{
			TransactionType: model.TransactionOutflow,
		},
	}

	plan := PlanCategorization(p)
	require.NotNil(t, plan)
	assert.Equal(t, model.CategoryOutflow, plan.CategoryInsert.Table)
	assert.Equal(t, BlobMoveToCategory, plan.BlobOps[0].Kind)
	assert.Equal(t, model.CategoryOutflow, plan.BlobOps[0].Category)
	require.Len(t, plan.RowDeletes, 1)
	assert.Equal(t, TablePending, plan.RowDeletes[0].Table)

	p.TransactionType = ""
	assert.Nil(t, PlanCategorization(p), "unknown transaction type is not categorizable")
}

func TestEnrichable_AttemptCap(t *testing.T) {
	rec := activeRecord()
	rec.Attempts = 3
	assert.False(t, rec.Enrichable(3), "records at the cap are excluded regardless of status")

	rec.Attempts = 2
	assert.True(t, rec.Enrichable(3))

	rec.Reason = model.ReasonDeletedPrefix + "pending reactivation"
	assert.False(t, rec.Enrichable(3), "pending reactivations are handled by reconcile, not enrichment")
}
