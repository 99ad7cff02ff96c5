package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/docflow-cli/internal/model"
)

// RestoredConfidence is the confidence assigned to records whose fields
// are reconstructed from a derived filename during reactivation. It is a
// documented heuristic default, not a measured score.
const RestoredConfidence = 0.8

// PlanEnrichStart plans the Active -> Processing transition taken while a
// record is at the AI service. The reason text is untouched.
func PlanEnrichStart(rec *model.WorkingRecord, now time.Time) *Plan {
	return &Plan{
		Kind:     model.TransitionEnrichStarted,
		RecordID: rec.ID,
		BlobRef:  rec.BlobRef,
		WorkingUpdate: &WorkingUpdate{
			RecordID: rec.ID,
			Status:   model.StatusProcessing,
			Reason:   rec.Reason,
			Event: model.TransitionEvent{
				Kind: model.TransitionEnrichStarted,
				From: rec.Status,
				At:   now,
			},
		},
	}
}

// PlanEnrichSuccess plans the effects of a successful enrichment: write
// the derived fields to the working row and project an enriched entry
// into the pending-categorization table. The record stays Active; the
// attempt counter still advances.
func PlanEnrichSuccess(rec *model.WorkingRecord, fields model.EnrichedFields, derivedName string, now time.Time) *Plan {
	return &Plan{
		Kind:     model.TransitionEnriched,
		RecordID: rec.ID,
		BlobRef:  rec.BlobRef,
		PendingInsert: &model.PendingRecord{
			ID:             uuid.New().String(),
			TenantID:       rec.TenantID,
			BlobRef:        rec.BlobRef,
			OriginalName:   rec.OriginalName,
			DerivedName:    derivedName,
			EmailSubject:   rec.EmailSubject,
			EmailSender:    rec.EmailSender,
			EnrichedFields: fields,
		},
		WorkingUpdate: &WorkingUpdate{
			RecordID:      rec.ID,
			Status:        model.StatusActive,
			Reason:        rec.Reason,
			Attempts:      intPtr(rec.Attempts + 1),
			DerivedName:   strPtr(derivedName),
			InvoiceNumber: strPtr(fields.InvoiceNumber),
			Event: model.TransitionEvent{
				Kind: model.TransitionEnriched,
				From: rec.Status,
				At:   now,
			},
		},
	}
}

// PlanEnrichFailure plans the Active -> Failed transition after an
// unusable AI response, recording the failure message and advancing the
// attempt counter.
func PlanEnrichFailure(rec *model.WorkingRecord, message string, now time.Time) *Plan {
	return &Plan{
		Kind:     model.TransitionFailed,
		RecordID: rec.ID,
		BlobRef:  rec.BlobRef,
		WorkingUpdate: &WorkingUpdate{
			RecordID: rec.ID,
			Status:   model.StatusFailed,
			Reason:   FailureReason(message, now),
			Attempts: intPtr(rec.Attempts + 1),
			Event: model.TransitionEvent{
				Kind:          model.TransitionFailed,
				Justification: message,
				From:          rec.Status,
				At:            now,
			},
		},
	}
}

// PlanInterrupted plans the Processing -> Failed transition for records
// stranded mid-enrichment: a crashed run leaves a row in Processing that
// no other pass would ever pick up. The interrupted attempt counts
// against the ceiling. Returns nil for records not in Processing.
func PlanInterrupted(rec *model.WorkingRecord, now time.Time) *Plan {
	if rec.Status != model.StatusProcessing {
		return nil
	}
	return PlanEnrichFailure(rec, "enrichment interrupted", now)
}

// PlanRetry plans the Failed -> Active operator retry: attempts reset to
// zero so the next enrichment pass picks the record up again. Returns nil
// for records that are not Failed.
func PlanRetry(rec *model.WorkingRecord, now time.Time) *Plan {
	if rec.Status != model.StatusFailed {
		return nil
	}
	return &Plan{
		Kind:     model.TransitionRetryRequested,
		RecordID: rec.ID,
		BlobRef:  rec.BlobRef,
		WorkingUpdate: &WorkingUpdate{
			RecordID: rec.ID,
			Status:   model.StatusActive,
			Reason:   RetryReason(now),
			Attempts: intPtr(0),
			Event: model.TransitionEvent{
				Kind: model.TransitionRetryRequested,
				From: rec.Status,
				At:   now,
			},
		},
	}
}

// PlanDeletion plans the effects of an operator deletion detected in the
// working table. Already-processed deletions (reason carries the machine
// prefix) return nil: they are skipped, never re-applied. Blob removal
// from the category subtrees and downstream row deletes come before the
// working-row update, so a partial failure leaves the record retryable
// rather than falsely Deleted. The staging copy of the blob is kept.
func PlanDeletion(rec *model.WorkingRecord, now time.Time) *Plan {
	if !rec.PendingDeletion() {
		return nil
	}
	justification := Justification(rec.Reason)
	return &Plan{
		Kind:     model.TransitionDeleted,
		RecordID: rec.ID,
		BlobRef:  rec.BlobRef,
		BlobOps: []BlobOp{
			{Kind: BlobRemoveFromCategories, BlobRef: rec.BlobRef},
		},
		RowDeletes: []RowDelete{
			{Table: TablePending, BlobRef: rec.BlobRef},
			{Table: TableInflow, BlobRef: rec.BlobRef},
			{Table: TableOutflow, BlobRef: rec.BlobRef},
		},
		WorkingUpdate: &WorkingUpdate{
			RecordID: rec.ID,
			Status:   model.StatusDeleted,
			Reason:   DeletionReason(justification, now),
			Event: model.TransitionEvent{
				Kind:          model.TransitionDeleted,
				Justification: justification,
				From:          rec.Status,
				At:            now,
			},
		},
	}
}

// CanReconstruct reports whether a reactivated record's enriched fields
// can be rebuilt from its derived name without re-running enrichment.
func CanReconstruct(rec *model.WorkingRecord) bool {
	return rec.DerivedName != "" &&
		rec.InvoiceNumber != "" &&
		rec.DerivedName != rec.OriginalName
}

// PlanReactivation plans the effects of a detected reactivation: an
// operator set status back to Active while the reason still carries the
// deletion prefix. When reconstructed is non-nil the enriched fields were
// rebuilt from the derived name and the record goes straight back into
// pending categorization; otherwise attempts reset to zero so the next
// enrichment pass reprocesses it. Either way the blob is restored into
// staging (before the row update) and the reason records the
// reactivation with the prior text preserved. Returns nil when the
// record is not a pending reactivation, which makes re-running the
// detection a no-op.
func PlanReactivation(rec *model.WorkingRecord, reconstructed *model.EnrichedFields, now time.Time) *Plan {
	if !rec.PendingReactivation() {
		return nil
	}

	plan := &Plan{
		Kind:     model.TransitionReactivated,
		RecordID: rec.ID,
		BlobRef:  rec.BlobRef,
		BlobOps: []BlobOp{
			{Kind: BlobRestoreToStaging, BlobRef: rec.BlobRef},
		},
		WorkingUpdate: &WorkingUpdate{
			RecordID: rec.ID,
			Status:   model.StatusActive,
			Reason:   ReactivationReason(rec.Reason, now),
			Event: model.TransitionEvent{
				Kind: model.TransitionReactivated,
				From: model.StatusDeleted,
				At:   now,
			},
		},
	}

	if reconstructed != nil && CanReconstruct(rec) {
		plan.PendingInsert = &model.PendingRecord{
			ID:             uuid.New().String(),
			TenantID:       rec.TenantID,
			BlobRef:        rec.BlobRef,
			OriginalName:   rec.OriginalName,
			DerivedName:    rec.DerivedName,
			EmailSubject:   rec.EmailSubject,
			EmailSender:    rec.EmailSender,
			EnrichedFields: *reconstructed,
		}
	} else {
		// No usable derived data: reset attempts so the enrichment
		// pipeline picks the record up on the next pass.
		plan.WorkingUpdate.Attempts = intPtr(0)
		plan.WorkingUpdate.DerivedName = strPtr("")
	}

	return plan
}

// PlanCategorization plans the terminal placement of one pending record:
// append to the matching category table, move the blob from staging to
// the category subtree, and delete the pending row in the same step.
// Returns nil when the transaction type is unknown.
func PlanCategorization(p *model.PendingRecord) *Plan {
	if p.TransactionType != model.TransactionInflow && p.TransactionType != model.TransactionOutflow {
		return nil
	}
	category := model.CategoryFor(p.TransactionType)
	return &Plan{
		Kind:    model.TransitionCategorized,
		BlobRef: p.BlobRef,
		BlobOps: []BlobOp{
			{Kind: BlobMoveToCategory, BlobRef: p.BlobRef, Category: category},
		},
		RowDeletes: []RowDelete{
			{Table: TablePending, BlobRef: p.BlobRef},
		},
		CategoryInsert: &model.CategoryRecord{
			ID:             uuid.New().String(),
			TenantID:       p.TenantID,
			BlobRef:        p.BlobRef,
			Table:          category,
			DerivedName:    p.DerivedName,
			EnrichedFields: p.EnrichedFields,
		},
	}
}
