package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docflow-cli/internal/enrich"
	"github.com/sells-group/docflow-cli/internal/lifecycle"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/resilience"
	"github.com/sells-group/docflow-cli/internal/store"
)

// Operation names as recorded in the operation log.
const (
	OpProcess     = "process"
	OpProcessAll  = "process_all"
	OpReconcile   = "reconcile"
	OpPromote     = "promote"
	OpRetryFailed = "retry_failed"
	OpProvision   = "provision"
)

// ProcessEnrichment runs one enrichment pass over the tenant's working
// table: every Active record without a derived name and under the attempt
// cap goes through the AI classification pipeline. Per-record failures
// are recorded and the pass continues; a SYSTEM_ERROR aborts the batch.
func (e *Engine) ProcessEnrichment(ctx context.Context, tenantID string) (*model.OpResult, error) {
	return e.run(ctx, tenantID, OpProcess, func(ctx context.Context, tenant model.Tenant, result *model.OpResult) error {
		recs, err := e.store.ListWorking(ctx, tenantID, store.WorkingFilter{Status: model.StatusActive})
		if err != nil {
			return err
		}

		for i := range recs {
			rec := &recs[i]
			if !rec.Enrichable(e.maxAttempts) {
				continue
			}
			if err := e.enrichOne(ctx, tenant, rec, result); err != nil {
				return err
			}
		}
		return nil
	})
}

// enrichOne drives a single record through Processing and back. Only
// batch-fatal errors propagate; everything else lands in the result.
func (e *Engine) enrichOne(ctx context.Context, tenant model.Tenant, rec *model.WorkingRecord, result *model.OpResult) error {
	now := e.nowFunc().UTC()

	if _, err := e.apply(ctx, tenant, lifecycle.PlanEnrichStart(rec, now)); err != nil {
		if resilience.IsBatchFatal(err) {
			return err
		}
		result.Add(model.RecordDetail{
			RecordID: rec.ID, BlobRef: rec.BlobRef, Name: rec.OriginalName,
			Outcome: model.OutcomeFailed, Error: err.Error(),
		})
		return nil
	}
	rec.Status = model.StatusProcessing

	fields, derivedName, err := e.enricher.Enrich(ctx, tenant, rec)
	now = e.nowFunc().UTC()
	if err != nil {
		if resilience.IsBatchFatal(err) {
			// Leave the record Failed rather than stuck in Processing,
			// then abort the batch.
			if _, applyErr := e.apply(ctx, tenant, lifecycle.PlanEnrichFailure(rec, err.Error(), now)); applyErr != nil {
				zap.L().Error("engine: failure transition not applied",
					zap.String("record_id", rec.ID),
					zap.Error(applyErr),
				)
			}
			return err
		}
		if _, applyErr := e.apply(ctx, tenant, lifecycle.PlanEnrichFailure(rec, err.Error(), now)); applyErr != nil {
			err = applyErr
		}
		result.Add(model.RecordDetail{
			RecordID: rec.ID, BlobRef: rec.BlobRef, Name: rec.OriginalName,
			Outcome: model.OutcomeFailed, Error: err.Error(),
		})
		return nil
	}

	inserted, err := e.apply(ctx, tenant, lifecycle.PlanEnrichSuccess(rec, fields, derivedName, now))
	if err != nil {
		if resilience.IsBatchFatal(err) {
			return err
		}
		result.Add(model.RecordDetail{
			RecordID: rec.ID, BlobRef: rec.BlobRef, Name: rec.OriginalName,
			Outcome: model.OutcomeFailed, Error: err.Error(),
		})
		return nil
	}

	outcome := model.OutcomeProcessed
	if !inserted {
		outcome = model.OutcomeSkipped
	}
	result.Add(model.RecordDetail{
		RecordID: rec.ID, BlobRef: rec.BlobRef, Name: derivedName, Outcome: outcome,
	})
	return nil
}

// ProcessAllTenants runs ProcessEnrichment for every active tenant with
// bounded concurrency. One tenant's failure does not stop the others; it
// is folded into the merged result.
func (e *Engine) ProcessAllTenants(ctx context.Context) (*model.OpResult, error) {
	merged := &model.OpResult{
		Operation: OpProcessAll,
		StartedAt: e.nowFunc().UTC(),
	}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrentTenants)

	for _, tenant := range e.tenants.Active() {
		g.Go(func() error {
			res, err := e.ProcessEnrichment(ctx, tenant.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merged.Add(model.RecordDetail{
					Name:    tenant.ID,
					Outcome: model.OutcomeFailed,
					Error:   err.Error(),
				})
				return nil
			}
			merged.Merge(res)
			return nil
		})
	}

	_ = g.Wait()
	merged.FinishedAt = e.nowFunc().UTC()
	return merged, nil
}

// ReconcileBufferChanges scans the working table for operator edits that
// have not been processed: deletions (status Deleted, free-text reason)
// and reactivations (status Active, reason still carrying the deletion
// prefix). It also fails records stranded in Processing by a dead run.
// Detected transitions are applied; everything else is left untouched,
// so re-running reconciliation is a no-op.
func (e *Engine) ReconcileBufferChanges(ctx context.Context, tenantID string) (*model.OpResult, error) {
	return e.run(ctx, tenantID, OpReconcile, func(ctx context.Context, tenant model.Tenant, result *model.OpResult) error {
		recs, err := e.store.ListWorking(ctx, tenantID, store.WorkingFilter{})
		if err != nil {
			return err
		}

		now := e.nowFunc().UTC()
		for i := range recs {
			rec := &recs[i]

			if plan := lifecycle.PlanDeletion(rec, now); plan != nil {
				if err := e.applyDetected(ctx, tenant, rec, plan, model.OutcomeProcessed, result); err != nil {
					return err
				}
				continue
			}

			// A record stuck in Processing past the staleness bound was
			// stranded by a dead run: fail it so retry-failed can pick it
			// up, rather than leaving it in an unreachable state.
			if rec.Status == model.StatusProcessing && now.Sub(rec.LastModified) >= e.staleProcessingAfter {
				plan := lifecycle.PlanInterrupted(rec, now)
				if err := e.applyDetected(ctx, tenant, rec, plan, model.OutcomeProcessed, result); err != nil {
					return err
				}
				continue
			}

			if rec.PendingReactivation() {
				var reconstructed *model.EnrichedFields
				if lifecycle.CanReconstruct(rec) {
					if fields, ok := enrich.ParseDerivedName(rec.DerivedName, lifecycle.RestoredConfidence); ok {
						reconstructed = &fields
					}
				}
				plan := lifecycle.PlanReactivation(rec, reconstructed, now)
				if err := e.applyDetected(ctx, tenant, rec, plan, model.OutcomeReactivated, result); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (e *Engine) applyDetected(ctx context.Context, tenant model.Tenant, rec *model.WorkingRecord, plan *lifecycle.Plan, outcome model.Outcome, result *model.OpResult) error {
	if _, err := e.apply(ctx, tenant, plan); err != nil {
		if resilience.IsBatchFatal(err) {
			return err
		}
		result.Add(model.RecordDetail{
			RecordID: rec.ID, BlobRef: rec.BlobRef, Name: rec.OriginalName,
			Outcome: model.OutcomeFailed, Error: err.Error(),
		})
		return nil
	}
	result.Add(model.RecordDetail{
		RecordID: rec.ID, BlobRef: rec.BlobRef, Name: rec.OriginalName, Outcome: outcome,
	})
	return nil
}

// PromoteToCategories moves every pending record into its terminal
// category table and blob subtree. Applied rows are never rolled back;
// any failure leaves the failing rows in the pending table for the next
// run, and the run reports them.
func (e *Engine) PromoteToCategories(ctx context.Context, tenantID string) (*model.OpResult, error) {
	return e.run(ctx, tenantID, OpPromote, func(ctx context.Context, tenant model.Tenant, result *model.OpResult) error {
		pending, err := e.store.ListPending(ctx, tenantID)
		if err != nil {
			return err
		}

		for i := range pending {
			p := &pending[i]

			plan := lifecycle.PlanCategorization(p)
			if plan == nil {
				result.Add(model.RecordDetail{
					RecordID: p.ID, BlobRef: p.BlobRef, Name: p.DerivedName,
					Outcome: model.OutcomeFailed,
					Error:   "unknown transaction type " + string(p.TransactionType),
				})
				continue
			}

			// A blob already placed in a terminal table means this pending
			// row is stale: clear it without inserting a second placement.
			exists, err := e.store.CategoryExists(ctx, tenantID, p.BlobRef)
			if err != nil {
				return err
			}
			if exists {
				if err := e.store.DeleteRow(ctx, tenantID, lifecycle.TablePending, p.BlobRef); err != nil {
					return err
				}
				result.Add(model.RecordDetail{
					RecordID: p.ID, BlobRef: p.BlobRef, Name: p.DerivedName,
					Outcome: model.OutcomeSkipped,
				})
				continue
			}

			if _, err := e.apply(ctx, tenant, plan); err != nil {
				if resilience.IsBatchFatal(err) {
					return err
				}
				result.Add(model.RecordDetail{
					RecordID: p.ID, BlobRef: p.BlobRef, Name: p.DerivedName,
					Outcome: model.OutcomeFailed, Error: err.Error(),
				})
				continue
			}
			result.Add(model.RecordDetail{
				RecordID: p.ID, BlobRef: p.BlobRef, Name: p.DerivedName,
				Outcome: model.OutcomeProcessed,
			})
		}
		return nil
	})
}

// RetryFailed resets every Failed record back to Active with a zeroed
// attempt counter so the next enrichment pass picks them up.
func (e *Engine) RetryFailed(ctx context.Context, tenantID string) (*model.OpResult, error) {
	return e.run(ctx, tenantID, OpRetryFailed, func(ctx context.Context, tenant model.Tenant, result *model.OpResult) error {
		recs, err := e.store.ListWorking(ctx, tenantID, store.WorkingFilter{Status: model.StatusFailed})
		if err != nil {
			return err
		}

		now := e.nowFunc().UTC()
		for i := range recs {
			rec := &recs[i]
			plan := lifecycle.PlanRetry(rec, now)
			if plan == nil {
				continue
			}
			if err := e.applyDetected(ctx, tenant, rec, plan, model.OutcomeProcessed, result); err != nil {
				return err
			}
		}
		return nil
	})
}
