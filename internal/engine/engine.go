// Package engine is the synchronization engine. It detects pending
// transitions, asks the lifecycle package for plans, and executes them
// against the record store and blob store in an order that keeps the
// working row the last thing to change. Every batch operation runs under
// the tenant lease lock.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/blob"
	"github.com/sells-group/docflow-cli/internal/config"
	"github.com/sells-group/docflow-cli/internal/lifecycle"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/registry"
	"github.com/sells-group/docflow-cli/internal/store"
)

// Enricher classifies one working record's document. Satisfied by
// enrich.Enricher; tests substitute fakes.
type Enricher interface {
	Enrich(ctx context.Context, tenant model.Tenant, rec *model.WorkingRecord) (model.EnrichedFields, string, error)
}

// Engine executes lifecycle plans and the command-surface operations.
type Engine struct {
	store    store.Store
	blobs    blob.Store
	enricher Enricher
	tenants  *registry.Registry

	maxAttempts          int
	lease                store.LeaseOptions
	maxConcurrentTenants int

	// staleProcessingAfter is how long a record may sit in Processing
	// before reconciliation treats its run as dead and fails it.
	staleProcessingAfter time.Duration

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New builds an Engine from config.
func New(st store.Store, blobs blob.Store, enricher Enricher, tenants *registry.Registry, cfg *config.Config) *Engine {
	maxAttempts := cfg.Pipeline.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	maxTenants := cfg.Batch.MaxConcurrentTenants
	if maxTenants <= 0 {
		maxTenants = 1
	}
	return &Engine{
		store:    st,
		blobs:    blobs,
		enricher: enricher,
		tenants:  tenants,
		maxAttempts: maxAttempts,
		lease: store.LeaseOptions{
			Wait: time.Duration(cfg.Lock.WaitSecs) * time.Second,
			TTL:  time.Duration(cfg.Lock.TTLSecs) * time.Second,
		},
		maxConcurrentTenants: maxTenants,
		staleProcessingAfter: 15 * time.Minute,
		nowFunc:              time.Now,
	}
}

// apply executes one plan in safe order: blob mutations first, then
// downstream row deletes, then inserts, then the working-row update last.
// The returned flag is false when an insert was skipped because a row for
// the blob reference already existed.
func (e *Engine) apply(ctx context.Context, tenant model.Tenant, plan *lifecycle.Plan) (bool, error) {
	for _, op := range plan.BlobOps {
		if err := e.applyBlobOp(ctx, tenant, op); err != nil {
			return false, err
		}
	}

	for _, del := range plan.RowDeletes {
		if err := e.store.DeleteRow(ctx, tenant.ID, del.Table, del.BlobRef); err != nil {
			return false, err
		}
	}

	inserted := true
	if plan.PendingInsert != nil {
		ok, err := e.store.InsertPending(ctx, plan.PendingInsert)
		if err != nil {
			return false, err
		}
		if !ok {
			inserted = false
			zap.L().Info("engine: pending row already exists, skipped",
				zap.String("tenant", tenant.ID),
				zap.String("blob_ref", plan.PendingInsert.BlobRef),
			)
		}
	}
	if plan.CategoryInsert != nil {
		// At-most-one terminal placement is enforced across both tables,
		// so the per-table unique constraint is not enough on its own.
		exists, err := e.store.CategoryExists(ctx, tenant.ID, plan.CategoryInsert.BlobRef)
		if err != nil {
			return false, err
		}
		if exists {
			inserted = false
			zap.L().Info("engine: category row already exists, skipped",
				zap.String("tenant", tenant.ID),
				zap.String("blob_ref", plan.CategoryInsert.BlobRef),
			)
		} else {
			if _, err := e.store.InsertCategory(ctx, plan.CategoryInsert); err != nil {
				return false, err
			}
		}
	}

	if plan.WorkingUpdate != nil {
		if err := e.store.UpdateWorking(ctx, tenant.ID, *plan.WorkingUpdate); err != nil {
			return false, err
		}
	}
	return inserted, nil
}

func (e *Engine) applyBlobOp(ctx context.Context, tenant model.Tenant, op lifecycle.BlobOp) error {
	switch op.Kind {
	case lifecycle.BlobRemoveFromCategories:
		return blob.RemoveFromCategories(ctx, e.blobs, tenant.BlobRoot, op.BlobRef)
	case lifecycle.BlobRestoreToStaging:
		return blob.RestoreToStaging(ctx, e.blobs, tenant.BlobRoot, op.BlobRef)
	case lifecycle.BlobMoveToCategory:
		target := blob.SubtreeInflow
		if op.Category == model.CategoryOutflow {
			target = blob.SubtreeOutflow
		}
		return blob.MoveToCategory(ctx, e.blobs, tenant.BlobRoot, op.BlobRef, target)
	}
	return eris.Errorf("engine: unknown blob op %q", op.Kind)
}

// run wraps one command-surface operation: resolve the tenant, take the
// lease, execute, release in a deferred path, and record the result in
// the operation log. Per-record failures live inside the result; the
// returned error is reserved for operation-level failures.
func (e *Engine) run(ctx context.Context, tenantID, operation string, fn func(ctx context.Context, tenant model.Tenant, result *model.OpResult) error) (*model.OpResult, error) {
	tenant, err := e.tenants.Get(tenantID)
	if err != nil {
		return nil, err
	}

	result := &model.OpResult{
		Operation: operation,
		Tenant:    tenantID,
		StartedAt: e.nowFunc().UTC(),
	}

	lease, err := e.store.AcquireLease(ctx, tenantID, e.lease)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: %s %s", operation, tenantID)
	}
	stopRenew := e.keepLeaseAlive(ctx, lease)
	defer func() {
		stopRenew()
		if relErr := e.store.ReleaseLease(context.WithoutCancel(ctx), lease); relErr != nil {
			zap.L().Warn("engine: lease release failed",
				zap.String("tenant", tenantID),
				zap.Error(relErr),
			)
		}
	}()

	opErr := fn(ctx, tenant, result)
	result.FinishedAt = e.nowFunc().UTC()

	if logErr := e.store.AppendOpLog(ctx, opLogEntry(tenantID, operation, result)); logErr != nil {
		zap.L().Warn("engine: operation log append failed",
			zap.String("tenant", tenantID),
			zap.Error(logErr),
		)
	}

	zap.L().Info("engine: operation finished",
		zap.String("tenant", tenantID),
		zap.String("operation", operation),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int("reactivated", result.Reactivated),
		zap.Error(opErr),
	)
	return result, opErr
}

// keepLeaseAlive renews the lease at a third of its TTL so batches
// slower than the TTL (AI pacing, backoff retries) keep mutual
// exclusion: steal-on-expiry must only ever fire for dead holders. The
// returned stop function ends the heartbeat; callers invoke it before
// releasing the lease.
func (e *Engine) keepLeaseAlive(ctx context.Context, lease *store.Lease) (stop func()) {
	if lease.TTL <= 0 {
		return func() {}
	}
	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(lease.TTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if err := e.store.RenewLease(renewCtx, lease); err != nil {
					zap.L().Warn("engine: lease renewal failed",
						zap.String("tenant", lease.TenantID),
						zap.Error(err),
					)
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func opLogEntry(tenantID, operation string, result *model.OpResult) *store.OpLogEntry {
	return &store.OpLogEntry{
		TenantID:   tenantID,
		Operation:  operation,
		Result:     result,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
}

// History returns the most recent operation log entries for a tenant.
func (e *Engine) History(ctx context.Context, tenantID string, limit int) ([]store.OpLogEntry, error) {
	if _, err := e.tenants.Get(tenantID); err != nil {
		return nil, err
	}
	return e.store.ListOpLog(ctx, tenantID, limit)
}
