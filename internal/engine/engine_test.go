package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow-cli/internal/blob"
	"github.com/sells-group/docflow-cli/internal/config"
	"github.com/sells-group/docflow-cli/internal/lifecycle"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/registry"
	"github.com/sells-group/docflow-cli/internal/resilience"
	"github.com/sells-group/docflow-cli/internal/store"
)

type fakeEnricher struct {
	fields  model.EnrichedFields
	derived string
	err     error
	delay   time.Duration // simulates a slow AI call
	calls   int
}

func (f *fakeEnricher) Enrich(ctx context.Context, _ model.Tenant, _ *model.WorkingRecord) (model.EnrichedFields, string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.EnrichedFields{}, "", ctx.Err()
		}
	}
	if f.err != nil {
		return model.EnrichedFields{}, "", f.err
	}
	return f.fields, f.derived, nil
}

func enrichedFixture() model.EnrichedFields {
	return model.EnrichedFields{
		Date:            "2024-01-05",
		VendorName:      "Acme_Co",
		InvoiceNumber:   "INV-9",
		Amount:          "100.00",
		DocumentType:    model.DocTypeInvoice,
		TransactionType: model.TransactionOutflow,
		Confidence:      0.9,
	}
}

type testEnv struct {
	engine   *Engine
	store    *store.SQLiteStore
	blobs    *blob.LocalStore
	enricher *fakeEnricher
	tenant   model.Tenant
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	blobs := blob.NewLocal(filepath.Join(dir, "blobs"))
	reg, err := registry.Load(filepath.Join(dir, "tenants.yaml"))
	require.NoError(t, err)

	tenant := model.Tenant{ID: "acme", Name: "Acme Co", BlobRoot: "tenants/acme", Active: true}
	require.NoError(t, reg.Add(tenant))
	require.NoError(t, blobs.EnsureRoot(ctx, tenant.BlobRoot))

	fe := &fakeEnricher{fields: enrichedFixture(), derived: "2024-01-05_Acme_Co_INV-9_100.00.pdf"}

	cfg := &config.Config{}
	cfg.Pipeline.MaxAttempts = 3
	cfg.Lock.WaitSecs = 2
	cfg.Lock.TTLSecs = 60
	cfg.Batch.MaxConcurrentTenants = 2

	return &testEnv{
		engine:   New(st, blobs, fe, reg, cfg),
		store:    st,
		blobs:    blobs,
		enricher: fe,
		tenant:   tenant,
	}
}

func (env *testEnv) addWorking(t *testing.T, blobRef string, mutate func(*model.WorkingRecord)) *model.WorkingRecord {
	t.Helper()
	rec := &model.WorkingRecord{
		TenantID:     env.tenant.ID,
		OriginalName: "scan.pdf",
		BlobRef:      blobRef,
		Status:       model.StatusActive,
	}
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, env.store.InsertWorking(context.Background(), rec))
	return rec
}

func (env *testEnv) putBlob(t *testing.T, tree blob.Subtree, ref string) {
	t.Helper()
	require.NoError(t, env.blobs.Put(context.Background(), env.tenant.BlobRoot, tree, ref, []byte("data")))
}

func (env *testEnv) blobExists(t *testing.T, tree blob.Subtree, ref string) bool {
	t.Helper()
	ok, err := env.blobs.Exists(context.Background(), env.tenant.BlobRoot, tree, ref)
	require.NoError(t, err)
	return ok
}

// --- ProcessEnrichment ---

func TestProcessEnrichment_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.addWorking(t, "doc.pdf", nil)
	env.putBlob(t, blob.SubtreeStaging, "doc.pdf")

	result, err := env.engine.ProcessEnrichment(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)

	got, err := env.store.GetWorking(ctx, "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, env.enricher.derived, got.DerivedName)
	assert.Equal(t, "INV-9", got.InvoiceNumber)
	assert.Equal(t, 1, got.Attempts)
	require.Len(t, got.History, 2)
	assert.Equal(t, model.TransitionEnrichStarted, got.History[0].Kind)
	assert.Equal(t, model.TransitionEnriched, got.History[1].Kind)

	pending, err := env.store.ListPending(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "doc.pdf", pending[0].BlobRef)
	assert.Equal(t, model.TransactionOutflow, pending[0].TransactionType)
}

func TestProcessEnrichment_FailureMarksRecordFailed(t *testing.T) {
	env := newTestEnv(t)
	env.enricher.err = resilience.Codef(resilience.CodeProcessingFailed, "no JSON object found")
	ctx := context.Background()

	rec := env.addWorking(t, "doc.pdf", nil)

	result, err := env.engine.ProcessEnrichment(ctx, "acme")
	require.NoError(t, err, "per-record failure is not an operation failure")
	assert.Equal(t, 1, result.Failed)

	got, err := env.store.GetWorking(ctx, "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.Reason, "AI Processing Failed: "), got.Reason)
	assert.Equal(t, 1, got.Attempts)
}

func TestProcessEnrichment_SkipsAtAttemptCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addWorking(t, "capped.pdf", func(r *model.WorkingRecord) { r.Attempts = 3 })
	env.addWorking(t, "enriched.pdf", func(r *model.WorkingRecord) { r.DerivedName = "done.pdf" })

	result, err := env.engine.ProcessEnrichment(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 0, env.enricher.calls, "capped and already-enriched records make no AI calls")
}

func TestProcessEnrichment_SystemErrorAbortsBatch(t *testing.T) {
	env := newTestEnv(t)
	env.enricher.err = resilience.Codef(resilience.CodeSystemError, "store gone")
	ctx := context.Background()

	env.addWorking(t, "a.pdf", nil)
	env.addWorking(t, "b.pdf", nil)

	_, err := env.engine.ProcessEnrichment(ctx, "acme")
	require.Error(t, err)
	assert.Equal(t, 1, env.enricher.calls, "batch aborts on the first SYSTEM_ERROR")
}

func TestProcessEnrichment_UnknownTenant(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.ProcessEnrichment(context.Background(), "initech")
	assert.Error(t, err)
}

func TestProcessEnrichment_ReleasesLease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.ProcessEnrichment(ctx, "acme")
	require.NoError(t, err)

	// The lease must be free again immediately after the run.
	lease, err := env.store.AcquireLease(ctx, "acme", store.LeaseOptions{Wait: 200 * time.Millisecond, TTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, env.store.ReleaseLease(ctx, lease))
}

func TestProcessEnrichment_LeaseRenewedDuringSlowPass(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.engine.lease = store.LeaseOptions{Wait: 100 * time.Millisecond, TTL: 300 * time.Millisecond}
	env.enricher.delay = 700 * time.Millisecond
	env.addWorking(t, "doc.pdf", nil)
	env.putBlob(t, blob.SubtreeStaging, "doc.pdf")

	done := make(chan *model.OpResult, 1)
	go func() {
		result, err := env.engine.ProcessEnrichment(ctx, "acme")
		assert.NoError(t, err)
		done <- result
	}()

	// Well past the original TTL the pass is still inside the AI call.
	// The heartbeat must have renewed, so the lease is not stealable.
	time.Sleep(450 * time.Millisecond)
	_, err := env.store.AcquireLease(ctx, "acme", store.LeaseOptions{Wait: 50 * time.Millisecond, TTL: time.Minute})
	require.Error(t, err, "a live slow holder keeps mutual exclusion")

	result := <-done
	assert.Equal(t, 1, result.Processed)

	lease, err := env.store.AcquireLease(ctx, "acme", store.LeaseOptions{Wait: time.Second, TTL: time.Minute})
	require.NoError(t, err, "lease free again once the run finishes")
	require.NoError(t, env.store.ReleaseLease(ctx, lease))
}

// --- ReconcileBufferChanges ---

func TestReconcile_Deletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.addWorking(t, "doc.pdf", func(r *model.WorkingRecord) {
		r.Status = model.StatusDeleted
		r.Reason = "duplicate upload"
	})
	env.putBlob(t, blob.SubtreeStaging, "doc.pdf")
	env.putBlob(t, blob.SubtreeOutflow, "doc.pdf")
	_, err := env.store.InsertCategory(ctx, &model.CategoryRecord{
		TenantID: "acme", BlobRef: "doc.pdf", Table: model.CategoryOutflow,
		DerivedName: "x.pdf", EnrichedFields: enrichedFixture(),
	})
	require.NoError(t, err)

	result, err := env.engine.ReconcileBufferChanges(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	got, err := env.store.GetWorking(ctx, "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, got.Status)
	assert.Equal(t, "Deleted: duplicate upload", strings.SplitN(got.Reason, " (", 2)[0])

	exists, err := env.store.CategoryExists(ctx, "acme", "doc.pdf")
	require.NoError(t, err)
	assert.False(t, exists, "terminal rows removed")
	assert.False(t, env.blobExists(t, blob.SubtreeOutflow, "doc.pdf"), "category blob removed")
	assert.True(t, env.blobExists(t, blob.SubtreeStaging, "doc.pdf"), "staging copy kept")

	// Re-running reconciliation is a no-op: the prefix marks it processed.
	rerun, err := env.engine.ReconcileBufferChanges(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, rerun.Processed)
}

func TestReconcile_ReactivationReconstructable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.addWorking(t, "doc.pdf", func(r *model.WorkingRecord) {
		r.Status = model.StatusActive
		r.Reason = "Deleted: bad scan"
		r.DerivedName = "2024-01-05_Acme_Co_INV-9_100.00.pdf"
		r.InvoiceNumber = "INV-9"
	})
	// Blob only survives in the outflow subtree.
	env.putBlob(t, blob.SubtreeOutflow, "doc.pdf")

	result, err := env.engine.ReconcileBufferChanges(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reactivated)

	got, err := env.store.GetWorking(ctx, "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.True(t, strings.HasPrefix(got.Reason, "Reactivated on "), got.Reason)
	assert.Contains(t, got.Reason, "Deleted: bad scan", "prior reason preserved")

	assert.True(t, env.blobExists(t, blob.SubtreeStaging, "doc.pdf"), "blob restored to staging")

	pending, err := env.store.ListPending(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 1, "reconstructed fields go straight to pending")
	assert.Equal(t, "Acme_Co", pending[0].VendorName)
	assert.Equal(t, lifecycle.RestoredConfidence, pending[0].Confidence)

	// The reactivated reason no longer matches the deletion prefix.
	rerun, err := env.engine.ReconcileBufferChanges(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, rerun.Reactivated)
}

func TestReconcile_ReactivationWithoutDerivedData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.addWorking(t, "doc.pdf", func(r *model.WorkingRecord) {
		r.Status = model.StatusActive
		r.Reason = "Deleted: mistake"
		r.Attempts = 2
	})
	env.putBlob(t, blob.SubtreeStaging, "doc.pdf")

	result, err := env.engine.ReconcileBufferChanges(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reactivated)

	got, err := env.store.GetWorking(ctx, "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Attempts, "attempts reset for re-enrichment")
	assert.Empty(t, got.DerivedName)

	pending, err := env.store.ListPending(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, pending, "nothing reconstructable to project")
}

func TestReconcile_ReactivationBlobGoneFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addWorking(t, "gone.pdf", func(r *model.WorkingRecord) {
		r.Status = model.StatusActive
		r.Reason = "Deleted: oops"
	})

	result, err := env.engine.ReconcileBufferChanges(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Details[0].Error, "not found")
}

func TestReconcile_FailsStrandedProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Zero staleness bound: any Processing record counts as stranded.
	env.engine.staleProcessingAfter = 0
	rec := env.addWorking(t, "stuck.pdf", func(r *model.WorkingRecord) {
		r.Status = model.StatusProcessing
		r.Attempts = 1
	})

	result, err := env.engine.ReconcileBufferChanges(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	got, err := env.store.GetWorking(ctx, "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.Reason, "AI Processing Failed: enrichment interrupted"), got.Reason)
	assert.Equal(t, 2, got.Attempts, "the interrupted attempt counts")

	// The recovered record is reachable again through retry-failed.
	retried, err := env.engine.RetryFailed(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Processed)

	got, err = env.store.GetWorking(ctx, "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, 0, got.Attempts)
}

func TestReconcile_FreshProcessingLeftAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.addWorking(t, "busy.pdf", func(r *model.WorkingRecord) {
		r.Status = model.StatusProcessing
	})

	result, err := env.engine.ReconcileBufferChanges(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	got, err := env.store.GetWorking(ctx, "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status, "a record inside the staleness bound is left for its run")
}

// --- PromoteToCategories ---

func TestPromote_MovesPendingToTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inflow := enrichedFixture()
	inflow.TransactionType = model.TransactionInflow
	_, err := env.store.InsertPending(ctx, &model.PendingRecord{
		TenantID: "acme", BlobRef: "in.pdf", DerivedName: "in-derived.pdf", EnrichedFields: inflow,
	})
	require.NoError(t, err)
	_, err = env.store.InsertPending(ctx, &model.PendingRecord{
		TenantID: "acme", BlobRef: "out.pdf", DerivedName: "out-derived.pdf", EnrichedFields: enrichedFixture(),
	})
	require.NoError(t, err)
	env.putBlob(t, blob.SubtreeStaging, "in.pdf")
	env.putBlob(t, blob.SubtreeStaging, "out.pdf")

	result, err := env.engine.PromoteToCategories(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)

	pending, err := env.store.ListPending(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, pending)

	inRows, err := env.store.ListCategory(ctx, "acme", model.CategoryInflow)
	require.NoError(t, err)
	require.Len(t, inRows, 1)
	assert.Equal(t, "in.pdf", inRows[0].BlobRef)

	outRows, err := env.store.ListCategory(ctx, "acme", model.CategoryOutflow)
	require.NoError(t, err)
	require.Len(t, outRows, 1)

	assert.True(t, env.blobExists(t, blob.SubtreeInflow, "in.pdf"))
	assert.True(t, env.blobExists(t, blob.SubtreeOutflow, "out.pdf"))
	assert.False(t, env.blobExists(t, blob.SubtreeStaging, "in.pdf"), "moved, not copied")
}

func TestPromote_FailureLeavesRowPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Blob for the first row is missing entirely; the second is fine.
	_, err := env.store.InsertPending(ctx, &model.PendingRecord{
		TenantID: "acme", BlobRef: "missing.pdf", DerivedName: "m.pdf", EnrichedFields: enrichedFixture(),
	})
	require.NoError(t, err)
	_, err = env.store.InsertPending(ctx, &model.PendingRecord{
		TenantID: "acme", BlobRef: "ok.pdf", DerivedName: "ok-derived.pdf", EnrichedFields: enrichedFixture(),
	})
	require.NoError(t, err)
	env.putBlob(t, blob.SubtreeStaging, "ok.pdf")

	result, err := env.engine.PromoteToCategories(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)

	pending, err := env.store.ListPending(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 1, "applied rows stay applied, failed row stays pending")
	assert.Equal(t, "missing.pdf", pending[0].BlobRef)
}

func TestPromote_AlreadyPlacedIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.InsertCategory(ctx, &model.CategoryRecord{
		TenantID: "acme", BlobRef: "doc.pdf", Table: model.CategoryOutflow,
		DerivedName: "x.pdf", EnrichedFields: enrichedFixture(),
	})
	require.NoError(t, err)
	_, err = env.store.InsertPending(ctx, &model.PendingRecord{
		TenantID: "acme", BlobRef: "doc.pdf", DerivedName: "x.pdf", EnrichedFields: enrichedFixture(),
	})
	require.NoError(t, err)

	result, err := env.engine.PromoteToCategories(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)

	pending, err := env.store.ListPending(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, pending, "stale pending row cleared without a second placement")

	rows, err := env.store.ListCategory(ctx, "acme", model.CategoryOutflow)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// --- RetryFailed ---

func TestRetryFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.addWorking(t, "failed.pdf", func(r *model.WorkingRecord) {
		r.Status = model.StatusFailed
		r.Reason = "AI Processing Failed: timeout (2026-03-14 12:00:00)"
		r.Attempts = 3
	})
	env.addWorking(t, "active.pdf", nil)

	result, err := env.engine.RetryFailed(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	got, err := env.store.GetWorking(ctx, "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, 0, got.Attempts)
	require.NotEmpty(t, got.History)
	assert.Equal(t, model.TransitionRetryRequested, got.History[len(got.History)-1].Kind)
}

// --- ProcessAllTenants ---

func TestProcessAllTenants_MergesResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addWorking(t, "doc.pdf", nil)
	env.putBlob(t, blob.SubtreeStaging, "doc.pdf")

	result, err := env.engine.ProcessAllTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
}

// --- ProvisionTenant ---

func TestProvisionTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.engine.ProvisionTenant(ctx, model.Tenant{ID: "globex", Name: "Globex"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)

	got, err := env.engine.tenants.Get("globex")
	require.NoError(t, err)
	assert.Equal(t, "tenants/globex", got.BlobRoot, "default blob root derived from the id")
	assert.True(t, got.Active)

	_, err = env.engine.ProcessEnrichment(ctx, "globex")
	require.NoError(t, err, "provisioned tenant is usable immediately")
}

func TestProvisionTenant_DuplicateRejectedUpFront(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.ProvisionTenant(context.Background(), model.Tenant{ID: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestProvisionTenant_RegistryFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Uppercase ids pass the provisioning entry checks but fail registry
	// validation, so the blob root and store steps get compensated.
	_, err := env.engine.ProvisionTenant(ctx, model.Tenant{ID: "GLOBEX", BlobRoot: "tenants/globex-upper"})
	require.Error(t, err)

	// With the root dropped, even the staging directory itself is gone.
	ok, statErr := env.blobs.Exists(ctx, "tenants/globex-upper", blob.SubtreeStaging, "")
	require.NoError(t, statErr)
	assert.False(t, ok, "compensation dropped the new blob root")
}

func TestProvisionTenant_BlocksOnHeldLease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.store.AcquireLease(ctx, "globex", store.LeaseOptions{Wait: time.Second, TTL: time.Minute})
	require.NoError(t, err)
	defer env.store.ReleaseLease(ctx, held) //nolint:errcheck

	env.engine.lease.Wait = 100 * time.Millisecond
	_, err = env.engine.ProvisionTenant(ctx, model.Tenant{ID: "globex"})
	require.Error(t, err)

	// Nothing was created while the lock was held.
	ok, statErr := env.blobs.Exists(ctx, "tenants/globex", blob.SubtreeStaging, "")
	require.NoError(t, statErr)
	assert.False(t, ok, "blob root not created under contention")
	_, err = env.engine.tenants.Get("globex")
	assert.Error(t, err, "tenant not registered under contention")
}

func TestApply_UnknownBlobOp(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.applyBlobOp(context.Background(), env.tenant, lifecycle.BlobOp{Kind: "bogus"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
