package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/model"
)

// compensation is one pushed rollback action of the provisioning saga.
type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// ProvisionTenant creates everything a new tenant needs: the blob root
// with its staging/inflow/outflow subtrees, the store namespace, and the
// registry entry. Each created resource pushes a compensating action; on
// failure the stack unwinds in reverse order so a half-provisioned tenant
// is not left behind.
func (e *Engine) ProvisionTenant(ctx context.Context, tenant model.Tenant) (*model.OpResult, error) {
	if tenant.ID == "" {
		return nil, eris.New("engine: provision: tenant id is empty")
	}
	// A duplicate id must fail before any resource is created: the
	// compensation path tears down by tenant id and would otherwise touch
	// the established tenant's data.
	if _, err := e.tenants.Get(tenant.ID); err == nil {
		return nil, eris.Errorf("engine: provision: tenant %s already registered", tenant.ID)
	}
	if tenant.BlobRoot == "" {
		tenant.BlobRoot = "tenants/" + tenant.ID
	}
	tenant.Active = true

	result := &model.OpResult{
		Operation: OpProvision,
		Tenant:    tenant.ID,
		StartedAt: e.nowFunc().UTC(),
	}

	// Tables must exist before the lease can: the lock row lives in the
	// store. Migration is idempotent and tenant-agnostic, so it needs no
	// compensation and no lock.
	if err := e.store.Migrate(ctx); err != nil {
		return nil, eris.Wrapf(err, "engine: provision %s: store tables", tenant.ID)
	}

	// Provisioning is a multi-resource sequence like any batch operation:
	// it runs under the tenant lease so two concurrent provisions of the
	// same id cannot interleave resource creation and compensation.
	lease, err := e.store.AcquireLease(ctx, tenant.ID, e.lease)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: provision %s", tenant.ID)
	}
	defer func() {
		if relErr := e.store.ReleaseLease(context.WithoutCancel(ctx), lease); relErr != nil {
			zap.L().Warn("engine: lease release failed",
				zap.String("tenant", tenant.ID),
				zap.Error(relErr),
			)
		}
	}()

	var stack []compensation
	fail := func(step string, err error) (*model.OpResult, error) {
		e.compensate(ctx, tenant.ID, stack)
		result.FinishedAt = e.nowFunc().UTC()
		return result, eris.Wrapf(err, "engine: provision %s: %s", tenant.ID, step)
	}

	if err := e.blobs.EnsureRoot(ctx, tenant.BlobRoot); err != nil {
		return fail("blob root", err)
	}
	stack = append(stack, compensation{name: "drop blob root", fn: func(ctx context.Context) error {
		return e.blobs.DropRoot(ctx, tenant.BlobRoot)
	}})
	result.Add(model.RecordDetail{Name: "blob:" + tenant.BlobRoot, Outcome: model.OutcomeProcessed})

	stack = append(stack, compensation{name: "drop tenant rows", fn: func(ctx context.Context) error {
		return e.store.DropTenant(ctx, tenant.ID)
	}})
	result.Add(model.RecordDetail{Name: "store:" + tenant.ID, Outcome: model.OutcomeProcessed})

	if err := e.tenants.Add(tenant); err != nil {
		return fail("registry entry", err)
	}
	result.Add(model.RecordDetail{Name: "registry:" + tenant.ID, Outcome: model.OutcomeProcessed})

	result.FinishedAt = e.nowFunc().UTC()

	if err := e.store.AppendOpLog(ctx, opLogEntry(tenant.ID, OpProvision, result)); err != nil {
		zap.L().Warn("engine: operation log append failed",
			zap.String("tenant", tenant.ID),
			zap.Error(err),
		)
	}
	return result, nil
}

// compensate unwinds the saga stack in reverse. Compensation failures are
// logged, not returned: the original provisioning error is what matters.
func (e *Engine) compensate(ctx context.Context, tenantID string, stack []compensation) {
	for i := len(stack) - 1; i >= 0; i-- {
		if err := stack[i].fn(context.WithoutCancel(ctx)); err != nil {
			zap.L().Error("engine: provision compensation failed",
				zap.String("tenant", tenantID),
				zap.String("step", stack[i].name),
				zap.Error(err),
			)
		}
	}
}
