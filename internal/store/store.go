// Package store is the record store adapter: typed CRUD over the four
// logical document tables plus the tenant lease lock and the operation
// log. Two backends exist, SQLite for local use and Postgres for shared
// deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow-cli/internal/lifecycle"
	"github.com/sells-group/docflow-cli/internal/model"
	"github.com/sells-group/docflow-cli/internal/resilience"
)

// WorkingFilter specifies criteria for listing working records.
type WorkingFilter struct {
	Status model.Status `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// Lease is a held tenant lock. Release requires the same holder token, so
// a stale process cannot release a lease that was stolen after expiry.
type Lease struct {
	TenantID  string
	Token     string
	ExpiresAt time.Time
	TTL       time.Duration
}

// LeaseOptions bound lease acquisition.
type LeaseOptions struct {
	// Wait is the maximum time to block for a contended lock.
	Wait time.Duration
	// TTL is how long the lease is valid before it becomes stealable.
	TTL time.Duration
}

// OpLogEntry is one command-surface run recorded in the operation log.
type OpLogEntry struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Operation  string          `json:"operation"`
	Result     *model.OpResult `json:"result"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the document lifecycle.
type Store interface {
	// Working table
	InsertWorking(ctx context.Context, rec *model.WorkingRecord) error
	GetWorking(ctx context.Context, tenantID, id string) (*model.WorkingRecord, error)
	GetWorkingByBlobRef(ctx context.Context, tenantID, blobRef string) (*model.WorkingRecord, error)
	ListWorking(ctx context.Context, tenantID string, filter WorkingFilter) ([]model.WorkingRecord, error)
	// UpdateWorking applies a planned working-row rewrite: status, reason,
	// and the history event land atomically, plus any optional fields.
	UpdateWorking(ctx context.Context, tenantID string, upd lifecycle.WorkingUpdate) error

	// Pending categorization. Insert reports false when a row for the
	// blob reference already exists (duplicate prevention, not an error).
	InsertPending(ctx context.Context, rec *model.PendingRecord) (bool, error)
	ListPending(ctx context.Context, tenantID string) ([]model.PendingRecord, error)

	// Terminal category tables. CategoryExists checks both tables, which
	// is how at-most-one placement is enforced across them.
	InsertCategory(ctx context.Context, rec *model.CategoryRecord) (bool, error)
	ListCategory(ctx context.Context, tenantID string, table model.CategoryTable) ([]model.CategoryRecord, error)
	CategoryExists(ctx context.Context, tenantID, blobRef string) (bool, error)

	// DeleteRow removes the row for blobRef from any of the four tables.
	// Deleting a row that is already gone is not an error.
	DeleteRow(ctx context.Context, tenantID string, table lifecycle.Table, blobRef string) error

	// Tenant lease lock. RenewLease extends a held lease by its TTL and
	// fails if the lease was stolen; batches longer than the TTL renew
	// periodically so a live slow holder is never stolen from.
	AcquireLease(ctx context.Context, tenantID string, opts LeaseOptions) (*Lease, error)
	RenewLease(ctx context.Context, lease *Lease) error
	ReleaseLease(ctx context.Context, lease *Lease) error

	// Operation log
	AppendOpLog(ctx context.Context, entry *OpLogEntry) error
	ListOpLog(ctx context.Context, tenantID string, limit int) ([]OpLogEntry, error)

	// DropTenant removes every row belonging to the tenant, in all
	// tables. Used by provisioning compensation.
	DropTenant(ctx context.Context, tenantID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// leasePollInterval is how often a blocked acquirer retries.
const leasePollInterval = 250 * time.Millisecond

// waitForLease polls tryAcquire until it succeeds, the wait bound passes,
// or the context is canceled. Both backends share this loop; only the
// single-attempt SQL differs.
func waitForLease(ctx context.Context, tenantID string, wait time.Duration, tryAcquire func(context.Context) (*Lease, error)) (*Lease, error) {
	deadline := time.Now().Add(wait)
	for {
		lease, err := tryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return lease, nil
		}
		if time.Now().After(deadline) {
			return nil, resilience.NewCoded(resilience.CodeSystemError,
				eris.Errorf("store: tenant %s lock not acquired within %s", tenantID, wait))
		}
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "store: lease wait")
		case <-time.After(leasePollInterval):
		}
	}
}
