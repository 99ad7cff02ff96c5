package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow-cli/internal/lifecycle"
	"github.com/sells-group/docflow-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgres_GetWorking_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM working_records WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("acme", "nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetWorking(context.Background(), "acme", "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetWorkingByBlobRef(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM working_records WHERE tenant_id = \$1 AND blob_ref = \$2`).
		WithArgs("acme", "doc.pdf").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "original_name", "derived_name", "blob_ref",
			"invoice_number", "status", "reason", "attempts",
			"email_subject", "email_sender", "transition_history", "last_modified",
		}).AddRow(
			"id-1", "acme", "scan.pdf", "", "doc.pdf",
			"", "active", "", 0,
			"", "", []byte(`[]`), now,
		))

	rec, err := s.GetWorkingByBlobRef(context.Background(), "acme", "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "id-1", rec.ID)
	assert.Equal(t, model.StatusActive, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertPending_DuplicateSkipped(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO pending_categorization .* ON CONFLICT \(tenant_id, blob_ref\) DO NOTHING`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertPending(context.Background(), &model.PendingRecord{
		TenantID: "acme", BlobRef: "doc.pdf", DerivedName: "x.pdf",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateWorking_AppendsHistoryAtomically(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE working_records\s+SET status = \$1, reason = \$2,\s+transition_history = transition_history \|\| \$3::jsonb`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	attempts := 2
	err := s.UpdateWorking(context.Background(), "acme", lifecycle.WorkingUpdate{
		RecordID: "id-1",
		Status:   model.StatusFailed,
		Reason:   "AI Processing Failed: timeout (2026-03-14 12:00:00)",
		Event:    model.TransitionEvent{Kind: model.TransitionFailed, At: time.Now().UTC()},
		Attempts: &attempts,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateWorking_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE working_records`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateWorking(context.Background(), "acme", lifecycle.WorkingUpdate{
		RecordID: "missing",
		Status:   model.StatusActive,
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CategoryExists_ChecksBothTables(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT \(SELECT COUNT\(\*\) FROM category_inflow.*\+ \(SELECT COUNT\(\*\) FROM category_outflow`).
		WithArgs("acme", "doc.pdf").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := s.CategoryExists(context.Background(), "acme", "doc.pdf")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AcquireLease_StealsExpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM tenant_locks WHERE tenant_id = \$1 AND expires_at <= now\(\)`).
		WithArgs("acme").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO tenant_locks .* ON CONFLICT \(tenant_id\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	lease, err := s.AcquireLease(context.Background(), "acme", LeaseOptions{Wait: time.Second, TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "acme", lease.TenantID)
	assert.NotEmpty(t, lease.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReleaseLease_ByHolderToken(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM tenant_locks WHERE tenant_id = \$1 AND holder = \$2`).
		WithArgs("acme", "token-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := s.ReleaseLease(context.Background(), &Lease{TenantID: "acme", Token: "token-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RenewLease_ExtendsExpiry(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE tenant_locks SET expires_at = \$3 WHERE tenant_id = \$1 AND holder = \$2`).
		WithArgs("acme", "token-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	lease := &Lease{TenantID: "acme", Token: "token-1", TTL: time.Minute}
	before := lease.ExpiresAt
	err := s.RenewLease(context.Background(), lease)
	require.NoError(t, err)
	assert.True(t, lease.ExpiresAt.After(before))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RenewLease_StolenLeaseFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE tenant_locks SET expires_at = \$3 WHERE tenant_id = \$1 AND holder = \$2`).
		WithArgs("acme", "token-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.RenewLease(context.Background(), &Lease{TenantID: "acme", Token: "token-1", TTL: time.Minute})
	assert.Error(t, err, "renewing a lease held by another token fails")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteRow_Idempotent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM category_inflow WHERE tenant_id = \$1 AND blob_ref = \$2`).
		WithArgs("acme", "doc.pdf").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteRow(context.Background(), "acme", lifecycle.TableInflow, "doc.pdf")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendOpLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO operation_log`).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	now := time.Now().UTC()
	err := s.AppendOpLog(context.Background(), &OpLogEntry{
		TenantID:   "acme",
		Operation:  "process",
		Result:     &model.OpResult{Operation: "process", Tenant: "acme"},
		StartedAt:  now,
		FinishedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
