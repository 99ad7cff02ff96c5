package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow-cli/internal/db"
	"github.com/sells-group/docflow-cli/internal/lifecycle"
	"github.com/sells-group/docflow-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_working_by_id":   `SELECT ` + workingColumns + ` FROM working_records WHERE tenant_id = $1 AND id = $2`,
	"get_working_by_blob": `SELECT ` + workingColumns + ` FROM working_records WHERE tenant_id = $1 AND blob_ref = $2`,
	"insert_pending": `INSERT INTO pending_categorization
		 (id, tenant_id, blob_ref, original_name, derived_name, email_subject, email_sender, doc_date, vendor_name, invoice_number, amount, document_type, transaction_type, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (tenant_id, blob_ref) DO NOTHING`,
	"clear_expired_lease": `DELETE FROM tenant_locks WHERE tenant_id = $1 AND expires_at <= now()`,
	"acquire_lease": `INSERT INTO tenant_locks (tenant_id, holder, acquired_at, expires_at) VALUES ($1, $2, now(), $3)
		 ON CONFLICT (tenant_id) DO NOTHING`,
	"renew_lease":   `UPDATE tenant_locks SET expires_at = $3 WHERE tenant_id = $1 AND holder = $2`,
	"release_lease": `DELETE FROM tenant_locks WHERE tenant_id = $1 AND holder = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS working_records (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id          TEXT NOT NULL,
	original_name      TEXT NOT NULL,
	derived_name       TEXT NOT NULL DEFAULT '',
	blob_ref           TEXT NOT NULL,
	invoice_number     TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'active',
	reason             TEXT NOT NULL DEFAULT '',
	attempts           INTEGER NOT NULL DEFAULT 0,
	email_subject      TEXT NOT NULL DEFAULT '',
	email_sender       TEXT NOT NULL DEFAULT '',
	transition_history JSONB NOT NULL DEFAULT '[]',
	last_modified      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, blob_ref)
);

CREATE TABLE IF NOT EXISTS pending_categorization (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id        TEXT NOT NULL,
	blob_ref         TEXT NOT NULL,
	original_name    TEXT NOT NULL DEFAULT '',
	derived_name     TEXT NOT NULL,
	email_subject    TEXT NOT NULL DEFAULT '',
	email_sender     TEXT NOT NULL DEFAULT '',
	doc_date         TEXT NOT NULL,
	vendor_name      TEXT NOT NULL,
	invoice_number   TEXT NOT NULL,
	amount           TEXT NOT NULL,
	document_type    TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, blob_ref)
);

CREATE TABLE IF NOT EXISTS category_inflow (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id        TEXT NOT NULL,
	blob_ref         TEXT NOT NULL,
	derived_name     TEXT NOT NULL,
	doc_date         TEXT NOT NULL,
	vendor_name      TEXT NOT NULL,
	invoice_number   TEXT NOT NULL,
	amount           TEXT NOT NULL,
	document_type    TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	placed_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, blob_ref)
);

CREATE TABLE IF NOT EXISTS category_outflow (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id        TEXT NOT NULL,
	blob_ref         TEXT NOT NULL,
	derived_name     TEXT NOT NULL,
	doc_date         TEXT NOT NULL,
	vendor_name      TEXT NOT NULL,
	invoice_number   TEXT NOT NULL,
	amount           TEXT NOT NULL,
	document_type    TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	placed_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, blob_ref)
);

CREATE TABLE IF NOT EXISTS tenant_locks (
	tenant_id   TEXT PRIMARY KEY,
	holder      TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS operation_log (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id   TEXT NOT NULL,
	operation   TEXT NOT NULL,
	result      JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_working_tenant_status ON working_records(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_pending_tenant ON pending_categorization(tenant_id);
CREATE INDEX IF NOT EXISTS idx_oplog_tenant ON operation_log(tenant_id, finished_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InsertWorking(ctx context.Context, rec *model.WorkingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}
	now := time.Now().UTC()
	rec.LastModified = now

	historyJSON, err := marshalHistory(rec.History)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal history")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO working_records
		 (id, tenant_id, original_name, derived_name, blob_ref, invoice_number, status, reason, attempts, email_subject, email_sender, transition_history, last_modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.TenantID, rec.OriginalName, rec.DerivedName, rec.BlobRef,
		rec.InvoiceNumber, string(rec.Status), rec.Reason, rec.Attempts,
		rec.EmailSubject, rec.EmailSender, historyJSON, now,
	)
	return eris.Wrapf(err, "postgres: insert working %s", rec.BlobRef)
}

func (s *PostgresStore) GetWorking(ctx context.Context, tenantID, id string) (*model.WorkingRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workingColumns+` FROM working_records WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	return scanPgWorking(row)
}

func (s *PostgresStore) GetWorkingByBlobRef(ctx context.Context, tenantID, blobRef string) (*model.WorkingRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workingColumns+` FROM working_records WHERE tenant_id = $1 AND blob_ref = $2`,
		tenantID, blobRef,
	)
	return scanPgWorking(row)
}

func (s *PostgresStore) ListWorking(ctx context.Context, tenantID string, filter WorkingFilter) ([]model.WorkingRecord, error) {
	query := `SELECT ` + workingColumns + ` FROM working_records WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Status != "" {
		query += ` AND status = $2`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY last_modified ASC`

	if filter.Limit > 0 {
		if filter.Status != "" {
			query += ` LIMIT $3`
		} else {
			query += ` LIMIT $2`
		}
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list working")
	}
	defer rows.Close()

	var recs []model.WorkingRecord
	for rows.Next() {
		r, err := scanPgWorking(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list working iterate")
}

func (s *PostgresStore) UpdateWorking(ctx context.Context, tenantID string, upd lifecycle.WorkingUpdate) error {
	// Writers are serialized by the tenant lease; the history append uses
	// a JSONB concatenation so the whole rewrite is one statement.
	eventJSON, err := json.Marshal(upd.Event)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal event")
	}

	query := `UPDATE working_records
	          SET status = $1, reason = $2,
	              transition_history = transition_history || $3::jsonb,
	              last_modified = now()`
	args := []any{string(upd.Status), upd.Reason, string(eventJSON)}
	argIdx := 4

	if upd.Attempts != nil {
		query += `, attempts = $` + strconv.Itoa(argIdx)
		args = append(args, *upd.Attempts)
		argIdx++
	}
	if upd.DerivedName != nil {
		query += `, derived_name = $` + strconv.Itoa(argIdx)
		args = append(args, *upd.DerivedName)
		argIdx++
	}
	if upd.InvoiceNumber != nil {
		query += `, invoice_number = $` + strconv.Itoa(argIdx)
		args = append(args, *upd.InvoiceNumber)
		argIdx++
	}
	query += ` WHERE tenant_id = $` + strconv.Itoa(argIdx) + ` AND id = $` + strconv.Itoa(argIdx+1)
	args = append(args, tenantID, upd.RecordID)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update working %s", upd.RecordID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "working record %s", upd.RecordID)
	}
	return nil
}

func (s *PostgresStore) InsertPending(ctx context.Context, rec *model.PendingRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pending_categorization
		 (id, tenant_id, blob_ref, original_name, derived_name, email_subject, email_sender, doc_date, vendor_name, invoice_number, amount, document_type, transaction_type, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (tenant_id, blob_ref) DO NOTHING`,
		rec.ID, rec.TenantID, rec.BlobRef, rec.OriginalName, rec.DerivedName,
		rec.EmailSubject, rec.EmailSender, rec.Date, rec.VendorName,
		rec.InvoiceNumber, rec.Amount, string(rec.DocumentType),
		string(rec.TransactionType), rec.Confidence,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert pending %s", rec.BlobRef)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, tenantID string) ([]model.PendingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, blob_ref, original_name, derived_name, email_subject, email_sender, doc_date, vendor_name, invoice_number, amount, document_type, transaction_type, confidence
		 FROM pending_categorization WHERE tenant_id = $1 ORDER BY created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending")
	}
	defer rows.Close()

	var recs []model.PendingRecord
	for rows.Next() {
		var p model.PendingRecord
		if err := rows.Scan(&p.ID, &p.TenantID, &p.BlobRef, &p.OriginalName,
			&p.DerivedName, &p.EmailSubject, &p.EmailSender, &p.Date,
			&p.VendorName, &p.InvoiceNumber, &p.Amount, &p.DocumentType,
			&p.TransactionType, &p.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending")
		}
		recs = append(recs, p)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list pending iterate")
}

func (s *PostgresStore) InsertCategory(ctx context.Context, rec *model.CategoryRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	table, err := categoryTableName(rec.Table)
	if err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+`
		 (id, tenant_id, blob_ref, derived_name, doc_date, vendor_name, invoice_number, amount, document_type, transaction_type, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (tenant_id, blob_ref) DO NOTHING`,
		rec.ID, rec.TenantID, rec.BlobRef, rec.DerivedName, rec.Date,
		rec.VendorName, rec.InvoiceNumber, rec.Amount,
		string(rec.DocumentType), string(rec.TransactionType), rec.Confidence,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert %s %s", table, rec.BlobRef)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListCategory(ctx context.Context, tenantID string, ct model.CategoryTable) ([]model.CategoryRecord, error) {
	table, err := categoryTableName(ct)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, blob_ref, derived_name, doc_date, vendor_name, invoice_number, amount, document_type, transaction_type, confidence
		 FROM `+table+` WHERE tenant_id = $1 ORDER BY placed_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", table)
	}
	defer rows.Close()

	var recs []model.CategoryRecord
	for rows.Next() {
		var c model.CategoryRecord
		if err := rows.Scan(&c.ID, &c.TenantID, &c.BlobRef, &c.DerivedName,
			&c.Date, &c.VendorName, &c.InvoiceNumber, &c.Amount,
			&c.DocumentType, &c.TransactionType, &c.Confidence); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", table)
		}
		c.Table = ct
		recs = append(recs, c)
	}
	return recs, eris.Wrapf(rows.Err(), "postgres: list %s iterate", table)
}

func (s *PostgresStore) CategoryExists(ctx context.Context, tenantID, blobRef string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM category_inflow WHERE tenant_id = $1 AND blob_ref = $2)
		      + (SELECT COUNT(*) FROM category_outflow WHERE tenant_id = $1 AND blob_ref = $2)`,
		tenantID, blobRef,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "postgres: category exists")
	}
	return count > 0, nil
}

func (s *PostgresStore) DeleteRow(ctx context.Context, tenantID string, table lifecycle.Table, blobRef string) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`DELETE FROM `+name+` WHERE tenant_id = $1 AND blob_ref = $2`,
		tenantID, blobRef,
	)
	return eris.Wrapf(err, "postgres: delete from %s %s", name, blobRef)
}

func (s *PostgresStore) AcquireLease(ctx context.Context, tenantID string, opts LeaseOptions) (*Lease, error) {
	token := uuid.New().String()

	return waitForLease(ctx, tenantID, opts.Wait, func(ctx context.Context) (*Lease, error) {
		expiresAt := time.Now().UTC().Add(opts.TTL)

		// Expired leases are stealable: clear them before trying.
		if _, err := s.pool.Exec(ctx,
			`DELETE FROM tenant_locks WHERE tenant_id = $1 AND expires_at <= now()`,
			tenantID,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: clear expired lease")
		}

		tag, err := s.pool.Exec(ctx,
			`INSERT INTO tenant_locks (tenant_id, holder, acquired_at, expires_at) VALUES ($1, $2, now(), $3)
			 ON CONFLICT (tenant_id) DO NOTHING`,
			tenantID, token, expiresAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: acquire lease")
		}
		if tag.RowsAffected() == 0 {
			return nil, nil
		}
		return &Lease{TenantID: tenantID, Token: token, ExpiresAt: expiresAt, TTL: opts.TTL}, nil
	})
}

func (s *PostgresStore) RenewLease(ctx context.Context, lease *Lease) error {
	expiresAt := time.Now().UTC().Add(lease.TTL)
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenant_locks SET expires_at = $3 WHERE tenant_id = $1 AND holder = $2`,
		lease.TenantID, lease.Token, expiresAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: renew lease %s", lease.TenantID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: lease for %s no longer held", lease.TenantID)
	}
	lease.ExpiresAt = expiresAt
	return nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM tenant_locks WHERE tenant_id = $1 AND holder = $2`,
		lease.TenantID, lease.Token,
	)
	return eris.Wrapf(err, "postgres: release lease %s", lease.TenantID)
}

func (s *PostgresStore) AppendOpLog(ctx context.Context, entry *OpLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal op result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO operation_log (id, tenant_id, operation, result, started_at, finished_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.TenantID, entry.Operation, resultJSON,
		entry.StartedAt.UTC(), entry.FinishedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: append op log")
}

func (s *PostgresStore) ListOpLog(ctx context.Context, tenantID string, limit int) ([]OpLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, operation, result, started_at, finished_at
		 FROM operation_log WHERE tenant_id = $1 ORDER BY finished_at DESC LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list op log")
	}
	defer rows.Close()

	var entries []OpLogEntry
	for rows.Next() {
		var e OpLogEntry
		var resultJSON []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Operation, &resultJSON, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan op log")
		}
		e.Result = &model.OpResult{}
		if err := json.Unmarshal(resultJSON, e.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal op result")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list op log iterate")
}

func (s *PostgresStore) DropTenant(ctx context.Context, tenantID string) error {
	for _, table := range []string{
		"working_records", "pending_categorization",
		"category_inflow", "category_outflow",
		"tenant_locks", "operation_log",
	} {
		if _, err := s.pool.Exec(ctx,
			`DELETE FROM `+table+` WHERE tenant_id = $1`, tenantID,
		); err != nil {
			return eris.Wrapf(err, "postgres: drop tenant rows %s", table)
		}
	}
	return nil
}

func scanPgWorking(row pgx.Row) (*model.WorkingRecord, error) {
	var r model.WorkingRecord
	var status string
	var historyJSON []byte

	err := row.Scan(&r.ID, &r.TenantID, &r.OriginalName, &r.DerivedName,
		&r.BlobRef, &r.InvoiceNumber, &status, &r.Reason, &r.Attempts,
		&r.EmailSubject, &r.EmailSender, &historyJSON, &r.LastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan working record")
	}

	r.Status = model.Status(status)
	if err := json.Unmarshal(historyJSON, &r.History); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal history")
	}
	return &r, nil
}

