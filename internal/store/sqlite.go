package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/docflow-cli/internal/lifecycle"
	"github.com/sells-group/docflow-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS working_records (
	id                 TEXT PRIMARY KEY,
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
	transition_history TEXT NOT NULL DEFAULT '[]',
	last_modified      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tenant_id, blob_ref)
);

CREATE TABLE IF NOT EXISTS pending_categorization (
	id               TEXT PRIMARY KEY,
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
	confidence       REAL NOT NULL,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tenant_id, blob_ref)
);

CREATE TABLE IF NOT EXISTS category_inflow (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	blob_ref         TEXT NOT NULL,
	derived_name     TEXT NOT NULL,
	doc_date         TEXT NOT NULL,
	vendor_name      TEXT NOT NULL,
	invoice_number   TEXT NOT NULL,
	amount           TEXT NOT NULL,
	document_type    TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	confidence       REAL NOT NULL,
	placed_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tenant_id, blob_ref)
);

CREATE TABLE IF NOT EXISTS category_outflow (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	blob_ref         TEXT NOT NULL,
	derived_name     TEXT NOT NULL,
	doc_date         TEXT NOT NULL,
	vendor_name      TEXT NOT NULL,
	invoice_number   TEXT NOT NULL,
	amount           TEXT NOT NULL,
	document_type    TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	confidence       REAL NOT NULL,
	placed_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tenant_id, blob_ref)
);

CREATE TABLE IF NOT EXISTS tenant_locks (
	tenant_id   TEXT PRIMARY KEY,
	holder      TEXT NOT NULL,
	acquired_at DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS operation_log (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	operation   TEXT NOT NULL,
	result      TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_working_tenant_status ON working_records(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_pending_tenant ON pending_categorization(tenant_id);
CREATE INDEX IF NOT EXISTS idx_oplog_tenant ON operation_log(tenant_id, finished_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertWorking(ctx context.Context, rec *model.WorkingRecord) error {
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
		return eris.Wrap(err, "sqlite: marshal history")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO working_records
		 (id, tenant_id, original_name, derived_name, blob_ref, invoice_number, status, reason, attempts, email_subject, email_sender, transition_history, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.OriginalName, rec.DerivedName, rec.BlobRef,
		rec.InvoiceNumber, string(rec.Status), rec.Reason, rec.Attempts,
		rec.EmailSubject, rec.EmailSender, historyJSON, now,
	)
	return eris.Wrapf(err, "sqlite: insert working %s", rec.BlobRef)
}

const workingColumns = `id, tenant_id, original_name, derived_name, blob_ref, invoice_number, status, reason, attempts, email_subject, email_sender, transition_history, last_modified`

func (s *SQLiteStore) GetWorking(ctx context.Context, tenantID, id string) (*model.WorkingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workingColumns+` FROM working_records WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)
	return scanWorking(row)
}

func (s *SQLiteStore) GetWorkingByBlobRef(ctx context.Context, tenantID, blobRef string) (*model.WorkingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workingColumns+` FROM working_records WHERE tenant_id = ? AND blob_ref = ?`,
		tenantID, blobRef,
	)
	return scanWorking(row)
}

func (s *SQLiteStore) ListWorking(ctx context.Context, tenantID string, filter WorkingFilter) ([]model.WorkingRecord, error) {
	query := `SELECT ` + workingColumns + ` FROM working_records WHERE tenant_id = ?`
	args := []any{tenantID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY last_modified ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list working")
	}
	defer rows.Close()

	var recs []model.WorkingRecord
	for rows.Next() {
		r, err := scanWorking(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list working iterate")
}

func (s *SQLiteStore) UpdateWorking(ctx context.Context, tenantID string, upd lifecycle.WorkingUpdate) error {
	// Writers are serialized by the tenant lease, so read-append-write on
	// the history column is safe here.
	rec, err := s.GetWorking(ctx, tenantID, upd.RecordID)
	if err != nil {
		return err
	}

	history := append(rec.History, upd.Event)
	historyJSON, err := marshalHistory(history)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal history")
	}

	query := `UPDATE working_records SET status = ?, reason = ?, transition_history = ?, last_modified = ?`
	args := []any{string(upd.Status), upd.Reason, historyJSON, time.Now().UTC()}

	if upd.Attempts != nil {
		query += `, attempts = ?`
		args = append(args, *upd.Attempts)
	}
	if upd.DerivedName != nil {
		query += `, derived_name = ?`
		args = append(args, *upd.DerivedName)
	}
	if upd.InvoiceNumber != nil {
		query += `, invoice_number = ?`
		args = append(args, *upd.InvoiceNumber)
	}
	query += ` WHERE tenant_id = ? AND id = ?`
	args = append(args, tenantID, upd.RecordID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update working %s", upd.RecordID)
	}
	return checkRowsAffected(res, "working record", upd.RecordID)
}

func (s *SQLiteStore) InsertPending(ctx context.Context, rec *model.PendingRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_categorization
		 (id, tenant_id, blob_ref, original_name, derived_name, email_subject, email_sender, doc_date, vendor_name, invoice_number, amount, document_type, transaction_type, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, blob_ref) DO NOTHING`,
		rec.ID, rec.TenantID, rec.BlobRef, rec.OriginalName, rec.DerivedName,
		rec.EmailSubject, rec.EmailSender, rec.Date, rec.VendorName,
		rec.InvoiceNumber, rec.Amount, string(rec.DocumentType),
		string(rec.TransactionType), rec.Confidence,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert pending %s", rec.BlobRef)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context, tenantID string) ([]model.PendingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, blob_ref, original_name, derived_name, email_subject, email_sender, doc_date, vendor_name, invoice_number, amount, document_type, transaction_type, confidence
		 FROM pending_categorization WHERE tenant_id = ? ORDER BY created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending")
	}
	defer rows.Close()

	var recs []model.PendingRecord
	for rows.Next() {
		var p model.PendingRecord
		if err := rows.Scan(&p.ID, &p.TenantID, &p.BlobRef, &p.OriginalName,
			&p.DerivedName, &p.EmailSubject, &p.EmailSender, &p.Date,
			&p.VendorName, &p.InvoiceNumber, &p.Amount, &p.DocumentType,
			&p.TransactionType, &p.Confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending")
		}
		recs = append(recs, p)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list pending iterate")
}

func (s *SQLiteStore) InsertCategory(ctx context.Context, rec *model.CategoryRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	table, err := categoryTableName(rec.Table)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+`
		 (id, tenant_id, blob_ref, derived_name, doc_date, vendor_name, invoice_number, amount, document_type, transaction_type, confidence, placed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, blob_ref) DO NOTHING`,
		rec.ID, rec.TenantID, rec.BlobRef, rec.DerivedName, rec.Date,
		rec.VendorName, rec.InvoiceNumber, rec.Amount,
		string(rec.DocumentType), string(rec.TransactionType),
		rec.Confidence, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert %s %s", table, rec.BlobRef)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListCategory(ctx context.Context, tenantID string, ct model.CategoryTable) ([]model.CategoryRecord, error) {
	table, err := categoryTableName(ct)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, blob_ref, derived_name, doc_date, vendor_name, invoice_number, amount, document_type, transaction_type, confidence
		 FROM `+table+` WHERE tenant_id = ? ORDER BY placed_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", table)
	}
	defer rows.Close()

	var recs []model.CategoryRecord
	for rows.Next() {
		var c model.CategoryRecord
		if err := rows.Scan(&c.ID, &c.TenantID, &c.BlobRef, &c.DerivedName,
			&c.Date, &c.VendorName, &c.InvoiceNumber, &c.Amount,
			&c.DocumentType, &c.TransactionType, &c.Confidence); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", table)
		}
		c.Table = ct
		recs = append(recs, c)
	}
	return recs, eris.Wrapf(rows.Err(), "sqlite: list %s iterate", table)
}

func (s *SQLiteStore) CategoryExists(ctx context.Context, tenantID, blobRef string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM category_inflow WHERE tenant_id = ? AND blob_ref = ?)
		      + (SELECT COUNT(*) FROM category_outflow WHERE tenant_id = ? AND blob_ref = ?)`,
		tenantID, blobRef, tenantID, blobRef,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: category exists")
	}
	return count > 0, nil
}

func (s *SQLiteStore) DeleteRow(ctx context.Context, tenantID string, table lifecycle.Table, blobRef string) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM `+name+` WHERE tenant_id = ? AND blob_ref = ?`,
		tenantID, blobRef,
	)
	return eris.Wrapf(err, "sqlite: delete from %s %s", name, blobRef)
}

func (s *SQLiteStore) AcquireLease(ctx context.Context, tenantID string, opts LeaseOptions) (*Lease, error) {
	token := uuid.New().String()

	return waitForLease(ctx, tenantID, opts.Wait, func(ctx context.Context) (*Lease, error) {
		now := time.Now().UTC()
		expiresAt := now.Add(opts.TTL)

		// Expired leases are stealable: clear them before trying.
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM tenant_locks WHERE tenant_id = ? AND expires_at <= ?`,
			tenantID, now,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: clear expired lease")
		}

		res, err := s.db.ExecContext(ctx,
			`INSERT INTO tenant_locks (tenant_id, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (tenant_id) DO NOTHING`,
			tenantID, token, now, expiresAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: acquire lease")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			return nil, nil
		}
		return &Lease{TenantID: tenantID, Token: token, ExpiresAt: expiresAt, TTL: opts.TTL}, nil
	})
}

func (s *SQLiteStore) RenewLease(ctx context.Context, lease *Lease) error {
	expiresAt := time.Now().UTC().Add(lease.TTL)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenant_locks SET expires_at = ? WHERE tenant_id = ? AND holder = ?`,
		expiresAt, lease.TenantID, lease.Token,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: renew lease %s", lease.TenantID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: lease for %s no longer held", lease.TenantID)
	}
	lease.ExpiresAt = expiresAt
	return nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tenant_locks WHERE tenant_id = ? AND holder = ?`,
		lease.TenantID, lease.Token,
	)
	return eris.Wrapf(err, "sqlite: release lease %s", lease.TenantID)
}

func (s *SQLiteStore) AppendOpLog(ctx context.Context, entry *OpLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal op result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operation_log (id, tenant_id, operation, result, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.Operation, string(resultJSON),
		entry.StartedAt.UTC(), entry.FinishedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: append op log")
}

func (s *SQLiteStore) ListOpLog(ctx context.Context, tenantID string, limit int) ([]OpLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, operation, result, started_at, finished_at
		 FROM operation_log WHERE tenant_id = ? ORDER BY finished_at DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list op log")
	}
	defer rows.Close()

	var entries []OpLogEntry
	for rows.Next() {
		var e OpLogEntry
		var resultJSON string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Operation, &resultJSON, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan op log")
		}
		e.Result = &model.OpResult{}
		if err := json.Unmarshal([]byte(resultJSON), e.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal op result")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list op log iterate")
}

func (s *SQLiteStore) DropTenant(ctx context.Context, tenantID string) error {
	for _, table := range []string{
		"working_records", "pending_categorization",
		"category_inflow", "category_outflow",
		"tenant_locks", "operation_log",
	} {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE tenant_id = ?`, tenantID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: drop tenant rows %s", table)
		}
	}
	return nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func tableName(t lifecycle.Table) (string, error) {
	switch t {
	case lifecycle.TableWorking:
		return "working_records", nil
	case lifecycle.TablePending:
		return "pending_categorization", nil
	case lifecycle.TableInflow:
		return "category_inflow", nil
	case lifecycle.TableOutflow:
		return "category_outflow", nil
	}
	return "", eris.Errorf("store: unknown table %q", t)
}

func categoryTableName(ct model.CategoryTable) (string, error) {
	switch ct {
	case model.CategoryInflow:
		return "category_inflow", nil
	case model.CategoryOutflow:
		return "category_outflow", nil
	}
	return "", eris.Errorf("store: unknown category table %q", ct)
}

func marshalHistory(history []model.TransitionEvent) (string, error) {
	if history == nil {
		history = []model.TransitionEvent{}
	}
	b, err := json.Marshal(history)
	return string(b), err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanWorking(row scannable) (*model.WorkingRecord, error) {
	var r model.WorkingRecord
	var status string
	var historyJSON string

	err := row.Scan(&r.ID, &r.TenantID, &r.OriginalName, &r.DerivedName,
		&r.BlobRef, &r.InvoiceNumber, &status, &r.Reason, &r.Attempts,
		&r.EmailSubject, &r.EmailSender, &historyJSON, &r.LastModified)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan working record")
	}

	r.Status = model.Status(status)
	if err := json.Unmarshal([]byte(historyJSON), &r.History); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal history")
	}
	return &r, nil
}
