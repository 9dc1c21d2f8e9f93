package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/poolproxy/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05.000"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory is the SQLite-backed payout store.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf *ProviderFactory) NonTx() DataStore {
	return &baseProvider{DB: sf.DB}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore: begin tx: %w", err)
	}
	return &txProvider{
		baseProvider: baseProvider{DB: tx},
		tx:           tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY
	// under concurrent inserts and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: ping: %w", err)
	}

	s := &ProviderFactory{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (sf *ProviderFactory) Close() error {
	return sf.DB.Close()
}

func (sf *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS payouts (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		address        TEXT    NOT NULL CHECK(length(address) > 0),
		amount         TEXT    NOT NULL,
		processed      INTEGER NOT NULL DEFAULT 0,
		processed_at   TEXT,
		operation_id   TEXT    NOT NULL DEFAULT '',
		transaction_id TEXT    NOT NULL DEFAULT '',
		created_at     TEXT    NOT NULL
	);
	`
	ctx := context.Background()
	if err := sf.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := sf.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_payouts_processed ON payouts(processed)",
				"CREATE INDEX IF NOT EXISTS idx_payouts_operation ON payouts(operation_id)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := sf.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := sf.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (sf *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := sf.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := sf.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := sf.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (sf *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := sf.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (sf *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := sf.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatDBTime(t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- Payouts ----

// InsertPayout stores a new payout record.
func (s *baseProvider) InsertPayout(ctx context.Context, rec *model.PayoutRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("datastore: insert payout: %w", err)
	}
	createdAt := time.Now().UTC()
	res, err := s.ExecContext(ctx,
		`INSERT INTO payouts (address, amount, processed, processed_at, operation_id, transaction_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Address,
		model.FormatAmount(rec.Amount),
		boolInt(rec.Processed),
		nullableTime(rec.ProcessedAt),
		rec.OperationID,
		rec.TransactionID,
		formatDBTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("datastore: insert payout: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	rec.CreatedAt, _ = parseDBTime(formatDBTime(createdAt))
	return nil
}

// UpdatePayout overwrites a record's fields by ID.
func (s *baseProvider) UpdatePayout(ctx context.Context, rec *model.PayoutRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("datastore: update payout: %w", err)
	}
	res, err := s.ExecContext(ctx,
		`UPDATE payouts SET address = ?, amount = ?, processed = ?, processed_at = ?, operation_id = ?, transaction_id = ?
		 WHERE id = ?`,
		rec.Address,
		model.FormatAmount(rec.Amount),
		boolInt(rec.Processed),
		nullableTime(rec.ProcessedAt),
		rec.OperationID,
		rec.TransactionID,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("datastore: update payout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: update payout: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, rec.ID)
	}
	return nil
}

// FindPayouts returns records matching filter ordered by ID.
func (s *baseProvider) FindPayouts(ctx context.Context, limit int, filter model.PayoutFilter) ([]model.PayoutRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Processed != nil {
		where = append(where, "processed = ?")
		args = append(args, boolInt(*filter.Processed))
	}
	if filter.OperationID != nil {
		where = append(where, "operation_id = ?")
		args = append(args, *filter.OperationID)
	}
	if filter.Address != nil {
		where = append(where, "address = ?")
		args = append(args, *filter.Address)
	}

	query := "SELECT id, address, amount, processed, processed_at, operation_id, transaction_id, created_at FROM payouts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: find payouts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.PayoutRecord
	for rows.Next() {
		rec, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanPayout(rows *sql.Rows) (model.PayoutRecord, error) {
	var (
		rec         model.PayoutRecord
		amount      string
		processed   int
		processedAt sql.NullString
		createdAt   string
	)
	if err := rows.Scan(&rec.ID, &rec.Address, &amount, &processed, &processedAt, &rec.OperationID, &rec.TransactionID, &createdAt); err != nil {
		return rec, fmt.Errorf("datastore: scan payout: %w", err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return rec, fmt.Errorf("datastore: scan payout %d amount: %w", rec.ID, err)
	}
	rec.Amount = d
	rec.Processed = processed != 0
	if processedAt.Valid {
		if rec.ProcessedAt, err = parseDBTime(processedAt.String); err != nil {
			return rec, fmt.Errorf("datastore: scan payout %d: %w", rec.ID, err)
		}
	}
	if rec.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return rec, fmt.Errorf("datastore: scan payout %d: %w", rec.ID, err)
	}
	return rec, nil
}
