package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"drive-relay/internal/model"
)

type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	builder    sq.StatementBuilderType
	timeCol    timeColumn
}

func NewSQLiteStore(ctx context.Context, path string, maxEntries int) (*SQLiteStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		maxEntries: maxEntries,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db),
		timeCol: timeColumn{
			name:   "occurred_at_unix",
			encode: func(t time.Time) any { return t.UnixNano() },
		},
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			log_id TEXT NOT NULL UNIQUE,
			occurred_at_unix INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			command_type TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			destination_path TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			extra TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_user_type_time
			ON audit_entries(user_id, command_type, occurred_at_unix);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate sqlite audit: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Name() string {
	return "sqlite"
}

func (s *SQLiteStore) Insert(ctx context.Context, entry model.AuditEntry) error {
	extra, err := encodeExtra(entry.Extra)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	txBuilder := s.builder.RunWith(tx)

	_, err = txBuilder.Insert(auditTable).
		Columns(append(entryColumns, "occurred_at_unix")...).
		Values(entry.LogID, entry.UserID, entry.CommandType, entry.Path, entry.DestinationPath,
			entry.Result, entry.ErrorMessage, extra, entry.Timestamp.UTC().UnixNano()).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	if _, err := retentionDelete(txBuilder, s.maxEntries).ExecContext(ctx); err != nil {
		return fmt.Errorf("apply audit retention: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Select(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	query := s.builder.Select(append(entryColumns, "occurred_at_unix")...).From(auditTable)
	query = applyFilter(query, filter, s.timeCol)
	query = applyLimit(query.OrderBy("id DESC"), filter.Limit, s.maxEntries)

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("select audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		var e model.AuditEntry
		var extra sql.NullString
		var unixNano int64
		if err := rows.Scan(&e.LogID, &e.UserID, &e.CommandType, &e.Path, &e.DestinationPath,
			&e.Result, &e.ErrorMessage, &extra, &unixNano); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(0, unixNano).UTC()
		if extra.Valid {
			e.Extra = decodeExtra([]byte(extra.String))
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Count(ctx context.Context, filter model.AuditFilter) (int, error) {
	query := applyFilter(s.builder.Select("COUNT(*)").From(auditTable), filter, s.timeCol)

	var count int
	if err := query.QueryRowContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Size(ctx context.Context) (StoreSize, error) {
	var size StoreSize
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&size.Entries); err != nil {
		return StoreSize{}, fmt.Errorf("count audit rows: %w", err)
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
	).Scan(&size.Bytes)
	if err != nil {
		return StoreSize{}, fmt.Errorf("sqlite page size: %w", err)
	}
	return size, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
