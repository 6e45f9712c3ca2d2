package audit

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"drive-relay/internal/model"
)

type PostgresStore struct {
	pool       *pgxpool.Pool
	maxEntries int
	builder    sq.StatementBuilderType
	timeCol    timeColumn
}

func NewPostgresStore(pool *pgxpool.Pool, maxEntries int) *PostgresStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &PostgresStore{
		pool:       pool,
		maxEntries: maxEntries,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		timeCol: timeColumn{
			name:   "occurred_at",
			encode: func(t time.Time) any { return t },
		},
	}
}

func (s *PostgresStore) Name() string {
	return "postgres"
}

// Insert writes the entry and enforces retention in one transaction.
func (s *PostgresStore) Insert(ctx context.Context, entry model.AuditEntry) error {
	extra, err := encodeExtra(entry.Extra)
	if err != nil {
		return err
	}

	insertSQL, insertArgs, err := s.builder.Insert(auditTable).
		Columns(append(entryColumns, "occurred_at")...).
		Values(entry.LogID, entry.UserID, entry.CommandType, entry.Path, entry.DestinationPath,
			entry.Result, entry.ErrorMessage, extra, entry.Timestamp.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	deleteSQL, deleteArgs, err := retentionDelete(s.builder, s.maxEntries).ToSql()
	if err != nil {
		return fmt.Errorf("build audit retention: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertSQL, insertArgs...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
		return fmt.Errorf("apply audit retention: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Select(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	query := s.builder.Select(append(entryColumns, "occurred_at")...).From(auditTable)
	query = applyFilter(query, filter, s.timeCol)
	query = applyLimit(query.OrderBy("id DESC"), filter.Limit, s.maxEntries)

	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit select: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("select audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		var e model.AuditEntry
		var extra []byte
		if err := rows.Scan(&e.LogID, &e.UserID, &e.CommandType, &e.Path, &e.DestinationPath,
			&e.Result, &e.ErrorMessage, &extra, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Extra = decodeExtra(extra)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Count(ctx context.Context, filter model.AuditFilter) (int, error) {
	query := applyFilter(s.builder.Select("COUNT(*)").From(auditTable), filter, s.timeCol)
	sqlText, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build audit count: %w", err)
	}

	var count int
	if err := s.pool.QueryRow(ctx, sqlText, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Size(ctx context.Context) (StoreSize, error) {
	var size StoreSize
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), pg_total_relation_size('audit_entries') FROM audit_entries`,
	).Scan(&size.Entries, &size.Bytes)
	if err != nil {
		return StoreSize{}, fmt.Errorf("audit table size: %w", err)
	}
	return size, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
