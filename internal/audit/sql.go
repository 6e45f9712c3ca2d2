package audit

import (
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"drive-relay/internal/model"
)

const auditTable = "audit_entries"

// timeColumn hides the dialect difference: Postgres stores timestamptz,
// SQLite stores unix nanoseconds.
type timeColumn struct {
	name   string
	encode func(time.Time) any
}

func applyFilter(b sq.SelectBuilder, f model.AuditFilter, tc timeColumn) sq.SelectBuilder {
	if f.UserID != "" {
		b = b.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.CommandType != "" {
		b = b.Where(sq.Eq{"command_type": f.CommandType})
	}
	if f.Result != "" {
		b = b.Where(sq.Eq{"result": f.Result})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.Gt{tc.name: tc.encode(f.Since.UTC())})
	}
	if !f.Until.IsZero() {
		b = b.Where(sq.LtOrEq{tc.name: tc.encode(f.Until.UTC())})
	}
	return b
}

func applyLimit(b sq.SelectBuilder, limit int, ceiling int) sq.SelectBuilder {
	if limit <= 0 || limit > ceiling {
		limit = ceiling
	}
	return b.Limit(uint64(limit))
}

// retentionDelete removes everything older than the newest ceiling rows.
func retentionDelete(builder sq.StatementBuilderType, ceiling int) sq.DeleteBuilder {
	return builder.Delete(auditTable).
		Where(sq.Expr("id <= (SELECT id FROM "+auditTable+" ORDER BY id DESC LIMIT 1 OFFSET ?)", ceiling))
}

func encodeExtra(extra map[string]any) (*string, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra: %w", err)
	}
	s := string(data)
	return &s, nil
}

func decodeExtra(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil
	}
	return extra
}

var entryColumns = []string{
	"log_id", "user_id", "command_type", "path", "destination_path", "result", "error_message", "extra",
}
