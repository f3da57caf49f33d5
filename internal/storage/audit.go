package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postgate/internal/model"
)

const auditColumns = `id, timestamp_utc, logged_at, actor, platform, content_id, action, reason,
	platform_response, request_id, trace_id`

// InsertAudit appends an audit entry and populates its ID.
func (s *SQLite) InsertAudit(ctx context.Context, e *model.AuditEntry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp_utc, logged_at, actor, platform, content_id, action, reason,
		                         platform_response, request_id, trace_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(e.TimestampUTC), formatTime(e.LoggedAt), e.Actor, string(e.Platform), e.ContentID,
		string(e.Action), e.Reason, e.PlatformResponse, e.RequestID, e.TraceID,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// CountAudit counts entries for platform and action with timestamp_utc >= since.
func (s *SQLite) CountAudit(ctx context.Context, platform model.Platform, action model.AuditAction, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE platform = ? AND action = ? AND timestamp_utc >= ?`,
		string(platform), string(action), formatTime(since),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit: %w", err)
	}
	return count, nil
}

// LastAudit returns the most recent entry for platform and action.
func (s *SQLite) LastAudit(ctx context.Context, platform model.Platform, action model.AuditAction) (*model.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs
		 WHERE platform = ? AND action = ?
		 ORDER BY timestamp_utc DESC, id DESC LIMIT 1`,
		string(platform), string(action),
	)
	return scanAudit(row)
}

// ListAudit returns entries matching q, newest first.
func (s *SQLite) ListAudit(ctx context.Context, q AuditQuery) ([]model.AuditEntry, error) {
	var where []string
	var args []any
	if q.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, string(q.Platform))
	}
	if q.ContentID != "" {
		where = append(where, "content_id = ?")
		args = append(args, q.ContentID)
	}
	if q.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(q.Action))
	}
	if q.ReasonPrefix != "" {
		where = append(where, "reason LIKE ? || '%'")
		args = append(args, q.ReasonPrefix)
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp_utc >= ?")
		args = append(args, formatTime(q.Since))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp_utc DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanAudit(row scannable) (*model.AuditEntry, error) {
	var e model.AuditEntry
	var ts, logged, platform, action string
	err := row.Scan(&e.ID, &ts, &logged, &e.Actor, &platform, &e.ContentID, &action, &e.Reason,
		&e.PlatformResponse, &e.RequestID, &e.TraceID)
	if err != nil {
		return nil, notFound(err, "audit entry")
	}
	e.TimestampUTC = parseTime(ts)
	e.LoggedAt = parseTime(logged)
	e.Platform = model.Platform(platform)
	e.Action = model.AuditAction(action)
	return &e, nil
}

