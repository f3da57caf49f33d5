package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"postgate/internal/model"
	"postgate/internal/status"
)

const contentColumns = `id, title, status, platform, scheduled_at, payload_ref, media_signature,
	platform_post_id, last_error, source_ref, created_at, updated_at`

// CreateContent inserts a content item, assigning an ID and timestamps when missing.
func (s *SQLite) CreateContent(ctx context.Context, item *model.ContentItem) error {
	if item.Status == "" {
		item.Status = model.StatusDraft
	}
	if !status.IsCanonical(item.Status) {
		return fmt.Errorf("insert content: non-canonical status %q", item.Status)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.CreatedAt = now.Truncate(time.Millisecond)
	item.UpdatedAt = item.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_items (`+contentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Title, string(item.Status), string(item.Platform), nullableTime(item.ScheduledAt),
		item.PayloadRef, item.MediaSignature, item.PlatformPostID, item.LastError, item.SourceRef,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

// GetContent returns a single content item by its ID.
func (s *SQLite) GetContent(ctx context.Context, id string) (*model.ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content_items WHERE id = ?`, id)
	return scanContent(row)
}

// UpdateContent persists the mutable fields of an existing content item.
func (s *SQLite) UpdateContent(ctx context.Context, item *model.ContentItem) error {
	if !status.IsCanonical(item.Status) {
		return fmt.Errorf("update content: non-canonical status %q", item.Status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_items
		 SET title = ?, status = ?, platform = ?, scheduled_at = ?, payload_ref = ?, media_signature = ?,
		     platform_post_id = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		item.Title, string(item.Status), string(item.Platform), nullableTime(item.ScheduledAt),
		item.PayloadRef, item.MediaSignature, item.PlatformPostID, item.LastError, formatTime(now), item.ID,
	)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update content %s: %w", item.ID, ErrNotFound)
	}
	item.UpdatedAt = now.Truncate(time.Millisecond)
	return nil
}

// ListContent returns content items in the given state, oldest first.
func (s *SQLite) ListContent(ctx context.Context, st model.Status, limit int) ([]model.ContentItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		string(st), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanContents(rows)
}

// ListDueContent returns scheduled items whose scheduled time has passed, earliest first.
func (s *SQLite) ListDueContent(ctx context.Context, now time.Time, limit int) ([]model.ContentItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contentColumns+`
		 FROM content_items
		 WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		 ORDER BY scheduled_at, id
		 LIMIT ?`,
		string(model.StatusScheduled), formatTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due content: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanContents(rows)
}

func scanContent(row scannable) (*model.ContentItem, error) {
	var c model.ContentItem
	var rawStatus, platform, created, updated string
	var scheduled sql.NullString
	err := row.Scan(&c.ID, &c.Title, &rawStatus, &platform, &scheduled, &c.PayloadRef, &c.MediaSignature,
		&c.PlatformPostID, &c.LastError, &c.SourceRef, &created, &updated)
	if err != nil {
		return nil, notFound(err, "content")
	}
	c.Status = status.MapLegacyStatus(rawStatus)
	c.Platform = model.Platform(platform)
	c.ScheduledAt = scanNullTime(scheduled)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

func scanContents(rows *sql.Rows) ([]model.ContentItem, error) {
	var items []model.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *c)
	}
	return items, rows.Err()
}
