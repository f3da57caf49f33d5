package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"postgate/internal/model"
)

const sourceColumns = `id, name, url, platform, interval_minutes, is_active, last_check_at, created_at`

// CreateSource inserts a new intake source and populates its ID and CreatedAt.
func (s *SQLite) CreateSource(ctx context.Context, src *model.IntakeSource) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO intake_sources (name, url, platform, interval_minutes, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		src.Name, src.URL, string(src.Platform), src.IntervalMinutes, boolToInt(src.IsActive), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	src.ID = id
	src.CreatedAt = parseTime(formatTime(now))
	return nil
}

// GetSource returns a single intake source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id int64) (*model.IntakeSource, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM intake_sources WHERE id = ?`, id)
	return scanSource(row)
}

// ListSources returns all intake sources.
func (s *SQLite) ListSources(ctx context.Context) ([]model.IntakeSource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM intake_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// ListDueSources returns active sources whose check interval has elapsed at now.
func (s *SQLite) ListDueSources(ctx context.Context, now time.Time) ([]model.IntakeSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+`
		 FROM intake_sources
		 WHERE is_active = 1
		   AND (last_check_at IS NULL
		        OR datetime(last_check_at, '+' || interval_minutes || ' minutes') <= datetime(?))
		 ORDER BY id`,
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("query due sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// UpdateSource persists changes to an existing intake source.
func (s *SQLite) UpdateSource(ctx context.Context, src *model.IntakeSource) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE intake_sources
		 SET name = ?, url = ?, platform = ?, interval_minutes = ?, is_active = ?, last_check_at = ?
		 WHERE id = ?`,
		src.Name, src.URL, string(src.Platform), src.IntervalMinutes, boolToInt(src.IsActive),
		nullableTime(src.LastCheckAt), src.ID,
	)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return nil
}

// DeleteSource removes a source together with its rules and seen items.
func (s *SQLite) DeleteSource(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_items WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("delete seen_items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM intake_rules WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("delete intake_rules: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM intake_sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return tx.Commit()
}

// CreateRule inserts a new intake rule and populates its ID and CreatedAt.
func (s *SQLite) CreateRule(ctx context.Context, r *model.IntakeRule) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO intake_rules (source_id, kind, scope, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.SourceID, string(r.Kind), string(r.Scope), r.Value, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	r.ID = id
	r.CreatedAt = parseTime(formatTime(now))
	return nil
}

// ListRules returns all rules for the given source.
func (s *SQLite) ListRules(ctx context.Context, sourceID int64) ([]model.IntakeRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, kind, scope, value, created_at FROM intake_rules WHERE source_id = ? ORDER BY id`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.IntakeRule
	for rows.Next() {
		var r model.IntakeRule
		var kind, scope, created string
		if err := rows.Scan(&r.ID, &r.SourceID, &kind, &scope, &r.Value, &created); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Kind = model.RuleKind(kind)
		r.Scope = model.RuleScope(scope)
		r.CreatedAt = parseTime(created)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule by its ID.
func (s *SQLite) DeleteRule(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM intake_rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

// MarkSeen records that a feed item has been imported.
func (s *SQLite) MarkSeen(ctx context.Context, sourceID int64, guid string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_items (source_id, guid) VALUES (?, ?)`, sourceID, guid,
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// IsSeen checks whether a feed item has already been imported.
func (s *SQLite) IsSeen(ctx context.Context, sourceID int64, guid string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_items WHERE source_id = ? AND guid = ?`, sourceID, guid,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count > 0, nil
}

func scanSource(row scannable) (*model.IntakeSource, error) {
	var src model.IntakeSource
	var platform, created string
	var isActive int
	var lastCheck sql.NullString
	err := row.Scan(&src.ID, &src.Name, &src.URL, &platform, &src.IntervalMinutes, &isActive, &lastCheck, &created)
	if err != nil {
		return nil, notFound(err, "source")
	}
	src.Platform = model.Platform(platform)
	src.IsActive = isActive == 1
	src.LastCheckAt = scanNullTime(lastCheck)
	src.CreatedAt = parseTime(created)
	return &src, nil
}

func scanSources(rows *sql.Rows) ([]model.IntakeSource, error) {
	var sources []model.IntakeSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}
