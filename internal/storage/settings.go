package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetSetting decodes the system_settings document id into v.
func (s *SQLite) GetSetting(ctx context.Context, id string, v any) error {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM system_settings WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return notFound(err, "setting "+id)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode setting %s: %w", id, err)
	}
	return nil
}

// PutSetting replaces the system_settings document id with v.
func (s *SQLite) PutSetting(ctx context.Context, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO system_settings (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		id, string(data), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", id, err)
	}
	return nil
}

// MutateSetting loads document id into v, calls mutate and writes v back in
// one transaction. found reports whether the document existed. mutate must
// not touch the store.
func (s *SQLite) MutateSetting(ctx context.Context, id string, v any, mutate func(found bool) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	found := true
	err = tx.QueryRowContext(ctx, `SELECT data FROM system_settings WHERE id = ?`, id).Scan(&data)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return fmt.Errorf("decode setting %s: %w", id, err)
		}
	case errors.Is(notFound(err, id), ErrNotFound):
		found = false
	default:
		return fmt.Errorf("read setting %s: %w", id, err)
	}

	if err := mutate(found); err != nil {
		return err
	}

	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", id, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO system_settings (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		id, string(out), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", id, err)
	}
	return tx.Commit()
}
