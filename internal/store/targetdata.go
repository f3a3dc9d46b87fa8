package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TargetData returns the settings a builtin provider stored for an instance,
// nil when nothing was stored yet
func (s *Store) TargetData(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM target_data WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get target data: %w", err)
	}
	return data, nil
}

// SetTargetData stores the settings of a builtin provider instance
func (s *Store) SetTargetData(ctx context.Context, id, kind string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO target_data (id, kind, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, data = excluded.data, updated_at = excluded.updated_at`,
		id, kind, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set target data: %w", err)
	}
	return nil
}

// DeleteTargetData removes the settings of a builtin provider instance
func (s *Store) DeleteTargetData(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM target_data WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete target data: %w", err)
	}
	return nil
}
