package store

import (
	"context"
	"fmt"
	"time"
)

// Dismissed returns the target ids and alternative ids dismissed for a
// provider instance
func (s *Store) Dismissed(ctx context.Context, instanceID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, alternative_id FROM dismissals WHERE provider_id = ?`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list dismissals: %w", err)
	}
	defer rows.Close()

	dismissed := make(map[string]struct{})
	for rows.Next() {
		var targetID, alternativeID string
		if err := rows.Scan(&targetID, &alternativeID); err != nil {
			return nil, fmt.Errorf("scan dismissal: %w", err)
		}
		dismissed[targetID] = struct{}{}
		if alternativeID != "" {
			dismissed[alternativeID] = struct{}{}
		}
	}
	return dismissed, rows.Err()
}

// AddDismissal records a dismissed target. Dismissing the same target twice
// keeps the first record.
func (s *Store) AddDismissal(ctx context.Context, instanceID, targetID, alternativeID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dismissals (provider_id, target_id, alternative_id, dismissed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(provider_id, target_id) DO NOTHING`,
		instanceID, targetID, alternativeID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add dismissal: %w", err)
	}
	return nil
}

// ClearDismissals forgets every dismissal of a provider instance
func (s *Store) ClearDismissals(ctx context.Context, instanceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dismissals WHERE provider_id = ?`, instanceID); err != nil {
		return fmt.Errorf("clear dismissals: %w", err)
	}
	return nil
}

// PruneDismissals drops dismissals older than the cutoff and returns how many
// were removed
func (s *Store) PruneDismissals(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dismissals WHERE dismissed_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune dismissals: %w", err)
	}
	return res.RowsAffected()
}
