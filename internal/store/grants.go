package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Grant records what a plugin package has been allowed to do
type Grant struct {
	Package       string `json:"package"`
	Widget        bool   `json:"widget"`
	Notifications bool   `json:"notifications"`
	Smartspace    bool   `json:"smartspace"`
	OEMSmartspace bool   `json:"oem_smartspace"`
}

// Empty reports whether the grant allows nothing
func (g Grant) Empty() bool {
	return !g.Widget && !g.Notifications && !g.Smartspace && !g.OEMSmartspace
}

// Grant returns the grant of a package
func (s *Store) Grant(ctx context.Context, pkg string) (Grant, error) {
	g := Grant{Package: pkg}
	err := s.db.QueryRowContext(ctx,
		`SELECT widget, notifications, smartspace, oem_smartspace FROM grants WHERE package = ?`, pkg,
	).Scan(&g.Widget, &g.Notifications, &g.Smartspace, &g.OEMSmartspace)
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrNotFound
	}
	if err != nil {
		return Grant{}, fmt.Errorf("get grant: %w", err)
	}
	return g, nil
}

// SaveGrant creates the grant of a package on first use and updates it
// afterwards. A grant that no longer allows anything is deleted.
func (s *Store) SaveGrant(ctx context.Context, g Grant) error {
	if g.Empty() {
		return s.DeleteGrant(ctx, g.Package)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grants (package, widget, notifications, smartspace, oem_smartspace)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(package) DO UPDATE SET
			widget = excluded.widget,
			notifications = excluded.notifications,
			smartspace = excluded.smartspace,
			oem_smartspace = excluded.oem_smartspace`,
		g.Package, g.Widget, g.Notifications, g.Smartspace, g.OEMSmartspace)
	if err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

// DeleteGrant removes the grant of a package
func (s *Store) DeleteGrant(ctx context.Context, pkg string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM grants WHERE package = ?`, pkg); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

// Grants lists every grant ordered by package
func (s *Store) Grants(ctx context.Context) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package, widget, notifications, smartspace, oem_smartspace FROM grants ORDER BY package`)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	grants := []Grant{}
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.Package, &g.Widget, &g.Notifications, &g.Smartspace, &g.OEMSmartspace); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
