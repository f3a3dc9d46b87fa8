package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/shared/types"
)

// Instance is an added target or complication
type Instance struct {
	ID        string               `json:"id"`
	Kind      string               `json:"kind"`
	Authority string               `json:"authority"`
	Package   string               `json:"package"`
	Config    types.InstanceConfig `json:"config"`
	Position  int                  `json:"position"`
	Priority  int                  `json:"priority"`
}

// SaveInstance inserts or replaces an instance
func (s *Store) SaveInstance(ctx context.Context, inst Instance) error {
	config, err := sonic.Marshal(inst.Config)
	if err != nil {
		return fmt.Errorf("encode instance config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instances (id, kind, authority, package, config, position, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			authority = excluded.authority,
			package = excluded.package,
			config = excluded.config,
			position = excluded.position,
			priority = excluded.priority`,
		inst.ID, inst.Kind, inst.Authority, inst.Package, string(config), inst.Position, inst.Priority)
	if err != nil {
		return fmt.Errorf("save instance: %w", err)
	}
	return nil
}

// Instance returns one instance
func (s *Store) Instance(ctx context.Context, id string) (Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, authority, package, config, position, priority FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Instance{}, ErrNotFound
	}
	return inst, err
}

// Instances lists the instances of a kind in position order. An empty kind
// lists every instance.
func (s *Store) Instances(ctx context.Context, kind string) ([]Instance, error) {
	query := `SELECT id, kind, authority, package, config, position, priority FROM instances`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY position, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	instances := []Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// UpdateInstanceConfig replaces the settings of an instance
func (s *Store) UpdateInstanceConfig(ctx context.Context, id string, cfg types.InstanceConfig) error {
	config, err := sonic.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode instance config: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE instances SET config = ? WHERE id = ?`, string(config), id)
	if err != nil {
		return fmt.Errorf("update instance config: %w", err)
	}
	return requireRow(res)
}

// DeleteInstance removes an instance with its dismissals and builtin data
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete instance: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM instances WHERE id = ?`,
		`DELETE FROM dismissals WHERE provider_id = ?`,
		`DELETE FROM target_data WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete instance: %w", err)
		}
	}
	return tx.Commit()
}

// PackageInstances counts the instances a package still owns
func (s *Store) PackageInstances(ctx context.Context, pkg string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances WHERE package = ?`, pkg).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (Instance, error) {
	var (
		inst   Instance
		config string
	)
	if err := row.Scan(&inst.ID, &inst.Kind, &inst.Authority, &inst.Package, &config, &inst.Position, &inst.Priority); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instance{}, err
		}
		return Instance{}, fmt.Errorf("scan instance: %w", err)
	}
	if err := sonic.UnmarshalString(config, &inst.Config); err != nil {
		return Instance{}, fmt.Errorf("decode instance config %s: %w", inst.ID, err)
	}
	return inst, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
