package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func (s *Store) GetActivePlan(ctx context.Context, parent string) (*domain.ConfigPlan, error) {
	var p domain.ConfigPlan
	err := s.pool.QueryRow(ctx, `SELECT parent, plan_name, is_active, description
		FROM config_plans WHERE parent = $1 AND is_active`, parent).
		Scan(&p.Parent, &p.PlanName, &p.IsActive, &p.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("no active config plan for parent %q", parent)
	}
	return &p, err
}

func (s *Store) ListPlans(ctx context.Context, parent string) ([]*domain.ConfigPlan, error) {
	rows, err := s.pool.Query(ctx, `SELECT parent, plan_name, is_active, description
		FROM config_plans WHERE parent = $1 ORDER BY plan_name`, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ConfigPlan
	for rows.Next() {
		var p domain.ConfigPlan
		if err := rows.Scan(&p.Parent, &p.PlanName, &p.IsActive, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPlan(ctx context.Context, p *domain.ConfigPlan) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO config_plans (parent, plan_name, is_active, description)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT(parent, plan_name) DO UPDATE SET description=excluded.description`,
		p.Parent, p.PlanName, p.IsActive, p.Description)
	return err
}

func (s *Store) SetValues(ctx context.Context, parent, planName string, values map[string]string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM config_values WHERE parent = $1 AND plan_name = $2`, parent, planName); err != nil {
		return err
	}
	for k, v := range values {
		if _, err := tx.Exec(ctx, `INSERT INTO config_values (parent, plan_name, key, value) VALUES ($1,$2,$3,$4)`,
			parent, planName, k, v); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetValues(ctx context.Context, parent, planName string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM config_values WHERE parent = $1 AND plan_name = $2`, parent, planName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Activate atomically clears the current active flag for parent and sets
// planName active, per spec.md §4.7.
func (s *Store) Activate(ctx context.Context, parent, planName string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE config_plans SET is_active = false WHERE parent = $1 AND is_active`, parent); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE config_plans SET is_active = true WHERE parent = $1 AND plan_name = $2`, parent, planName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("config plan %q/%q not found", parent, planName)
	}
	return tx.Commit(ctx)
}
