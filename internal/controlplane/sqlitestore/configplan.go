package sqlitestore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func (s *Store) GetActivePlan(ctx context.Context, parent string) (*domain.ConfigPlan, error) {
	var p domain.ConfigPlan
	var isActive int
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT parent, plan_name, is_active, description
		FROM config_plans WHERE parent = ? AND is_active = 1`, parent).
		Scan(&p.Parent, &p.PlanName, &isActive, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("no active config plan for parent %q", parent)
	}
	if err != nil {
		return nil, err
	}
	p.IsActive = isActive != 0
	p.Description = description.String
	return &p, nil
}

func (s *Store) ListPlans(ctx context.Context, parent string) ([]*domain.ConfigPlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT parent, plan_name, is_active, description
		FROM config_plans WHERE parent = ? ORDER BY plan_name`, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ConfigPlan
	for rows.Next() {
		var p domain.ConfigPlan
		var isActive int
		var description sql.NullString
		if err := rows.Scan(&p.Parent, &p.PlanName, &isActive, &description); err != nil {
			return nil, err
		}
		p.IsActive = isActive != 0
		p.Description = description.String
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPlan(ctx context.Context, p *domain.ConfigPlan) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO config_plans (parent, plan_name, is_active, description)
		VALUES (?,?,?,?)
		ON CONFLICT(parent, plan_name) DO UPDATE SET description=excluded.description`,
		p.Parent, p.PlanName, boolToInt(p.IsActive), nullString(p.Description))
	return err
}

func (s *Store) SetValues(ctx context.Context, parent, planName string, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM config_values WHERE parent = ? AND plan_name = ?`, parent, planName); err != nil {
		return err
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO config_values (parent, plan_name, key, value) VALUES (?,?,?,?)`,
			parent, planName, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetValues(ctx context.Context, parent, planName string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config_values WHERE parent = ? AND plan_name = ?`, parent, planName)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE config_plans SET is_active = 0 WHERE parent = ? AND is_active = 1`, parent); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE config_plans SET is_active = 1 WHERE parent = ? AND plan_name = ?`, parent, planName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFoundError("config plan %q/%q not found", parent, planName)
	}
	return tx.Commit()
}
