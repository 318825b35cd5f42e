package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// ConstraintRepository persists user-entered calendar rules.
type ConstraintRepository struct {
	db *sqlx.DB
}

// NewConstraintRepository constructs repository.
func NewConstraintRepository(db *sqlx.DB) *ConstraintRepository {
	return &ConstraintRepository{db: db}
}

// ListByTenant returns the tenant's rules, decoded and ready for the builder.
func (r *ConstraintRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Constraint, error) {
	const query = `SELECT id, tenant_id, kind, payload, created_at FROM timetable_constraints WHERE tenant_id = $1 ORDER BY created_at, id`
	var rules []models.Constraint
	if err := r.db.SelectContext(ctx, &rules, query, tenantID); err != nil {
		return nil, fmt.Errorf("list constraints: %w", err)
	}
	for i := range rules {
		if err := models.DecodeConstraint(&rules[i]); err != nil {
			return nil, fmt.Errorf("decode constraint %s: %w", rules[i].ID, err)
		}
	}
	return rules, nil
}

// Upsert validates and stores one rule, assigning an ID when absent.
func (r *ConstraintRepository) Upsert(ctx context.Context, rule *models.Constraint) error {
	if rule == nil {
		return fmt.Errorf("constraint payload is nil")
	}
	if err := models.DecodeConstraint(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO timetable_constraints (id, tenant_id, kind, payload, created_at)
VALUES (:id, :tenant_id, :kind, :payload, :created_at)
ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, payload = EXCLUDED.payload`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, rule); err != nil {
		return fmt.Errorf("upsert constraint: %w", err)
	}
	return nil
}

// Delete removes one rule.
func (r *ConstraintRepository) Delete(ctx context.Context, tenantID, id string) error {
	const query = `DELETE FROM timetable_constraints WHERE id = $1 AND tenant_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete constraint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("constraint rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
