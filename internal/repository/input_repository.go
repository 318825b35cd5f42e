package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

// InputRepository stores the normalized entity arena per tenant. The arena is
// written once per generation and read by the modification and export paths,
// so it travels as a single jsonb payload instead of four joined tables.
type InputRepository struct {
	db *sqlx.DB
}

// NewInputRepository constructs repository.
func NewInputRepository(db *sqlx.DB) *InputRepository {
	return &InputRepository{db: db}
}

// SaveNormalized upserts the tenant's entity arena.
func (r *InputRepository) SaveNormalized(ctx context.Context, tenantID string, input *models.NormalizedInput) error {
	if input == nil {
		return fmt.Errorf("normalized input is nil")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode normalized input: %w", err)
	}
	const query = `
INSERT INTO timetable_inputs (tenant_id, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, tenantID, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("save normalized input: %w", err)
	}
	return nil
}

// LoadNormalized fetches the tenant's entity arena.
func (r *InputRepository) LoadNormalized(ctx context.Context, tenantID string) (*models.NormalizedInput, error) {
	const query = `SELECT payload FROM timetable_inputs WHERE tenant_id = $1`
	var payload []byte
	if err := r.db.GetContext(ctx, &payload, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no normalized input for tenant")
		}
		return nil, fmt.Errorf("load normalized input: %w", err)
	}
	var input models.NormalizedInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("decode normalized input: %w", err)
	}
	return &input, nil
}
