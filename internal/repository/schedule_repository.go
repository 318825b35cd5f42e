package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

// ScheduleRepository persists immutable timetable versions. Rows are only
// ever inserted or have their status flipped; assignments never change after
// insert.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// scheduleRow is the flat database shape; list fields travel as jsonb.
type scheduleRow struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	BaseScheduleID *string        `db:"base_schedule_id"`
	Version        int            `db:"version"`
	Status         string         `db:"status"`
	QualityScore   int            `db:"quality_score"`
	Unscheduled    types.JSONText `db:"unscheduled"`
	Relaxations    types.JSONText `db:"relaxations"`
	Modifications  types.JSONText `db:"modifications"`
	Meta           types.JSONText `db:"meta"`
	CreatedAt      time.Time      `db:"created_at"`
}

func toRow(schedule *models.Schedule) (*scheduleRow, error) {
	unscheduled, err := json.Marshal(schedule.Unscheduled)
	if err != nil {
		return nil, fmt.Errorf("encode unscheduled: %w", err)
	}
	relaxations, err := json.Marshal(schedule.RelaxationsApplied)
	if err != nil {
		return nil, fmt.Errorf("encode relaxations: %w", err)
	}
	modifications, err := json.Marshal(schedule.Modifications)
	if err != nil {
		return nil, fmt.Errorf("encode modifications: %w", err)
	}
	meta := schedule.Meta
	if len(meta) == 0 {
		meta = types.JSONText(`{}`)
	}
	return &scheduleRow{
		ID:             schedule.ID,
		TenantID:       schedule.TenantID,
		BaseScheduleID: schedule.BaseScheduleID,
		Version:        schedule.Version,
		Status:         string(schedule.Status),
		QualityScore:   int(schedule.QualityScore),
		Unscheduled:    unscheduled,
		Relaxations:    relaxations,
		Modifications:  modifications,
		Meta:           meta,
		CreatedAt:      schedule.CreatedAt,
	}, nil
}

func (r *scheduleRow) toModel() (*models.Schedule, error) {
	schedule := &models.Schedule{
		ID:             r.ID,
		TenantID:       r.TenantID,
		BaseScheduleID: r.BaseScheduleID,
		Version:        r.Version,
		Status:         models.ScheduleStatus(r.Status),
		QualityScore:   uint8(r.QualityScore),
		Meta:           r.Meta,
		CreatedAt:      r.CreatedAt,
	}
	if len(r.Unscheduled) > 0 {
		if err := json.Unmarshal(r.Unscheduled, &schedule.Unscheduled); err != nil {
			return nil, fmt.Errorf("decode unscheduled: %w", err)
		}
	}
	if len(r.Relaxations) > 0 {
		if err := json.Unmarshal(r.Relaxations, &schedule.RelaxationsApplied); err != nil {
			return nil, fmt.Errorf("decode relaxations: %w", err)
		}
	}
	if len(r.Modifications) > 0 {
		if err := json.Unmarshal(r.Modifications, &schedule.Modifications); err != nil {
			return nil, fmt.Errorf("decode modifications: %w", err)
		}
	}
	return schedule, nil
}

const scheduleColumns = `id, tenant_id, base_schedule_id, version, status, quality_score, unscheduled, relaxations, modifications, meta, created_at`

// InsertVersion stores a schedule assigning the next version for the tenant.
func (r *ScheduleRepository) InsertVersion(ctx context.Context, schedule *models.Schedule) error {
	if schedule == nil {
		return fmt.Errorf("schedule payload is nil")
	}
	if schedule.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert schedule: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const nextVersionQuery = `SELECT COALESCE(MAX(version), 0) + 1 FROM schedules WHERE tenant_id = $1`
	if err := sqlx.GetContext(ctx, tx, &schedule.Version, nextVersionQuery, schedule.TenantID); err != nil {
		return fmt.Errorf("compute next schedule version: %w", err)
	}

	if err := r.insertWithAssignments(ctx, tx, schedule); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) insertWithAssignments(ctx context.Context, tx *sqlx.Tx, schedule *models.Schedule) error {
	row, err := toRow(schedule)
	if err != nil {
		return err
	}
	const insertQuery = `
INSERT INTO schedules (` + scheduleColumns + `)
VALUES (:id, :tenant_id, :base_schedule_id, :version, :status, :quality_score, :unscheduled, :relaxations, :modifications, :meta, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, insertQuery, row); err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}

	const assignmentQuery = `INSERT INTO schedule_assignments (schedule_id, course_id, slot_id) VALUES ($1, $2, $3)`
	for _, a := range schedule.Assignments {
		if _, err := tx.ExecContext(ctx, assignmentQuery, schedule.ID, a.CourseID, a.SlotID); err != nil {
			return fmt.Errorf("insert schedule assignment: %w", err)
		}
	}
	return nil
}

// FetchActive loads the single ACTIVE schedule of a tenant.
func (r *ScheduleRepository) FetchActive(ctx context.Context, tenantID string) (*models.Schedule, error) {
	const query = `SELECT ` + scheduleColumns + ` FROM schedules WHERE tenant_id = $1 AND status = $2`
	var row scheduleRow
	if err := r.db.GetContext(ctx, &row, query, tenantID, models.ScheduleStatusActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active schedule for tenant")
		}
		return nil, fmt.Errorf("fetch active schedule: %w", err)
	}
	return r.hydrate(ctx, &row)
}

// FetchByID loads one schedule version by identifier.
func (r *ScheduleRepository) FetchByID(ctx context.Context, id string) (*models.Schedule, error) {
	const query = `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`
	var row scheduleRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}
	return r.hydrate(ctx, &row)
}

// ListVersions returns every version of a tenant, newest first, without
// assignments.
func (r *ScheduleRepository) ListVersions(ctx context.Context, tenantID string) ([]models.Schedule, error) {
	const query = `SELECT ` + scheduleColumns + ` FROM schedules WHERE tenant_id = $1 ORDER BY version DESC`
	var rows []scheduleRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID); err != nil {
		return nil, fmt.Errorf("list schedule versions: %w", err)
	}
	schedules := make([]models.Schedule, 0, len(rows))
	for i := range rows {
		schedule, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, nil
}

func (r *ScheduleRepository) hydrate(ctx context.Context, row *scheduleRow) (*models.Schedule, error) {
	schedule, err := row.toModel()
	if err != nil {
		return nil, err
	}
	const query = `SELECT course_id, slot_id FROM schedule_assignments WHERE schedule_id = $1 ORDER BY course_id, slot_id`
	if err := r.db.SelectContext(ctx, &schedule.Assignments, query, schedule.ID); err != nil {
		return nil, fmt.Errorf("fetch schedule assignments: %w", err)
	}
	return schedule, nil
}

// Activate marks one schedule ACTIVE and archives the previously active one
// in the same transaction, preserving the single-active invariant.
func (r *ScheduleRepository) Activate(ctx context.Context, tenantID, scheduleID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate schedule: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const archiveQuery = `UPDATE schedules SET status = $1 WHERE tenant_id = $2 AND status = $3`
	if _, err := tx.ExecContext(ctx, archiveQuery, models.ScheduleStatusArchived, tenantID, models.ScheduleStatusActive); err != nil {
		return fmt.Errorf("archive previous schedule: %w", err)
	}

	const activateQuery = `UPDATE schedules SET status = $1 WHERE id = $2 AND tenant_id = $3`
	result, err := tx.ExecContext(ctx, activateQuery, models.ScheduleStatusActive, scheduleID, tenantID)
	if err != nil {
		return fmt.Errorf("activate schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate schedule rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activate schedule: %w", err)
	}
	return nil
}

// Archive marks one schedule ARCHIVED.
func (r *ScheduleRepository) Archive(ctx context.Context, tenantID, scheduleID string) error {
	const query = `UPDATE schedules SET status = $1 WHERE id = $2 AND tenant_id = $3`
	result, err := r.db.ExecContext(ctx, query, models.ScheduleStatusArchived, scheduleID, tenantID)
	if err != nil {
		return fmt.Errorf("archive schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive schedule rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PublishNewVersion atomically archives the active version and inserts its
// successor. The CAS on the expected version makes concurrent editors safe:
// the losing writer gets ErrVersionConflict and must reload.
func (r *ScheduleRepository) PublishNewVersion(ctx context.Context, next *models.Schedule, expectedVersion int) error {
	if next == nil {
		return fmt.Errorf("schedule payload is nil")
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish schedule: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const casQuery = `UPDATE schedules SET status = $1 WHERE tenant_id = $2 AND status = $3 AND version = $4`
	result, err := tx.ExecContext(ctx, casQuery, models.ScheduleStatusArchived, next.TenantID, models.ScheduleStatusActive, expectedVersion)
	if err != nil {
		return fmt.Errorf("archive expected version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("publish schedule rows affected: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrVersionConflict
	}

	if err := r.insertWithAssignments(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish schedule: %w", err)
	}
	return nil
}
