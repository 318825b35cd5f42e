package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

func newScheduleRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func scheduleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "base_schedule_id", "version", "status", "quality_score", "unscheduled", "relaxations", "modifications", "meta", "created_at"})
}

func TestScheduleRepositoryInsertVersionComputesNextVersion(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) + 1 FROM schedules")).
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedules")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_assignments")).
		WithArgs("sched-1", 0, 3).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_assignments")).
		WithArgs("sched-1", 1, 5).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	schedule := &models.Schedule{
		ID:       "sched-1",
		TenantID: "tenant-1",
		Status:   models.ScheduleStatusDraft,
		Assignments: []models.Assignment{
			{CourseID: 0, SlotID: 3},
			{CourseID: 1, SlotID: 5},
		},
	}
	require.NoError(t, repo.InsertVersion(context.Background(), schedule))
	require.Equal(t, 4, schedule.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryFetchActiveHydratesAssignments(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	repo := NewScheduleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, tenant_id, base_schedule_id, version, status")).
		WithArgs("tenant-1", models.ScheduleStatusActive).
		WillReturnRows(scheduleRows().
			AddRow("sched-1", "tenant-1", nil, 2, "ACTIVE", 90, []byte(`[7]`), []byte(`["SOFT_COMPACTNESS"]`), []byte(`[]`), []byte(`{}`), time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT course_id, slot_id FROM schedule_assignments")).
		WithArgs("sched-1").
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "slot_id"}).
			AddRow(0, 3).
			AddRow(1, 5))

	schedule, err := repo.FetchActive(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Equal(t, 2, schedule.Version)
	require.Equal(t, uint8(90), schedule.QualityScore)
	require.Equal(t, []int{7}, schedule.Unscheduled)
	require.Equal(t, []string{"SOFT_COMPACTNESS"}, schedule.RelaxationsApplied)
	require.Len(t, schedule.Assignments, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryFetchActiveNotFound(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	repo := NewScheduleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, tenant_id")).
		WithArgs("tenant-1", models.ScheduleStatusActive).
		WillReturnRows(scheduleRows())

	_, err := repo.FetchActive(context.Background(), "tenant-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryActivateArchivesPrevious(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET status = $1 WHERE tenant_id = $2 AND status = $3")).
		WithArgs(models.ScheduleStatusArchived, "tenant-1", models.ScheduleStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET status = $1 WHERE id = $2 AND tenant_id = $3")).
		WithArgs(models.ScheduleStatusActive, "sched-2", "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Activate(context.Background(), "tenant-1", "sched-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryActivateUnknownSchedule(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET status = $1 WHERE tenant_id = $2 AND status = $3")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET status = $1 WHERE id = $2 AND tenant_id = $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Activate(context.Background(), "tenant-1", "missing")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryPublishNewVersionCAS(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET status = $1 WHERE tenant_id = $2 AND status = $3 AND version = $4")).
		WithArgs(models.ScheduleStatusArchived, "tenant-1", models.ScheduleStatusActive, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedules")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_assignments")).
		WithArgs("sched-2", 0, 3).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	next := &models.Schedule{
		ID:          "sched-2",
		TenantID:    "tenant-1",
		Version:     4,
		Status:      models.ScheduleStatusActive,
		Assignments: []models.Assignment{{CourseID: 0, SlotID: 3}},
	}
	require.NoError(t, repo.PublishNewVersion(context.Background(), next, 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryPublishNewVersionConflict(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()

	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET status = $1 WHERE tenant_id = $2 AND status = $3 AND version = $4")).
		WithArgs(models.ScheduleStatusArchived, "tenant-1", models.ScheduleStatusActive, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	next := &models.Schedule{ID: "sched-2", TenantID: "tenant-1", Version: 4, Status: models.ScheduleStatusActive}
	err := repo.PublishNewVersion(context.Background(), next, 3)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrVersionConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
