package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

func newInputRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestInputRepositorySaveNormalizedUpserts(t *testing.T) {
	db, mock, cleanup := newInputRepoMock(t)
	defer cleanup()

	repo := NewInputRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetable_inputs")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	input := &models.NormalizedInput{
		Subjects: []models.Subject{{ID: 0, DisplayName: "Mathematics"}},
		Courses:  []models.Course{{ID: 0, SubjectID: 0, HoursPerWeek: 4}},
	}
	require.NoError(t, repo.SaveNormalized(context.Background(), "tenant-1", input))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInputRepositoryLoadNormalizedRoundTrip(t *testing.T) {
	db, mock, cleanup := newInputRepoMock(t)
	defer cleanup()

	repo := NewInputRepository(db)

	stored := &models.NormalizedInput{
		Subjects: []models.Subject{{ID: 0, DisplayName: "Mathematics", DifficultyTier: 3}},
		Teachers: []models.Teacher{{ID: 0, DisplayName: "Kurniawan"}},
		Classes:  []models.ClassGroup{{ID: 0, DisplayName: "10-A", Grade: 10}},
		Courses:  []models.Course{{ID: 0, SubjectID: 0, TeacherIDs: []int{0}, ClassIDs: []int{0}, HoursPerWeek: 4}},
	}
	payload, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM timetable_inputs")).
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	loaded, err := repo.LoadNormalized(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Equal(t, stored, loaded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInputRepositoryLoadNormalizedNotFound(t *testing.T) {
	db, mock, cleanup := newInputRepoMock(t)
	defer cleanup()

	repo := NewInputRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM timetable_inputs")).
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err := repo.LoadNormalized(context.Background(), "tenant-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
