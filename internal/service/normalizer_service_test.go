package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
)

func TestNormalizeInternsDashVariants(t *testing.T) {
	svc := NewNormalizerService(nil)

	rows := []dto.CourseRow{
		{SubjectName: "Mathematics", ClassNames: "10-A", TeacherNames: "Kurniawan", HoursPerWeek: 4},
		{SubjectName: "Physics", ClassNames: "10–A", TeacherNames: "Sari", HoursPerWeek: 3},
		{SubjectName: "Chemistry", ClassNames: "  10  -  a ", TeacherNames: "Sari", HoursPerWeek: 2},
		{SubjectName: "Biology", ClassNames: "10 -A", TeacherNames: "Sari", HoursPerWeek: 2},
	}

	input, failures := svc.Normalize(rows)
	require.Empty(t, failures)

	// En dash and spacing variants all resolve to the same class.
	require.Len(t, input.Classes, 1)
	assert.Equal(t, "10-A", input.Classes[0].DisplayName)
	require.Len(t, input.Teachers, 2)
	require.Len(t, input.Courses, 4)
	for _, course := range input.Courses {
		assert.Equal(t, []int{0}, course.ClassIDs)
	}
}

func TestNormalizeCollectsRowFailures(t *testing.T) {
	svc := NewNormalizerService(nil)

	rows := []dto.CourseRow{
		{SubjectName: "Biology", ClassNames: "11-B", TeacherNames: "Utami", HoursPerWeek: 0},
		{SubjectName: "Biology", ClassNames: "", TeacherNames: "Utami", HoursPerWeek: 2},
		{SubjectName: "Biology", ClassNames: "11-B", TeacherNames: " , ", HoursPerWeek: 2},
		{SubjectName: "   ", ClassNames: "11-B", TeacherNames: "Utami", HoursPerWeek: 2},
		{SubjectName: "Biology", ClassNames: "11-B", TeacherNames: "Utami", HoursPerWeek: 2},
	}

	input, failures := svc.Normalize(rows)
	require.Len(t, failures, 4)
	assert.Equal(t, 1, failures[0].Row)
	assert.Equal(t, "hoursPerWeek", failures[0].Field)
	assert.Equal(t, "classNames", failures[1].Field)
	assert.Equal(t, "teacherNames", failures[2].Field)
	assert.Equal(t, "subjectName", failures[3].Field)

	// The valid row still produced a course.
	require.Len(t, input.Courses, 1)
	assert.Equal(t, 5, input.Courses[0].SourceRow)
}

func TestNormalizeMergesParallelRowsIntoOneUnit(t *testing.T) {
	svc := NewNormalizerService(nil)

	rows := []dto.CourseRow{
		{SubjectName: "Religion", ClassNames: "12-A, 12-B", TeacherNames: "Hasan", HoursPerWeek: 2, IsParallel: true},
		{SubjectName: "Religion", ClassNames: "12-B, 12-A", TeacherNames: "Wulandari", HoursPerWeek: 2, IsParallel: true},
	}

	input, failures := svc.Normalize(rows)
	require.Empty(t, failures)
	require.Len(t, input.Courses, 1)

	course := input.Courses[0]
	assert.True(t, course.IsParallel)
	assert.Empty(t, course.LegacyGroup)
	assert.Equal(t, 2, course.HoursPerWeek)
	assert.Len(t, course.TeacherIDs, 2)
	assert.Len(t, course.ClassIDs, 2)
}

func TestNormalizeKeepsHeterogeneousParallelRowsAsLegacyGroup(t *testing.T) {
	svc := NewNormalizerService(nil)

	rows := []dto.CourseRow{
		{SubjectName: "Sport", ClassNames: "10-A, 10-B", TeacherNames: "Prakoso", HoursPerWeek: 2, IsParallel: true},
		{SubjectName: "Sport", ClassNames: "10-A, 10-B", TeacherNames: "Lestari", HoursPerWeek: 3, IsParallel: true},
	}

	input, failures := svc.Normalize(rows)
	require.Empty(t, failures)
	require.Len(t, input.Courses, 2)

	assert.NotEmpty(t, input.Courses[0].LegacyGroup)
	assert.Equal(t, input.Courses[0].LegacyGroup, input.Courses[1].LegacyGroup)
	assert.NotEqual(t, input.Courses[0].HoursPerWeek, input.Courses[1].HoursPerWeek)
}

func TestNormalizeTracksDifficultyAndGrade(t *testing.T) {
	svc := NewNormalizerService(nil)

	rows := []dto.CourseRow{
		{SubjectName: "Math", ClassNames: "10-A", TeacherNames: "Kurniawan", HoursPerWeek: 4, Difficulty: 2, Grade: 10},
		{SubjectName: "Math", ClassNames: "11-A", TeacherNames: "Kurniawan", HoursPerWeek: 4, Difficulty: 3, Grade: 11},
	}

	input, failures := svc.Normalize(rows)
	require.Empty(t, failures)
	require.Len(t, input.Subjects, 1)
	assert.Equal(t, 3, input.Subjects[0].DifficultyTier)

	require.Len(t, input.Classes, 2)
	assert.Equal(t, 10, input.Classes[0].Grade)
	assert.Equal(t, 11, input.Classes[1].Grade)
}
