package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/solver"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

type stubScheduleStore struct {
	inserted  []*models.Schedule
	activated []string
}

func (s *stubScheduleStore) InsertVersion(_ context.Context, schedule *models.Schedule) error {
	schedule.Version = len(s.inserted) + 1
	s.inserted = append(s.inserted, schedule)
	return nil
}

func (s *stubScheduleStore) Activate(_ context.Context, _, scheduleID string) error {
	s.activated = append(s.activated, scheduleID)
	return nil
}

type stubConstraintStore struct {
	rules []models.Constraint
}

func (s *stubConstraintStore) ListByTenant(context.Context, string) ([]models.Constraint, error) {
	return s.rules, nil
}

type stubInputStore struct {
	saved map[string]*models.NormalizedInput
}

func (s *stubInputStore) SaveNormalized(_ context.Context, tenantID string, input *models.NormalizedInput) error {
	if s.saved == nil {
		s.saved = make(map[string]*models.NormalizedInput)
	}
	s.saved[tenantID] = input
	return nil
}

type stubMetrics struct {
	statuses []string
	steps    []int
}

func (s *stubMetrics) RecordSolve(status string, ladderStep int, _ time.Duration) {
	s.statuses = append(s.statuses, status)
	s.steps = append(s.steps, ladderStep)
}

func newOrchestratorFixture(cfg config.SolverConfig, rules []models.Constraint) (*OrchestratorService, *stubScheduleStore, *stubInputStore, *stubMetrics) {
	schedules := &stubScheduleStore{}
	inputs := &stubInputStore{}
	metrics := &stubMetrics{}
	analyzerCfg := config.AnalyzerConfig{
		AmplitudeThreshold: 10,
		OverloadThreshold:  10,
		WeeklyGapDays:      10,
		LateThreshold:      10,
		HighDifficultyTier: 3,
	}
	svc := NewOrchestratorService(
		NewNormalizerService(nil),
		NewBuilderService(nil),
		NewAnalyzerService(analyzerCfg, nil),
		solver.NewHeuristicEngine(),
		schedules,
		&stubConstraintStore{rules: rules},
		inputs,
		nil,
		metrics,
		nil,
		cfg,
		nil,
		nil,
	)
	return svc, schedules, inputs, metrics
}

func solverConfig() config.SolverConfig {
	return config.SolverConfig{
		TimeBudget:    5 * time.Second,
		SubjectWeight: 10,
	}
}

func TestGenerateValidatesRequest(t *testing.T) {
	svc, _, _, _ := newOrchestratorFixture(solverConfig(), nil)

	_, err := svc.Generate(context.Background(), &dto.GenerateRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestGenerateFullPipelineActivates(t *testing.T) {
	svc, schedules, inputs, metrics := newOrchestratorFixture(solverConfig(), nil)

	req := &dto.GenerateRequest{
		TenantID: "tenant-1",
		Rows: []dto.CourseRow{
			{SubjectName: "Mathematics", ClassNames: "10-A", TeacherNames: "Kurniawan", HoursPerWeek: 2},
			{SubjectName: "Art", ClassNames: "10-A", TeacherNames: "Sari", HoursPerWeek: 1},
		},
		Calendar: models.CalendarConfig{ActiveDays: []int{0}, PeriodsPerDay: 3},
	}

	resp, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.Activated)
	assert.Empty(t, resp.Issues)
	assert.Empty(t, resp.Validation)
	require.Len(t, resp.Schedule.Assignments, 3)
	assert.Empty(t, resp.Schedule.Unscheduled)
	assert.Empty(t, resp.Schedule.RelaxationsApplied)
	assert.Equal(t, uint8(100), resp.Schedule.QualityScore)
	assert.Equal(t, models.ScheduleStatusActive, resp.Schedule.Status)

	require.Len(t, schedules.inserted, 1)
	require.Len(t, schedules.activated, 1)
	assert.Equal(t, resp.Schedule.ID, schedules.activated[0])
	assert.NotNil(t, inputs.saved["tenant-1"])
	require.Len(t, metrics.statuses, 1)
	assert.Equal(t, string(solver.StatusOptimal), metrics.statuses[0])
	assert.Equal(t, 1, metrics.steps[0])
}

func TestGenerateRelaxesCompactnessWhenHardFails(t *testing.T) {
	cfg := solverConfig()
	cfg.CompactnessHard = true
	cfg.GapWeight = 2
	cfg.GapWeightRelaxed = 3

	// One course pinned to the first and last period of the day while its
	// teacher is unavailable in the middle: gap-free days are impossible.
	rules := []models.Constraint{
		{Kind: models.ConstraintPinnedAssignment, Payload: []byte(`{"course_id":0,"slot_id":0}`)},
		{Kind: models.ConstraintPinnedAssignment, Payload: []byte(`{"course_id":0,"slot_id":2}`)},
		{Kind: models.ConstraintTeacherUnavailable, Payload: []byte(`{"teacher_id":0,"day_index":0,"from_period":1,"to_period":1}`)},
	}
	svc, _, _, metrics := newOrchestratorFixture(cfg, rules)

	req := &dto.GenerateRequest{
		TenantID: "tenant-2",
		Rows: []dto.CourseRow{
			{SubjectName: "Mathematics", ClassNames: "10-A", TeacherNames: "Kurniawan", HoursPerWeek: 2},
		},
		Calendar: models.CalendarConfig{ActiveDays: []int{0}, PeriodsPerDay: 3},
	}

	resp, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{RelaxationSoftCompactness}, resp.Schedule.RelaxationsApplied)
	require.Len(t, resp.Schedule.Assignments, 2)
	assert.Equal(t, 0, resp.Schedule.Assignments[0].SlotID)
	assert.Equal(t, 2, resp.Schedule.Assignments[1].SlotID)

	// The forced free period shows up as gap and isolated-hour issues for
	// both the class and the teacher, never as a hard violation.
	require.Len(t, resp.Issues, 4)
	kinds := make(map[models.IssueKind]int)
	for _, issue := range resp.Issues {
		kinds[issue.Kind]++
	}
	assert.Equal(t, 2, kinds[models.IssueGap])
	assert.Equal(t, 2, kinds[models.IssueIsolatedHour])
	assert.True(t, resp.Activated)

	require.Len(t, metrics.steps, 1)
	assert.Equal(t, 2, metrics.steps[0])
	assert.Equal(t, string(solver.StatusFeasible), metrics.statuses[0])
}

func TestGenerateReducesCourseSetAsLastResort(t *testing.T) {
	svc, _, _, metrics := newOrchestratorFixture(solverConfig(), nil)

	// One teacher, three weekly hours, two slots: some course has to go.
	req := &dto.GenerateRequest{
		TenantID: "tenant-3",
		Rows: []dto.CourseRow{
			{SubjectName: "Mathematics", ClassNames: "10-A", TeacherNames: "Kurniawan", HoursPerWeek: 2},
			{SubjectName: "Physics", ClassNames: "10-B", TeacherNames: "Kurniawan", HoursPerWeek: 1},
		},
		Calendar: models.CalendarConfig{ActiveDays: []int{0}, PeriodsPerDay: 2},
	}

	resp, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{RelaxationReducedCourseSet}, resp.Schedule.RelaxationsApplied)
	assert.Equal(t, []int{1}, resp.Schedule.Unscheduled)
	require.Len(t, resp.Schedule.Assignments, 2)
	for _, a := range resp.Schedule.Assignments {
		assert.Equal(t, 0, a.CourseID)
	}
	assert.True(t, resp.Activated)
	assert.Equal(t, 4, metrics.steps[0])
}

func TestGenerateRecordsEveryRelaxationStepTaken(t *testing.T) {
	cfg := solverConfig()
	cfg.CompactnessHard = true

	// Three weekly hours for one teacher in a two-slot week: softening
	// compactness is not enough, so the ladder also has to drop a course.
	svc, _, _, metrics := newOrchestratorFixture(cfg, nil)

	req := &dto.GenerateRequest{
		TenantID: "tenant-7",
		Rows: []dto.CourseRow{
			{SubjectName: "Mathematics", ClassNames: "10-A", TeacherNames: "Kurniawan", HoursPerWeek: 2},
			{SubjectName: "Physics", ClassNames: "10-B", TeacherNames: "Kurniawan", HoursPerWeek: 1},
		},
		Calendar: models.CalendarConfig{ActiveDays: []int{0}, PeriodsPerDay: 2},
	}

	resp, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{RelaxationSoftCompactness, RelaxationReducedCourseSet}, resp.Schedule.RelaxationsApplied)
	assert.Equal(t, []int{1}, resp.Schedule.Unscheduled)
	assert.Equal(t, 4, metrics.steps[0])
}

func TestGenerateReportsInfeasibleInput(t *testing.T) {
	// The course is pinned to a slot that is excluded for everyone, and with
	// a single course the reduction step has nothing left to drop.
	rules := []models.Constraint{
		{Kind: models.ConstraintExcludedSlot, Payload: []byte(`{"day_index":0,"period_index":0}`)},
		{Kind: models.ConstraintPinnedAssignment, Payload: []byte(`{"course_id":0,"slot_id":0}`)},
	}
	svc, schedules, _, metrics := newOrchestratorFixture(solverConfig(), rules)

	req := &dto.GenerateRequest{
		TenantID: "tenant-4",
		Rows: []dto.CourseRow{
			{SubjectName: "Mathematics", ClassNames: "10-A", TeacherNames: "Kurniawan", HoursPerWeek: 1},
		},
		Calendar: models.CalendarConfig{ActiveDays: []int{0}, PeriodsPerDay: 2},
	}

	_, err := svc.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInfeasible.Code, appErrors.FromError(err).Code)
	assert.Empty(t, schedules.inserted)
	require.Len(t, metrics.statuses, 1)
	assert.Equal(t, "infeasible", metrics.statuses[0])
}

func TestGenerateRejectsConcurrentSolve(t *testing.T) {
	svc, _, _, _ := newOrchestratorFixture(solverConfig(), nil)
	require.NoError(t, svc.acquire("tenant-5"))
	defer svc.release("tenant-5")

	req := &dto.GenerateRequest{
		TenantID: "tenant-5",
		Rows: []dto.CourseRow{
			{SubjectName: "Mathematics", ClassNames: "10-A", TeacherNames: "Kurniawan", HoursPerWeek: 1},
		},
		Calendar: models.CalendarConfig{ActiveDays: []int{0}, PeriodsPerDay: 2},
	}

	_, err := svc.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSolveInProgress.Code, appErrors.FromError(err).Code)
}

func TestGenerateRejectsEmptyCourseSet(t *testing.T) {
	svc, _, _, _ := newOrchestratorFixture(solverConfig(), nil)

	req := &dto.GenerateRequest{
		TenantID: "tenant-6",
		Rows: []dto.CourseRow{
			{SubjectName: "Mathematics", ClassNames: "10-A", TeacherNames: "Kurniawan", HoursPerWeek: 0},
		},
		Calendar: models.CalendarConfig{ActiveDays: []int{0}, PeriodsPerDay: 2},
	}

	_, err := svc.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
