package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
)

func analyzerFixture() (*models.NormalizedInput, []models.TimeSlot, config.AnalyzerConfig) {
	input := &models.NormalizedInput{
		Subjects: []models.Subject{
			{ID: 0, DisplayName: "Mathematics", DifficultyTier: 3},
			{ID: 1, DisplayName: "Art", DifficultyTier: 0},
		},
		Teachers: []models.Teacher{
			{ID: 0, DisplayName: "Kurniawan"},
			{ID: 1, DisplayName: "Sari"},
		},
		Classes: []models.ClassGroup{
			{ID: 0, DisplayName: "10-A", Grade: 10},
		},
		Courses: []models.Course{
			{ID: 0, SubjectID: 0, TeacherIDs: []int{0}, ClassIDs: []int{0}, HoursPerWeek: 2},
			{ID: 1, SubjectID: 1, TeacherIDs: []int{1}, ClassIDs: []int{0}, HoursPerWeek: 1},
		},
	}
	slots := GenerateCalendar(models.CalendarConfig{
		ActiveDays:    []int{0, 1},
		PeriodsPerDay: 4,
		BreakPeriods:  []int{2},
	})
	cfg := config.AnalyzerConfig{
		AmplitudeThreshold: 4,
		OverloadThreshold:  2,
		WeeklyGapDays:      2,
		LateThreshold:      4,
		HighDifficultyTier: 3,
	}
	return input, slots, cfg
}

func issueKinds(issues []models.Issue) map[models.IssueKind]int {
	kinds := make(map[models.IssueKind]int)
	for _, issue := range issues {
		kinds[issue.Kind]++
	}
	return kinds
}

func TestAnalyzeCleanScheduleScoresFull(t *testing.T) {
	input, slots, cfg := analyzerFixture()
	svc := NewAnalyzerService(cfg, nil)

	schedule := &models.Schedule{
		ID: "sched-1",
		Assignments: []models.Assignment{
			{CourseID: 0, SlotID: models.SlotID(0, 0, 4)},
			{CourseID: 0, SlotID: models.SlotID(0, 1, 4)},
			{CourseID: 1, SlotID: models.SlotID(0, 3, 4)},
		},
	}

	score, issues := svc.Analyze(schedule, input, slots)
	assert.Empty(t, issues)
	assert.Equal(t, uint8(100), score)
}

func TestAnalyzeFlagsDoubleBookingAndHoursMismatch(t *testing.T) {
	input, slots, cfg := analyzerFixture()
	svc := NewAnalyzerService(cfg, nil)

	// Math short one hour, and both courses stacked on the same class slot.
	schedule := &models.Schedule{
		ID: "sched-2",
		Assignments: []models.Assignment{
			{CourseID: 0, SlotID: models.SlotID(0, 0, 4)},
			{CourseID: 1, SlotID: models.SlotID(0, 0, 4)},
		},
	}

	score, issues := svc.Analyze(schedule, input, slots)
	require.Len(t, issues, 3)
	kinds := issueKinds(issues)
	assert.Equal(t, 2, kinds[models.IssueHardViolation])
	assert.Equal(t, 1, kinds[models.IssueIsolatedHour])
	for _, issue := range issues {
		if issue.Kind == models.IssueHardViolation {
			assert.Equal(t, models.SeverityCritical, issue.Severity)
		}
	}
	assert.Equal(t, uint8(65), score)
}

func TestAnalyzeSkipsUnscheduledCourses(t *testing.T) {
	input, slots, cfg := analyzerFixture()
	svc := NewAnalyzerService(cfg, nil)

	schedule := &models.Schedule{
		ID:          "sched-3",
		Unscheduled: []int{0},
		Assignments: []models.Assignment{
			{CourseID: 1, SlotID: models.SlotID(0, 0, 4)},
		},
	}

	score, issues := svc.Analyze(schedule, input, slots)
	assert.Empty(t, issues)
	assert.Equal(t, uint8(100), score)
}

func TestAnalyzeDetectsGapAndIsolatedHours(t *testing.T) {
	input, slots, cfg := analyzerFixture()
	svc := NewAnalyzerService(cfg, nil)

	// Math split across both days one hour each, leaving a free period on
	// day 0 between Math and Art.
	schedule := &models.Schedule{
		ID: "sched-4",
		Assignments: []models.Assignment{
			{CourseID: 0, SlotID: models.SlotID(0, 0, 4)},
			{CourseID: 0, SlotID: models.SlotID(1, 0, 4)},
			{CourseID: 1, SlotID: models.SlotID(0, 3, 4)},
		},
	}

	_, issues := svc.Analyze(schedule, input, slots)
	kinds := issueKinds(issues)
	assert.Equal(t, 1, kinds[models.IssueGap])
	assert.Equal(t, 2, kinds[models.IssueIsolatedHour])
	assert.Zero(t, kinds[models.IssueHardViolation])

	for _, issue := range issues {
		if issue.Kind == models.IssueGap {
			assert.True(t, issue.AutoFixable)
			assert.Equal(t, models.FixCompactTeacherDay, issue.FixAction)
		}
	}
}

func TestAnalyzeDetectsOverloadAndLateDifficult(t *testing.T) {
	input, slots, _ := analyzerFixture()
	input.Courses[0].HoursPerWeek = 3
	cfg := config.AnalyzerConfig{
		AmplitudeThreshold: 4,
		OverloadThreshold:  1,
		WeeklyGapDays:      2,
		LateThreshold:      3,
		HighDifficultyTier: 3,
	}
	svc := NewAnalyzerService(cfg, nil)

	// Two back-to-back hard-subject hours on day 0, and a third hour past
	// the late threshold on day 1.
	schedule := &models.Schedule{
		ID: "sched-5",
		Assignments: []models.Assignment{
			{CourseID: 0, SlotID: models.SlotID(0, 0, 4)},
			{CourseID: 0, SlotID: models.SlotID(0, 1, 4)},
			{CourseID: 0, SlotID: models.SlotID(1, 3, 4)},
			{CourseID: 1, SlotID: models.SlotID(1, 0, 4)},
		},
	}

	_, issues := svc.Analyze(schedule, input, slots)
	kinds := issueKinds(issues)
	assert.Equal(t, 1, kinds[models.IssueOverload])
	assert.Equal(t, 1, kinds[models.IssueLateDifficultSubject])

	for _, issue := range issues {
		if issue.Kind == models.IssueLateDifficultSubject {
			assert.Equal(t, models.SeverityMedium, issue.Severity)
			assert.Equal(t, models.FixMoveToMorning, issue.FixAction)
		}
	}
}

func TestAnalyzeBreaksDoNotSplitOverloadFromFreePeriods(t *testing.T) {
	input, slots, _ := analyzerFixture()
	cfg := config.AnalyzerConfig{
		AmplitudeThreshold: 4,
		OverloadThreshold:  1,
		WeeklyGapDays:      2,
		LateThreshold:      4,
		HighDifficultyTier: 3,
	}
	svc := NewAnalyzerService(cfg, nil)

	// One hour either side of the break: two stretches of one, not one of two.
	schedule := &models.Schedule{
		ID: "sched-5b",
		Assignments: []models.Assignment{
			{CourseID: 0, SlotID: models.SlotID(0, 1, 4)},
			{CourseID: 0, SlotID: models.SlotID(0, 3, 4)},
			{CourseID: 1, SlotID: models.SlotID(1, 0, 4)},
		},
	}

	_, issues := svc.Analyze(schedule, input, slots)
	assert.Zero(t, issueKinds(issues)[models.IssueOverload])
}

func TestAnalyzeFlagsNonAdjacentHoursOnSameDay(t *testing.T) {
	input, slots, cfg := analyzerFixture()
	svc := NewAnalyzerService(cfg, nil)

	// Math at the first and last periods of the same day: neither hour has a
	// neighbour, so both are isolated even though the day holds two of them.
	schedule := &models.Schedule{
		ID: "sched-5c",
		Assignments: []models.Assignment{
			{CourseID: 0, SlotID: models.SlotID(0, 0, 4)},
			{CourseID: 0, SlotID: models.SlotID(0, 3, 4)},
			{CourseID: 1, SlotID: models.SlotID(1, 0, 4)},
		},
	}

	_, issues := svc.Analyze(schedule, input, slots)
	kinds := issueKinds(issues)
	assert.Equal(t, 2, kinds[models.IssueIsolatedHour])
	assert.Equal(t, 2, kinds[models.IssueGap])
}

func TestAnalyzeDetectsWeeklyGap(t *testing.T) {
	input, _, cfg := analyzerFixture()
	slots := GenerateCalendar(models.CalendarConfig{
		ActiveDays:    []int{0, 1, 2, 3, 4},
		PeriodsPerDay: 4,
		BreakPeriods:  []int{2},
	})
	svc := NewAnalyzerService(cfg, nil)

	// Math on Monday and Friday: a four-day stretch with nothing in between.
	schedule := &models.Schedule{
		ID: "sched-6",
		Assignments: []models.Assignment{
			{CourseID: 0, SlotID: models.SlotID(0, 0, 4)},
			{CourseID: 0, SlotID: models.SlotID(4, 0, 4)},
			{CourseID: 1, SlotID: models.SlotID(0, 1, 4)},
		},
	}

	_, issues := svc.Analyze(schedule, input, slots)
	assert.Equal(t, 1, issueKinds(issues)[models.IssueWeeklyGap])
}

func TestAnalyzeDetectsExcessiveAmplitude(t *testing.T) {
	input, _, cfg := analyzerFixture()
	slots := GenerateCalendar(models.CalendarConfig{
		ActiveDays:    []int{0},
		PeriodsPerDay: 8,
		BreakPeriods:  []int{4},
	})
	cfg.AmplitudeThreshold = 5
	svc := NewAnalyzerService(cfg, nil)

	schedule := &models.Schedule{
		ID: "sched-7",
		Assignments: []models.Assignment{
			{CourseID: 0, SlotID: models.SlotID(0, 0, 8)},
			{CourseID: 0, SlotID: models.SlotID(0, 1, 8)},
			{CourseID: 1, SlotID: models.SlotID(0, 7, 8)},
		},
	}

	_, issues := svc.Analyze(schedule, input, slots)
	assert.Equal(t, 1, issueKinds(issues)[models.IssueExcessiveAmplitude])
}

func TestScoreIssuesIsOrderIndependentAndFloored(t *testing.T) {
	issues := []models.Issue{
		{Kind: models.IssueGap, Severity: models.SeverityHigh},
		{Kind: models.IssueOverload, Severity: models.SeverityMedium},
		{Kind: models.IssueWeeklyGap, Severity: models.SeverityLow},
	}
	reversed := []models.Issue{issues[2], issues[1], issues[0]}
	assert.Equal(t, models.ScoreIssues(issues), models.ScoreIssues(reversed))
	assert.Equal(t, uint8(83), models.ScoreIssues(issues))

	var pileup []models.Issue
	for i := 0; i < 10; i++ {
		pileup = append(pileup, models.Issue{Kind: models.IssueHardViolation, Severity: models.SeverityCritical})
	}
	assert.Equal(t, uint8(0), models.ScoreIssues(pileup))
}
