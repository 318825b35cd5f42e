package service

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
)

// AnalyzerService inspects a solved schedule and reports quality issues with
// a 0-100 score. It is pure: it never mutates the schedule, the input, or any
// shared state, so concurrent analyses of different schedules are safe.
type AnalyzerService struct {
	cfg    config.AnalyzerConfig
	logger *zap.Logger
}

// NewAnalyzerService constructs the analyzer with detector thresholds.
func NewAnalyzerService(cfg config.AnalyzerConfig, logger *zap.Logger) *AnalyzerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzerService{cfg: cfg, logger: logger}
}

// Analyze runs every detector over the schedule and folds the findings into
// a quality score. The score depends only on the issue multiset.
func (s *AnalyzerService) Analyze(schedule *models.Schedule, input *models.NormalizedInput, slots []models.TimeSlot) (uint8, []models.Issue) {
	idx := newSlotIndex(slots)
	occ := buildOccupancy(schedule, input, idx)

	var issues []models.Issue
	issues = append(issues, s.detectHardViolations(schedule, input, idx, occ)...)
	issues = append(issues, s.detectGaps(occ, idx)...)
	issues = append(issues, s.detectIsolatedHours(schedule, input, idx)...)
	issues = append(issues, s.detectAmplitude(occ, idx)...)
	issues = append(issues, s.detectOverload(occ, idx)...)
	issues = append(issues, s.detectWeeklyGaps(schedule, input, idx)...)
	issues = append(issues, s.detectLateDifficult(schedule, input, idx)...)

	score := models.ScoreIssues(issues)
	s.logger.Debug("schedule analyzed",
		zap.String("schedule_id", schedule.ID),
		zap.Int("issues", len(issues)),
		zap.Uint8("score", score),
	)
	return score, issues
}

// occupancy indexes who is busy when, on both the class and teacher axes.
type occupancy struct {
	classSlots   map[int]map[int][]int // class -> slot -> course ids
	teacherSlots map[int]map[int][]int // teacher -> slot -> course ids
}

func buildOccupancy(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex) *occupancy {
	occ := &occupancy{
		classSlots:   make(map[int]map[int][]int),
		teacherSlots: make(map[int]map[int][]int),
	}
	for _, a := range schedule.Assignments {
		course := input.CourseByID(a.CourseID)
		if course == nil {
			continue
		}
		for _, classID := range course.ClassIDs {
			if occ.classSlots[classID] == nil {
				occ.classSlots[classID] = make(map[int][]int)
			}
			occ.classSlots[classID][a.SlotID] = append(occ.classSlots[classID][a.SlotID], course.ID)
		}
		for _, teacherID := range course.TeacherIDs {
			if occ.teacherSlots[teacherID] == nil {
				occ.teacherSlots[teacherID] = make(map[int][]int)
			}
			occ.teacherSlots[teacherID][a.SlotID] = append(occ.teacherSlots[teacherID][a.SlotID], course.ID)
		}
	}
	return occ
}

// detectHardViolations re-checks the invariants the solver promised: exact
// hours, no class doubles, no teacher doubles, no break placements. Any hit
// is Critical; a schedule with Critical issues is unusable.
func (s *AnalyzerService) detectHardViolations(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex, occ *occupancy) []models.Issue {
	var issues []models.Issue

	unscheduled := make(map[int]bool, len(schedule.Unscheduled))
	for _, id := range schedule.Unscheduled {
		unscheduled[id] = true
	}

	byCourse := schedule.AssignmentsByCourse()
	for _, course := range input.Courses {
		if unscheduled[course.ID] {
			continue
		}
		placed := len(byCourse[course.ID])
		if placed != course.HoursPerWeek {
			subject := "course"
			if sub := input.SubjectByID(course.SubjectID); sub != nil {
				subject = sub.DisplayName
			}
			issues = append(issues, models.Issue{
				Kind:      models.IssueHardViolation,
				Severity:  models.SeverityCritical,
				EntityRef: models.EntityRef{Kind: "course", ID: course.ID},
				CourseID:  course.ID,
				Details:   fmt.Sprintf("%s has %d placed hours, requires %d", subject, placed, course.HoursPerWeek),
			})
		}
	}

	for _, a := range schedule.Assignments {
		if slot, ok := idx.byID[a.SlotID]; !ok || slot.IsBreak {
			issues = append(issues, models.Issue{
				Kind:      models.IssueHardViolation,
				Severity:  models.SeverityCritical,
				EntityRef: models.EntityRef{Kind: "course", ID: a.CourseID},
				CourseID:  a.CourseID,
				SlotID:    a.SlotID,
				Details:   fmt.Sprintf("course %d placed on unteachable slot %d", a.CourseID, a.SlotID),
			})
		}
	}

	issues = append(issues, doubleBookings(occ.classSlots, "class", input, models.ConflictDimensionClass)...)
	issues = append(issues, doubleBookings(occ.teacherSlots, "teacher", input, models.ConflictDimensionTeacher)...)
	return issues
}

func doubleBookings(slotsByEntity map[int]map[int][]int, kind string, input *models.NormalizedInput, dim models.ConflictDimension) []models.Issue {
	var issues []models.Issue
	entityIDs := make([]int, 0, len(slotsByEntity))
	for id := range slotsByEntity {
		entityIDs = append(entityIDs, id)
	}
	sort.Ints(entityIDs)
	for _, entityID := range entityIDs {
		slotIDs := make([]int, 0, len(slotsByEntity[entityID]))
		for slotID := range slotsByEntity[entityID] {
			slotIDs = append(slotIDs, slotID)
		}
		sort.Ints(slotIDs)
		for _, slotID := range slotIDs {
			courses := slotsByEntity[entityID][slotID]
			if len(courses) < 2 {
				continue
			}
			name := entityName(kind, entityID, input)
			issues = append(issues, models.Issue{
				Kind:      models.IssueHardViolation,
				Severity:  models.SeverityCritical,
				EntityRef: models.EntityRef{Kind: kind, ID: entityID},
				SlotID:    slotID,
				Details:   fmt.Sprintf("%s double-booked on slot %d by %d courses", name, slotID, len(courses)),
			})
		}
	}
	return issues
}

func entityName(kind string, id int, input *models.NormalizedInput) string {
	switch kind {
	case "class":
		if class := input.ClassByID(id); class != nil {
			return "class " + class.DisplayName
		}
	case "teacher":
		if teacher := input.TeacherByID(id); teacher != nil {
			return "teacher " + teacher.DisplayName
		}
	}
	return fmt.Sprintf("%s %d", kind, id)
}

// detectGaps flags free teachable periods squeezed between occupied ones in
// a class's or teacher's day. Each gap hour is one High issue.
func (s *AnalyzerService) detectGaps(occ *occupancy, idx *slotIndex) []models.Issue {
	issues := gapsForAxis(occ.classSlots, "class", idx)
	return append(issues, gapsForAxis(occ.teacherSlots, "teacher", idx)...)
}

func gapsForAxis(slotsByEntity map[int]map[int][]int, kind string, idx *slotIndex) []models.Issue {
	var issues []models.Issue
	for _, entityID := range sortedKeys(slotsByEntity) {
		busy := slotsByEntity[entityID]
		for _, day := range idx.days {
			daySlots := teachableSlots(idx.byDay[day])
			first, last := -1, -1
			for i, slot := range daySlots {
				if len(busy[slot.ID]) > 0 {
					if first < 0 {
						first = i
					}
					last = i
				}
			}
			if first < 0 {
				continue
			}
			for i := first + 1; i < last; i++ {
				slot := daySlots[i]
				if len(busy[slot.ID]) == 0 {
					issues = append(issues, models.Issue{
						Kind:        models.IssueGap,
						Severity:    models.SeverityHigh,
						EntityRef:   models.EntityRef{Kind: kind, ID: entityID},
						SlotID:      slot.ID,
						Details:     fmt.Sprintf("%s %d has a free period %d between lessons on day %d", kind, entityID, slot.PeriodIndex, day),
						Suggestion:  "compact the day by moving a later lesson into the gap",
						AutoFixable: true,
						FixAction:   models.FixCompactTeacherDay,
					})
				}
			}
		}
	}
	return issues
}

// detectIsolatedHours flags every hour of a multi-hour course that has no
// chronologically adjacent hour of the same course. Adjacency is over the
// teachable order of the day, so a lesson right after a break still counts
// as adjacent to the one right before it.
func (s *AnalyzerService) detectIsolatedHours(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex) []models.Issue {
	var issues []models.Issue
	byCourse := schedule.AssignmentsByCourse()
	for _, course := range input.Courses {
		if course.HoursPerWeek < 2 {
			continue
		}
		position := make(map[int]int) // slot id -> teachable ordinal within its day
		occupied := make(map[int]map[int]bool)
		for _, slotID := range byCourse[course.ID] {
			slot, ok := idx.byID[slotID]
			if !ok {
				continue
			}
			for i, daySlot := range teachableSlots(idx.byDay[slot.DayIndex]) {
				if daySlot.ID == slotID {
					position[slotID] = i
					if occupied[slot.DayIndex] == nil {
						occupied[slot.DayIndex] = make(map[int]bool)
					}
					occupied[slot.DayIndex][i] = true
					break
				}
			}
		}
		slotIDs := append([]int{}, byCourse[course.ID]...)
		sort.Ints(slotIDs)
		for _, slotID := range slotIDs {
			slot, ok := idx.byID[slotID]
			if !ok {
				continue
			}
			pos, placed := position[slotID]
			if !placed {
				continue
			}
			if occupied[slot.DayIndex][pos-1] || occupied[slot.DayIndex][pos+1] {
				continue
			}
			subject := fmt.Sprintf("course %d", course.ID)
			if sub := input.SubjectByID(course.SubjectID); sub != nil {
				subject = sub.DisplayName
			}
			issues = append(issues, models.Issue{
				Kind:        models.IssueIsolatedHour,
				Severity:    models.SeverityMedium,
				EntityRef:   models.EntityRef{Kind: "course", ID: course.ID},
				CourseID:    course.ID,
				SlotID:      slotID,
				Details:     fmt.Sprintf("%s hour at period %d on day %d has no adjacent hour", subject, slot.PeriodIndex, slot.DayIndex),
				Suggestion:  "merge the hour with another hour of the same course into a block",
				AutoFixable: true,
				FixAction:   models.FixMergeToBlock,
			})
		}
	}
	return issues
}

// detectAmplitude flags class and teacher days whose span from first to last
// lesson exceeds the configured amplitude threshold.
func (s *AnalyzerService) detectAmplitude(occ *occupancy, idx *slotIndex) []models.Issue {
	issues := s.amplitudeForAxis(occ.classSlots, "class", idx)
	return append(issues, s.amplitudeForAxis(occ.teacherSlots, "teacher", idx)...)
}

func (s *AnalyzerService) amplitudeForAxis(slotsByEntity map[int]map[int][]int, kind string, idx *slotIndex) []models.Issue {
	var issues []models.Issue
	for _, entityID := range sortedKeys(slotsByEntity) {
		busy := slotsByEntity[entityID]
		for _, day := range idx.days {
			firstPeriod, lastPeriod := -1, -1
			for _, slot := range idx.byDay[day] {
				if len(busy[slot.ID]) == 0 {
					continue
				}
				if firstPeriod < 0 {
					firstPeriod = slot.PeriodIndex
				}
				lastPeriod = slot.PeriodIndex
			}
			if firstPeriod < 0 {
				continue
			}
			span := lastPeriod - firstPeriod + 1
			if span > s.cfg.AmplitudeThreshold {
				issues = append(issues, models.Issue{
					Kind:      models.IssueExcessiveAmplitude,
					Severity:  models.SeverityMedium,
					EntityRef: models.EntityRef{Kind: kind, ID: entityID},
					Details:   fmt.Sprintf("%s %d day %d spans %d periods, threshold is %d", kind, entityID, day, span, s.cfg.AmplitudeThreshold),
				})
			}
		}
	}
	return issues
}

// detectOverload flags a longer unbroken teaching stretch in a class day
// than the overload threshold allows. Breaks and free periods end a stretch.
func (s *AnalyzerService) detectOverload(occ *occupancy, idx *slotIndex) []models.Issue {
	var issues []models.Issue
	for _, classID := range sortedKeys(occ.classSlots) {
		busy := occ.classSlots[classID]
		for _, day := range idx.days {
			run, longest := 0, 0
			for _, slot := range idx.byDay[day] {
				if slot.IsBreak || len(busy[slot.ID]) == 0 {
					run = 0
					continue
				}
				run++
				if run > longest {
					longest = run
				}
			}
			if longest > s.cfg.OverloadThreshold {
				issues = append(issues, models.Issue{
					Kind:      models.IssueOverload,
					Severity:  models.SeverityMedium,
					EntityRef: models.EntityRef{Kind: "class", ID: classID},
					Details:   fmt.Sprintf("%d consecutive hours on day %d, threshold is %d", longest, day, s.cfg.OverloadThreshold),
				})
			}
		}
	}
	return issues
}

// detectWeeklyGaps flags multi-hour courses whose hours cluster with long
// dead stretches in between, e.g. all hours on Monday then nothing until the
// following week.
func (s *AnalyzerService) detectWeeklyGaps(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex) []models.Issue {
	var issues []models.Issue
	byCourse := schedule.AssignmentsByCourse()
	for _, course := range input.Courses {
		if course.HoursPerWeek < 2 {
			continue
		}
		daySet := make(map[int]bool)
		for _, slotID := range byCourse[course.ID] {
			if slot, ok := idx.byID[slotID]; ok {
				daySet[slot.DayIndex] = true
			}
		}
		if len(daySet) < 2 {
			continue
		}
		days := make([]int, 0, len(daySet))
		for day := range daySet {
			days = append(days, day)
		}
		sort.Ints(days)
		for i := 1; i < len(days); i++ {
			if days[i]-days[i-1] > s.cfg.WeeklyGapDays {
				subject := fmt.Sprintf("course %d", course.ID)
				if sub := input.SubjectByID(course.SubjectID); sub != nil {
					subject = sub.DisplayName
				}
				issues = append(issues, models.Issue{
					Kind:      models.IssueWeeklyGap,
					Severity:  models.SeverityLow,
					EntityRef: models.EntityRef{Kind: "course", ID: course.ID},
					CourseID:  course.ID,
					Details:   fmt.Sprintf("%s has a %d-day gap between lessons", subject, days[i]-days[i-1]),
				})
				break
			}
		}
	}
	return issues
}

// detectLateDifficult flags high-difficulty subjects placed at or after the
// late threshold.
func (s *AnalyzerService) detectLateDifficult(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex) []models.Issue {
	var issues []models.Issue
	for _, a := range schedule.Assignments {
		course := input.CourseByID(a.CourseID)
		if course == nil {
			continue
		}
		subject := input.SubjectByID(course.SubjectID)
		if subject == nil || subject.DifficultyTier < s.cfg.HighDifficultyTier {
			continue
		}
		slot, ok := idx.byID[a.SlotID]
		if !ok || slot.PeriodIndex < s.cfg.LateThreshold {
			continue
		}
		issues = append(issues, models.Issue{
			Kind:        models.IssueLateDifficultSubject,
			Severity:    models.SeverityMedium,
			EntityRef:   models.EntityRef{Kind: "course", ID: course.ID},
			CourseID:    course.ID,
			SlotID:      a.SlotID,
			Details:     fmt.Sprintf("%s at period %d on day %d", subject.DisplayName, slot.PeriodIndex, slot.DayIndex),
			Suggestion:  "move the lesson to a morning period",
			AutoFixable: true,
			FixAction:   models.FixMoveToMorning,
		})
	}
	return issues
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
