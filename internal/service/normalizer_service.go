package service

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// NormalizerService converts raw course rows into canonical entities keyed by
// small integer IDs. All identity decisions happen here, once; nothing
// downstream ever compares raw name strings again.
type NormalizerService struct {
	logger *zap.Logger
}

// NewNormalizerService constructs the normalizer.
func NewNormalizerService(logger *zap.Logger) *NormalizerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NormalizerService{logger: logger}
}

// entityArena interns display names into dense integer IDs. The first-seen
// display form is kept for output; lookups go through the canonical key.
type entityArena struct {
	ids   map[string]int
	names []string
}

func newEntityArena() *entityArena {
	return &entityArena{ids: make(map[string]int)}
}

func (a *entityArena) intern(display string) int {
	key := canonicalKey(display)
	if id, ok := a.ids[key]; ok {
		return id
	}
	id := len(a.names)
	a.ids[key] = id
	a.names = append(a.names, strings.TrimSpace(display))
	return id
}

// dashVariants unifies the hyphen/dash code points that caused visually
// identical class names to miscompare in imported sheets.
var dashVariants = strings.NewReplacer(
	"‐", "-", // hyphen
	"‑", "-", // non-breaking hyphen
	"‒", "-", // figure dash
	"–", "-", // en dash
	"—", "-", // em dash
	"−", "-", // minus sign
)

func canonicalKey(raw string) string {
	s := dashVariants.Replace(raw)
	s = strings.Join(strings.Fields(s), " ")
	// "10 - A", "10 -A" and "10-A" are the same class.
	s = strings.ReplaceAll(s, " - ", "-")
	s = strings.ReplaceAll(s, "- ", "-")
	s = strings.ReplaceAll(s, " -", "-")
	return strings.ToLower(s)
}

func splitNames(raw string) []string {
	var result []string
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Normalize builds the validated entity arena from raw rows. Row failures are
// collected and reported; valid rows always proceed.
func (s *NormalizerService) Normalize(rows []dto.CourseRow) (*models.NormalizedInput, []models.ValidationError) {
	subjects := newEntityArena()
	teachers := newEntityArena()
	classes := newEntityArena()

	subjectTiers := make(map[int]int)
	classGrades := make(map[int]int)

	var courses []models.Course
	var failures []models.ValidationError

	for i, row := range rows {
		rowNum := i + 1
		classNames := splitNames(row.ClassNames)
		teacherNames := splitNames(row.TeacherNames)

		if row.HoursPerWeek <= 0 {
			failures = append(failures, models.ValidationError{Row: rowNum, Field: "hoursPerWeek", Message: "hours per week must be positive"})
			continue
		}
		if len(classNames) == 0 {
			failures = append(failures, models.ValidationError{Row: rowNum, Field: "classNames", Message: "at least one class is required"})
			continue
		}
		if len(teacherNames) == 0 {
			failures = append(failures, models.ValidationError{Row: rowNum, Field: "teacherNames", Message: "at least one teacher is required"})
			continue
		}
		if strings.TrimSpace(row.SubjectName) == "" {
			failures = append(failures, models.ValidationError{Row: rowNum, Field: "subjectName", Message: "subject name is required"})
			continue
		}

		subjectID := subjects.intern(row.SubjectName)
		if row.Difficulty > subjectTiers[subjectID] {
			subjectTiers[subjectID] = row.Difficulty
		}

		classIDs := make([]int, 0, len(classNames))
		for _, name := range classNames {
			id := classes.intern(name)
			if row.Grade > 0 {
				classGrades[id] = row.Grade
			}
			classIDs = append(classIDs, id)
		}
		teacherIDs := make([]int, 0, len(teacherNames))
		for _, name := range teacherNames {
			teacherIDs = append(teacherIDs, teachers.intern(name))
		}
		sort.Ints(classIDs)
		sort.Ints(teacherIDs)

		courses = append(courses, models.Course{
			SubjectID:    subjectID,
			TeacherIDs:   dedupe(teacherIDs),
			ClassIDs:     dedupe(classIDs),
			HoursPerWeek: row.HoursPerWeek,
			IsParallel:   row.IsParallel,
			SourceRow:    rowNum,
		})
	}

	courses = s.mergeParallel(courses)
	for i := range courses {
		courses[i].ID = i
	}

	input := &models.NormalizedInput{Courses: courses}
	for id, name := range subjects.names {
		input.Subjects = append(input.Subjects, models.Subject{ID: id, DisplayName: name, DifficultyTier: subjectTiers[id]})
	}
	for id, name := range teachers.names {
		input.Teachers = append(input.Teachers, models.Teacher{ID: id, DisplayName: name})
	}
	for id, name := range classes.names {
		input.Classes = append(input.Classes, models.ClassGroup{ID: id, DisplayName: name, Grade: classGrades[id]})
	}

	s.logger.Info("input normalized",
		zap.Int("rows", len(rows)),
		zap.Int("courses", len(courses)),
		zap.Int("rejected", len(failures)),
	)
	return input, failures
}

// mergeParallel collapses co-taught rows into single schedulable units.
// Rows marked parallel that share a subject, class set, and hour count become
// one Course with the union of teachers. Rows that claim the same group but
// disagree on hours cannot be merged: they keep a shared legacy-group tag so
// the model builder can synchronize them explicitly.
func (s *NormalizerService) mergeParallel(courses []models.Course) []models.Course {
	merged := make([]models.Course, 0, len(courses))
	byKey := make(map[string]int)
	groupHours := make(map[string]int)

	for _, course := range courses {
		if !course.IsParallel {
			merged = append(merged, course)
			continue
		}
		group := fmt.Sprintf("s%d/c%s", course.SubjectID, joinInts(course.ClassIDs))
		key := fmt.Sprintf("%s/h%d", group, course.HoursPerWeek)

		if idx, ok := byKey[key]; ok {
			merged[idx].TeacherIDs = dedupe(append(merged[idx].TeacherIDs, course.TeacherIDs...))
			continue
		}
		if prev, ok := groupHours[group]; ok && prev != course.HoursPerWeek {
			// Heterogeneous hours for the same co-taught group: keep both
			// rows and let the builder emit per-slot equality constraints.
			course.LegacyGroup = group
			for i := range merged {
				if merged[i].IsParallel && fmt.Sprintf("s%d/c%s", merged[i].SubjectID, joinInts(merged[i].ClassIDs)) == group {
					merged[i].LegacyGroup = group
				}
			}
			s.logger.Warn("parallel rows with heterogeneous hours kept unmerged",
				zap.String("group", group),
				zap.Int("hours", course.HoursPerWeek),
				zap.Int("previous_hours", prev),
			)
			merged = append(merged, course)
			continue
		}
		groupHours[group] = course.HoursPerWeek
		byKey[key] = len(merged)
		merged = append(merged, course)
	}
	return merged
}

func dedupe(values []int) []int {
	sort.Ints(values)
	result := values[:0]
	var last int
	for i, v := range values {
		if i > 0 && v == last {
			continue
		}
		result = append(result, v)
		last = v
	}
	return result
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}
