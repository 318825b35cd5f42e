package service

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/solver"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

// BuilderOptions selects the strictness profile and objective weights for one
// model compilation. Behaviour differences between solve attempts are data in
// this struct, not divergent code paths.
type BuilderOptions struct {
	CompactnessHard      bool
	GapWeight            int
	BlockBonus           int
	LateWeight           int
	LateThreshold        int
	DayBalanceWeight     int
	TargetHoursPerDay    int
	MaxTeacherViolations int
}

// teacherViolationWeight prices one allowed teacher double-booking. High
// enough that the engine only pays it when nothing else works.
const teacherViolationWeight = 100

// BuildResult is a compiled model plus the bookkeeping the orchestrator needs
// to extract a schedule from a raw assignment.
type BuildResult struct {
	Model    *solver.ConstraintModel
	Warnings []string
}

// BuilderService compiles normalized entities, the slot universe, and decoded
// calendar rules into a solver-agnostic constraint model.
type BuilderService struct {
	logger *zap.Logger
}

// NewBuilderService constructs the builder.
func NewBuilderService(logger *zap.Logger) *BuilderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BuilderService{logger: logger}
}

// ruleSet is the decoded, indexed form of the user-entered constraints.
type ruleSet struct {
	excluded    map[int]bool         // slot id -> blocked for everyone
	cutoffs     []models.GradeCutoffRule
	unavailable map[int]map[int]bool // teacher id -> slot id -> blocked
	pinned      []models.PinnedAssignmentRule
}

func decodeRules(rules []models.Constraint, idx *slotIndex) (*ruleSet, error) {
	rs := &ruleSet{
		excluded:    make(map[int]bool),
		unavailable: make(map[int]map[int]bool),
	}
	for i := range rules {
		rule := rules[i]
		if err := models.DecodeConstraint(&rule); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid calendar rule")
		}
		switch rule.Kind {
		case models.ConstraintExcludedSlot:
			for _, slot := range idx.byDay[rule.ExcludedSlot.DayIndex] {
				if slot.PeriodIndex == rule.ExcludedSlot.PeriodIndex {
					rs.excluded[slot.ID] = true
				}
			}
		case models.ConstraintGradeCutoff:
			rs.cutoffs = append(rs.cutoffs, *rule.GradeCutoff)
		case models.ConstraintTeacherUnavailable:
			blocked := rs.unavailable[rule.TeacherUnavailable.TeacherID]
			if blocked == nil {
				blocked = make(map[int]bool)
				rs.unavailable[rule.TeacherUnavailable.TeacherID] = blocked
			}
			for _, slot := range idx.byDay[rule.TeacherUnavailable.DayIndex] {
				if slot.PeriodIndex >= rule.TeacherUnavailable.FromPeriod && slot.PeriodIndex <= rule.TeacherUnavailable.ToPeriod {
					blocked[slot.ID] = true
				}
			}
		case models.ConstraintPinnedAssignment:
			rs.pinned = append(rs.pinned, *rule.PinnedAssignment)
		}
	}
	return rs, nil
}

// Build compiles the model. It fails fast on statically detectable
// contradictions before any solver is invoked.
func (s *BuilderService) Build(
	input *models.NormalizedInput,
	slots []models.TimeSlot,
	rules []models.Constraint,
	opts BuilderOptions,
) (*BuildResult, error) {
	idx := newSlotIndex(slots)
	rs, err := decodeRules(rules, idx)
	if err != nil {
		return nil, err
	}

	if err := s.precheckCapacity(input, idx, rs); err != nil {
		return nil, err
	}

	model := solver.NewConstraintModel()
	warnings := make([]string, 0)

	// One boolean decision variable per (course, slot).
	varFor := make(map[int]map[int]solver.VarID, len(input.Courses))
	for _, course := range input.Courses {
		varFor[course.ID] = make(map[int]solver.VarID, len(slots))
		for _, slot := range slots {
			v := model.AddVar(solver.VarMeta{CourseID: course.ID, SlotID: slot.ID})
			varFor[course.ID][slot.ID] = v
		}
	}

	s.addDemandRows(model, input, slots, varFor)
	s.addZeroFixes(model, input, slots, varFor, rs)
	s.addPins(model, input, rs, varFor, &warnings)
	s.addClassExclusivity(model, input, slots, varFor)
	s.addTeacherExclusivity(model, input, slots, varFor, opts)
	s.addLegacyGroupSync(model, input, slots, varFor, &warnings)
	s.addCompactness(model, input, idx, varFor, opts)
	s.addBlockBonus(model, input, idx, varFor, opts)
	s.addLatePenalty(model, input, slots, varFor, opts)
	s.addDayBalance(model, input, idx, varFor, opts)

	s.logger.Debug("constraint model built",
		zap.Int("courses", len(input.Courses)),
		zap.Int("slots", len(slots)),
		zap.Int("variables", len(model.Vars)),
		zap.Int("relations", len(model.Relations)),
		zap.Int("objective_terms", len(model.Objective)),
	)
	return &BuildResult{Model: model, Warnings: warnings}, nil
}

// precheckCapacity rejects inputs whose demand cannot fit the calendar before
// a solver ever runs. The diagnostic names the class and the exact shortfall.
func (s *BuilderService) precheckCapacity(input *models.NormalizedInput, idx *slotIndex, rs *ruleSet) error {
	available := idx.teachable()
	for slotID := range rs.excluded {
		if slot, ok := idx.byID[slotID]; ok && !slot.IsBreak {
			available--
		}
	}
	demand := make(map[int]int)
	for _, course := range input.Courses {
		for _, classID := range course.ClassIDs {
			demand[classID] += course.HoursPerWeek
		}
	}
	classIDs := make([]int, 0, len(demand))
	for id := range demand {
		classIDs = append(classIDs, id)
	}
	sort.Ints(classIDs)
	for _, classID := range classIDs {
		hours := demand[classID]
		if hours > available {
			name := fmt.Sprintf("class %d", classID)
			if class := input.ClassByID(classID); class != nil {
				name = class.DisplayName
			}
			return appErrors.Clone(appErrors.ErrPreconditionFailed,
				fmt.Sprintf("%s requires %d weekly hours but only %d slots are available (shortfall %d)",
					name, hours, available, hours-available))
		}
	}
	return nil
}

func (s *BuilderService) addDemandRows(model *solver.ConstraintModel, input *models.NormalizedInput, slots []models.TimeSlot, varFor map[int]map[int]solver.VarID) {
	for _, course := range input.Courses {
		terms := make([]solver.Term, 0, len(slots))
		for _, slot := range slots {
			terms = append(terms, solver.Term{Var: varFor[course.ID][slot.ID], Coeff: 1})
		}
		model.AddRelation(solver.LinearRelation{
			Terms: terms,
			Op:    solver.OpEQ,
			Bound: course.HoursPerWeek,
			Label: fmt.Sprintf("hours(course=%d)", course.ID),
		})
	}
}

func (s *BuilderService) addZeroFixes(model *solver.ConstraintModel, input *models.NormalizedInput, slots []models.TimeSlot, varFor map[int]map[int]solver.VarID, rs *ruleSet) {
	for _, course := range input.Courses {
		grade := 0
		for _, classID := range course.ClassIDs {
			if class := input.ClassByID(classID); class != nil && class.Grade > grade {
				grade = class.Grade
			}
		}
		for _, slot := range slots {
			v := varFor[course.ID][slot.ID]
			switch {
			case slot.IsBreak:
				model.FixZero(v, fmt.Sprintf("break(course=%d,slot=%d)", course.ID, slot.ID))
			case rs.excluded[slot.ID]:
				model.FixZero(v, fmt.Sprintf("excluded(course=%d,slot=%d)", course.ID, slot.ID))
			default:
				if s.cutoffBlocks(rs, grade, slot) {
					model.FixZero(v, fmt.Sprintf("cutoff(course=%d,slot=%d)", course.ID, slot.ID))
					continue
				}
				for _, teacherID := range course.TeacherIDs {
					if rs.unavailable[teacherID][slot.ID] {
						model.FixZero(v, fmt.Sprintf("unavailable(course=%d,teacher=%d,slot=%d)", course.ID, teacherID, slot.ID))
						break
					}
				}
			}
		}
	}
}

func (s *BuilderService) cutoffBlocks(rs *ruleSet, grade int, slot models.TimeSlot) bool {
	for _, cutoff := range rs.cutoffs {
		if cutoff.Grade == grade && cutoff.DayIndex == slot.DayIndex && slot.PeriodIndex > cutoff.AfterPeriod {
			return true
		}
	}
	return false
}

func (s *BuilderService) addPins(model *solver.ConstraintModel, input *models.NormalizedInput, rs *ruleSet, varFor map[int]map[int]solver.VarID, warnings *[]string) {
	for _, pin := range rs.pinned {
		courseVars, ok := varFor[pin.CourseID]
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("pinned assignment references unknown course %d", pin.CourseID))
			continue
		}
		v, ok := courseVars[pin.SlotID]
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("pinned assignment references unknown slot %d", pin.SlotID))
			continue
		}
		model.FixOne(v, fmt.Sprintf("pinned(course=%d,slot=%d)", pin.CourseID, pin.SlotID))
	}
}

// addClassExclusivity keeps class no-double-booking hard at every strictness
// level: a violated class slot is an unusable timetable, never a trade-off.
func (s *BuilderService) addClassExclusivity(model *solver.ConstraintModel, input *models.NormalizedInput, slots []models.TimeSlot, varFor map[int]map[int]solver.VarID) {
	byClass := make(map[int][]models.Course)
	for _, course := range input.Courses {
		for _, classID := range course.ClassIDs {
			byClass[classID] = append(byClass[classID], course)
		}
	}
	for _, slot := range slots {
		for classID, courses := range byClass {
			if len(courses) < 2 {
				continue
			}
			terms := make([]solver.Term, 0, len(courses))
			for _, course := range courses {
				terms = append(terms, solver.Term{Var: varFor[course.ID][slot.ID], Coeff: 1})
			}
			model.AddRelation(solver.LinearRelation{
				Terms: terms,
				Op:    solver.OpLE,
				Bound: 1,
				Label: fmt.Sprintf("class_excl(class=%d,slot=%d)", classID, slot.ID),
			})
		}
	}
}

// addTeacherExclusivity is hard by default. With MaxTeacherViolations > 0 the
// ladder's third step converts each row into a penalized violation variable,
// capped globally: allowed but costed, never silently dropped.
func (s *BuilderService) addTeacherExclusivity(model *solver.ConstraintModel, input *models.NormalizedInput, slots []models.TimeSlot, varFor map[int]map[int]solver.VarID, opts BuilderOptions) {
	byTeacher := make(map[int][]models.Course)
	for _, course := range input.Courses {
		for _, teacherID := range course.TeacherIDs {
			byTeacher[teacherID] = append(byTeacher[teacherID], course)
		}
	}
	var violationVars []solver.VarID
	for _, slot := range slots {
		for teacherID, courses := range byTeacher {
			if len(courses) < 2 {
				continue
			}
			terms := make([]solver.Term, 0, len(courses)+1)
			for _, course := range courses {
				terms = append(terms, solver.Term{Var: varFor[course.ID][slot.ID], Coeff: 1})
			}
			if opts.MaxTeacherViolations > 0 {
				over := model.AddVar(solver.VarMeta{Aux: true, Label: fmt.Sprintf("teacher_over(teacher=%d,slot=%d)", teacherID, slot.ID)})
				terms = append(terms, solver.Term{Var: over, Coeff: -1})
				model.AddObjectiveTerm(over, teacherViolationWeight)
				violationVars = append(violationVars, over)
			}
			model.AddRelation(solver.LinearRelation{
				Terms: terms,
				Op:    solver.OpLE,
				Bound: 1,
				Label: fmt.Sprintf("teacher_excl(teacher=%d,slot=%d)", teacherID, slot.ID),
			})
		}
	}
	if len(violationVars) > 0 {
		terms := make([]solver.Term, 0, len(violationVars))
		for _, v := range violationVars {
			terms = append(terms, solver.Term{Var: v, Coeff: 1})
		}
		model.AddRelation(solver.LinearRelation{
			Terms: terms,
			Op:    solver.OpLE,
			Bound: opts.MaxTeacherViolations,
			Label: "teacher_violation_cap",
		})
	}
}

// addLegacyGroupSync synchronizes unmerged parallel rows slot by slot.
// Emitted with a warning: these inputs predate single-unit parallel courses.
func (s *BuilderService) addLegacyGroupSync(model *solver.ConstraintModel, input *models.NormalizedInput, slots []models.TimeSlot, varFor map[int]map[int]solver.VarID, warnings *[]string) {
	groups := make(map[string][]models.Course)
	for _, course := range input.Courses {
		if course.LegacyGroup != "" {
			groups[course.LegacyGroup] = append(groups[course.LegacyGroup], course)
		}
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		courses := groups[name]
		if len(courses) < 2 {
			continue
		}
		sort.Slice(courses, func(i, j int) bool { return courses[i].ID < courses[j].ID })
		anchor := courses[0]
		for _, course := range courses[1:] {
			for _, slot := range slots {
				model.AddRelation(solver.LinearRelation{
					Terms: []solver.Term{
						{Var: varFor[anchor.ID][slot.ID], Coeff: 1},
						{Var: varFor[course.ID][slot.ID], Coeff: -1},
					},
					Op:    solver.OpEQ,
					Bound: 0,
					Label: fmt.Sprintf("legacy_sync(%s,slot=%d)", name, slot.ID),
				})
			}
		}
		*warnings = append(*warnings, fmt.Sprintf("legacy parallel group %q synchronized via equality constraints", name))
	}
}

// addCompactness penalizes (or forbids) the occupied/free/occupied pattern in
// a class's or teacher's day using a sliding window over period-ordered
// occupancy.
func (s *BuilderService) addCompactness(model *solver.ConstraintModel, input *models.NormalizedInput, idx *slotIndex, varFor map[int]map[int]solver.VarID, opts BuilderOptions) {
	byClass := make(map[int][]models.Course)
	byTeacher := make(map[int][]models.Course)
	for _, course := range input.Courses {
		for _, classID := range course.ClassIDs {
			byClass[classID] = append(byClass[classID], course)
		}
		for _, teacherID := range course.TeacherIDs {
			byTeacher[teacherID] = append(byTeacher[teacherID], course)
		}
	}
	s.addCompactnessAxis(model, idx, varFor, opts, "class", byClass)
	s.addCompactnessAxis(model, idx, varFor, opts, "teacher", byTeacher)
}

func (s *BuilderService) addCompactnessAxis(model *solver.ConstraintModel, idx *slotIndex, varFor map[int]map[int]solver.VarID, opts BuilderOptions, kind string, coursesByEntity map[int][]models.Course) {
	entityIDs := make([]int, 0, len(coursesByEntity))
	for id := range coursesByEntity {
		entityIDs = append(entityIDs, id)
	}
	sort.Ints(entityIDs)

	for _, entityID := range entityIDs {
		courses := coursesByEntity[entityID]
		for _, day := range idx.days {
			daySlots := teachableSlots(idx.byDay[day])
			for i := 1; i < len(daySlots)-1; i++ {
				prev, mid, next := daySlots[i-1], daySlots[i], daySlots[i+1]
				terms := make([]solver.Term, 0, 3*len(courses)+1)
				for _, course := range courses {
					terms = append(terms,
						solver.Term{Var: varFor[course.ID][prev.ID], Coeff: 1},
						solver.Term{Var: varFor[course.ID][next.ID], Coeff: 1},
						solver.Term{Var: varFor[course.ID][mid.ID], Coeff: -1},
					)
				}
				if opts.CompactnessHard {
					model.AddRelation(solver.LinearRelation{
						Terms: terms,
						Op:    solver.OpLE,
						Bound: 1,
						Label: fmt.Sprintf("compact_hard(%s=%d,day=%d,period=%d)", kind, entityID, day, mid.PeriodIndex),
					})
					continue
				}
				gap := model.AddVar(solver.VarMeta{Aux: true, Label: fmt.Sprintf("gap(%s=%d,slot=%d)", kind, entityID, mid.ID)})
				terms = append(terms, solver.Term{Var: gap, Coeff: -1})
				model.AddRelation(solver.LinearRelation{
					Terms: terms,
					Op:    solver.OpLE,
					Bound: 1,
					Label: fmt.Sprintf("compact_soft(%s=%d,day=%d,period=%d)", kind, entityID, day, mid.PeriodIndex),
				})
				model.AddObjectiveTerm(gap, opts.GapWeight)
			}
		}
	}
}

// addBlockBonus rewards two chronologically adjacent hours of the same course.
// The bonus variable can only switch on when both hours are placed, and its
// negative weight makes switching it on objective-improving.
func (s *BuilderService) addBlockBonus(model *solver.ConstraintModel, input *models.NormalizedInput, idx *slotIndex, varFor map[int]map[int]solver.VarID, opts BuilderOptions) {
	if opts.BlockBonus <= 0 {
		return
	}
	for _, course := range input.Courses {
		if course.HoursPerWeek < 2 {
			continue
		}
		for _, day := range idx.days {
			daySlots := teachableSlots(idx.byDay[day])
			for i := 0; i < len(daySlots)-1; i++ {
				first, second := daySlots[i], daySlots[i+1]
				if second.PeriodIndex != first.PeriodIndex+1 {
					continue
				}
				block := model.AddVar(solver.VarMeta{Aux: true, Label: fmt.Sprintf("block(course=%d,slot=%d)", course.ID, first.ID)})
				model.AddRelation(solver.LinearRelation{
					Terms: []solver.Term{{Var: block, Coeff: 1}, {Var: varFor[course.ID][first.ID], Coeff: -1}},
					Op:    solver.OpLE,
					Bound: 0,
					Label: fmt.Sprintf("block_lhs(course=%d,slot=%d)", course.ID, first.ID),
				})
				model.AddRelation(solver.LinearRelation{
					Terms: []solver.Term{{Var: block, Coeff: 1}, {Var: varFor[course.ID][second.ID], Coeff: -1}},
					Op:    solver.OpLE,
					Bound: 0,
					Label: fmt.Sprintf("block_rhs(course=%d,slot=%d)", course.ID, second.ID),
				})
				model.AddObjectiveTerm(block, -opts.BlockBonus)
			}
		}
	}
}

// addLatePenalty prices placing a high-difficulty subject at or after the
// late threshold, growing with how late the period is and how hard the tier.
func (s *BuilderService) addLatePenalty(model *solver.ConstraintModel, input *models.NormalizedInput, slots []models.TimeSlot, varFor map[int]map[int]solver.VarID, opts BuilderOptions) {
	if opts.LateWeight <= 0 {
		return
	}
	for _, course := range input.Courses {
		subject := input.SubjectByID(course.SubjectID)
		if subject == nil || subject.DifficultyTier <= 0 {
			continue
		}
		for _, slot := range slots {
			if slot.IsBreak || slot.PeriodIndex < opts.LateThreshold {
				continue
			}
			weight := opts.LateWeight * subject.DifficultyTier * (slot.PeriodIndex - opts.LateThreshold + 1)
			model.AddObjectiveTerm(varFor[course.ID][slot.ID], weight)
		}
	}
}

// addDayBalance penalizes days above the target load and rewards spreading
// hours over every configured workday.
func (s *BuilderService) addDayBalance(model *solver.ConstraintModel, input *models.NormalizedInput, idx *slotIndex, varFor map[int]map[int]solver.VarID, opts BuilderOptions) {
	if opts.DayBalanceWeight <= 0 {
		return
	}
	byClass := make(map[int][]models.Course)
	for _, course := range input.Courses {
		for _, classID := range course.ClassIDs {
			byClass[classID] = append(byClass[classID], course)
		}
	}
	classIDs := make([]int, 0, len(byClass))
	for id := range byClass {
		classIDs = append(classIDs, id)
	}
	sort.Ints(classIDs)

	for _, classID := range classIDs {
		courses := byClass[classID]
		for _, day := range idx.days {
			daySlots := teachableSlots(idx.byDay[day])
			if len(daySlots) == 0 {
				continue
			}
			occTerms := make([]solver.Term, 0, len(courses)*len(daySlots))
			for _, course := range courses {
				for _, slot := range daySlots {
					occTerms = append(occTerms, solver.Term{Var: varFor[course.ID][slot.ID], Coeff: 1})
				}
			}

			// A day loaded past the target flips one indicator and pays a
			// flat penalty, however far past it goes.
			over := model.AddVar(solver.VarMeta{Aux: true, Label: fmt.Sprintf("day_over(class=%d,day=%d)", classID, day)})
			terms := append(append([]solver.Term{}, occTerms...), solver.Term{Var: over, Coeff: -len(daySlots)})
			model.AddRelation(solver.LinearRelation{
				Terms: terms,
				Op:    solver.OpLE,
				Bound: opts.TargetHoursPerDay,
				Label: fmt.Sprintf("day_balance(class=%d,day=%d)", classID, day),
			})
			model.AddObjectiveTerm(over, opts.DayBalanceWeight)

			// An entirely unused workday costs a flat penalty: used can only
			// switch on when the day has hours, and its negative weight makes
			// a used day cheaper than an empty one.
			used := model.AddVar(solver.VarMeta{Aux: true, Label: fmt.Sprintf("day_used(class=%d,day=%d)", classID, day)})
			usedTerms := append([]solver.Term{{Var: used, Coeff: 1}}, negate(occTerms)...)
			model.AddRelation(solver.LinearRelation{
				Terms: usedTerms,
				Op:    solver.OpLE,
				Bound: 0,
				Label: fmt.Sprintf("day_used(class=%d,day=%d)", classID, day),
			})
			model.AddObjectiveTerm(used, -opts.DayBalanceWeight)
		}
	}
}

func negate(terms []solver.Term) []solver.Term {
	result := make([]solver.Term, len(terms))
	for i, term := range terms {
		result[i] = solver.Term{Var: term.Var, Coeff: -term.Coeff}
	}
	return result
}

func teachableSlots(slots []models.TimeSlot) []models.TimeSlot {
	result := make([]models.TimeSlot, 0, len(slots))
	for _, slot := range slots {
		if !slot.IsBreak {
			result = append(result, slot)
		}
	}
	return result
}
