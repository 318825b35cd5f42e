package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
)

// Modification kinds recorded on the schedule log.
const (
	ModificationMove   = "MOVE"
	ModificationAdd    = "ADD"
	ModificationRemove = "REMOVE"
)

type modificationScheduleStore interface {
	FetchActive(ctx context.Context, tenantID string) (*models.Schedule, error)
	PublishNewVersion(ctx context.Context, next *models.Schedule, expectedVersion int) error
}

type modificationInputStore interface {
	LoadNormalized(ctx context.Context, tenantID string) (*models.NormalizedInput, error)
}

type modificationCache interface {
	InvalidateActive(ctx context.Context, tenantID string) error
}

type modificationMetrics interface {
	RecordModification(kind string, accepted bool)
}

// ModificationService applies incremental edits to the active schedule.
// Edits never mutate a stored version: an accepted edit produces a new
// immutable version chained to its base, a rejected edit returns the precise
// conflicts and leaves storage untouched.
type ModificationService struct {
	schedules modificationScheduleStore
	inputs    modificationInputStore
	cache     modificationCache
	metrics   modificationMetrics
	calendar  models.CalendarConfig
	cfg       config.ModificationsConfig
	late      int
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewModificationService constructs the edit engine.
func NewModificationService(
	schedules modificationScheduleStore,
	inputs modificationInputStore,
	cache modificationCache,
	metrics modificationMetrics,
	calendar models.CalendarConfig,
	cfg config.ModificationsConfig,
	lateThreshold int,
	validate *validator.Validate,
	logger *zap.Logger,
) *ModificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAlternatives <= 0 {
		cfg.MaxAlternatives = 5
	}
	return &ModificationService{
		schedules: schedules,
		inputs:    inputs,
		cache:     cache,
		metrics:   metrics,
		calendar:  calendar,
		cfg:       cfg,
		late:      lateThreshold,
		validate:  validate,
		logger:    logger,
	}
}

// Move relocates one hour of a course to another slot.
func (s *ModificationService) Move(ctx context.Context, req *dto.MoveRequest) (*models.Schedule, *dto.ModificationRejection, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid move request")
	}
	schedule, input, idx, err := s.load(ctx, req.TenantID, req.ExpectedVersion)
	if err != nil {
		return nil, nil, err
	}
	course := input.CourseByID(req.CourseID)
	if course == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("course %d not found", req.CourseID))
	}
	if !hasAssignment(schedule, req.CourseID, req.FromSlot) {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound,
			fmt.Sprintf("course %d has no hour on slot %d", req.CourseID, req.FromSlot))
	}
	if err := s.checkTeachable(idx, req.ToSlot); err != nil {
		return nil, nil, err
	}
	if hasAssignment(schedule, req.CourseID, req.ToSlot) {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("course %d already occupies slot %d", req.CourseID, req.ToSlot))
	}

	conflicts := s.collisions(schedule, input, course, req.ToSlot, &models.Assignment{CourseID: req.CourseID, SlotID: req.FromSlot})
	if len(conflicts) > 0 {
		s.recordModification(ModificationMove, false)
		return nil, &dto.ModificationRejection{
			Conflicts:    conflicts,
			Alternatives: s.alternatives(schedule, input, idx, course, req.ToSlot, req.FromSlot),
		}, nil
	}

	next := s.nextVersion(schedule)
	for i := range next.Assignments {
		if next.Assignments[i].CourseID == req.CourseID && next.Assignments[i].SlotID == req.FromSlot {
			next.Assignments[i].SlotID = req.ToSlot
			break
		}
	}
	sortAssignments(next.Assignments)
	from, to := req.FromSlot, req.ToSlot
	next.Modifications = append(next.Modifications, models.Modification{
		ID:        uuid.NewString(),
		Kind:      ModificationMove,
		CourseID:  req.CourseID,
		FromSlot:  &from,
		ToSlot:    &to,
		AppliedAt: time.Now().UTC(),
	})
	return s.publish(ctx, schedule, next, ModificationMove)
}

// Add places one extra hour of a course. The hour count deliberately may
// exceed the course's weekly demand; the analyzer reports the mismatch.
func (s *ModificationService) Add(ctx context.Context, req *dto.AddRequest) (*models.Schedule, *dto.ModificationRejection, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid add request")
	}
	schedule, input, idx, err := s.load(ctx, req.TenantID, req.ExpectedVersion)
	if err != nil {
		return nil, nil, err
	}
	course := input.CourseByID(req.CourseID)
	if course == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("course %d not found", req.CourseID))
	}
	if err := s.checkTeachable(idx, req.SlotID); err != nil {
		return nil, nil, err
	}
	if hasAssignment(schedule, req.CourseID, req.SlotID) {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("course %d already occupies slot %d", req.CourseID, req.SlotID))
	}

	conflicts := s.collisions(schedule, input, course, req.SlotID, nil)
	if len(conflicts) > 0 {
		s.recordModification(ModificationAdd, false)
		return nil, &dto.ModificationRejection{
			Conflicts:    conflicts,
			Alternatives: s.alternatives(schedule, input, idx, course, req.SlotID, -1),
		}, nil
	}

	next := s.nextVersion(schedule)
	next.Assignments = append(next.Assignments, models.Assignment{CourseID: req.CourseID, SlotID: req.SlotID})
	sortAssignments(next.Assignments)
	to := req.SlotID
	next.Modifications = append(next.Modifications, models.Modification{
		ID:        uuid.NewString(),
		Kind:      ModificationAdd,
		CourseID:  req.CourseID,
		ToSlot:    &to,
		AppliedAt: time.Now().UTC(),
	})
	return s.publish(ctx, schedule, next, ModificationAdd)
}

// Remove drops one hour of a course. Removal cannot collide; it only ever
// frees capacity.
func (s *ModificationService) Remove(ctx context.Context, req *dto.RemoveRequest) (*models.Schedule, *dto.ModificationRejection, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid remove request")
	}
	schedule, _, _, err := s.load(ctx, req.TenantID, req.ExpectedVersion)
	if err != nil {
		return nil, nil, err
	}
	if !hasAssignment(schedule, req.CourseID, req.SlotID) {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound,
			fmt.Sprintf("course %d has no hour on slot %d", req.CourseID, req.SlotID))
	}

	next := s.nextVersion(schedule)
	kept := next.Assignments[:0]
	removed := false
	for _, a := range next.Assignments {
		if !removed && a.CourseID == req.CourseID && a.SlotID == req.SlotID {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	next.Assignments = kept
	from := req.SlotID
	next.Modifications = append(next.Modifications, models.Modification{
		ID:        uuid.NewString(),
		Kind:      ModificationRemove,
		CourseID:  req.CourseID,
		FromSlot:  &from,
		AppliedAt: time.Now().UTC(),
	})
	return s.publish(ctx, schedule, next, ModificationRemove)
}

// ApplyFix translates an analyzer fix action into a concrete move and runs
// it through the same conflict checks as a manual move.
func (s *ModificationService) ApplyFix(ctx context.Context, req *dto.ApplyFixRequest) (*models.Schedule, *dto.ModificationRejection, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid applyfix request")
	}
	schedule, input, idx, err := s.load(ctx, req.TenantID, req.ExpectedVersion)
	if err != nil {
		return nil, nil, err
	}

	move, err := s.planFix(schedule, input, idx, req)
	if err != nil {
		return nil, nil, err
	}
	move.TenantID = req.TenantID
	move.ExpectedVersion = req.ExpectedVersion
	return s.Move(ctx, move)
}

// planFix picks the source and target slots for each fix action.
func (s *ModificationService) planFix(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex, req *dto.ApplyFixRequest) (*dto.MoveRequest, error) {
	switch req.FixAction {
	case models.FixCompactTeacherDay:
		return s.planCompact(schedule, input, idx, req.SlotID)
	case models.FixMergeToBlock:
		return s.planMerge(schedule, input, idx, req.CourseID, req.SlotID)
	case models.FixMoveToMorning:
		return s.planMorning(schedule, input, idx, req.CourseID, req.SlotID)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown fix action %q", req.FixAction))
	}
}

// planCompact fills a gap slot with the last lesson of the same class day.
func (s *ModificationService) planCompact(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex, gapSlotID int) (*dto.MoveRequest, error) {
	gapSlot, ok := idx.byID[gapSlotID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("slot %d not in calendar", gapSlotID))
	}
	var lastCourse, lastSlot, lastPeriod = -1, -1, -1
	for _, a := range schedule.Assignments {
		slot, ok := idx.byID[a.SlotID]
		if !ok || slot.DayIndex != gapSlot.DayIndex || slot.PeriodIndex <= gapSlot.PeriodIndex {
			continue
		}
		course := input.CourseByID(a.CourseID)
		if course == nil {
			continue
		}
		if slot.PeriodIndex > lastPeriod {
			lastPeriod = slot.PeriodIndex
			lastCourse = a.CourseID
			lastSlot = a.SlotID
		}
	}
	if lastCourse < 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no later lesson available to fill the gap")
	}
	return &dto.MoveRequest{CourseID: lastCourse, FromSlot: lastSlot, ToSlot: gapSlotID}, nil
}

// planMerge moves an isolated hour next to another hour of the same course.
func (s *ModificationService) planMerge(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex, courseID, isolatedSlotID int) (*dto.MoveRequest, error) {
	course := input.CourseByID(courseID)
	if course == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("course %d not found", courseID))
	}
	byCourse := schedule.AssignmentsByCourse()
	for _, slotID := range byCourse[courseID] {
		if slotID == isolatedSlotID {
			continue
		}
		anchor, ok := idx.byID[slotID]
		if !ok {
			continue
		}
		for _, candidate := range idx.byDay[anchor.DayIndex] {
			if candidate.IsBreak {
				continue
			}
			if candidate.PeriodIndex != anchor.PeriodIndex-1 && candidate.PeriodIndex != anchor.PeriodIndex+1 {
				continue
			}
			if hasAssignment(schedule, courseID, candidate.ID) {
				continue
			}
			if len(s.collisions(schedule, input, course, candidate.ID, &models.Assignment{CourseID: courseID, SlotID: isolatedSlotID})) == 0 {
				return &dto.MoveRequest{CourseID: courseID, FromSlot: isolatedSlotID, ToSlot: candidate.ID}, nil
			}
		}
	}
	return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no free slot adjacent to another hour of the course")
}

// planMorning moves a late lesson to the earliest conflict-free morning slot.
func (s *ModificationService) planMorning(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex, courseID, lateSlotID int) (*dto.MoveRequest, error) {
	course := input.CourseByID(courseID)
	if course == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("course %d not found", courseID))
	}
	moved := &models.Assignment{CourseID: courseID, SlotID: lateSlotID}
	for _, day := range idx.days {
		for _, candidate := range idx.byDay[day] {
			if candidate.IsBreak || candidate.PeriodIndex >= s.late {
				continue
			}
			if hasAssignment(schedule, courseID, candidate.ID) {
				continue
			}
			if len(s.collisions(schedule, input, course, candidate.ID, moved)) == 0 {
				return &dto.MoveRequest{CourseID: courseID, FromSlot: lateSlotID, ToSlot: candidate.ID}, nil
			}
		}
	}
	return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no conflict-free morning slot available")
}

func (s *ModificationService) load(ctx context.Context, tenantID string, expectedVersion int) (*models.Schedule, *models.NormalizedInput, *slotIndex, error) {
	schedule, err := s.schedules.FetchActive(ctx, tenantID)
	if err != nil {
		return nil, nil, nil, err
	}
	if schedule.Version != expectedVersion {
		return nil, nil, nil, appErrors.ErrVersionConflict
	}
	input, err := s.inputs.LoadNormalized(ctx, tenantID)
	if err != nil {
		return nil, nil, nil, err
	}
	idx := newSlotIndex(GenerateCalendar(s.calendar))
	return schedule, input, idx, nil
}

func (s *ModificationService) checkTeachable(idx *slotIndex, slotID int) error {
	slot, ok := idx.byID[slotID]
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %d not in calendar", slotID))
	}
	if slot.IsBreak {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %d is a break period", slotID))
	}
	return nil
}

// collisions reports every class and teacher collision the course would
// cause on the target slot. The excluded assignment, when set, is treated as
// vacated (the hour being moved).
func (s *ModificationService) collisions(schedule *models.Schedule, input *models.NormalizedInput, course *models.Course, targetSlot int, excluded *models.Assignment) []models.Conflict {
	classSet := make(map[int]bool, len(course.ClassIDs))
	for _, id := range course.ClassIDs {
		classSet[id] = true
	}
	teacherSet := make(map[int]bool, len(course.TeacherIDs))
	for _, id := range course.TeacherIDs {
		teacherSet[id] = true
	}

	var conflicts []models.Conflict
	for _, a := range schedule.Assignments {
		if a.SlotID != targetSlot || a.CourseID == course.ID {
			continue
		}
		if excluded != nil && a.CourseID == excluded.CourseID && a.SlotID == excluded.SlotID {
			continue
		}
		other := input.CourseByID(a.CourseID)
		if other == nil {
			continue
		}
		for _, classID := range other.ClassIDs {
			if classSet[classID] {
				conflicts = append(conflicts, models.Conflict{
					Dimension:       models.ConflictDimensionClass,
					EntityID:        classID,
					SlotID:          targetSlot,
					CollidingCourse: other.ID,
				})
			}
		}
		for _, teacherID := range other.TeacherIDs {
			if teacherSet[teacherID] {
				conflicts = append(conflicts, models.Conflict{
					Dimension:       models.ConflictDimensionTeacher,
					EntityID:        teacherID,
					SlotID:          targetSlot,
					CollidingCourse: other.ID,
				})
			}
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Dimension != conflicts[j].Dimension {
			return conflicts[i].Dimension < conflicts[j].Dimension
		}
		if conflicts[i].EntityID != conflicts[j].EntityID {
			return conflicts[i].EntityID < conflicts[j].EntityID
		}
		return conflicts[i].CollidingCourse < conflicts[j].CollidingCourse
	})
	return conflicts
}

// alternatives lists up to the configured number of conflict-free slots for
// the course, ranked same day as the requested target first, then earliest
// period, then earliest day. The ranking is deterministic for equal inputs.
func (s *ModificationService) alternatives(schedule *models.Schedule, input *models.NormalizedInput, idx *slotIndex, course *models.Course, requestedSlot, vacatedSlot int) []int {
	requestedDay := -1
	if slot, ok := idx.byID[requestedSlot]; ok {
		requestedDay = slot.DayIndex
	}
	var excluded *models.Assignment
	if vacatedSlot >= 0 {
		excluded = &models.Assignment{CourseID: course.ID, SlotID: vacatedSlot}
	}

	var free []models.TimeSlot
	for _, day := range idx.days {
		for _, slot := range idx.byDay[day] {
			if slot.IsBreak || slot.ID == requestedSlot {
				continue
			}
			if hasAssignment(schedule, course.ID, slot.ID) {
				continue
			}
			if len(s.collisions(schedule, input, course, slot.ID, excluded)) == 0 {
				free = append(free, slot)
			}
		}
	}
	sort.Slice(free, func(i, j int) bool {
		sameDayI := free[i].DayIndex == requestedDay
		sameDayJ := free[j].DayIndex == requestedDay
		if sameDayI != sameDayJ {
			return sameDayI
		}
		if free[i].PeriodIndex != free[j].PeriodIndex {
			return free[i].PeriodIndex < free[j].PeriodIndex
		}
		return free[i].DayIndex < free[j].DayIndex
	})
	if len(free) > s.cfg.MaxAlternatives {
		free = free[:s.cfg.MaxAlternatives]
	}
	result := make([]int, len(free))
	for i, slot := range free {
		result[i] = slot.ID
	}
	return result
}

// nextVersion copies the base schedule into a fresh draft chained to it.
func (s *ModificationService) nextVersion(base *models.Schedule) *models.Schedule {
	baseID := base.ID
	next := &models.Schedule{
		ID:                 uuid.NewString(),
		TenantID:           base.TenantID,
		BaseScheduleID:     &baseID,
		Version:            base.Version + 1,
		Status:             models.ScheduleStatusActive,
		CreatedAt:          time.Now().UTC(),
		Assignments:        append([]models.Assignment{}, base.Assignments...),
		QualityScore:       base.QualityScore,
		Unscheduled:        append([]int{}, base.Unscheduled...),
		RelaxationsApplied: append([]string{}, base.RelaxationsApplied...),
		Modifications:      append([]models.Modification{}, base.Modifications...),
		Meta:               base.Meta,
	}
	return next
}

func (s *ModificationService) publish(ctx context.Context, base, next *models.Schedule, kind string) (*models.Schedule, *dto.ModificationRejection, error) {
	if err := s.schedules.PublishNewVersion(ctx, next, base.Version); err != nil {
		s.recordModification(kind, false)
		return nil, nil, err
	}
	s.recordModification(kind, true)
	if s.cache != nil {
		if err := s.cache.InvalidateActive(ctx, next.TenantID); err != nil {
			s.logger.Warn("cache invalidation failed", zap.String("tenant_id", next.TenantID), zap.Error(err))
		}
	}
	s.logger.Info("schedule modified",
		zap.String("tenant_id", next.TenantID),
		zap.String("schedule_id", next.ID),
		zap.String("kind", kind),
		zap.Int("version", next.Version),
	)
	return next, nil, nil
}

func (s *ModificationService) recordModification(kind string, accepted bool) {
	if s.metrics != nil {
		s.metrics.RecordModification(kind, accepted)
	}
}

func hasAssignment(schedule *models.Schedule, courseID, slotID int) bool {
	for _, a := range schedule.Assignments {
		if a.CourseID == courseID && a.SlotID == slotID {
			return true
		}
	}
	return false
}

func sortAssignments(assignments []models.Assignment) {
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].CourseID != assignments[j].CourseID {
			return assignments[i].CourseID < assignments[j].CourseID
		}
		return assignments[i].SlotID < assignments[j].SlotID
	})
}
