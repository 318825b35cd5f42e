package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/solver"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
)

// Relaxation step names recorded on the schedule so operators can see what
// the solve had to give up.
const (
	RelaxationSoftCompactness   = "SOFT_COMPACTNESS"
	RelaxationTeacherViolations = "TEACHER_VIOLATIONS"
	RelaxationReducedCourseSet  = "REDUCED_COURSE_SET"
)

// StrictnessHard requests gap-free class days as a hard constraint.
const (
	StrictnessSoft = "soft"
	StrictnessHard = "hard"
)

type orchestratorScheduleStore interface {
	InsertVersion(ctx context.Context, schedule *models.Schedule) error
	Activate(ctx context.Context, tenantID, scheduleID string) error
}

type orchestratorConstraintStore interface {
	ListByTenant(ctx context.Context, tenantID string) ([]models.Constraint, error)
}

type orchestratorInputStore interface {
	SaveNormalized(ctx context.Context, tenantID string, input *models.NormalizedInput) error
}

type orchestratorCache interface {
	InvalidateActive(ctx context.Context, tenantID string) error
}

type orchestratorMetrics interface {
	RecordSolve(status string, ladderStep int, duration time.Duration)
}

// OrchestratorService drives a full timetable generation: normalize, build,
// solve with the relaxation ladder, analyze, persist, and activate.
type OrchestratorService struct {
	normalizer  *NormalizerService
	builder     *BuilderService
	analyzer    *AnalyzerService
	engine      solver.Engine
	schedules   orchestratorScheduleStore
	constraints orchestratorConstraintStore
	inputs      orchestratorInputStore
	cache       orchestratorCache
	metrics     orchestratorMetrics
	events      *jobs.Queue
	cfg         config.SolverConfig
	validate    *validator.Validate
	logger      *zap.Logger

	mu     sync.Mutex
	active map[string]bool
}

// NewOrchestratorService wires the generation pipeline.
func NewOrchestratorService(
	normalizer *NormalizerService,
	builder *BuilderService,
	analyzer *AnalyzerService,
	engine solver.Engine,
	schedules orchestratorScheduleStore,
	constraints orchestratorConstraintStore,
	inputs orchestratorInputStore,
	cache orchestratorCache,
	metrics orchestratorMetrics,
	events *jobs.Queue,
	cfg config.SolverConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *OrchestratorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrchestratorService{
		normalizer:  normalizer,
		builder:     builder,
		analyzer:    analyzer,
		engine:      engine,
		schedules:   schedules,
		constraints: constraints,
		inputs:      inputs,
		cache:       cache,
		metrics:     metrics,
		events:      events,
		cfg:         cfg,
		validate:    validate,
		logger:      logger,
		active:      make(map[string]bool),
	}
}

// acquire marks a tenant solve as running. At most one full solve per tenant
// may run at a time; a second request is rejected, not queued.
func (s *OrchestratorService) acquire(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[tenantID] {
		return appErrors.ErrSolveInProgress
	}
	s.active[tenantID] = true
	return nil
}

func (s *OrchestratorService) release(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, tenantID)
}

// Generate runs the full pipeline for one request. Row validation failures
// are reported alongside the result, never abort the batch; only an empty
// usable course set is fatal.
func (s *OrchestratorService) Generate(ctx context.Context, req *dto.GenerateRequest) (*dto.GenerateResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generate request")
	}
	if err := s.acquire(req.TenantID); err != nil {
		return nil, err
	}
	defer s.release(req.TenantID)

	start := time.Now()

	input, validation := s.normalizer.Normalize(req.Rows)
	if len(input.Courses) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no usable course rows after validation")
	}

	slots := GenerateCalendar(req.Calendar)
	if len(slots) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "calendar configuration yields no slots")
	}

	if s.inputs != nil {
		if err := s.inputs.SaveNormalized(ctx, req.TenantID, input); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "persist normalized input")
		}
	}

	rules, err := s.constraints.ListByTenant(ctx, req.TenantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load calendar rules")
	}

	budget := s.cfg.TimeBudget
	if req.BudgetSeconds > 0 {
		budget = time.Duration(req.BudgetSeconds) * time.Second
	}
	solveCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	outcome, err := s.runLadder(solveCtx, input, slots, rules, req.Strictness)
	if err != nil {
		s.recordSolve("infeasible", outcome.step, time.Since(start))
		return nil, err
	}

	schedule := s.buildSchedule(req.TenantID, input, outcome)
	score, issues := s.analyzer.Analyze(schedule, input, slots)
	schedule.QualityScore = score

	if err := s.schedules.InsertVersion(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "persist schedule")
	}

	activated := false
	if req.ForceActivate || !hasCritical(issues) {
		if err := s.schedules.Activate(ctx, req.TenantID, schedule.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "activate schedule")
		}
		schedule.Status = models.ScheduleStatusActive
		activated = true
		if s.cache != nil {
			if err := s.cache.InvalidateActive(ctx, req.TenantID); err != nil {
				s.logger.Warn("cache invalidation failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
			}
		}
	}

	s.recordSolve(string(outcome.result.Status), outcome.step, time.Since(start))
	s.publishCompletion(schedule, activated)

	s.logger.Info("timetable generated",
		zap.String("tenant_id", req.TenantID),
		zap.String("schedule_id", schedule.ID),
		zap.String("status", string(outcome.result.Status)),
		zap.Int("ladder_step", outcome.step),
		zap.Strings("relaxations", schedule.RelaxationsApplied),
		zap.Int("unscheduled", len(schedule.Unscheduled)),
		zap.Uint8("score", score),
		zap.Bool("activated", activated),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &dto.GenerateResponse{
		Schedule:   schedule,
		Issues:     issues,
		Validation: validation,
		Activated:  activated,
	}, nil
}

// ladderOutcome is the accepted solve attempt plus the concessions made to
// reach it.
type ladderOutcome struct {
	result      solver.Result
	model       *solver.ConstraintModel
	relaxations []string
	unscheduled []int
	warnings    []string
	step        int
}

// runLadder tries increasingly relaxed models until one solves. Steps only
// run when the previous one failed; a schedule never pays for a relaxation
// it did not need.
func (s *OrchestratorService) runLadder(ctx context.Context, input *models.NormalizedInput, slots []models.TimeSlot, rules []models.Constraint, strictness string) (*ladderOutcome, error) {
	compactHard := s.cfg.CompactnessHard
	if strictness == StrictnessHard {
		compactHard = true
	} else if strictness == StrictnessSoft {
		compactHard = false
	}

	base := BuilderOptions{
		CompactnessHard:   compactHard,
		GapWeight:         s.cfg.GapWeight,
		BlockBonus:        s.cfg.BlockBonus,
		LateWeight:        s.cfg.LateWeight,
		LateThreshold:     s.cfg.LateThreshold,
		DayBalanceWeight:  s.cfg.DayBalanceWeight,
		TargetHoursPerDay: s.cfg.TargetHoursPerDay,
	}

	outcome := &ladderOutcome{}

	// Every relaxation taken on the way down is recorded, even when a later
	// rung is the one that finally solves.
	var applied []string

	// Step 1: the configured strictness profile, nothing relaxed.
	if done, err := s.attempt(ctx, outcome, input, slots, rules, base, 1, nil); done || err != nil {
		return outcome, err
	}

	// Step 2: soften compactness when it was hard.
	if base.CompactnessHard {
		relaxed := base
		relaxed.CompactnessHard = false
		relaxed.GapWeight = s.cfg.GapWeightRelaxed
		applied = append(applied, RelaxationSoftCompactness)
		if done, err := s.attempt(ctx, outcome, input, slots, rules, relaxed, 2, append([]string{}, applied...)); done || err != nil {
			return outcome, err
		}
		base = relaxed
	}

	// Step 3: allow a bounded number of penalized teacher double-bookings.
	if s.cfg.MaxTeacherViolations > 0 {
		relaxed := base
		relaxed.MaxTeacherViolations = s.cfg.MaxTeacherViolations
		applied = append(applied, RelaxationTeacherViolations)
		if done, err := s.attempt(ctx, outcome, input, slots, rules, relaxed, 3, append([]string{}, applied...)); done || err != nil {
			return outcome, err
		}
		base = relaxed
	}

	// Step 4: shrink the course set lowest priority first until it fits.
	return s.reduceAndSolve(ctx, outcome, input, slots, rules, base, applied)
}

// attempt builds and solves one ladder rung. Returns done=true when the
// result is usable, done=false to fall through to the next rung.
func (s *OrchestratorService) attempt(ctx context.Context, outcome *ladderOutcome, input *models.NormalizedInput, slots []models.TimeSlot, rules []models.Constraint, opts BuilderOptions, step int, relaxations []string) (bool, error) {
	outcome.step = step
	built, err := s.builder.Build(input, slots, rules, opts)
	if err != nil {
		return false, err
	}
	result := s.engine.Solve(ctx, built.Model)
	s.logger.Debug("ladder step solved",
		zap.Int("step", step),
		zap.String("status", string(result.Status)),
		zap.Int("objective", result.Objective),
	)
	switch result.Status {
	case solver.StatusOptimal, solver.StatusFeasible:
		outcome.result = result
		outcome.model = built.Model
		outcome.relaxations = relaxations
		outcome.warnings = built.Warnings
		return true, nil
	case solver.StatusTimedOut:
		return false, appErrors.Clone(appErrors.ErrInfeasible, "solve budget exhausted before a feasible timetable was found")
	default:
		return false, nil
	}
}

// reduceAndSolve drops courses lowest priority first, re-solving after each
// removal. Dropped courses are reported, never silently lost. Priority is
// subject weight times weekly hours minus the class fan-out, so shared and
// heavy courses survive longest.
func (s *OrchestratorService) reduceAndSolve(ctx context.Context, outcome *ladderOutcome, input *models.NormalizedInput, slots []models.TimeSlot, rules []models.Constraint, opts BuilderOptions, applied []string) (*ladderOutcome, error) {
	order := make([]models.Course, len(input.Courses))
	copy(order, input.Courses)
	sort.SliceStable(order, func(i, j int) bool {
		return s.coursePriority(order[i]) < s.coursePriority(order[j])
	})

	relaxations := append(append([]string{}, applied...), RelaxationReducedCourseSet)
	maxDrops := len(order) / 2
	var dropped []int

	for len(dropped) < maxDrops {
		if err := ctx.Err(); err != nil {
			return outcome, appErrors.Clone(appErrors.ErrInfeasible, "solve budget exhausted during course set reduction")
		}
		dropped = append(dropped, order[len(dropped)].ID)
		reduced := withoutCourses(input, dropped)
		done, err := s.attempt(ctx, outcome, reduced, slots, rules, opts, 4, relaxations)
		if err != nil {
			// A capacity precheck failure cannot improve by dropping more
			// courses of other classes; surface it.
			return outcome, err
		}
		if done {
			outcome.unscheduled = append([]int{}, dropped...)
			sort.Ints(outcome.unscheduled)
			return outcome, nil
		}
	}
	return outcome, appErrors.Clone(appErrors.ErrInfeasible,
		fmt.Sprintf("no feasible timetable even after removing %d lowest-priority courses", len(dropped)))
}

func (s *OrchestratorService) coursePriority(course models.Course) int {
	return s.cfg.SubjectWeight*course.HoursPerWeek - len(course.ClassIDs)
}

func withoutCourses(input *models.NormalizedInput, dropIDs []int) *models.NormalizedInput {
	drop := make(map[int]bool, len(dropIDs))
	for _, id := range dropIDs {
		drop[id] = true
	}
	reduced := &models.NormalizedInput{
		Teachers: input.Teachers,
		Classes:  input.Classes,
		Subjects: input.Subjects,
	}
	for _, course := range input.Courses {
		if !drop[course.ID] {
			reduced.Courses = append(reduced.Courses, course)
		}
	}
	return reduced
}

// buildSchedule turns a raw variable assignment into a draft schedule row.
func (s *OrchestratorService) buildSchedule(tenantID string, input *models.NormalizedInput, outcome *ladderOutcome) *models.Schedule {
	assignments := make([]models.Assignment, 0, len(outcome.result.Assignment))
	for _, varID := range outcome.model.Vars {
		meta := outcome.model.Meta[varID]
		if meta.Aux || outcome.result.Assignment[varID] != 1 {
			continue
		}
		assignments = append(assignments, models.Assignment{CourseID: meta.CourseID, SlotID: meta.SlotID})
	}
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].CourseID != assignments[j].CourseID {
			return assignments[i].CourseID < assignments[j].CourseID
		}
		return assignments[i].SlotID < assignments[j].SlotID
	})

	meta, _ := json.Marshal(map[string]interface{}{
		"solver_status": outcome.result.Status,
		"objective":     outcome.result.Objective,
		"ladder_step":   outcome.step,
		"warnings":      outcome.warnings,
		"courses":       len(input.Courses),
	})

	return &models.Schedule{
		ID:                 uuid.NewString(),
		TenantID:           tenantID,
		Status:             models.ScheduleStatusDraft,
		CreatedAt:          time.Now().UTC(),
		Assignments:        assignments,
		Unscheduled:        outcome.unscheduled,
		RelaxationsApplied: outcome.relaxations,
		Meta:               meta,
	}
}

func (s *OrchestratorService) publishCompletion(schedule *models.Schedule, activated bool) {
	if s.events == nil {
		return
	}
	err := s.events.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: jobs.TypeSolveCompleted,
		Payload: map[string]interface{}{
			"tenant_id":   schedule.TenantID,
			"schedule_id": schedule.ID,
			"score":       schedule.QualityScore,
			"activated":   activated,
		},
	})
	if err != nil {
		s.logger.Warn("completion event not published", zap.String("schedule_id", schedule.ID), zap.Error(err))
	}
}

func (s *OrchestratorService) recordSolve(status string, step int, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordSolve(status, step, elapsed)
	}
}

func hasCritical(issues []models.Issue) bool {
	for _, issue := range issues {
		if issue.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}
