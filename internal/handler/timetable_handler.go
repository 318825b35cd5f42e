package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type timetableGenerator interface {
	Generate(ctx context.Context, req *dto.GenerateRequest) (*dto.GenerateResponse, error)
}

type solveEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type timetableStore interface {
	FetchActive(ctx context.Context, tenantID string) (*models.Schedule, error)
	FetchByID(ctx context.Context, id string) (*models.Schedule, error)
	ListVersions(ctx context.Context, tenantID string) ([]models.Schedule, error)
	Archive(ctx context.Context, tenantID, scheduleID string) error
}

type timetableAnalyzer interface {
	Analyze(schedule *models.Schedule, input *models.NormalizedInput, slots []models.TimeSlot) (uint8, []models.Issue)
}

type timetableInputs interface {
	LoadNormalized(ctx context.Context, tenantID string) (*models.NormalizedInput, error)
}

// TimetableHandler exposes generation, retrieval, and analysis endpoints.
type TimetableHandler struct {
	generator timetableGenerator
	schedules timetableStore
	analyzer  timetableAnalyzer
	inputs    timetableInputs
	cache     *service.CacheService
	solves    solveEnqueuer
	calendar  models.CalendarConfig
}

// NewTimetableHandler constructs the handler. solves may be nil when
// background generation is disabled.
func NewTimetableHandler(
	generator timetableGenerator,
	schedules timetableStore,
	analyzer timetableAnalyzer,
	inputs timetableInputs,
	cache *service.CacheService,
	solves solveEnqueuer,
	calendar models.CalendarConfig,
) *TimetableHandler {
	return &TimetableHandler{
		generator: generator,
		schedules: schedules,
		analyzer:  analyzer,
		inputs:    inputs,
		cache:     cache,
		solves:    solves,
		calendar:  calendar,
	}
}

// Generate runs a full timetable solve for the requesting tenant.
func (h *TimetableHandler) Generate(c *gin.Context) {
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	if tenant := tenantFromContext(c); tenant != "" {
		req.TenantID = tenant
	}
	if req.Calendar.PeriodsPerDay == 0 {
		req.Calendar = h.calendar
	}

	result, err := h.generator.Generate(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// GenerateAsync queues the solve instead of running it inline. Useful for
// large inputs where the caller does not want to hold the connection open.
func (h *TimetableHandler) GenerateAsync(c *gin.Context) {
	if h.solves == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "background generation is not enabled"))
		return
	}
	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	if tenant := tenantFromContext(c); tenant != "" {
		req.TenantID = tenant
	}
	if req.Calendar.PeriodsPerDay == 0 {
		req.Calendar = h.calendar
	}
	if req.TenantID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tenant is required"))
		return
	}

	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobs.TypeSolveRequested,
		Payload: &req,
	}
	if err := h.solves.Enqueue(job); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to queue solve"))
		return
	}
	response.Accepted(c, dto.AsyncSolveResponse{JobID: job.ID, Status: "queued"})
}

// Active returns the tenant's active schedule, cache first.
func (h *TimetableHandler) Active(c *gin.Context) {
	tenantID := tenantFromContext(c)
	if tenantID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tenant is required"))
		return
	}
	if cached := h.cache.GetActive(c.Request.Context(), tenantID); cached != nil {
		response.JSON(c, http.StatusOK, cached, nil)
		return
	}
	schedule, err := h.schedules.FetchActive(c.Request.Context(), tenantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.cache.SetActive(c.Request.Context(), schedule)
	response.JSON(c, http.StatusOK, schedule, nil)
}

// Get returns one schedule version by id.
func (h *TimetableHandler) Get(c *gin.Context) {
	schedule, err := h.schedules.FetchByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// Versions lists every schedule version of the tenant, newest first.
func (h *TimetableHandler) Versions(c *gin.Context) {
	tenantID := tenantFromContext(c)
	if tenantID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tenant is required"))
		return
	}
	schedules, err := h.schedules.ListVersions(c.Request.Context(), tenantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedules, nil)
}

// Archive retires one schedule version.
func (h *TimetableHandler) Archive(c *gin.Context) {
	tenantID := tenantFromContext(c)
	if tenantID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tenant is required"))
		return
	}
	if err := h.schedules.Archive(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.cache.InvalidateActive(c.Request.Context(), tenantID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Analyze re-runs the quality analysis for one schedule version.
func (h *TimetableHandler) Analyze(c *gin.Context) {
	schedule, err := h.schedules.FetchByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	input, err := h.inputs.LoadNormalized(c.Request.Context(), schedule.TenantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	slots := service.GenerateCalendar(h.calendar)
	score, issues := h.analyzer.Analyze(schedule, input, slots)
	response.JSON(c, http.StatusOK, dto.AnalyzeResponse{
		ScheduleID: schedule.ID,
		Score:      score,
		Issues:     issues,
	}, nil)
}
