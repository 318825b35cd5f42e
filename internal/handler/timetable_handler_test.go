package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
)

type timetableStoreStub struct {
	active   *models.Schedule
	byID     map[string]*models.Schedule
	versions []models.Schedule
	archived []string
}

func (s *timetableStoreStub) FetchActive(context.Context, string) (*models.Schedule, error) {
	if s.active == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active schedule for tenant")
	}
	return s.active, nil
}

func (s *timetableStoreStub) FetchByID(_ context.Context, id string) (*models.Schedule, error) {
	if schedule, ok := s.byID[id]; ok {
		return schedule, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
}

func (s *timetableStoreStub) ListVersions(context.Context, string) ([]models.Schedule, error) {
	return s.versions, nil
}

func (s *timetableStoreStub) Archive(_ context.Context, _, scheduleID string) error {
	s.archived = append(s.archived, scheduleID)
	return nil
}

type generatorStub struct {
	resp *dto.GenerateResponse
	err  error
	got  *dto.GenerateRequest
}

func (s *generatorStub) Generate(_ context.Context, req *dto.GenerateRequest) (*dto.GenerateResponse, error) {
	s.got = req
	return s.resp, s.err
}

type analyzerStub struct {
	score  uint8
	issues []models.Issue
}

func (s *analyzerStub) Analyze(*models.Schedule, *models.NormalizedInput, []models.TimeSlot) (uint8, []models.Issue) {
	return s.score, s.issues
}

type enqueuerStub struct {
	jobs []jobs.Job
	err  error
}

func (s *enqueuerStub) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

type inputsStub struct {
	input *models.NormalizedInput
}

func (s *inputsStub) LoadNormalized(context.Context, string) (*models.NormalizedInput, error) {
	return s.input, nil
}

func newTimetableRouter(h *TimetableHandler, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	})
	router.POST("/timetables/generate", h.Generate)
	router.POST("/timetables/generate/async", h.GenerateAsync)
	router.GET("/timetables/active", h.Active)
	router.GET("/timetables/:id", h.Get)
	router.GET("/timetables/:id/analysis", h.Analyze)
	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func testCalendar() models.CalendarConfig {
	return models.CalendarConfig{ActiveDays: []int{0, 1, 2, 3, 4}, PeriodsPerDay: 8, BreakPeriods: []int{3}}
}

func TestTimetableHandlerGenerateScopesTenantFromClaims(t *testing.T) {
	generator := &generatorStub{resp: &dto.GenerateResponse{Activated: true}}
	h := NewTimetableHandler(generator, &timetableStoreStub{}, &analyzerStub{}, &inputsStub{},
		service.NewCacheService(nil, nil), nil, testCalendar())
	claims := &models.JWTClaims{UserID: "user-1", Role: models.RoleOperator, TenantID: "tenant-claims"}
	router := newTimetableRouter(h, claims)

	body := `{"tenantId":"tenant-spoofed","rows":[{"subjectName":"Math","classNames":"10-A","teacherNames":"Kurniawan","hoursPerWeek":4}]}`
	req, _ := http.NewRequest(http.MethodPost, "/timetables/generate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.NotNil(t, generator.got)
	assert.Equal(t, "tenant-claims", generator.got.TenantID)
	assert.Equal(t, testCalendar().PeriodsPerDay, generator.got.Calendar.PeriodsPerDay)
}

func TestTimetableHandlerGenerateMapsDomainErrors(t *testing.T) {
	generator := &generatorStub{err: appErrors.ErrSolveInProgress}
	h := NewTimetableHandler(generator, &timetableStoreStub{}, &analyzerStub{}, &inputsStub{},
		service.NewCacheService(nil, nil), nil, testCalendar())
	router := newTimetableRouter(h, &models.JWTClaims{TenantID: "tenant-1"})

	body := `{"rows":[{"subjectName":"Math","classNames":"10-A","teacherNames":"Kurniawan","hoursPerWeek":4}]}`
	req, _ := http.NewRequest(http.MethodPost, "/timetables/generate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "SOLVE_IN_PROGRESS")
}

func TestTimetableHandlerActiveFallsBackToStore(t *testing.T) {
	store := &timetableStoreStub{active: &models.Schedule{ID: "sched-1", TenantID: "tenant-1", Version: 2}}
	h := NewTimetableHandler(&generatorStub{}, store, &analyzerStub{}, &inputsStub{},
		service.NewCacheService(nil, nil), nil, testCalendar())
	router := newTimetableRouter(h, &models.JWTClaims{TenantID: "tenant-1"})

	req, _ := http.NewRequest(http.MethodGet, "/timetables/active", nil)
	resp := performRequest(router, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"sched-1"`)
}

func TestTimetableHandlerActiveRequiresTenant(t *testing.T) {
	h := NewTimetableHandler(&generatorStub{}, &timetableStoreStub{}, &analyzerStub{}, &inputsStub{},
		service.NewCacheService(nil, nil), nil, testCalendar())
	router := newTimetableRouter(h, nil)

	req, _ := http.NewRequest(http.MethodGet, "/timetables/active", nil)
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTimetableHandlerAnalyzeReturnsScoreAndIssues(t *testing.T) {
	store := &timetableStoreStub{byID: map[string]*models.Schedule{
		"sched-1": {ID: "sched-1", TenantID: "tenant-1"},
	}}
	analyzer := &analyzerStub{score: 85, issues: []models.Issue{
		{Kind: models.IssueGap, Severity: models.SeverityHigh},
	}}
	h := NewTimetableHandler(&generatorStub{}, store, analyzer, &inputsStub{input: &models.NormalizedInput{}},
		service.NewCacheService(nil, nil), nil, testCalendar())
	router := newTimetableRouter(h, &models.JWTClaims{TenantID: "tenant-1"})

	req, _ := http.NewRequest(http.MethodGet, "/timetables/sched-1/analysis", nil)
	resp := performRequest(router, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var envelope struct {
		Data dto.AnalyzeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, uint8(85), envelope.Data.Score)
	require.Len(t, envelope.Data.Issues, 1)
	assert.Equal(t, models.IssueGap, envelope.Data.Issues[0].Kind)
}

func TestTimetableHandlerGetUnknownSchedule(t *testing.T) {
	h := NewTimetableHandler(&generatorStub{}, &timetableStoreStub{}, &analyzerStub{}, &inputsStub{},
		service.NewCacheService(nil, nil), nil, testCalendar())
	router := newTimetableRouter(h, &models.JWTClaims{TenantID: "tenant-1"})

	req, _ := http.NewRequest(http.MethodGet, "/timetables/missing", nil)
	resp := performRequest(router, req)

	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTimetableHandlerGenerateAsyncQueuesJob(t *testing.T) {
	queue := &enqueuerStub{}
	h := NewTimetableHandler(&generatorStub{}, &timetableStoreStub{}, &analyzerStub{}, &inputsStub{},
		service.NewCacheService(nil, nil), queue, testCalendar())
	claims := &models.JWTClaims{UserID: "user-1", Role: models.RoleOperator, TenantID: "tenant-claims"}
	router := newTimetableRouter(h, claims)

	body := `{"tenantId":"tenant-spoofed","rows":[{"subjectName":"Math","classNames":"10-A","teacherNames":"Kurniawan","hoursPerWeek":4}]}`
	req, _ := http.NewRequest(http.MethodPost, "/timetables/generate/async", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, jobs.TypeSolveRequested, queue.jobs[0].Type)

	queued, ok := queue.jobs[0].Payload.(*dto.GenerateRequest)
	require.True(t, ok)
	assert.Equal(t, "tenant-claims", queued.TenantID)
	assert.Equal(t, 8, queued.Calendar.PeriodsPerDay)

	var envelope struct {
		Data dto.AsyncSolveResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, queue.jobs[0].ID, envelope.Data.JobID)
	assert.Equal(t, "queued", envelope.Data.Status)
}

func TestTimetableHandlerGenerateAsyncDisabled(t *testing.T) {
	h := NewTimetableHandler(&generatorStub{}, &timetableStoreStub{}, &analyzerStub{}, &inputsStub{},
		service.NewCacheService(nil, nil), nil, testCalendar())
	router := newTimetableRouter(h, &models.JWTClaims{TenantID: "tenant-1"})

	body := `{"rows":[{"subjectName":"Math","classNames":"10-A","teacherNames":"Kurniawan","hoursPerWeek":4}]}`
	req, _ := http.NewRequest(http.MethodPost, "/timetables/generate/async", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}
