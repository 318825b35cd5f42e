package dto

import "github.com/noah-isme/sma-timetable-api/internal/models"

// CourseRow is the raw import shape produced by spreadsheet import or the API.
// Class and teacher columns are comma-separated display names; the normalizer
// canonicalizes them before anything else touches them.
type CourseRow struct {
	SubjectName  string `json:"subjectName" validate:"required"`
	ClassNames   string `json:"classNames" validate:"required"`
	TeacherNames string `json:"teacherNames" validate:"required"`
	HoursPerWeek int    `json:"hoursPerWeek" validate:"min=0"`
	Difficulty   int    `json:"difficulty" validate:"omitempty,min=1,max=10"`
	Grade        int    `json:"grade" validate:"omitempty,min=1"`
	IsParallel   bool   `json:"isParallel"`
}

// GenerateRequest instructs the orchestrator to run a full solve.
type GenerateRequest struct {
	TenantID      string                `json:"tenantId" validate:"required"`
	Rows          []CourseRow           `json:"rows" validate:"required,min=1,dive"`
	Calendar      models.CalendarConfig `json:"calendar"`
	Strictness    string                `json:"strictness" validate:"omitempty,oneof=soft hard"`
	BudgetSeconds int                   `json:"budgetSeconds" validate:"omitempty,min=1,max=3600"`
	ForceActivate bool                  `json:"forceActivate"`
}

// GenerateResponse returns the persisted schedule plus diagnostics.
type GenerateResponse struct {
	Schedule   *models.Schedule         `json:"schedule"`
	Issues     []models.Issue           `json:"issues"`
	Validation []models.ValidationError `json:"validation,omitempty"`
	Activated  bool                     `json:"activated"`
}

// AsyncSolveResponse acknowledges a queued background solve. The caller
// polls the active-schedule endpoint for the outcome.
type AsyncSolveResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// AnalyzeResponse is the analyzer result for one schedule.
type AnalyzeResponse struct {
	ScheduleID string         `json:"scheduleId"`
	Score      uint8          `json:"score"`
	Issues     []models.Issue `json:"issues"`
}
