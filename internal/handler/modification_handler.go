package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type scheduleModifier interface {
	Move(ctx context.Context, req *dto.MoveRequest) (*models.Schedule, *dto.ModificationRejection, error)
	Add(ctx context.Context, req *dto.AddRequest) (*models.Schedule, *dto.ModificationRejection, error)
	Remove(ctx context.Context, req *dto.RemoveRequest) (*models.Schedule, *dto.ModificationRejection, error)
	ApplyFix(ctx context.Context, req *dto.ApplyFixRequest) (*models.Schedule, *dto.ModificationRejection, error)
}

// ModificationHandler exposes incremental schedule edits.
type ModificationHandler struct {
	service scheduleModifier
}

// NewModificationHandler constructs the handler.
func NewModificationHandler(svc scheduleModifier) *ModificationHandler {
	return &ModificationHandler{service: svc}
}

// Move relocates one course hour.
func (h *ModificationHandler) Move(c *gin.Context) {
	var req dto.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid move payload"))
		return
	}
	if tenant := tenantFromContext(c); tenant != "" {
		req.TenantID = tenant
	}
	schedule, rejection, err := h.service.Move(c.Request.Context(), &req)
	h.respond(c, schedule, rejection, err)
}

// Add places one extra course hour.
func (h *ModificationHandler) Add(c *gin.Context) {
	var req dto.AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid add payload"))
		return
	}
	if tenant := tenantFromContext(c); tenant != "" {
		req.TenantID = tenant
	}
	schedule, rejection, err := h.service.Add(c.Request.Context(), &req)
	h.respond(c, schedule, rejection, err)
}

// Remove drops one course hour.
func (h *ModificationHandler) Remove(c *gin.Context) {
	var req dto.RemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid remove payload"))
		return
	}
	if tenant := tenantFromContext(c); tenant != "" {
		req.TenantID = tenant
	}
	schedule, rejection, err := h.service.Remove(c.Request.Context(), &req)
	h.respond(c, schedule, rejection, err)
}

// ApplyFix executes an analyzer-suggested fix.
func (h *ModificationHandler) ApplyFix(c *gin.Context) {
	var req dto.ApplyFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fix payload"))
		return
	}
	if tenant := tenantFromContext(c); tenant != "" {
		req.TenantID = tenant
	}
	schedule, rejection, err := h.service.ApplyFix(c.Request.Context(), &req)
	h.respond(c, schedule, rejection, err)
}

// respond maps the tri-state edit outcome: error, typed rejection with
// alternatives (409), or the freshly published version.
func (h *ModificationHandler) respond(c *gin.Context, schedule *models.Schedule, rejection *dto.ModificationRejection, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	if rejection != nil {
		response.JSON(c, http.StatusConflict, rejection, nil)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}
