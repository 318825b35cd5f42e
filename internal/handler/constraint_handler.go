package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

// constraintPayload is the write shape for calendar rules. The payload is
// kept raw here; the repository validates it against the kind.
type constraintPayload struct {
	ID      string                `json:"id"`
	Kind    models.ConstraintKind `json:"kind" binding:"required"`
	Payload json.RawMessage       `json:"payload" binding:"required"`
}

// ConstraintHandler exposes CRUD for user-entered calendar rules.
type ConstraintHandler struct {
	repo *repository.ConstraintRepository
}

// NewConstraintHandler constructs the handler.
func NewConstraintHandler(repo *repository.ConstraintRepository) *ConstraintHandler {
	return &ConstraintHandler{repo: repo}
}

// List returns the tenant's rules.
func (h *ConstraintHandler) List(c *gin.Context) {
	tenantID := tenantFromContext(c)
	if tenantID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tenant is required"))
		return
	}
	rules, err := h.repo.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil)
}

// Upsert creates or replaces one rule.
func (h *ConstraintHandler) Upsert(c *gin.Context) {
	tenantID := tenantFromContext(c)
	if tenantID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tenant is required"))
		return
	}
	var req constraintPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid constraint payload"))
		return
	}
	rule := &models.Constraint{
		ID:        req.ID,
		TenantID:  tenantID,
		Kind:      req.Kind,
		Payload:   req.Payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.Upsert(c.Request.Context(), rule); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// Delete removes one rule.
func (h *ConstraintHandler) Delete(c *gin.Context) {
	tenantID := tenantFromContext(c)
	if tenantID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tenant is required"))
		return
	}
	if err := h.repo.Delete(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "constraint not found"))
			return
		}
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
