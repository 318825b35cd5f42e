package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

type timetableExporter interface {
	ExportCSV(ctx context.Context, tenantID string) ([]byte, error)
	ExportPDF(ctx context.Context, tenantID string) ([]byte, error)
}

// ExportHandler serves the active schedule as downloadable files.
type ExportHandler struct {
	service timetableExporter
}

// NewExportHandler constructs the handler.
func NewExportHandler(svc timetableExporter) *ExportHandler {
	return &ExportHandler{service: svc}
}

// CSV streams the active schedule grid as CSV.
func (h *ExportHandler) CSV(c *gin.Context) {
	tenantID := tenantFromContext(c)
	if tenantID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tenant is required"))
		return
	}
	payload, err := h.service.ExportCSV(c.Request.Context(), tenantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="timetable.csv"`)
	c.Data(http.StatusOK, "text/csv", payload)
}

// PDF streams the active schedule grid as PDF.
func (h *ExportHandler) PDF(c *gin.Context) {
	tenantID := tenantFromContext(c)
	if tenantID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tenant is required"))
		return
	}
	payload, err := h.service.ExportPDF(c.Request.Context(), tenantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="timetable.pdf"`)
	c.Data(http.StatusOK, "application/pdf", payload)
}
