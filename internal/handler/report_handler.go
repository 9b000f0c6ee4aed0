package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-sync/internal/service"
	"github.com/noah-isme/course-sync/pkg/response"
)

type progressReporter interface {
	ProgressReport(ctx context.Context, courseID, format string) (*service.ReportResult, error)
}

// ReportHandler exposes course progress exports.
type ReportHandler struct {
	reports progressReporter
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(reports progressReporter) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// ProgressReport godoc
// @Summary Export course progress roster
// @Tags Reports
// @Produce json
// @Param id path string true "Course ID"
// @Param format query string false "csv (default) or pdf"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/reports/progress [post]
func (h *ReportHandler) ProgressReport(c *gin.Context) {
	result, err := h.reports.ProgressReport(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
