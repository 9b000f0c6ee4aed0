package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/service"
	"github.com/noah-isme/course-sync/pkg/response"
)

type enrollmentReader interface {
	Get(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
	Reconcile(ctx context.Context, courseID string) (*service.ReconcileReport, error)
}

// EnrollmentWriter records enrollments and progress.
type EnrollmentWriter interface {
	Enroll(ctx context.Context, req service.EnrollRequest) (*service.EnrollResult, error)
	RecordLessonCompletion(ctx context.Context, req service.CompleteLessonRequest) (*models.Enrollment, error)
}

type certificateIssuer interface {
	Issue(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
}

// EnrollmentHandler exposes enrollment and progress endpoints.
type EnrollmentHandler struct {
	enrollments  enrollmentReader
	writes       EnrollmentWriter
	certificates certificateIssuer
}

// NewEnrollmentHandler constructs EnrollmentHandler. certificates may be nil.
func NewEnrollmentHandler(enrollments enrollmentReader, writes EnrollmentWriter, certificates certificateIssuer) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, writes: writes, certificates: certificates}
}

type enrollPayload struct {
	StudentID string `json:"studentId"`
}

// Enroll godoc
// @Summary Enroll in course
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "Already enrolled"
// @Router /courses/{id}/enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var payload enrollPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.Error(c, bindError(err))
			return
		}
	}
	studentID, err := actingStudent(claims, payload.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.writes.Enroll(c.Request.Context(), service.EnrollRequest{StudentID: studentID, CourseID: c.Param("id")})
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	response.JSON(c, status, result)
}

// CompleteLesson godoc
// @Summary Record lesson completion
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Param lessonId path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/lessons/{lessonId}/complete [post]
func (h *EnrollmentHandler) CompleteLesson(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	studentID, err := actingStudent(claims, c.Query("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	enrollment, err := h.writes.RecordLessonCompletion(c.Request.Context(), service.CompleteLessonRequest{
		StudentID: studentID,
		CourseID:  c.Param("id"),
		LessonID:  c.Param("lessonId"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/enrollments/{studentId} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("studentId"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment)
}

// ListByCourse godoc
// @Summary List course enrollments
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/enrollments [get]
func (h *EnrollmentHandler) ListByCourse(c *gin.Context) {
	enrollments, err := h.enrollments.ListByCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, enrollments, len(enrollments), false)
}

// ListByStudent godoc
// @Summary List student enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/enrollments [get]
func (h *EnrollmentHandler) ListByStudent(c *gin.Context) {
	enrollments, err := h.enrollments.ListByStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, enrollments, len(enrollments), false)
}

// Reconcile godoc
// @Summary Repair enrollment counter and user links
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/reconcile [post]
func (h *EnrollmentHandler) Reconcile(c *gin.Context) {
	report, err := h.enrollments.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// IssueCertificate godoc
// @Summary Issue completion certificate
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/certificate [post]
func (h *EnrollmentHandler) IssueCertificate(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if h.certificates == nil {
		c.Status(http.StatusNotImplemented)
		return
	}
	studentID, err := actingStudent(claims, c.Query("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	enrollment, err := h.certificates.Issue(c.Request.Context(), studentID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment)
}
