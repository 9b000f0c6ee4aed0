package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/service"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/response"
)

type courseReader interface {
	Get(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter service.CourseFilter) ([]models.Course, error)
	SetLessonMedia(ctx context.Context, courseID, sectionID, lessonID string, kind service.MediaKind, filename string, r io.Reader) (*models.Course, error)
}

// CourseWriter applies structural edits. Both CourseService and Orchestrator
// satisfy it; the orchestrator also refreshes its cached streams.
type CourseWriter interface {
	CreateCourse(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error)
	AddSection(ctx context.Context, courseID string, req service.AddSectionRequest) (*service.MutationResult, error)
	AddLesson(ctx context.Context, courseID, sectionID string, req service.AddLessonRequest) (*service.MutationResult, error)
	AddQuiz(ctx context.Context, courseID, sectionID string, req service.AddQuizRequest) (*service.MutationResult, error)
	AddQuestion(ctx context.Context, courseID, sectionID, quizID string, req service.AddQuestionRequest) (*service.MutationResult, error)
	UpdateLesson(ctx context.Context, courseID, sectionID, lessonID string, req service.UpdateLessonRequest) (*models.Course, error)
	DeleteLesson(ctx context.Context, courseID, sectionID, lessonID string) (*models.Course, error)
}

// CatalogCache serves the unfiltered catalog from a warm stream.
type CatalogCache interface {
	LatestAllCourses() ([]models.Course, error)
}

// CourseHandler exposes catalog endpoints.
type CourseHandler struct {
	courses courseReader
	writes  CourseWriter
	catalog CatalogCache
}

// NewCourseHandler constructs CourseHandler. catalog may be nil.
func NewCourseHandler(courses courseReader, writes CourseWriter, catalog CatalogCache) *CourseHandler {
	return &CourseHandler{courses: courses, writes: writes, catalog: catalog}
}

// List godoc
// @Summary List courses
// @Tags Courses
// @Produce json
// @Param instructor query string false "Filter by instructor"
// @Param category query string false "Filter by category"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	var filter service.CourseFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.Error(c, bindError(err))
		return
	}
	if filter == (service.CourseFilter{}) && h.catalog != nil {
		if courses, err := h.catalog.LatestAllCourses(); err == nil {
			response.List(c, courses, len(courses), true)
			return
		}
	}
	courses, err := h.courses.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, courses, len(courses), false)
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course)
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	if req.Instructor == "" {
		req.Instructor = claims.UserID
	}
	course, err := h.writes.CreateCourse(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// AddSection godoc
// @Summary Append section
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.AddSectionRequest true "Section payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/sections [post]
func (h *CourseHandler) AddSection(c *gin.Context) {
	var req service.AddSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	result, err := h.writes.AddSection(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// AddLesson godoc
// @Summary Append lesson
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param sectionId path string true "Section ID"
// @Param payload body service.AddLessonRequest true "Lesson payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/sections/{sectionId}/lessons [post]
func (h *CourseHandler) AddLesson(c *gin.Context) {
	var req service.AddLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	result, err := h.writes.AddLesson(c.Request.Context(), c.Param("id"), c.Param("sectionId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// AddQuiz godoc
// @Summary Append quiz
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param sectionId path string true "Section ID"
// @Param payload body service.AddQuizRequest true "Quiz payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/sections/{sectionId}/quizzes [post]
func (h *CourseHandler) AddQuiz(c *gin.Context) {
	var req service.AddQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	result, err := h.writes.AddQuiz(c.Request.Context(), c.Param("id"), c.Param("sectionId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// AddQuestion godoc
// @Summary Append quiz question
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param sectionId path string true "Section ID"
// @Param quizId path string true "Quiz ID"
// @Param payload body service.AddQuestionRequest true "Question payload"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/sections/{sectionId}/quizzes/{quizId}/questions [post]
func (h *CourseHandler) AddQuestion(c *gin.Context) {
	var req service.AddQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	result, err := h.writes.AddQuestion(c.Request.Context(), c.Param("id"), c.Param("sectionId"), c.Param("quizId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// UpdateLesson godoc
// @Summary Patch lesson
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param sectionId path string true "Section ID"
// @Param lessonId path string true "Lesson ID"
// @Param payload body service.UpdateLessonRequest true "Lesson fields"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/sections/{sectionId}/lessons/{lessonId} [patch]
func (h *CourseHandler) UpdateLesson(c *gin.Context) {
	var req service.UpdateLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	course, err := h.writes.UpdateLesson(c.Request.Context(), c.Param("id"), c.Param("sectionId"), c.Param("lessonId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course)
}

// DeleteLesson godoc
// @Summary Delete lesson
// @Tags Courses
// @Param id path string true "Course ID"
// @Param sectionId path string true "Section ID"
// @Param lessonId path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/sections/{sectionId}/lessons/{lessonId} [delete]
func (h *CourseHandler) DeleteLesson(c *gin.Context) {
	course, err := h.writes.DeleteLesson(c.Request.Context(), c.Param("id"), c.Param("sectionId"), c.Param("lessonId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course)
}

// UploadLessonMedia godoc
// @Summary Upload lesson media
// @Tags Courses
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Course ID"
// @Param sectionId path string true "Section ID"
// @Param lessonId path string true "Lesson ID"
// @Param kind path string true "video, image or pdf"
// @Param file formData file true "Media file"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/sections/{sectionId}/lessons/{lessonId}/media/{kind} [put]
func (h *CourseHandler) UploadLessonMedia(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close()

	course, err := h.courses.SetLessonMedia(c.Request.Context(), c.Param("id"), c.Param("sectionId"), c.Param("lessonId"), service.MediaKind(c.Param("kind")), header.Filename, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course)
}
