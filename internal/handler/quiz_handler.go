package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/service"
	"github.com/noah-isme/course-sync/pkg/response"
)

type quizAttempts interface {
	StartAttempt(ctx context.Context, req service.StartAttemptRequest) (*models.QuizAttempt, error)
	Answer(ctx context.Context, attemptID, studentID string, req service.AnswerRequest) (*models.QuizAttempt, error)
	Submit(ctx context.Context, attemptID, studentID string, req service.SubmitRequest) (*models.QuizAttempt, error)
	Get(ctx context.Context, attemptID, studentID string) (*models.QuizAttempt, error)
	List(ctx context.Context, studentID, quizID string) ([]models.QuizAttempt, error)
}

// QuizHandler exposes quiz attempt endpoints. Attempts always belong to the
// authenticated caller.
type QuizHandler struct {
	quizzes quizAttempts
}

// NewQuizHandler constructs QuizHandler.
func NewQuizHandler(quizzes quizAttempts) *QuizHandler {
	return &QuizHandler{quizzes: quizzes}
}

// Start godoc
// @Summary Start quiz attempt
// @Tags Quizzes
// @Produce json
// @Param id path string true "Course ID"
// @Param sectionId path string true "Section ID"
// @Param quizId path string true "Quiz ID"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/sections/{sectionId}/quizzes/{quizId}/attempts [post]
func (h *QuizHandler) Start(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	attempt, err := h.quizzes.StartAttempt(c.Request.Context(), service.StartAttemptRequest{
		StudentID: claims.UserID,
		CourseID:  c.Param("id"),
		SectionID: c.Param("sectionId"),
		QuizID:    c.Param("quizId"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, attempt)
}

// List godoc
// @Summary List own attempts for a quiz
// @Tags Quizzes
// @Produce json
// @Param id path string true "Course ID"
// @Param sectionId path string true "Section ID"
// @Param quizId path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/sections/{sectionId}/quizzes/{quizId}/attempts [get]
func (h *QuizHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	attempts, err := h.quizzes.List(c.Request.Context(), claims.UserID, c.Param("quizId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, attempts, len(attempts), false)
}

// Get godoc
// @Summary Get attempt
// @Tags Quizzes
// @Produce json
// @Param attemptId path string true "Attempt ID"
// @Success 200 {object} response.Envelope
// @Router /attempts/{attemptId} [get]
func (h *QuizHandler) Get(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	attempt, err := h.quizzes.Get(c.Request.Context(), c.Param("attemptId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempt)
}

// Answer godoc
// @Summary Record one answer
// @Tags Quizzes
// @Accept json
// @Produce json
// @Param attemptId path string true "Attempt ID"
// @Param payload body service.AnswerRequest true "Answer"
// @Success 200 {object} response.Envelope
// @Router /attempts/{attemptId}/answers [post]
func (h *QuizHandler) Answer(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	attempt, err := h.quizzes.Answer(c.Request.Context(), c.Param("attemptId"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempt)
}

// Submit godoc
// @Summary Submit attempt for scoring
// @Tags Quizzes
// @Accept json
// @Produce json
// @Param attemptId path string true "Attempt ID"
// @Param payload body service.SubmitRequest false "Final answers"
// @Success 200 {object} response.Envelope
// @Router /attempts/{attemptId}/submit [post]
func (h *QuizHandler) Submit(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.SubmitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err))
			return
		}
	}
	attempt, err := h.quizzes.Submit(c.Request.Context(), c.Param("attemptId"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempt)
}
