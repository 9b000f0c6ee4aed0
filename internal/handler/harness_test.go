package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	"github.com/noah-isme/course-sync/internal/service"
	"github.com/noah-isme/course-sync/internal/store"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/storage"
)

var testTokens = map[string]*models.JWTClaims{
	"student-u1": {UserID: "u1", Role: models.RoleStudent, Email: "u1@example.com", Name: "Ada"},
	"student-u2": {UserID: "u2", Role: models.RoleStudent, Email: "u2@example.com", Name: "Bob"},
	"instructor": {UserID: "i1", Role: models.RoleInstructor, Email: "i1@example.com", Name: "Grace"},
}

type tokenTable map[string]*models.JWTClaims

func (t tokenTable) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type apiHarness struct {
	router  *gin.Engine
	store   *store.MemoryStore
	courses *repository.CourseRepository
	blobs   *storage.LocalBlobStore
	metrics *service.MetricsService
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	courseRepo := repository.NewCourseRepository(s)
	enrollmentRepo := repository.NewEnrollmentRepository(s)
	userRepo := repository.NewUserRepository(s)
	attemptRepo := repository.NewAttemptRepository(s)

	blobs, err := storage.NewLocalBlobStore(t.TempDir(), "http://example.test/api/v1/files", storage.NewSignedURLSigner("secret", time.Hour))
	require.NoError(t, err)

	metrics := service.NewMetricsService()
	logger := zap.NewNop()
	courses := service.NewCourseService(courseRepo, blobs, nil, logger)
	enrollments := service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, nil, nil, logger)
	quizzes := service.NewQuizService(attemptRepo, courseRepo, metrics, nil, logger, service.WithEnrollmentCheck(enrollments))
	t.Cleanup(quizzes.Close)
	users := service.NewUserService(userRepo, blobs, nil, logger)
	certificates := service.NewCertificateService(enrollmentRepo, courseRepo, userRepo, nil, blobs, metrics, logger)
	reports := service.NewReportService(courseRepo, enrollmentRepo, userRepo, blobs, logger)
	subs := service.NewSubscriptionManager(s, courseRepo, metrics, logger)

	router := gin.New()
	api := router.Group("/api/v1")
	RegisterRoutes(api, Handlers{
		Courses:     NewCourseHandler(courses, courses, nil),
		Enrollments: NewEnrollmentHandler(enrollments, enrollments, certificates),
		Quizzes:     NewQuizHandler(quizzes),
		Users:       NewUserHandler(users),
		Reports:     NewReportHandler(reports),
		Files:       NewFileHandler(blobs),
		Live:        NewLiveHandler(subs, logger),
		Metrics:     NewMetricsHandler(metrics, nil),
	}, tokenTable(testTokens))

	return &apiHarness{router: router, store: s, courses: courseRepo, blobs: blobs, metrics: metrics}
}

// seedCourse stores a course with two sections, three lessons and a
// 30 point quiz.
func (h *apiHarness) seedCourse(t *testing.T) {
	t.Helper()
	course := &models.Course{
		ID:         "c1",
		Title:      "Go Basics",
		Instructor: "i1",
		Category:   "programming",
		Sections: []models.Section{
			{
				ID:      "s1",
				Title:   "Intro",
				Lessons: []models.Lesson{{ID: "L1", Title: "Setup"}, {ID: "L2", Title: "Hello"}},
				Quizzes: []models.Quiz{{
					ID:           "q1",
					Title:        "Checkpoint",
					PassingScore: 70,
					Questions: []models.Question{
						{ID: "qa", Text: "Is Go compiled?", Type: models.QuestionTrueFalse, CorrectAnswer: "true", Points: 10},
						{ID: "qb", Text: "Keyword for goroutines", Type: models.QuestionShortAnswer, CorrectAnswer: "go", Points: 20},
					},
				}},
			},
			{ID: "s2", Title: "Types", Lessons: []models.Lesson{{ID: "L3", Title: "Structs"}}, Quizzes: []models.Quiz{}},
		},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, h.courses.Save(context.Background(), course))
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func (h *apiHarness) do(t *testing.T, method, target, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return h.serve(t, req, token)
}

func (h *apiHarness) upload(t *testing.T, method, target, token, filename string, content []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return h.serve(t, req, token)
}

func (h *apiHarness) serve(t *testing.T, req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}
