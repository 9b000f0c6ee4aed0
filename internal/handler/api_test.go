package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/service"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
)

func TestCourseRoutes(t *testing.T) {
	h := newAPIHarness(t)
	h.seedCourse(t)

	rec, env := h.do(t, http.MethodGet, "/api/v1/courses", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]models.Course](t, env), 1)
	assert.EqualValues(t, 1, env.Meta["total"])

	rec, env = h.do(t, http.MethodGet, "/api/v1/courses/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, appErrors.ErrNotFound.Code, env.Error.Code)

	payload := map[string]interface{}{"title": "Rust", "category": "systems"}
	rec, _ = h.do(t, http.MethodPost, "/api/v1/courses", "", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = h.do(t, http.MethodPost, "/api/v1/courses", "student-u1", payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/courses", "instructor", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeData[models.Course](t, env)
	assert.Equal(t, "i1", created.Instructor)
	assert.NotEmpty(t, created.ID)

	rec, env = h.do(t, http.MethodPost, "/api/v1/courses/c1/sections/s2/lessons", "instructor", map[string]string{"title": "Interfaces"})
	require.Equal(t, http.StatusCreated, rec.Code)
	result := decodeData[service.MutationResult](t, env)
	require.Len(t, result.Course.Sections[1].Lessons, 2)
	assert.Equal(t, result.ID, result.Course.Sections[1].Lessons[1].ID)

	rec, env = h.do(t, http.MethodPost, "/api/v1/courses/c1/sections/nope/lessons", "instructor", map[string]string{"title": "Lost"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)

	rec, env = h.do(t, http.MethodPatch, "/api/v1/courses/c1/sections/s1/lessons/L1", "instructor", map[string]string{"title": "Install Go"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Install Go", decodeData[models.Course](t, env).Sections[0].Lessons[0].Title)

	rec, env = h.do(t, http.MethodGet, "/api/v1/courses?instructor=i1&category=programming", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeData[[]models.Course](t, env)
	require.Len(t, listed, 1)
	assert.Equal(t, "c1", listed[0].ID)
}

func TestLessonMediaUploadAndDownload(t *testing.T) {
	h := newAPIHarness(t)
	h.seedCourse(t)

	rec, env := h.upload(t, http.MethodPut, "/api/v1/courses/c1/sections/s2/lessons/L3/media/pdf", "instructor", "notes.pdf", []byte("%PDF-1.4 notes"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	url := decodeData[models.Course](t, env).Sections[1].Lessons[0].PDFURL
	require.True(t, strings.HasPrefix(url, "http://example.test/api/v1/files/"), url)

	rec, _ = h.do(t, http.MethodGet, strings.TrimPrefix(url, "http://example.test"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4 notes", rec.Body.String())

	rec, _ = h.do(t, http.MethodGet, "/api/v1/files/1.bogus.sig", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.upload(t, http.MethodPut, "/api/v1/courses/c1/sections/s2/lessons/L3/media/audio", "instructor", "a.mp3", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrollmentRoutes(t *testing.T) {
	h := newAPIHarness(t)
	h.seedCourse(t)

	rec, env := h.do(t, http.MethodPost, "/api/v1/courses/c1/enrollments", "student-u1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decodeData[service.EnrollResult](t, env).Created)

	rec, env = h.do(t, http.MethodPost, "/api/v1/courses/c1/enrollments", "student-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeData[service.EnrollResult](t, env).Created)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/courses/c1/enrollments", "student-u2", map[string]string{"studentId": "u1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, lesson := range []string{"L1", "L3"} {
		rec, env = h.do(t, http.MethodPost, "/api/v1/courses/c1/lessons/"+lesson+"/complete", "student-u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 66, decodeData[models.Enrollment](t, env).Progress)

	rec, env = h.do(t, http.MethodPost, "/api/v1/courses/c1/lessons/zzz/complete", "student-u1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)

	rec, env = h.do(t, http.MethodGet, "/api/v1/courses/c1/enrollments/u1", "student-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"L1", "L3"}, decodeData[models.Enrollment](t, env).CompletedLessons)

	rec, _ = h.do(t, http.MethodGet, "/api/v1/courses/c1/enrollments/u1", "student-u2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = h.do(t, http.MethodGet, "/api/v1/courses/c1/enrollments", "student-u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = h.do(t, http.MethodGet, "/api/v1/students/u1/enrollments", "instructor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]models.Enrollment](t, env), 1)

	rec, env = h.do(t, http.MethodPost, "/api/v1/courses/c1/certificate", "student-u1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/courses/c1/reconcile", "instructor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeData[service.ReconcileReport](t, env)
	assert.Equal(t, 1, report.Enrollments)
	assert.Equal(t, 1, report.CounterAfter)
}

func TestQuizRoutes(t *testing.T) {
	h := newAPIHarness(t)
	h.seedCourse(t)
	const attempts = "/api/v1/courses/c1/sections/s1/quizzes/q1/attempts"

	rec, env := h.do(t, http.MethodPost, attempts, "student-u1", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, appErrors.ErrForbidden.Code, env.Error.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/courses/c1/enrollments", "student-u1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = h.do(t, http.MethodPost, attempts, "student-u1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	attempt := decodeData[models.QuizAttempt](t, env)
	assert.Equal(t, models.AttemptInProgress, attempt.Status)
	assert.Equal(t, 30, attempt.TotalPoints)

	rec, _ = h.do(t, http.MethodGet, "/api/v1/attempts/"+attempt.ID, "student-u2", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/attempts/"+attempt.ID+"/submit", "student-u1", map[string]interface{}{"answers": map[string]string{"qa": "true"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrIncompleteSubmission.Code, env.Error.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/attempts/"+attempt.ID+"/answers", "student-u1", map[string]string{"questionId": "qb", "answer": "go"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/attempts/"+attempt.ID+"/submit", "student-u1", map[string]interface{}{"answers": map[string]string{"qa": "false"}})
	require.Equal(t, http.StatusOK, rec.Code)
	submitted := decodeData[models.QuizAttempt](t, env)
	assert.Equal(t, models.AttemptSubmitted, submitted.Status)
	assert.Equal(t, 66, submitted.Score)
	assert.False(t, submitted.Passed)

	rec, env = h.do(t, http.MethodPost, "/api/v1/attempts/"+attempt.ID+"/submit", "student-u1", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, appErrors.ErrAttemptClosed.Code, env.Error.Code)

	rec, env = h.do(t, http.MethodGet, attempts, "student-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]models.QuizAttempt](t, env), 1)
}

func TestUserRoutes(t *testing.T) {
	h := newAPIHarness(t)

	rec, env := h.do(t, http.MethodGet, "/api/v1/users/me", "student-u1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, appErrors.ErrNotFound.Code, env.Error.Code)

	rec, env = h.do(t, http.MethodPost, "/api/v1/users/me", "student-u1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	user := decodeData[models.User](t, env)
	assert.Equal(t, "Ada", user.Name)
	assert.Equal(t, models.RoleStudent, user.Role)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/users/me", "student-u1", map[string]string{"name": "Other"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = h.upload(t, http.MethodPut, "/api/v1/users/me/profile-image", "student-u1", "me.png", []byte("png"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeData[models.User](t, env).ProfileImage)

	rec, _ = h.do(t, http.MethodGet, "/api/v1/users/u1", "student-u2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = h.do(t, http.MethodGet, "/api/v1/users/u1", "instructor", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReportAndMetricsRoutes(t *testing.T) {
	h := newAPIHarness(t)
	h.seedCourse(t)
	rec, _ := h.do(t, http.MethodPost, "/api/v1/courses/c1/enrollments", "student-u1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := h.do(t, http.MethodPost, "/api/v1/courses/c1/reports/progress?format=csv", "instructor", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	report := decodeData[service.ReportResult](t, env)
	assert.Equal(t, 1, report.Rows)

	rec, _ = h.do(t, http.MethodGet, strings.TrimPrefix(report.URL, "http://example.test"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "student_id,"))

	rec, _ = h.do(t, http.MethodPost, "/api/v1/courses/c1/reports/progress", "student-u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = h.do(t, http.MethodGet, "/api/v1/metrics/summary", "instructor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, decodeData[service.MetricsSnapshot](t, env).GeneratedAt)
}

func TestLiveRoutes(t *testing.T) {
	h := newAPIHarness(t)
	h.seedCourse(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	rec, env := h.do(t, http.MethodGet, "/api/v1/live?query=bogus", "student-u1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)
	rec, _ = h.do(t, http.MethodGet, "/api/v1/live?query=user&id=u2", "student-u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = h.do(t, http.MethodGet, "/api/v1/live?query=course", "student-u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/live?query=course&id=c1&access_token=student-u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	type courseFrame struct {
		Type  string         `json:"type"`
		Query string         `json:"query"`
		Seq   int            `json:"seq"`
		Data  *models.Course `json:"data"`
	}
	read := func() courseFrame {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame courseFrame
		require.NoError(t, conn.ReadJSON(&frame))
		return frame
	}

	first := read()
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, service.KindCourse, first.Query)
	assert.Equal(t, 1, first.Seq)
	require.NotNil(t, first.Data)
	assert.Equal(t, 3, first.Data.TotalLessons())

	rec, _ = h.do(t, http.MethodPost, "/api/v1/courses/c1/sections/s1/lessons", "instructor", map[string]string{"title": "Loops"})
	require.Equal(t, http.StatusCreated, rec.Code)

	second := read()
	assert.Equal(t, 2, second.Seq)
	require.NotNil(t, second.Data)
	assert.Equal(t, 4, second.Data.TotalLessons())
}
