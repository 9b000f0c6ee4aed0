package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	"github.com/noah-isme/course-sync/internal/service"
	"github.com/noah-isme/course-sync/internal/store"
)

const catalogYAML = `
courses:
  - id: c1
    title: Go Basics
    instructor: i1
    category: programming
    price: 19.5
    createdAt: "2024-01-01T00:00:00Z"
    sections:
      - id: s1
        title: Intro
        lessons:
          - id: L1
            title: Setup
          - id: L2
            title: Hello
        quizzes:
          - id: q1
            title: Checkpoint
            passingScore: 70
            questions:
              - id: qa
                text: Is Go compiled?
                type: true-false
                correctAnswer: "true"
                points: 10
users:
  - id: u1
    name: Ada
    email: ada@example.com
    role: student
enrollments:
  - studentId: u1
    courseId: c1
    completedLessons: [L1]
`

func TestParse(t *testing.T) {
	cat, err := Parse([]byte(catalogYAML))
	require.NoError(t, err)
	require.Len(t, cat.Courses, 1)

	course := cat.Courses[0]
	assert.Equal(t, "Go Basics", course.Title)
	assert.Equal(t, 19.5, course.Price)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), course.CreatedAt)
	assert.Equal(t, 2, course.TotalLessons())
	quiz, ok := course.FindQuiz("s1", "q1")
	require.True(t, ok)
	assert.Equal(t, models.QuestionTrueFalse, quiz.Questions[0].Type)
	assert.Equal(t, "true", quiz.Questions[0].CorrectAnswer)

	require.Len(t, cat.Users, 1)
	assert.Equal(t, models.RoleStudent, cat.Users[0].Role)
	require.Len(t, cat.Enrollments, 1)
	assert.Equal(t, []string{"L1"}, cat.Enrollments[0].CompletedLessons)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := map[string]string{
		"malformed":         "courses: [",
		"missing title":     "courses:\n  - id: c1\n",
		"duplicate course":  "courses:\n  - {id: c1, title: A}\n  - {id: c1, title: B}\n",
		"duplicate lesson":  "courses:\n  - id: c1\n    title: A\n    sections:\n      - id: s1\n        lessons: [{id: L1}, {id: L1}]\n",
		"bad question type": "courses:\n  - id: c1\n    title: A\n    sections:\n      - id: s1\n        quizzes:\n          - id: q1\n            questions: [{id: x, type: essay}]\n",
		"bad role":          "users:\n  - {id: u1, role: admin}\n",
		"enrollment pair":   "enrollments:\n  - {studentId: u1}\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadPathDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("courses:\n  - {id: c1, title: A}\n"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.yml"), []byte("users:\n  - {id: u1, role: student}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	cat, err := LoadPath(dir)
	require.NoError(t, err)
	assert.Len(t, cat.Courses, 1)
	assert.Len(t, cat.Users, 1)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("courses:\n  - {id: c1, title: Again}\n"), 0o600))
	_, err = LoadPath(dir)
	assert.Error(t, err)

	_, err = LoadPath(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoaderApplyIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	courses := repository.NewCourseRepository(s)
	users := repository.NewUserRepository(s)
	enrollments := repository.NewEnrollmentRepository(s)
	svc := service.NewEnrollmentService(enrollments, courses, users, nil, nil, zap.NewNop())
	loader := NewLoader(courses, users, svc, zap.NewNop())
	ctx := context.Background()

	cat, err := Parse([]byte(catalogYAML))
	require.NoError(t, err)

	res, err := loader.Apply(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, &Result{Courses: 1, Users: 1, Enrollments: 1, Completions: 1}, res)

	enrollment, err := enrollments.Find(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 50, enrollment.Progress)
	assert.Equal(t, []string{"L1"}, enrollment.CompletedLessons)

	course, err := courses.FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, course.EnrolledStudents)

	user, err := users.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, user.EnrolledCourses)

	res, err = loader.Apply(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)

	course, err = courses.FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, course.EnrolledStudents)
}
