package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	"github.com/noah-isme/course-sync/internal/store"
)

// sampleCourse has three lessons across two sections and one timed quiz
// worth 30 points.
func sampleCourse() *models.Course {
	return &models.Course{
		ID:         "c1",
		Title:      "Go Basics",
		Instructor: "i1",
		Category:   "programming",
		Sections: []models.Section{
			{
				ID:    "s1",
				Title: "Intro",
				Lessons: []models.Lesson{
					{ID: "L1", Title: "Setup"},
					{ID: "L2", Title: "Hello"},
				},
				Quizzes: []models.Quiz{
					{
						ID:              "q1",
						Title:           "Checkpoint",
						PassingScore:    70,
						TimeLimit:       5,
						AttemptsAllowed: 2,
						Questions: []models.Question{
							{ID: "qa", Text: "Is Go compiled?", Type: models.QuestionTrueFalse, CorrectAnswer: "true", Points: 10},
							{ID: "qb", Text: "Keyword for goroutines", Type: models.QuestionShortAnswer, CorrectAnswer: "go", Points: 20},
						},
					},
				},
			},
			{
				ID:      "s2",
				Title:   "Types",
				Lessons: []models.Lesson{{ID: "L3", Title: "Structs"}},
				Quizzes: []models.Quiz{},
			},
		},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	store       *store.MemoryStore
	courses     *repository.CourseRepository
	enrollments *repository.EnrollmentRepository
	users       *repository.UserRepository
	attempts    *repository.AttemptRepository
}

func newFixture(t *testing.T, opts ...store.MemoryOption) *fixture {
	t.Helper()
	s := store.NewMemoryStore(opts...)
	return &fixture{
		store:       s,
		courses:     repository.NewCourseRepository(s),
		enrollments: repository.NewEnrollmentRepository(s),
		users:       repository.NewUserRepository(s),
		attempts:    repository.NewAttemptRepository(s),
	}
}

func (f *fixture) seedCourse(t *testing.T, c *models.Course) {
	t.Helper()
	require.NoError(t, f.courses.Save(context.Background(), c))
}

func (f *fixture) seedUser(t *testing.T, id string) {
	t.Helper()
	_, _, err := f.users.CreateIfAbsent(context.Background(), &models.User{ID: id, Name: "Student " + id, Email: id + "@example.com", Role: models.RoleStudent})
	require.NoError(t, err)
}

func (f *fixture) enrollmentService(certs certificateRequester) *EnrollmentService {
	return NewEnrollmentService(f.enrollments, f.courses, f.users, certs, nil, zap.NewNop())
}

type upload struct {
	key         string
	contentType string
	body        []byte
}

type fakeBlobStore struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (b *fakeBlobStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.uploads = append(b.uploads, upload{key: key, contentType: contentType, body: buf.Bytes()})
	b.mu.Unlock()
	return "https://cdn.example.com/" + key, nil
}

func (b *fakeBlobStore) Delete(ctx context.Context, key string) error { return nil }

func (b *fakeBlobStore) all() []upload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]upload(nil), b.uploads...)
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and runs due callbacks on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}
