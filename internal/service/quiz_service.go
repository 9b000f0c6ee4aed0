package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/store"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
)

// Timer is a stoppable pending callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so attempt deadlines can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type attemptRepository interface {
	FindByID(ctx context.Context, id string) (*models.QuizAttempt, error)
	List(ctx context.Context, studentID, quizID string) ([]models.QuizAttempt, error)
	ListOpen(ctx context.Context) ([]models.QuizAttempt, error)
	CreateIfAbsent(ctx context.Context, a *models.QuizAttempt) (*models.QuizAttempt, bool, error)
	Mutate(ctx context.Context, id string, fn func(*models.QuizAttempt) error) (*models.QuizAttempt, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type enrollmentChecker interface {
	RequireEnrollment(ctx context.Context, studentID, courseID string) error
}

type quizMetrics interface {
	QuizSubmitted(passed, auto bool)
}

// StartAttemptRequest identifies the quiz a student starts.
type StartAttemptRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	CourseID  string `json:"courseId" validate:"required"`
	SectionID string `json:"sectionId" validate:"required"`
	QuizID    string `json:"quizId" validate:"required"`
}

// AnswerRequest records one answer on an open attempt.
type AnswerRequest struct {
	QuestionID string `json:"questionId" validate:"required"`
	Answer     string `json:"answer"`
}

// SubmitRequest finalises an attempt. Answers are merged over those already recorded.
type SubmitRequest struct {
	Answers map[string]string `json:"answers"`
}

// QuizService drives quiz attempts through not started, in progress and
// submitted. Attempts with a time limit are auto-submitted at their deadline.
type QuizService struct {
	attempts    attemptRepository
	courses     courseReader
	enrollments enrollmentChecker
	metrics     quizMetrics
	clock       Clock
	validator   *validator.Validate
	logger      *zap.Logger

	mu     sync.Mutex
	timers map[string]Timer
}

// QuizServiceOption customises QuizService.
type QuizServiceOption func(*QuizService)

// WithClock replaces the system clock.
func WithClock(c Clock) QuizServiceOption {
	return func(s *QuizService) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithEnrollmentCheck requires students to be enrolled before starting a quiz.
func WithEnrollmentCheck(c enrollmentChecker) QuizServiceOption {
	return func(s *QuizService) { s.enrollments = c }
}

// NewQuizService constructs QuizService. metrics may be nil.
func NewQuizService(attempts attemptRepository, courses courseReader, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, opts ...QuizServiceOption) *QuizService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &QuizService{
		attempts:  attempts,
		courses:   courses,
		clock:     systemClock{},
		validator: validate,
		logger:    logger.Named("quiz"),
		timers:    make(map[string]Timer),
	}
	if metrics != nil {
		s.metrics = metrics
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns an attempt owned by studentID.
func (s *QuizService) Get(ctx context.Context, attemptID, studentID string) (*models.QuizAttempt, error) {
	attempt, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, storeError(err, "attempt not found", "failed to load attempt")
	}
	if attempt.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "attempt belongs to another student")
	}
	return attempt, nil
}

// List returns a student's attempts at a quiz.
func (s *QuizService) List(ctx context.Context, studentID, quizID string) ([]models.QuizAttempt, error) {
	list, err := s.attempts.List(ctx, studentID, quizID)
	if err != nil {
		return nil, storeError(err, "", "failed to list attempts")
	}
	return list, nil
}

// StartAttempt opens a new attempt, or returns the one already in progress.
func (s *QuizService) StartAttempt(ctx context.Context, req StartAttemptRequest) (*models.QuizAttempt, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attempt payload")
	}
	quiz, err := s.loadQuiz(ctx, req.CourseID, req.SectionID, req.QuizID)
	if err != nil {
		return nil, err
	}
	if s.enrollments != nil {
		if err := s.enrollments.RequireEnrollment(ctx, req.StudentID, req.CourseID); err != nil {
			return nil, err
		}
	}

	previous, err := s.attempts.List(ctx, req.StudentID, req.QuizID)
	if err != nil {
		return nil, storeError(err, "", "failed to list attempts")
	}
	for i := range previous {
		if previous[i].Status == models.AttemptInProgress {
			return &previous[i], nil
		}
	}

	// Attempt n lives at a key derived from (student, quiz, n), so two starts
	// racing for the same slot meet on one document and only one is written.
	for number := len(previous) + 1; ; number++ {
		if quiz.AttemptsAllowed > 0 && number > quiz.AttemptsAllowed {
			return nil, appErrors.Clone(appErrors.ErrAttemptsExhausted, fmt.Sprintf("%d of %d attempts used", number-1, quiz.AttemptsAllowed))
		}
		attempt := s.newAttempt(req, quiz, number)
		stored, created, err := s.attempts.CreateIfAbsent(ctx, attempt)
		if err != nil {
			return nil, storeError(err, "", "failed to start attempt")
		}
		if created {
			s.arm(attempt)
			s.logger.Info("quiz attempt started", zap.String("attempt_id", attempt.ID), zap.String("quiz_id", attempt.QuizID), zap.String("student_id", attempt.StudentID), zap.Int("number", number))
			return attempt, nil
		}
		if stored.Status == models.AttemptInProgress {
			return stored, nil
		}
	}
}

func (s *QuizService) newAttempt(req StartAttemptRequest, quiz *models.Quiz, number int) *models.QuizAttempt {
	now := s.clock.Now().UTC()
	attempt := &models.QuizAttempt{
		ID:          models.AttemptID(req.StudentID, req.QuizID, number),
		StudentID:   req.StudentID,
		CourseID:    req.CourseID,
		SectionID:   req.SectionID,
		QuizID:      req.QuizID,
		Number:      number,
		Status:      models.AttemptInProgress,
		Answers:     map[string]string{},
		StartedAt:   now,
		TotalPoints: quiz.TotalPoints(),
	}
	if limit := quiz.TimeLimitDuration(); limit > 0 {
		attempt.Deadline = now.Add(limit)
	}
	return attempt
}

// Answer records or replaces one answer on an open attempt.
func (s *QuizService) Answer(ctx context.Context, attemptID, studentID string, req AnswerRequest) (*models.QuizAttempt, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid answer payload")
	}
	current, err := s.Get(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.AttemptInProgress {
		return nil, appErrors.Clone(appErrors.ErrAttemptClosed, "")
	}
	if s.expired(current) {
		if _, err := s.Expire(ctx, attemptID); err != nil {
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrAttemptClosed, "time limit reached")
	}
	quiz, err := s.loadQuiz(ctx, current.CourseID, current.SectionID, current.QuizID)
	if err != nil {
		return nil, err
	}
	if !quizHasQuestion(quiz, req.QuestionID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("question %s not in quiz", req.QuestionID))
	}

	attempt, err := s.attempts.Mutate(ctx, attemptID, func(a *models.QuizAttempt) error {
		if a.Status != models.AttemptInProgress {
			return appErrors.Clone(appErrors.ErrAttemptClosed, "")
		}
		if a.Answers == nil {
			a.Answers = map[string]string{}
		}
		a.Answers[req.QuestionID] = req.Answer
		return nil
	})
	if err != nil {
		return nil, storeError(err, "attempt not found", "failed to record answer")
	}
	return attempt, nil
}

// Submit grades an attempt. Every question must be answered unless the
// deadline has already passed, in which case the attempt is auto-submitted.
func (s *QuizService) Submit(ctx context.Context, attemptID, studentID string, req SubmitRequest) (*models.QuizAttempt, error) {
	current, err := s.Get(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.AttemptSubmitted {
		return nil, appErrors.Clone(appErrors.ErrAttemptClosed, "")
	}
	if s.expired(current) {
		return s.Expire(ctx, attemptID)
	}
	quiz, err := s.loadQuiz(ctx, current.CourseID, current.SectionID, current.QuizID)
	if err != nil {
		return nil, err
	}
	merged := mergeAnswers(current.Answers, req.Answers)
	if _, err := ScoreQuiz(quiz, merged); err != nil {
		return nil, err
	}

	attempt, err := s.attempts.Mutate(ctx, attemptID, func(a *models.QuizAttempt) error {
		if a.Status != models.AttemptInProgress {
			return appErrors.Clone(appErrors.ErrAttemptClosed, "")
		}
		answers := mergeAnswers(a.Answers, req.Answers)
		result, err := ScoreQuiz(quiz, answers)
		if err != nil {
			return err
		}
		s.applyResult(a, answers, result, false)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "attempt not found", "failed to submit attempt")
	}
	s.disarm(attemptID)
	s.observe(attempt)
	return attempt, nil
}

// Expire grades whatever answers an open attempt holds and closes it. It is
// a no-op for attempts that are already submitted.
func (s *QuizService) Expire(ctx context.Context, attemptID string) (*models.QuizAttempt, error) {
	current, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		return nil, storeError(err, "attempt not found", "failed to load attempt")
	}
	quiz, err := s.loadQuiz(ctx, current.CourseID, current.SectionID, current.QuizID)
	if err != nil {
		return nil, err
	}

	var graded bool
	attempt, err := s.attempts.Mutate(ctx, attemptID, func(a *models.QuizAttempt) error {
		graded = false
		if a.Status != models.AttemptInProgress {
			return store.ErrAbort
		}
		s.applyResult(a, a.Answers, ScoreQuizPartial(quiz, a.Answers), true)
		graded = true
		return nil
	})
	if err != nil {
		return nil, storeError(err, "attempt not found", "failed to auto-submit attempt")
	}
	s.disarm(attemptID)
	if graded {
		s.observe(attempt)
		s.logger.Info("quiz attempt auto-submitted", zap.String("attempt_id", attemptID), zap.Int("score", attempt.Score))
	}
	return attempt, nil
}

// RestoreTimers re-arms deadlines of open attempts, expiring those already
// past due. It returns the number of attempts handled.
func (s *QuizService) RestoreTimers(ctx context.Context) (int, error) {
	open, err := s.attempts.ListOpen(ctx)
	if err != nil {
		return 0, storeError(err, "", "failed to list open attempts")
	}
	for i := range open {
		attempt := open[i]
		if !attempt.HasDeadline() {
			continue
		}
		if s.expired(&attempt) {
			if _, err := s.Expire(ctx, attempt.ID); err != nil {
				s.logger.Warn("expire overdue attempt failed", zap.String("attempt_id", attempt.ID), zap.Error(err))
			}
			continue
		}
		s.arm(&attempt)
	}
	return len(open), nil
}

// Close stops all pending deadline timers.
func (s *QuizService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *QuizService) applyResult(a *models.QuizAttempt, answers map[string]string, result *QuizResult, auto bool) {
	a.Answers = answers
	if a.Answers == nil {
		a.Answers = map[string]string{}
	}
	a.Status = models.AttemptSubmitted
	a.SubmittedAt = s.clock.Now().UTC()
	a.Score = result.Score
	a.Passed = result.Passed
	a.EarnedPoints = result.EarnedPoints
	a.TotalPoints = result.TotalPoints
	a.AutoSubmitted = auto
}

func (s *QuizService) observe(a *models.QuizAttempt) {
	if s.metrics != nil {
		s.metrics.QuizSubmitted(a.Passed, a.AutoSubmitted)
	}
}

func (s *QuizService) expired(a *models.QuizAttempt) bool {
	return a.HasDeadline() && !s.clock.Now().Before(a.Deadline)
}

func (s *QuizService) arm(a *models.QuizAttempt) {
	if !a.HasDeadline() {
		return
	}
	id := a.ID
	wait := a.Deadline.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	timer := s.clock.AfterFunc(wait, func() {
		if _, err := s.Expire(context.Background(), id); err != nil {
			s.logger.Error("auto-submit failed", zap.String("attempt_id", id), zap.Error(err))
		}
	})
	s.mu.Lock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = timer
	s.mu.Unlock()
}

func (s *QuizService) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *QuizService) loadQuiz(ctx context.Context, courseID, sectionID, quizID string) (*models.Quiz, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	quiz, ok := course.FindQuiz(sectionID, quizID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("quiz %s not found in section %s", quizID, sectionID))
	}
	return quiz, nil
}

func quizHasQuestion(quiz *models.Quiz, questionID string) bool {
	for _, q := range quiz.Questions {
		if q.ID == questionID {
			return true
		}
	}
	return false
}

func mergeAnswers(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
