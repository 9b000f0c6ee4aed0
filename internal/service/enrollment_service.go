package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	"github.com/noah-isme/course-sync/internal/store"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
)

type enrollmentRepository interface {
	Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
	CreateIfAbsent(ctx context.Context, e *models.Enrollment) (*models.Enrollment, bool, error)
	Mutate(ctx context.Context, studentID, courseID string, fn func(*models.Enrollment) error) (*models.Enrollment, error)
}

type courseCounter interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	AdjustEnrolledStudents(ctx context.Context, id string, delta int) (*models.Course, error)
	SetEnrolledStudents(ctx context.Context, id string, count int) (*models.Course, error)
}

type userLinker interface {
	AddEnrolledCourse(ctx context.Context, userID, courseID string) (*models.User, error)
	Mutate(ctx context.Context, id string, fn func(*models.User) error) (*models.User, error)
}

type certificateRequester interface {
	RequestCertificate(studentID, courseID string) error
}

// EnrollRequest identifies the pair to enroll.
type EnrollRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	CourseID  string `json:"courseId" validate:"required"`
}

// CompleteLessonRequest identifies a lesson completion.
type CompleteLessonRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	CourseID  string `json:"courseId" validate:"required"`
	LessonID  string `json:"lessonId" validate:"required"`
}

// EnrollResult reports the stored enrollment and whether this call created it.
type EnrollResult struct {
	Enrollment *models.Enrollment `json:"enrollment"`
	Created    bool               `json:"created"`
}

// ReconcileReport summarises a counter and link repair for one course.
type ReconcileReport struct {
	CourseID         string `json:"courseId"`
	Enrollments      int    `json:"enrollments"`
	CounterBefore    int    `json:"counterBefore"`
	CounterAfter     int    `json:"counterAfter"`
	ProgressFixed    int    `json:"progressFixed"`
	UsersLinked      int    `json:"usersLinked"`
	UsersMissing     int    `json:"usersMissing"`
	ReconciledAt     string `json:"reconciledAt"`
	CounterCorrected bool   `json:"counterCorrected"`
}

// EnrollmentService runs enrollment and progress workflows.
type EnrollmentService struct {
	enrollments  enrollmentRepository
	courses      courseCounter
	users        userLinker
	certificates certificateRequester
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewEnrollmentService constructs EnrollmentService. certificates may be nil.
func NewEnrollmentService(enrollments enrollmentRepository, courses courseCounter, users userLinker, certificates certificateRequester, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		enrollments:  enrollments,
		courses:      courses,
		users:        users,
		certificates: certificates,
		validator:    validate,
		logger:       logger.Named("enrollments"),
		now:          time.Now,
	}
}

// Get returns the enrollment of a pair.
func (s *EnrollmentService) Get(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	e, err := s.enrollments.Find(ctx, studentID, courseID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	return e, nil
}

// ListByStudent returns a student's enrollments.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	list, err := s.enrollments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, storeError(err, "", "failed to list enrollments")
	}
	return list, nil
}

// ListByCourse returns a course's enrollments.
func (s *EnrollmentService) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	list, err := s.enrollments.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, storeError(err, "", "failed to list enrollments")
	}
	return list, nil
}

// Enroll creates the enrollment if it does not exist yet. The course counter
// and the user's enrolled set are updated in separate transactions; a failure
// between them leaves a gap that Reconcile repairs.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}

	candidate := &models.Enrollment{
		StudentID:        req.StudentID,
		CourseID:         req.CourseID,
		Progress:         0,
		EnrolledDate:     s.now().UTC(),
		CompletedLessons: []string{},
	}
	enrollment, created, err := s.enrollments.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return nil, storeError(err, "", "failed to create enrollment")
	}
	log := s.logger.With(zap.String("student_id", req.StudentID), zap.String("course_id", req.CourseID))
	if !created {
		log.Debug("already enrolled")
		return &EnrollResult{Enrollment: enrollment}, nil
	}

	if _, err := s.courses.AdjustEnrolledStudents(ctx, req.CourseID, 1); err != nil {
		log.Warn("enrollment stored but course counter not incremented", zap.Error(err))
		return nil, storeError(err, "course not found", "failed to update enrolled students")
	}
	if _, err := s.users.AddEnrolledCourse(ctx, req.StudentID, req.CourseID); err != nil {
		if !repository.IsNotFound(err) {
			log.Warn("enrollment stored but user not linked", zap.Error(err))
			return nil, storeError(err, "", "failed to link user to course")
		}
		log.Debug("no user profile to link")
	}
	log.Info("student enrolled")
	return &EnrollResult{Enrollment: enrollment, Created: true}, nil
}

// RecordLessonCompletion adds lessonID to the completed set and recomputes
// progress against the current course.
func (s *EnrollmentService) RecordLessonCompletion(ctx context.Context, req CompleteLessonRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid completion payload")
	}
	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	if !course.HasLesson(req.LessonID) {
		return nil, lessonNotFound(req.LessonID)
	}

	var before int
	enrollment, err := s.enrollments.Mutate(ctx, req.StudentID, req.CourseID, func(e *models.Enrollment) error {
		before = e.Progress
		added := e.MarkCompleted(req.LessonID)
		progress := CalculateProgress(e.CompletedLessons, course)
		if !added && progress == e.Progress {
			return store.ErrAbort
		}
		e.Progress = progress
		return nil
	})
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to record lesson completion")
	}

	s.mirrorUserLesson(ctx, req.StudentID, req.LessonID)
	if enrollment.Progress == 100 && before < 100 && s.certificates != nil {
		if err := s.certificates.RequestCertificate(req.StudentID, req.CourseID); err != nil {
			s.logger.Warn("certificate request failed", zap.String("student_id", req.StudentID), zap.String("course_id", req.CourseID), zap.Error(err))
		}
	}
	return enrollment, nil
}

// mirrorUserLesson keeps the legacy completedLessons view on the user profile.
func (s *EnrollmentService) mirrorUserLesson(ctx context.Context, userID, lessonID string) {
	_, err := s.users.Mutate(ctx, userID, func(u *models.User) error {
		for _, id := range u.CompletedLessons {
			if id == lessonID {
				return store.ErrAbort
			}
		}
		u.CompletedLessons = append(u.CompletedLessons, lessonID)
		return nil
	})
	if err != nil && !repository.IsNotFound(err) {
		s.logger.Warn("failed to mirror completed lesson on user", zap.String("user_id", userID), zap.Error(err))
	}
}

// Reconcile recounts the enrollments of a course, corrects the counter,
// recomputes stale progress and re-links users to the course.
func (s *EnrollmentService) Reconcile(ctx context.Context, courseID string) (*ReconcileReport, error) {
	var (
		course      *models.Course
		enrollments []models.Enrollment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		course, err = s.courses.FindByID(gctx, courseID)
		return err
	})
	g.Go(func() error {
		var err error
		enrollments, err = s.enrollments.ListByCourse(gctx, courseID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storeError(err, "course not found", "failed to load course enrollments")
	}

	report := &ReconcileReport{
		CourseID:      courseID,
		Enrollments:   len(enrollments),
		CounterBefore: course.EnrolledStudents,
	}
	updated, err := s.courses.SetEnrolledStudents(ctx, courseID, len(enrollments))
	if err != nil {
		return nil, storeError(err, "course not found", "failed to correct enrolled students")
	}
	report.CounterAfter = updated.EnrolledStudents
	report.CounterCorrected = report.CounterBefore != report.CounterAfter

	var fixed, linked, missing int64
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, e := range enrollments {
		e := e
		g.Go(func() error {
			var changed bool
			_, err := s.enrollments.Mutate(gctx, e.StudentID, e.CourseID, func(cur *models.Enrollment) error {
				progress := CalculateProgress(cur.CompletedLessons, course)
				changed = progress != cur.Progress
				if !changed {
					return store.ErrAbort
				}
				cur.Progress = progress
				return nil
			})
			if err != nil {
				return err
			}
			if changed {
				atomic.AddInt64(&fixed, 1)
			}
			if _, err := s.users.AddEnrolledCourse(gctx, e.StudentID, courseID); err != nil {
				if repository.IsNotFound(err) {
					atomic.AddInt64(&missing, 1)
					return nil
				}
				return err
			}
			atomic.AddInt64(&linked, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeError(err, "enrollment not found", "failed to reconcile enrollments")
	}
	report.ProgressFixed = int(fixed)
	report.UsersLinked = int(linked)
	report.UsersMissing = int(missing)
	report.ReconciledAt = s.now().UTC().Format(time.RFC3339)

	s.logger.Info("course reconciled",
		zap.String("course_id", courseID),
		zap.Int("enrollments", report.Enrollments),
		zap.Int("counter_before", report.CounterBefore),
		zap.Int("progress_fixed", report.ProgressFixed),
	)
	return report, nil
}

// RequireEnrollment fails with ErrForbidden unless the pair is enrolled.
func (s *EnrollmentService) RequireEnrollment(ctx context.Context, studentID, courseID string) error {
	if _, err := s.enrollments.Find(ctx, studentID, courseID); err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrForbidden, "student is not enrolled in course")
		}
		return storeError(err, "", "failed to load enrollment")
	}
	return nil
}
