package service

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	"github.com/noah-isme/course-sync/internal/store"
)

// Subscription kinds, used as metric labels and by the live endpoint.
const (
	KindAllCourses           = "all-courses"
	KindCoursesByInstructor  = "courses-by-instructor"
	KindCoursesByCategory    = "courses-by-category"
	KindCourse               = "course"
	KindEnrollmentsByStudent = "enrollments-by-student"
	KindEnrollmentsByCourse  = "enrollments-by-course"
	KindEnrollment           = "enrollment"
	KindUser                 = "user"
	KindEnrolledCourses      = "enrolled-courses"
)

// enrolledCoursesChunk bounds the id list of one "in" query.
const enrolledCoursesChunk = 10

// Result is one emission of a subscription. A Result with Err set is always
// the last one.
type Result[T any] struct {
	Value T
	Err   error
}

// Subscription is a live stream of decoded values. C is closed after Close,
// after the context passed to the manager is cancelled, or after an error.
type Subscription[T any] struct {
	C <-chan Result[T]

	once sync.Once
	done chan struct{}
	stop func()
}

// Close detaches the underlying listener. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}

type subscriptionMetrics interface {
	SubscriptionOpened(kind string)
	SubscriptionClosed(kind string)
	SubscriptionEmitted(kind string)
}

type nopSubscriptionMetrics struct{}

func (nopSubscriptionMetrics) SubscriptionOpened(string)  {}
func (nopSubscriptionMetrics) SubscriptionClosed(string)  {}
func (nopSubscriptionMetrics) SubscriptionEmitted(string) {}

type courseFinder interface {
	Find(ctx context.Context, q store.Query) ([]models.Course, error)
}

// SubscriptionManager opens live queries against the store and republishes
// decoded results. Every call opens its own listener; nothing is shared.
type SubscriptionManager struct {
	store   store.Store
	courses courseFinder
	metrics subscriptionMetrics
	logger  *zap.Logger
}

// NewSubscriptionManager constructs a SubscriptionManager. metrics may be nil.
func NewSubscriptionManager(s store.Store, courses courseFinder, metrics *MetricsService, logger *zap.Logger) *SubscriptionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	var sm subscriptionMetrics = nopSubscriptionMetrics{}
	if metrics != nil {
		sm = metrics
	}
	return &SubscriptionManager{store: s, courses: courses, metrics: sm, logger: logger.Named("subscriptions")}
}

// AllCourses streams the whole catalog.
func (m *SubscriptionManager) AllCourses(ctx context.Context) (*Subscription[[]models.Course], error) {
	return subscribe(ctx, m, KindAllCourses, repository.AllCoursesQuery(), repository.DecodeAll[models.Course])
}

// CoursesByInstructor streams the courses taught by instructor.
func (m *SubscriptionManager) CoursesByInstructor(ctx context.Context, instructor string) (*Subscription[[]models.Course], error) {
	return subscribe(ctx, m, KindCoursesByInstructor, repository.CoursesByInstructorQuery(instructor), repository.DecodeAll[models.Course])
}

// CoursesByCategory streams the courses in category.
func (m *SubscriptionManager) CoursesByCategory(ctx context.Context, category string) (*Subscription[[]models.Course], error) {
	return subscribe(ctx, m, KindCoursesByCategory, repository.CoursesByCategoryQuery(category), repository.DecodeAll[models.Course])
}

// Course streams one course. A missing course is emitted as nil.
func (m *SubscriptionManager) Course(ctx context.Context, id string) (*Subscription[*models.Course], error) {
	return subscribe(ctx, m, KindCourse, repository.CourseQuery(id), decodePoint[models.Course])
}

// EnrollmentsByStudent streams a student's enrollments.
func (m *SubscriptionManager) EnrollmentsByStudent(ctx context.Context, studentID string) (*Subscription[[]models.Enrollment], error) {
	return subscribe(ctx, m, KindEnrollmentsByStudent, repository.EnrollmentsByStudentQuery(studentID), repository.DecodeAll[models.Enrollment])
}

// EnrollmentsByCourse streams the enrollments of a course.
func (m *SubscriptionManager) EnrollmentsByCourse(ctx context.Context, courseID string) (*Subscription[[]models.Enrollment], error) {
	return subscribe(ctx, m, KindEnrollmentsByCourse, repository.EnrollmentsByCourseQuery(courseID), repository.DecodeAll[models.Enrollment])
}

// Enrollment streams the enrollment of one pair; nil while not enrolled.
func (m *SubscriptionManager) Enrollment(ctx context.Context, studentID, courseID string) (*Subscription[*models.Enrollment], error) {
	return subscribe(ctx, m, KindEnrollment, repository.EnrollmentQuery(studentID, courseID), decodePoint[models.Enrollment])
}

// User streams a user profile; nil while the profile does not exist.
func (m *SubscriptionManager) User(ctx context.Context, id string) (*Subscription[*models.User], error) {
	return subscribe(ctx, m, KindUser, repository.UserQuery(id), decodePoint[models.User])
}

// EnrolledCourses streams the courses a student is enrolled in. Each change
// of the enrollment set triggers a one-shot fetch of the courses; edits to
// course content alone do not emit.
func (m *SubscriptionManager) EnrolledCourses(ctx context.Context, studentID string) (*Subscription[[]models.Course], error) {
	inner, err := m.EnrollmentsByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	out := make(chan Result[[]models.Course])
	sub := &Subscription[[]models.Course]{C: out, done: make(chan struct{}), stop: inner.Close}
	m.metrics.SubscriptionOpened(KindEnrolledCourses)

	go func() {
		defer m.metrics.SubscriptionClosed(KindEnrolledCourses)
		defer close(out)
		defer inner.Close()
		for {
			var res Result[[]models.Enrollment]
			var ok bool
			select {
			case <-sub.done:
				return
			case res, ok = <-inner.C:
			}
			if !ok {
				return
			}
			next := Result[[]models.Course]{Err: res.Err}
			if res.Err == nil {
				next.Value, next.Err = m.fetchCourses(ctx, courseIDs(res.Value))
			}
			select {
			case out <- next:
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
			if next.Err != nil {
				return
			}
			m.metrics.SubscriptionEmitted(KindEnrolledCourses)
		}
	}()
	return sub, nil
}

func (m *SubscriptionManager) fetchCourses(ctx context.Context, ids []string) ([]models.Course, error) {
	if len(ids) == 0 {
		return []models.Course{}, nil
	}
	chunks := make([][]models.Course, (len(ids)+enrolledCoursesChunk-1)/enrolledCoursesChunk)
	g, gctx := errgroup.WithContext(ctx)
	for i := range chunks {
		i := i
		lo := i * enrolledCoursesChunk
		hi := lo + enrolledCoursesChunk
		if hi > len(ids) {
			hi = len(ids)
		}
		g.Go(func() error {
			courses, err := m.courses.Find(gctx, repository.CoursesByIDsQuery(ids[lo:hi]))
			if err != nil {
				return err
			}
			chunks[i] = courses
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeError(err, "course not found", "failed to fetch enrolled courses")
	}
	courses := make([]models.Course, 0, len(ids))
	for _, chunk := range chunks {
		courses = append(courses, chunk...)
	}
	sort.SliceStable(courses, func(i, j int) bool {
		if courses[i].Title != courses[j].Title {
			return courses[i].Title < courses[j].Title
		}
		return courses[i].ID < courses[j].ID
	})
	return courses, nil
}

func courseIDs(enrollments []models.Enrollment) []string {
	seen := make(map[string]struct{}, len(enrollments))
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		if _, ok := seen[e.CourseID]; ok {
			continue
		}
		seen[e.CourseID] = struct{}{}
		ids = append(ids, e.CourseID)
	}
	return ids
}

func decodePoint[T any](recs []models.Record) (*T, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	return repository.DecodeOne[T](recs[0])
}

func subscribe[T any](ctx context.Context, m *SubscriptionManager, kind string, q store.Query, decode func([]models.Record) (T, error)) (*Subscription[T], error) {
	listener, err := m.store.Listen(ctx, q)
	if err != nil {
		return nil, storeError(err, "", "failed to open subscription")
	}

	out := make(chan Result[T])
	sub := &Subscription[T]{C: out, done: make(chan struct{}), stop: listener.Close}
	m.metrics.SubscriptionOpened(kind)
	m.logger.Debug("subscription opened", zap.String("kind", kind), zap.String("collection", q.Collection), zap.String("id", q.ID))

	go func() {
		defer m.metrics.SubscriptionClosed(kind)
		defer close(out)
		defer listener.Close()
		for {
			var snap store.Snapshot
			var ok bool
			select {
			case <-sub.done:
				return
			case snap, ok = <-listener.C:
			}
			if !ok {
				return
			}
			var res Result[T]
			if snap.Err != nil {
				res.Err = storeError(snap.Err, "", "live query failed")
			} else {
				value, decodeErr := decode(snap.Records)
				if decodeErr != nil {
					res.Err = storeError(decodeErr, "", "failed to decode "+kind)
				} else {
					res.Value = value
				}
			}
			select {
			case out <- res:
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
			if res.Err != nil {
				m.logger.Warn("subscription terminated", zap.String("kind", kind), zap.Error(res.Err))
				return
			}
			m.metrics.SubscriptionEmitted(kind)
		}
	}()
	return sub, nil
}
