package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
)

// StreamKey names a cached stream, for example "course:42" or
// "enrollment:u1/c1".
func StreamKey(kind string, args ...string) string {
	if len(args) == 0 {
		return kind
	}
	return kind + ":" + strings.Join(args, "/")
}

type cacheEntry struct {
	value     any
	err       error
	updatedAt time.Time
}

type stream struct {
	kind string
	args []string

	latest atomic.Pointer[cacheEntry]
	ended  atomic.Bool
	close  func()

	// mu orders store pushes against optimistic writes; readers use latest
	// without it. emissions counts store pushes.
	mu        sync.Mutex
	emissions uint64
}

func (st *stream) emitted() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.emissions
}

// marks records each stream's emission count before a write is issued.
type marks map[*stream]uint64

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOptimisticUpdates controls whether successful writes are applied to the
// cache before the store pushes them back.
func WithOptimisticUpdates(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.optimistic = enabled
	}
}

// WithChangeNotify receives the stream key after every cache update. Sends
// never block; keys are dropped when ch is full.
func WithChangeNotify(ch chan<- string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.changes = ch
	}
}

// Orchestrator keeps the latest value of each observed stream and routes
// writes to the services.
type Orchestrator struct {
	subs        *SubscriptionManager
	courses     *CourseService
	enrollments *EnrollmentService
	quizzes     *QuizService
	logger      *zap.Logger

	optimistic bool
	changes    chan<- string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	streams map[string]*stream
}

// NewOrchestrator constructs an Orchestrator. Optimistic updates are on by default.
func NewOrchestrator(subs *SubscriptionManager, courses *CourseService, enrollments *EnrollmentService, quizzes *QuizService, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		subs:        subs,
		courses:     courses,
		enrollments: enrollments,
		quizzes:     quizzes,
		logger:      logger.Named("orchestrator"),
		optimistic:  true,
		ctx:         ctx,
		cancel:      cancel,
		streams:     make(map[string]*stream),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ObserveAllCourses starts caching the catalog.
func (o *Orchestrator) ObserveAllCourses() error {
	return observe(o, KindAllCourses, nil, func(ctx context.Context) (*Subscription[[]models.Course], error) {
		return o.subs.AllCourses(ctx)
	})
}

// ObserveCoursesByInstructor starts caching one instructor's courses.
func (o *Orchestrator) ObserveCoursesByInstructor(instructor string) error {
	return observe(o, KindCoursesByInstructor, []string{instructor}, func(ctx context.Context) (*Subscription[[]models.Course], error) {
		return o.subs.CoursesByInstructor(ctx, instructor)
	})
}

// ObserveCourse starts caching a single course.
func (o *Orchestrator) ObserveCourse(id string) error {
	return observe(o, KindCourse, []string{id}, func(ctx context.Context) (*Subscription[*models.Course], error) {
		return o.subs.Course(ctx, id)
	})
}

// ObserveEnrollmentsByStudent starts caching a student's enrollments.
func (o *Orchestrator) ObserveEnrollmentsByStudent(studentID string) error {
	return observe(o, KindEnrollmentsByStudent, []string{studentID}, func(ctx context.Context) (*Subscription[[]models.Enrollment], error) {
		return o.subs.EnrollmentsByStudent(ctx, studentID)
	})
}

// ObserveEnrollmentsByCourse starts caching a course roster.
func (o *Orchestrator) ObserveEnrollmentsByCourse(courseID string) error {
	return observe(o, KindEnrollmentsByCourse, []string{courseID}, func(ctx context.Context) (*Subscription[[]models.Enrollment], error) {
		return o.subs.EnrollmentsByCourse(ctx, courseID)
	})
}

// ObserveEnrollment starts caching one enrollment.
func (o *Orchestrator) ObserveEnrollment(studentID, courseID string) error {
	return observe(o, KindEnrollment, []string{studentID, courseID}, func(ctx context.Context) (*Subscription[*models.Enrollment], error) {
		return o.subs.Enrollment(ctx, studentID, courseID)
	})
}

// ObserveUser starts caching a user profile.
func (o *Orchestrator) ObserveUser(id string) error {
	return observe(o, KindUser, []string{id}, func(ctx context.Context) (*Subscription[*models.User], error) {
		return o.subs.User(ctx, id)
	})
}

// ObserveEnrolledCourses starts caching the courses a student is enrolled in.
func (o *Orchestrator) ObserveEnrolledCourses(studentID string) error {
	return observe(o, KindEnrolledCourses, []string{studentID}, func(ctx context.Context) (*Subscription[[]models.Course], error) {
		return o.subs.EnrolledCourses(ctx, studentID)
	})
}

// Unobserve closes the stream cached under key and drops its value.
func (o *Orchestrator) Unobserve(key string) {
	o.mu.Lock()
	st, ok := o.streams[key]
	delete(o.streams, key)
	o.mu.Unlock()
	if ok {
		st.close()
	}
}

// Observed lists the keys of streams currently held.
func (o *Orchestrator) Observed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := make([]string, 0, len(o.streams))
	for k := range o.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close detaches every stream.
func (o *Orchestrator) Close() {
	o.cancel()
	o.mu.Lock()
	streams := o.streams
	o.streams = make(map[string]*stream)
	o.mu.Unlock()
	for _, st := range streams {
		st.close()
	}
}

// LatestAllCourses returns the cached catalog.
func (o *Orchestrator) LatestAllCourses() ([]models.Course, error) {
	return latest[[]models.Course](o, StreamKey(KindAllCourses))
}

// LatestCoursesByInstructor returns one instructor's cached courses.
func (o *Orchestrator) LatestCoursesByInstructor(instructor string) ([]models.Course, error) {
	return latest[[]models.Course](o, StreamKey(KindCoursesByInstructor, instructor))
}

// LatestCourse returns the cached course, or a not found error when the
// store reported it missing.
func (o *Orchestrator) LatestCourse(id string) (*models.Course, error) {
	c, err := latest[*models.Course](o, StreamKey(KindCourse, id))
	if err == nil && c == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	return c, err
}

// LatestEnrollmentsByStudent returns a student's cached enrollments.
func (o *Orchestrator) LatestEnrollmentsByStudent(studentID string) ([]models.Enrollment, error) {
	return latest[[]models.Enrollment](o, StreamKey(KindEnrollmentsByStudent, studentID))
}

// LatestEnrollmentsByCourse returns a course's cached roster.
func (o *Orchestrator) LatestEnrollmentsByCourse(courseID string) ([]models.Enrollment, error) {
	return latest[[]models.Enrollment](o, StreamKey(KindEnrollmentsByCourse, courseID))
}

// LatestEnrollment returns the cached enrollment for a pair.
func (o *Orchestrator) LatestEnrollment(studentID, courseID string) (*models.Enrollment, error) {
	e, err := latest[*models.Enrollment](o, StreamKey(KindEnrollment, studentID, courseID))
	if err == nil && e == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return e, err
}

// LatestUser returns the cached user profile.
func (o *Orchestrator) LatestUser(id string) (*models.User, error) {
	u, err := latest[*models.User](o, StreamKey(KindUser, id))
	if err == nil && u == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return u, err
}

// LatestEnrolledCourses returns the cached enrolled courses of a student.
func (o *Orchestrator) LatestEnrolledCourses(studentID string) ([]models.Course, error) {
	return latest[[]models.Course](o, StreamKey(KindEnrolledCourses, studentID))
}

// CreateCourse routes to CourseService.
func (o *Orchestrator) CreateCourse(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	m := o.mark()
	course, err := o.courses.CreateCourse(ctx, req)
	if err != nil {
		return nil, err
	}
	o.applyCourse(m, course)
	return course, nil
}

// AddSection routes to CourseService.
func (o *Orchestrator) AddSection(ctx context.Context, courseID string, req AddSectionRequest) (*MutationResult, error) {
	return o.courseMutation(func() (*MutationResult, error) {
		return o.courses.AddSection(ctx, courseID, req)
	})
}

// AddLesson routes to CourseService.
func (o *Orchestrator) AddLesson(ctx context.Context, courseID, sectionID string, req AddLessonRequest) (*MutationResult, error) {
	return o.courseMutation(func() (*MutationResult, error) {
		return o.courses.AddLesson(ctx, courseID, sectionID, req)
	})
}

// AddQuiz routes to CourseService.
func (o *Orchestrator) AddQuiz(ctx context.Context, courseID, sectionID string, req AddQuizRequest) (*MutationResult, error) {
	return o.courseMutation(func() (*MutationResult, error) {
		return o.courses.AddQuiz(ctx, courseID, sectionID, req)
	})
}

// AddQuestion routes to CourseService.
func (o *Orchestrator) AddQuestion(ctx context.Context, courseID, sectionID, quizID string, req AddQuestionRequest) (*MutationResult, error) {
	return o.courseMutation(func() (*MutationResult, error) {
		return o.courses.AddQuestion(ctx, courseID, sectionID, quizID, req)
	})
}

// UpdateLesson routes to CourseService.
func (o *Orchestrator) UpdateLesson(ctx context.Context, courseID, sectionID, lessonID string, req UpdateLessonRequest) (*models.Course, error) {
	m := o.mark()
	course, err := o.courses.UpdateLesson(ctx, courseID, sectionID, lessonID, req)
	if err != nil {
		return nil, err
	}
	o.applyCourse(m, course)
	return course, nil
}

// DeleteLesson routes to CourseService.
func (o *Orchestrator) DeleteLesson(ctx context.Context, courseID, sectionID, lessonID string) (*models.Course, error) {
	m := o.mark()
	course, err := o.courses.DeleteLesson(ctx, courseID, sectionID, lessonID)
	if err != nil {
		return nil, err
	}
	o.applyCourse(m, course)
	return course, nil
}

// Enroll routes to EnrollmentService.
func (o *Orchestrator) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	m := o.mark()
	res, err := o.enrollments.Enroll(ctx, req)
	if err != nil {
		return nil, err
	}
	o.applyEnrollment(m, res.Enrollment)
	return res, nil
}

// RecordLessonCompletion routes to EnrollmentService.
func (o *Orchestrator) RecordLessonCompletion(ctx context.Context, req CompleteLessonRequest) (*models.Enrollment, error) {
	m := o.mark()
	enrollment, err := o.enrollments.RecordLessonCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	o.applyEnrollment(m, enrollment)
	return enrollment, nil
}

// StartQuiz routes to QuizService.
func (o *Orchestrator) StartQuiz(ctx context.Context, req StartAttemptRequest) (*models.QuizAttempt, error) {
	return o.quizzes.StartAttempt(ctx, req)
}

// SubmitQuiz routes to QuizService.
func (o *Orchestrator) SubmitQuiz(ctx context.Context, attemptID, studentID string, req SubmitRequest) (*models.QuizAttempt, error) {
	return o.quizzes.Submit(ctx, attemptID, studentID, req)
}

func (o *Orchestrator) courseMutation(write func() (*MutationResult, error)) (*MutationResult, error) {
	m := o.mark()
	res, err := write()
	if err != nil {
		return nil, err
	}
	o.applyCourse(m, res.Course)
	return res, nil
}

// mark snapshots emission counts ahead of a write. A stream that receives a
// store push after the mark already holds a value at least as new as the
// write, or will once the write's own push lands, so it is not patched.
func (o *Orchestrator) mark() marks {
	if !o.optimistic {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	m := make(marks, len(o.streams))
	for _, st := range o.streams {
		m[st] = st.emitted()
	}
	return m
}

// applyCourse writes a course returned by a successful mutation into every
// live stream that would contain it. Enrolled-course lists are only patched
// in place since membership there follows enrollments.
func (o *Orchestrator) applyCourse(m marks, c *models.Course) {
	if !o.optimistic || c == nil {
		return
	}
	for key, st := range o.snapshotStreams() {
		seen, ok := m[st]
		if !ok {
			continue
		}
		switch st.kind {
		case KindCourse:
			if st.args[0] == c.ID {
				o.update(key, st, seen, func(any) any { return c.Clone() })
			}
		case KindAllCourses:
			o.update(key, st, seen, func(v any) any { return upsertCourse(v, c, true) })
		case KindCoursesByInstructor:
			o.update(key, st, seen, func(v any) any { return upsertCourse(v, c, st.args[0] == c.Instructor) })
		case KindEnrolledCourses:
			o.update(key, st, seen, func(v any) any { return upsertCourse(v, c, false) })
		}
	}
}

func (o *Orchestrator) applyEnrollment(m marks, e *models.Enrollment) {
	if !o.optimistic || e == nil {
		return
	}
	for key, st := range o.snapshotStreams() {
		seen, ok := m[st]
		if !ok {
			continue
		}
		switch st.kind {
		case KindEnrollment:
			if st.args[0] == e.StudentID && st.args[1] == e.CourseID {
				o.update(key, st, seen, func(any) any {
					cp := *e
					return &cp
				})
			}
		case KindEnrollmentsByStudent:
			if st.args[0] == e.StudentID {
				o.update(key, st, seen, func(v any) any { return upsertEnrollment(v, e) })
			}
		case KindEnrollmentsByCourse:
			if st.args[0] == e.CourseID {
				o.update(key, st, seen, func(v any) any { return upsertEnrollment(v, e) })
			}
		}
	}
}

func (o *Orchestrator) snapshotStreams() map[string]*stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*stream, len(o.streams))
	for k, st := range o.streams {
		out[k] = st
	}
	return out
}

// update swaps in a value derived from the current one. Streams without a
// first emission, that ended with an error, or that were pushed to since seen
// are left alone.
func (o *Orchestrator) update(key string, st *stream, seen uint64, fn func(any) any) {
	st.mu.Lock()
	cur := st.latest.Load()
	if cur == nil || cur.err != nil {
		st.mu.Unlock()
		return
	}
	if st.emissions != seen {
		st.mu.Unlock()
		o.logger.Debug("optimistic write overtaken by store push", zap.String("key", key))
		return
	}
	st.latest.Store(&cacheEntry{value: fn(cur.value), updatedAt: time.Now()})
	st.mu.Unlock()
	o.notify(key)
}

func (o *Orchestrator) notify(key string) {
	if o.changes == nil {
		return
	}
	select {
	case o.changes <- key:
	default:
	}
}

func observe[T any](o *Orchestrator, kind string, args []string, open func(context.Context) (*Subscription[T], error)) error {
	key := StreamKey(kind, args...)
	o.mu.Lock()
	if st, ok := o.streams[key]; ok && !st.ended.Load() {
		o.mu.Unlock()
		return nil
	}
	if err := o.ctx.Err(); err != nil {
		o.mu.Unlock()
		return appErrors.Clone(appErrors.ErrSubscriptionClosed, "orchestrator closed")
	}
	sub, err := open(o.ctx)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	st := &stream{kind: kind, args: args, close: sub.Close}
	if old, ok := o.streams[key]; ok {
		old.close()
	}
	o.streams[key] = st
	o.mu.Unlock()

	go func() {
		for res := range sub.C {
			st.mu.Lock()
			st.emissions++
			st.latest.Store(&cacheEntry{value: res.Value, err: res.Err, updatedAt: time.Now()})
			st.mu.Unlock()
			o.notify(key)
			if res.Err != nil {
				o.logger.Warn("stream ended", zap.String("key", key), zap.Error(res.Err))
			}
		}
		st.ended.Store(true)
	}()
	return nil
}

func latest[T any](o *Orchestrator, key string) (T, error) {
	var zero T
	o.mu.Lock()
	st, ok := o.streams[key]
	o.mu.Unlock()
	if !ok {
		return zero, appErrors.Clone(appErrors.ErrCacheMiss, key+" is not observed")
	}
	entry := st.latest.Load()
	if entry == nil {
		return zero, appErrors.Clone(appErrors.ErrCacheMiss, key+" has not emitted yet")
	}
	if entry.err != nil {
		return zero, entry.err
	}
	value, _ := entry.value.(T)
	return value, nil
}

func upsertCourse(v any, c *models.Course, insert bool) any {
	list, _ := v.([]models.Course)
	next := make([]models.Course, 0, len(list)+1)
	found := false
	for _, existing := range list {
		if existing.ID == c.ID {
			next = append(next, *c.Clone())
			found = true
			continue
		}
		next = append(next, existing)
	}
	if !found {
		if !insert {
			return list
		}
		next = append(next, *c.Clone())
	}
	sort.SliceStable(next, func(i, j int) bool {
		if next[i].Title != next[j].Title {
			return next[i].Title < next[j].Title
		}
		return next[i].ID < next[j].ID
	})
	return next
}

func upsertEnrollment(v any, e *models.Enrollment) any {
	list, _ := v.([]models.Enrollment)
	next := make([]models.Enrollment, 0, len(list)+1)
	found := false
	for _, existing := range list {
		if existing.StudentID == e.StudentID && existing.CourseID == e.CourseID {
			next = append(next, *e)
			found = true
			continue
		}
		next = append(next, existing)
	}
	if !found {
		next = append(next, *e)
	}
	models.SortEnrollments(next)
	return next
}
