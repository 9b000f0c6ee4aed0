package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	"github.com/noah-isme/course-sync/internal/store"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
)

func next[T any](t *testing.T, sub *Subscription[T]) Result[T] {
	t.Helper()
	select {
	case res, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return res
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emission")
	}
	return Result[T]{}
}

func waitClosed[T any](t *testing.T, sub *Subscription[T]) {
	t.Helper()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func newManagerFixture(t *testing.T) (*fixture, *store.MemoryFeed, *SubscriptionManager, *MetricsService) {
	t.Helper()
	feed := store.NewMemoryFeed()
	s := store.NewMemoryStore(store.WithMemoryFeed(feed))
	f := &fixture{
		store:       s,
		courses:     repository.NewCourseRepository(s),
		enrollments: repository.NewEnrollmentRepository(s),
		users:       repository.NewUserRepository(s),
		attempts:    repository.NewAttemptRepository(s),
	}
	metrics := NewMetricsService()
	return f, feed, NewSubscriptionManager(s, f.courses, metrics, zap.NewNop()), metrics
}

func TestSubscriptionManagerCourseStream(t *testing.T) {
	f, feed, m, metrics := newManagerFixture(t)
	ctx := context.Background()

	sub, err := m.Course(ctx, "c1")
	require.NoError(t, err)
	first := next(t, sub)
	require.NoError(t, first.Err)
	assert.Nil(t, first.Value)

	f.seedCourse(t, sampleCourse())
	second := next(t, sub)
	require.NoError(t, second.Err)
	require.NotNil(t, second.Value)
	assert.Equal(t, "Go Basics", second.Value.Title)

	_, err = f.courses.Mutate(ctx, "c1", func(c *models.Course) error {
		c.Title = "Go Basics II"
		return nil
	})
	require.NoError(t, err)
	third := next(t, sub)
	assert.Equal(t, "Go Basics II", third.Value.Title)
	assert.EqualValues(t, 1, metrics.Snapshot().ActiveSubscriptions)

	sub.Close()
	sub.Close()
	waitClosed(t, sub)
	assert.Equal(t, 0, feed.Subscribers(repository.CollectionCourses))
	require.Eventually(t, func() bool { return metrics.Snapshot().ActiveSubscriptions == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubscriptionManagerIndependentStreams(t *testing.T) {
	f, feed, m, _ := newManagerFixture(t)
	ctx := context.Background()
	f.seedCourse(t, sampleCourse())

	a, err := m.AllCourses(ctx)
	require.NoError(t, err)
	b, err := m.AllCourses(ctx)
	require.NoError(t, err)
	assert.Len(t, next(t, a).Value, 1)
	assert.Len(t, next(t, b).Value, 1)
	assert.Equal(t, 2, feed.Subscribers(repository.CollectionCourses))

	a.Close()
	waitClosed(t, a)

	other := sampleCourse()
	other.ID = "c2"
	other.Title = "Algorithms"
	f.seedCourse(t, other)
	res := next(t, b)
	require.NoError(t, res.Err)
	require.Len(t, res.Value, 2)
	assert.Equal(t, "Algorithms", res.Value[0].Title)
	b.Close()
}

func TestSubscriptionManagerDecodeErrorTerminates(t *testing.T) {
	f, _, m, _ := newManagerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, repository.CollectionCourses, "bad", models.Record{"id": "bad", "sections": "not a list"}))

	sub, err := m.AllCourses(ctx)
	require.NoError(t, err)
	defer sub.Close()

	res := next(t, sub)
	require.Error(t, res.Err)
	assert.True(t, appErrors.IsCode(res.Err, appErrors.ErrDecode.Code))
	waitClosed(t, sub)
}

func TestSubscriptionManagerContextCancelDetaches(t *testing.T) {
	_, feed, m, _ := newManagerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := m.User(ctx, "u1")
	require.NoError(t, err)
	res := next(t, sub)
	require.NoError(t, res.Err)
	assert.Nil(t, res.Value)

	cancel()
	waitClosed(t, sub)
	require.Eventually(t, func() bool { return feed.Subscribers(repository.CollectionUsers) == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubscriptionManagerEnrolledCourses(t *testing.T) {
	f, feed, m, _ := newManagerFixture(t)
	ctx := context.Background()
	f.seedCourse(t, sampleCourse())

	sub, err := m.EnrolledCourses(ctx, "u1")
	require.NoError(t, err)

	empty := next(t, sub)
	require.NoError(t, empty.Err)
	assert.NotNil(t, empty.Value)
	assert.Empty(t, empty.Value)

	_, _, err = f.enrollments.CreateIfAbsent(ctx, &models.Enrollment{StudentID: "u1", CourseID: "c1", EnrolledDate: time.Now().UTC()})
	require.NoError(t, err)
	joined := next(t, sub)
	require.NoError(t, joined.Err)
	require.Len(t, joined.Value, 1)
	assert.Equal(t, "Go Basics", joined.Value[0].Title)

	sub.Close()
	waitClosed(t, sub)
	require.Eventually(t, func() bool { return feed.Subscribers(repository.CollectionEnrollments) == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubscriptionManagerFetchCoursesChunks(t *testing.T) {
	f, _, m, _ := newManagerFixture(t)
	ctx := context.Background()
	ids := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		c := sampleCourse()
		c.ID = "c" + string(rune('a'+i))
		c.Title = "Course " + c.ID
		f.seedCourse(t, c)
		ids = append(ids, c.ID)
	}
	ids = append(ids, "missing")

	courses, err := m.fetchCourses(ctx, ids)
	require.NoError(t, err)
	require.Len(t, courses, 23)
	assert.Equal(t, "Course ca", courses[0].Title)
	assert.Equal(t, "Course cw", courses[22].Title)
}
