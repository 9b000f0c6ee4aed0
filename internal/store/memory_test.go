package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/course-sync/internal/models"
)

func nextSnapshot(t *testing.T, l *Listener) Snapshot {
	t.Helper()
	select {
	case s, ok := <-l.C:
		require.True(t, ok, "listener closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func TestMemoryStoreGetPut(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "courses", "c1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "courses", "c1", models.Record{"id": "c1", "title": "Go"}))
	rec, err := s.Get(ctx, "courses", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Go", rec["title"])

	rec["title"] = "mutated"
	again, err := s.Get(ctx, "courses", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Go", again["title"])
}

func TestMemoryStoreTransactSerializesWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "counters", "c", models.Record{"n": float64(0)}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transact(ctx, "counters", "c", func(cur models.Record, exists bool) (models.Record, error) {
				cur["n"] = cur["n"].(float64) + 1
				return cur, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.Get(ctx, "counters", "c")
	require.NoError(t, err)
	assert.Equal(t, float64(50), rec["n"])
}

func TestMemoryStoreTransactAbortAndError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, err := s.Transact(ctx, "enrollments", "s_c", func(cur models.Record, exists bool) (models.Record, error) {
		assert.False(t, exists)
		assert.Nil(t, cur)
		return nil, ErrAbort
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, err = s.Get(ctx, "enrollments", "s_c")
	require.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("boom")
	_, err = s.Transact(ctx, "enrollments", "s_c", func(models.Record, bool) (models.Record, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestMemoryStoreFindFiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "enrollments", "b", models.Record{"studentId": "s1", "courseId": "c2", "completedLessons": []interface{}{"l1"}}))
	require.NoError(t, s.Put(ctx, "enrollments", "a", models.Record{"studentId": "s1", "courseId": "c1", "completedLessons": []interface{}{}}))
	require.NoError(t, s.Put(ctx, "enrollments", "c", models.Record{"studentId": "s2", "courseId": "c1"}))

	recs, err := s.Find(ctx, Query{Collection: "enrollments"}.Where("studentId", OpEqual, "s1"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c1", recs[0]["courseId"])
	assert.Equal(t, "c2", recs[1]["courseId"])

	recs, err = s.Find(ctx, Query{Collection: "enrollments"}.Where("courseId", OpIn, []string{"c1"}))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Find(ctx, Query{Collection: "enrollments"}.Where("completedLessons", OpContains, "l1"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c2", recs[0]["courseId"])

	_, err = s.Find(ctx, Query{Collection: "enrollments"}.Where("courseId", OpIn, "c1"))
	require.Error(t, err)
}

func TestMemoryStoreListenEmitsInitialAndChanges(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	l, err := s.Listen(ctx, Query{Collection: "courses", ID: "c1"})
	require.NoError(t, err)
	defer l.Close()

	first := nextSnapshot(t, l)
	require.NoError(t, first.Err)
	assert.Empty(t, first.Records)

	require.NoError(t, s.Put(ctx, "courses", "other", models.Record{"id": "other"}))
	require.NoError(t, s.Put(ctx, "courses", "c1", models.Record{"id": "c1", "title": "v1"}))
	second := nextSnapshot(t, l)
	require.Len(t, second.Records, 1)
	assert.Equal(t, "v1", second.Records[0]["title"])

	require.NoError(t, s.Put(ctx, "courses", "c1", models.Record{"id": "c1", "title": "v2"}))
	third := nextSnapshot(t, l)
	require.Len(t, third.Records, 1)
	assert.Equal(t, "v2", third.Records[0]["title"])
}

func TestMemoryStoreListenerCloseDetaches(t *testing.T) {
	feed := NewMemoryFeed()
	s := NewMemoryStore(WithMemoryFeed(feed))

	l, err := s.Listen(context.Background(), Query{Collection: "courses"})
	require.NoError(t, err)
	nextSnapshot(t, l)
	assert.Equal(t, 1, feed.Subscribers("courses"))

	l.Close()
	l.Close()
	assert.Equal(t, 0, feed.Subscribers("courses"))

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-l.C:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreListenerReportsFeedFailure(t *testing.T) {
	feed := NewMemoryFeed()
	s := NewMemoryStore(WithMemoryFeed(feed))

	l, err := s.Listen(context.Background(), Query{Collection: "courses"})
	require.NoError(t, err)
	defer l.Close()
	nextSnapshot(t, l)

	require.NoError(t, feed.Close())
	snap := nextSnapshot(t, l)
	require.ErrorIs(t, snap.Err, ErrClosed)
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (o *recordingObserver) ObserveStoreOperation(op, collection, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op+":"+collection+":"+status)
}

func TestMemoryStoreObserver(t *testing.T) {
	obs := &recordingObserver{}
	s := NewMemoryStore(WithMemoryObserver(obs))
	ctx := context.Background()

	_, _ = s.Get(ctx, "users", "u1")
	require.NoError(t, s.Put(ctx, "users", "u1", models.Record{"id": "u1"}))

	assert.Equal(t, []string{"get:users:not_found", "publish:users:ok", "put:users:ok"}, obs.ops)
}

var errFeedDown = errors.New("feed down")

// brokenFeed accepts subscribers but fails every publish.
type brokenFeed struct {
	*MemoryFeed
}

func (brokenFeed) Publish(context.Context, Change) error { return errFeedDown }

func TestMemoryStoreWriteSurvivesPublishFailure(t *testing.T) {
	obs := &recordingObserver{}
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewMemoryStore(
		WithMemoryFeed(brokenFeed{NewMemoryFeed()}),
		WithMemoryObserver(obs),
		WithMemoryLogger(zap.New(core)),
	)
	ctx := context.Background()

	rec, err := s.Transact(ctx, "courses", "c1", func(cur models.Record, exists bool) (models.Record, error) {
		return models.Record{"id": "c1", "enrolledStudents": float64(1)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), rec["enrolledStudents"])
	require.NoError(t, s.Put(ctx, "courses", "c2", models.Record{"id": "c2"}))

	stored, err := s.Get(ctx, "courses", "c1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), stored["enrolledStudents"])

	assert.Contains(t, obs.ops, "publish:courses:error")
	assert.Contains(t, obs.ops, "transact:courses:ok")
	require.Equal(t, 2, logs.FilterMessage("change notification failed").Len())
	assert.Equal(t, "c1", logs.All()[0].ContextMap()["id"])
}
