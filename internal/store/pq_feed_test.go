package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePQListener struct {
	mu        sync.Mutex
	listening map[string]bool
	ch        chan *pq.Notification
}

func newFakePQListener() *fakePQListener {
	return &fakePQListener{listening: map[string]bool{}, ch: make(chan *pq.Notification, 4)}
}

func (l *fakePQListener) Listen(channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening[channel] = true
	return nil
}

func (l *fakePQListener) Unlisten(channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.listening, channel)
	return nil
}

func (l *fakePQListener) isListening(channel string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening[channel]
}

func (l *fakePQListener) NotificationChannel() <-chan *pq.Notification { return l.ch }
func (l *fakePQListener) Ping() error                                  { return nil }
func (l *fakePQListener) Close() error                                 { return nil }

func TestPQFeedDispatchesNotifications(t *testing.T) {
	listener := newFakePQListener()
	feed := NewPQFeed(nil, listener, "cs", nil)
	defer feed.Close()

	sub, err := feed.Subscribe(context.Background(), "courses")
	require.NoError(t, err)
	assert.True(t, listener.isListening("cs_courses"))

	listener.ch <- nil
	listener.ch <- &pq.Notification{Channel: "cs_courses", Extra: `{"collection":"courses","id":"c1","version":2}`}

	select {
	case c := <-sub.Changes():
		assert.Equal(t, Change{Collection: "courses", ID: "c1", Version: 2}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not dispatched")
	}

	require.NoError(t, sub.Close())
	assert.False(t, listener.isListening("cs_courses"))
}
