package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PQListener is the subset of *pq.Listener the feed needs.
type PQListener interface {
	Listen(channel string) error
	Unlisten(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// PQFeed uses Postgres LISTEN/NOTIFY. Notifications arrive on a single
// connection and are fanned out to local subscribers through a MemoryFeed.
type PQFeed struct {
	db       *sqlx.DB
	listener PQListener
	prefix   string
	local    *MemoryFeed
	logger   *zap.Logger

	mu        sync.Mutex
	listening map[string]int
	done      chan struct{}
	closeOnce sync.Once
}

// NewPQFeed starts dispatching notifications from listener.
func NewPQFeed(db *sqlx.DB, listener PQListener, prefix string, logger *zap.Logger) *PQFeed {
	if prefix == "" {
		prefix = "coursesync"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &PQFeed{
		db:        db,
		listener:  listener,
		prefix:    prefix,
		local:     NewMemoryFeed(),
		logger:    logger.Named("pq_feed"),
		listening: make(map[string]int),
		done:      make(chan struct{}),
	}
	go f.dispatch()
	return f
}

func (f *PQFeed) channel(collection string) string {
	return f.prefix + "_" + collection
}

// Publish issues NOTIFY on the collection channel.
func (f *PQFeed) Publish(ctx context.Context, c Change) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := f.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", f.channel(c.Collection), string(raw)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Subscribe LISTENs on the collection channel the first time it is requested.
func (f *PQFeed) Subscribe(ctx context.Context, collection string) (FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listening[collection] == 0 {
		if err := f.listener.Listen(f.channel(collection)); err != nil && err != pq.ErrChannelAlreadyOpen {
			return nil, fmt.Errorf("listen %s: %w", collection, err)
		}
	}
	sub, err := f.local.Subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}
	f.listening[collection]++
	return &pqSubscription{FeedSubscription: sub, feed: f, collection: collection}, nil
}

func (f *PQFeed) release(collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listening[collection]--
	if f.listening[collection] > 0 {
		return
	}
	delete(f.listening, collection)
	if err := f.listener.Unlisten(f.channel(collection)); err != nil {
		f.logger.Warn("unlisten failed", zap.String("collection", collection), zap.Error(err))
	}
}

// Close stops dispatching and closes the listener connection.
func (f *PQFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.listener.Close()
	})
	return err
}

func (f *PQFeed) dispatch() {
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()
	notifications := f.listener.NotificationChannel()
	for {
		select {
		case <-f.done:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			// nil is sent after a reconnect; changes may have been missed.
			if n == nil {
				f.logger.Warn("listener reconnected, notifications may have been lost")
				continue
			}
			var c Change
			if err := json.Unmarshal([]byte(n.Extra), &c); err != nil {
				f.logger.Warn("bad notify payload", zap.String("channel", n.Channel), zap.Error(err))
				continue
			}
			_ = f.local.Publish(context.Background(), c)
		case <-ticker.C:
			if err := f.listener.Ping(); err != nil {
				f.logger.Warn("listener ping failed", zap.Error(err))
			}
		}
	}
}

type pqSubscription struct {
	FeedSubscription
	feed       *PQFeed
	collection string
	once       sync.Once
}

func (s *pqSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.FeedSubscription.Close()
		s.feed.release(s.collection)
	})
	return err
}
