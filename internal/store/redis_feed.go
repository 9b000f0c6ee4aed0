package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFeed publishes changes on one Redis pub/sub channel per collection.
// Every Subscribe opens its own PubSub connection.
type RedisFeed struct {
	rdb    *goredis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisFeed builds a feed over an already connected client.
func NewRedisFeed(rdb *goredis.Client, prefix string, logger *zap.Logger) *RedisFeed {
	if prefix == "" {
		prefix = "coursesync"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{rdb: rdb, prefix: prefix, logger: logger.Named("redis_feed")}
}

func (f *RedisFeed) channel(collection string) string {
	return f.prefix + ":changes:" + collection
}

// Publish sends c to the collection channel.
func (f *RedisFeed) Publish(ctx context.Context, c Change) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := f.rdb.Publish(ctx, f.channel(c.Collection), raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning.
func (f *RedisFeed) Subscribe(ctx context.Context, collection string) (FeedSubscription, error) {
	ps := f.rdb.Subscribe(ctx, f.channel(collection))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s := &redisSubscription{ps: ps, out: make(chan Change), done: make(chan struct{})}
	go s.forward(f.logger)
	return s, nil
}

type redisSubscription struct {
	ps   *goredis.PubSub
	out  chan Change
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) Changes() <-chan Change { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSubscription) forward(logger *zap.Logger) {
	defer close(s.out)
	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-msgs:
			if !ok || m == nil {
				return
			}
			var c Change
			if err := json.Unmarshal([]byte(m.Payload), &c); err != nil {
				logger.Warn("bad change payload", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			select {
			case s.out <- c:
			case <-s.done:
				return
			}
		}
	}
}
