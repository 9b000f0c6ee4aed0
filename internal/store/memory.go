package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
)

type memoryDocument struct {
	data      models.Record
	version   int64
	updatedAt time.Time
}

// MemoryStore is an in-process Store. Transactions on one key are serialized
// with a per-key mutex; different keys proceed in parallel.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]map[string]*memoryDocument
	locks map[string]*sync.Mutex

	feed     Feed
	observer Observer
	logger   *zap.Logger
	backlog  int
	now      func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryFeed overrides the feed changes are published on.
func WithMemoryFeed(feed Feed) MemoryOption {
	return func(s *MemoryStore) {
		if feed != nil {
			s.feed = feed
		}
	}
}

// WithMemoryObserver attaches operation timing.
func WithMemoryObserver(o Observer) MemoryOption {
	return func(s *MemoryStore) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithMemoryLogger sets the logger used for change notifications that fail
// after a write committed.
func WithMemoryLogger(logger *zap.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMemoryBacklog sets the per-listener snapshot buffer.
func WithMemoryBacklog(n int) MemoryOption {
	return func(s *MemoryStore) { s.backlog = n }
}

// NewMemoryStore builds an empty store publishing on an in-process feed.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:     make(map[string]map[string]*memoryDocument),
		locks:    make(map[string]*sync.Mutex),
		feed:     NewMemoryFeed(),
		observer: nopObserver{},
		logger:   zap.NewNop(),
		backlog:  16,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feed exposes the feed the store publishes on.
func (s *MemoryStore) Feed() Feed {
	return s.feed
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (rec models.Record, err error) {
	defer s.observe("get", collection, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.data.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, collection, id string, rec models.Record) (err error) {
	defer s.observe("put", collection, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.keyLock(collection, id)
	lock.Lock()
	version := s.write(collection, id, rec)
	lock.Unlock()
	s.publish(ctx, collection, id, version)
	return nil
}

func (s *MemoryStore) Transact(ctx context.Context, collection, id string, fn TxFunc) (rec models.Record, err error) {
	defer s.observe("transact", collection, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := s.keyLock(collection, id)
	lock.Lock()

	s.mu.RLock()
	doc, exists := s.docs[collection][id]
	var current models.Record
	if exists {
		current = doc.data.Clone()
	}
	s.mu.RUnlock()

	next, err := fn(current, exists)
	if errors.Is(err, ErrAbort) {
		lock.Unlock()
		return current, nil
	}
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	version := s.write(collection, id, next)
	lock.Unlock()

	s.publish(ctx, collection, id, version)
	return next.Clone(), nil
}

func (s *MemoryStore) Find(ctx context.Context, q Query) (recs []models.Record, err error) {
	defer s.observe("find", q.Collection, time.Now(), &err)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	recs = make([]models.Record, 0)
	for id, doc := range s.docs[q.Collection] {
		if !q.Matches(id, doc.data) {
			continue
		}
		ids = append(ids, id)
		recs = append(recs, doc.data.Clone())
	}
	sortRecords(q, ids, recs)
	return recs, nil
}

func (s *MemoryStore) Listen(ctx context.Context, q Query) (*Listener, error) {
	return startListener(ctx, q, s.Find, s.feed, s.backlog)
}

func (s *MemoryStore) write(collection, id string, rec models.Record) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]*memoryDocument)
	}
	doc, ok := s.docs[collection][id]
	if !ok {
		doc = &memoryDocument{}
		s.docs[collection][id] = doc
	}
	doc.data = rec.Clone()
	doc.version++
	doc.updatedAt = s.now().UTC()
	return doc.version
}

func (s *MemoryStore) keyLock(collection, id string) *sync.Mutex {
	key := collection + "/" + id
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// publish runs after the write is visible, so a feed failure is reported
// but never turned into a write failure.
func (s *MemoryStore) publish(ctx context.Context, collection, id string, version int64) {
	start := time.Now()
	err := s.feed.Publish(ctx, Change{Collection: collection, ID: id, Version: version})
	s.observe("publish", collection, start, &err)
	if err != nil {
		s.logger.Warn("change notification failed",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Int64("version", version),
			zap.Error(err))
	}
}

func (s *MemoryStore) observe(op, collection string, start time.Time, err *error) {
	s.observer.ObserveStoreOperation(op, collection, statusOf(*err), time.Since(start))
}
