package store

import (
	"context"
	"sync"
)

// Feed carries change notifications from writers to live listeners.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, collection string) (FeedSubscription, error)
}

// FeedSubscription is one attached listener. Changes is closed after Close or
// when the underlying transport fails.
type FeedSubscription interface {
	Changes() <-chan Change
	Close() error
}

// MemoryFeed fans changes out in-process. Each subscriber has its own
// unbounded queue so a slow listener never blocks writers or drops changes.
type MemoryFeed struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]*memorySubscription
}

// NewMemoryFeed returns an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[int]*memorySubscription)}
}

// Publish enqueues c for every subscriber of its collection.
func (f *MemoryFeed) Publish(_ context.Context, c Change) error {
	f.mu.Lock()
	targets := make([]*memorySubscription, 0, len(f.subs[c.Collection]))
	for _, s := range f.subs[c.Collection] {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.enqueue(c)
	}
	return nil
}

// Subscribe attaches a new subscriber to collection.
func (f *MemoryFeed) Subscribe(_ context.Context, collection string) (FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s := &memorySubscription{
		feed:       f,
		id:         f.nextID,
		collection: collection,
		out:        make(chan Change),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[int]*memorySubscription)
	}
	f.subs[collection][s.id] = s
	go s.pump()
	return s, nil
}

// Subscribers reports how many listeners are attached to collection.
func (f *MemoryFeed) Subscribers(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[collection])
}

// Close drops every subscriber. Their Changes channels are closed, which
// attached listeners report as a feed failure.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	all := make([]*memorySubscription, 0)
	for _, byID := range f.subs {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	f.mu.Unlock()
	for _, s := range all {
		_ = s.Close()
	}
	return nil
}

func (f *MemoryFeed) remove(s *memorySubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[s.collection], s.id)
	if len(f.subs[s.collection]) == 0 {
		delete(f.subs, s.collection)
	}
}

type memorySubscription struct {
	feed       *MemoryFeed
	id         int
	collection string

	mu     sync.Mutex
	queue  []Change
	out    chan Change
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscription) Changes() <-chan Change { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.feed.remove(s)
		close(s.done)
	})
	return nil
}

func (s *memorySubscription) enqueue(c Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- next:
			case <-s.done:
				return
			}
		}
	}
}
