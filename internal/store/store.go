// Package store is the remote document store the sync core talks to. Documents
// are schemaless records addressed by (collection, id). Writes to one key are
// serialized by Transact and every committed write is announced on a Feed so
// that live queries can re-evaluate.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/noah-isme/course-sync/internal/models"
)

var (
	// ErrNotFound is returned by Get for a missing document.
	ErrNotFound = errors.New("store: document not found")
	// ErrAbort lets a TxFunc end a transaction without writing. Transact then
	// returns the current record and a nil error.
	ErrAbort = errors.New("store: transaction aborted")
	// ErrConflict is returned when a transaction lost a race more times than allowed.
	ErrConflict = errors.New("store: transaction conflict")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// TxFunc computes the next value of a document from its current value.
// exists is false when the document has never been written; current is nil then.
// It may be called more than once and must not have side effects.
type TxFunc func(current models.Record, exists bool) (models.Record, error)

// Store is the contract shared by the in-memory and Postgres implementations.
type Store interface {
	Get(ctx context.Context, collection, id string) (models.Record, error)
	Put(ctx context.Context, collection, id string, rec models.Record) error
	Transact(ctx context.Context, collection, id string, fn TxFunc) (models.Record, error)
	Find(ctx context.Context, q Query) ([]models.Record, error)
	Listen(ctx context.Context, q Query) (*Listener, error)
}

// Change announces a committed write.
type Change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Version    int64  `json:"version"`
}

// Snapshot is one evaluation of a live query. Err is set on the last
// snapshot of a listener that failed.
type Snapshot struct {
	Records []models.Record
	Err     error
}

// Listener is a live query handle. C is closed after Close or after a
// snapshot carrying an error.
type Listener struct {
	C <-chan Snapshot

	once   sync.Once
	detach func()
}

// Close detaches the listener from the feed. Further calls are no-ops.
func (l *Listener) Close() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.detach != nil {
			l.detach()
		}
	})
}

// Observer receives timing for every store operation.
type Observer interface {
	ObserveStoreOperation(op, collection, status string, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveStoreOperation(string, string, string, time.Duration) {}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
