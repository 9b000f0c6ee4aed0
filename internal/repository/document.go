package repository

import (
	"context"
	"errors"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/store"
)

// Collection names in the document store.
const (
	CollectionCourses     = "courses"
	CollectionEnrollments = "enrollments"
	CollectionUsers       = "users"
	CollectionAttempts    = "quiz_attempts"
)

// DecodeOne maps a single record onto a new T.
func DecodeOne[T any](rec models.Record) (*T, error) {
	var out T
	if err := models.Decode(rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeAll maps a result set. Any record that fails to decode fails the whole set.
func DecodeAll[T any](recs []models.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var item T
		if err := models.Decode(rec, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func get[T any](ctx context.Context, s store.Store, collection, id string) (*T, error) {
	rec, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return DecodeOne[T](rec)
}

func put(ctx context.Context, s store.Store, collection, id string, v interface{}) error {
	rec, err := models.Encode(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, collection, id, rec)
}

func find[T any](ctx context.Context, s store.Store, q store.Query) ([]T, error) {
	recs, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](recs)
}

// mutate runs fn against the decoded document inside a store transaction. A
// missing document is store.ErrNotFound; fn may return store.ErrAbort to skip
// the write.
func mutate[T any](ctx context.Context, s store.Store, collection, id string, fn func(*T) error) (*T, error) {
	rec, err := s.Transact(ctx, collection, id, func(current models.Record, exists bool) (models.Record, error) {
		if !exists {
			return nil, store.ErrNotFound
		}
		item, err := DecodeOne[T](current)
		if err != nil {
			return nil, err
		}
		if err := fn(item); err != nil {
			return nil, err
		}
		return models.Encode(item)
	})
	if err != nil {
		return nil, err
	}
	return DecodeOne[T](rec)
}

// createIfAbsent writes v only when id has no document yet. It returns the
// stored value and whether this call created it.
func createIfAbsent[T any](ctx context.Context, s store.Store, collection, id string, v *T) (*T, bool, error) {
	var created bool
	rec, err := s.Transact(ctx, collection, id, func(_ models.Record, exists bool) (models.Record, error) {
		created = !exists
		if exists {
			return nil, store.ErrAbort
		}
		return models.Encode(v)
	})
	if err != nil {
		return nil, false, err
	}
	out, err := DecodeOne[T](rec)
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
