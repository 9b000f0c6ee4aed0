package repository

import (
	"context"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/store"
)

// AttemptRepository persists quiz attempts.
type AttemptRepository struct {
	store store.Store
}

// NewAttemptRepository constructs the repository.
func NewAttemptRepository(s store.Store) *AttemptRepository {
	return &AttemptRepository{store: s}
}

// AttemptsQuery selects a student's attempts at one quiz, oldest first.
func AttemptsQuery(studentID, quizID string) store.Query {
	return store.Query{Collection: CollectionAttempts, OrderBy: "startedAt"}.
		Where("studentId", store.OpEqual, studentID).
		Where("quizId", store.OpEqual, quizID)
}

// OpenAttemptsQuery selects every attempt still in progress.
func OpenAttemptsQuery() store.Query {
	return store.Query{Collection: CollectionAttempts, OrderBy: "deadline"}.
		Where("status", store.OpEqual, string(models.AttemptInProgress))
}

// ListOpen returns attempts that have not been submitted.
func (r *AttemptRepository) ListOpen(ctx context.Context) ([]models.QuizAttempt, error) {
	return find[models.QuizAttempt](ctx, r.store, OpenAttemptsQuery())
}

// FindByID returns an attempt.
func (r *AttemptRepository) FindByID(ctx context.Context, id string) (*models.QuizAttempt, error) {
	return get[models.QuizAttempt](ctx, r.store, CollectionAttempts, id)
}

// List returns a student's attempts at a quiz.
func (r *AttemptRepository) List(ctx context.Context, studentID, quizID string) ([]models.QuizAttempt, error) {
	return find[models.QuizAttempt](ctx, r.store, AttemptsQuery(studentID, quizID))
}

// CreateIfAbsent stores a unless its key is taken, returning whichever
// attempt holds the key and whether a was written.
func (r *AttemptRepository) CreateIfAbsent(ctx context.Context, a *models.QuizAttempt) (*models.QuizAttempt, bool, error) {
	return createIfAbsent(ctx, r.store, CollectionAttempts, a.ID, a)
}

// Mutate applies fn to the stored attempt atomically.
func (r *AttemptRepository) Mutate(ctx context.Context, id string, fn func(*models.QuizAttempt) error) (*models.QuizAttempt, error) {
	return mutate(ctx, r.store, CollectionAttempts, id, fn)
}
