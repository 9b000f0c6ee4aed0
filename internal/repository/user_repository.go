package repository

import (
	"context"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/store"
)

// UserRepository provides document access for user profiles.
type UserRepository struct {
	store store.Store
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(s store.Store) *UserRepository {
	return &UserRepository{store: s}
}

// UserQuery addresses a single user.
func UserQuery(id string) store.Query {
	return store.Query{Collection: CollectionUsers, ID: id}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return get[models.User](ctx, r.store, CollectionUsers, id)
}

// CreateIfAbsent stores u unless a profile already exists.
func (r *UserRepository) CreateIfAbsent(ctx context.Context, u *models.User) (*models.User, bool, error) {
	return createIfAbsent(ctx, r.store, CollectionUsers, u.ID, u)
}

// Save overwrites the user document.
func (r *UserRepository) Save(ctx context.Context, u *models.User) error {
	return put(ctx, r.store, CollectionUsers, u.ID, u)
}

// Mutate applies fn to the stored user atomically.
func (r *UserRepository) Mutate(ctx context.Context, id string, fn func(*models.User) error) (*models.User, error) {
	return mutate(ctx, r.store, CollectionUsers, id, fn)
}

// AddEnrolledCourse adds courseID to the user's enrolled set. Already linked
// users are left untouched.
func (r *UserRepository) AddEnrolledCourse(ctx context.Context, userID, courseID string) (*models.User, error) {
	return r.Mutate(ctx, userID, func(u *models.User) error {
		if !u.AddEnrolledCourse(courseID) {
			return store.ErrAbort
		}
		return nil
	})
}
