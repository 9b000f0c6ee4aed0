package service

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/storage"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateIfAbsent(ctx context.Context, u *models.User) (*models.User, bool, error)
	Mutate(ctx context.Context, id string, fn func(*models.User) error) (*models.User, error)
}

// RegisterUserRequest creates a profile for an authenticated identity.
type RegisterUserRequest struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=student instructor"`
}

// UserService manages user profiles.
type UserService struct {
	repo      userRepository
	blobs     storage.BlobStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, blobs storage.BlobStore, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, blobs: blobs, validator: validate, logger: logger.Named("users")}
}

// Register stores a profile unless one already exists for the id. The
// existing profile is returned untouched in that case.
func (s *UserService) Register(ctx context.Context, req RegisterUserRequest) (*models.User, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, validationError(err, "invalid user payload")
	}
	user := &models.User{
		ID:               req.ID,
		Name:             strings.TrimSpace(req.Name),
		Email:            strings.ToLower(strings.TrimSpace(req.Email)),
		Role:             models.UserRole(req.Role),
		EnrolledCourses:  []string{},
		CompletedLessons: []string{},
	}
	stored, created, err := s.repo.CreateIfAbsent(ctx, user)
	if err != nil {
		return nil, false, storeError(err, "", "failed to register user")
	}
	if created {
		s.logger.Info("user registered", zap.String("user_id", stored.ID), zap.String("role", string(stored.Role)))
	}
	return stored, created, nil
}

// Get returns a user profile.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "user not found", "failed to load user")
	}
	return user, nil
}

// SetProfileImage uploads an avatar and stores its URL on the profile.
func (s *UserService) SetProfileImage(ctx context.Context, userID, filename string, r io.Reader) (*models.User, error) {
	if s.blobs == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "media storage not configured")
	}
	key := path.Join("users", userID, "profile"+strings.ToLower(path.Ext(filename)))
	contentType := storage.ContentTypeForKey(key)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "profile image must be png, jpeg or webp")
	}
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		return nil, storeError(err, "user not found", "failed to load user")
	}
	url, err := s.blobs.Upload(ctx, key, r, contentType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to upload profile image")
	}
	user, err := s.repo.Mutate(ctx, userID, func(u *models.User) error {
		u.ProfileImage = url
		return nil
	})
	if err != nil {
		return nil, storeError(err, "user not found", "failed to store profile image")
	}
	return user, nil
}
