package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
)

func TestUserServiceRegister(t *testing.T) {
	f := newFixture(t)
	svc := NewUserService(f.users, nil, nil, zap.NewNop())
	ctx := context.Background()

	user, created, err := svc.Register(ctx, RegisterUserRequest{ID: "u1", Name: " Ada ", Email: "ADA@Example.com", Role: "student"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Ada", user.Name)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, models.RoleStudent, user.Role)

	again, created, err := svc.Register(ctx, RegisterUserRequest{ID: "u1", Name: "Someone Else", Email: "else@example.com", Role: "instructor"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Ada", again.Name)
	assert.Equal(t, models.RoleStudent, again.Role)

	_, _, err = svc.Register(ctx, RegisterUserRequest{ID: "u2", Name: "Bob", Email: "bob@example.com", Role: "admin"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = svc.Get(ctx, "u3")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}

func TestUserServiceSetProfileImage(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	blobs := &fakeBlobStore{}
	svc := NewUserService(f.users, blobs, nil, zap.NewNop())
	ctx := context.Background()

	user, err := svc.SetProfileImage(ctx, "u1", "me.PNG", strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/users/u1/profile.png", user.ProfileImage)

	_, err = svc.SetProfileImage(ctx, "u1", "notes.txt", strings.NewReader("txt"))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = svc.SetProfileImage(ctx, "nobody", "me.png", strings.NewReader("png"))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
	assert.Len(t, blobs.all(), 1)
}
