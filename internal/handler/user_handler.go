package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/service"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/response"
)

type userProfiles interface {
	Register(ctx context.Context, req service.RegisterUserRequest) (*models.User, bool, error)
	Get(ctx context.Context, id string) (*models.User, error)
	SetProfileImage(ctx context.Context, userID, filename string, r io.Reader) (*models.User, error)
}

// UserHandler handles profile endpoints. Identities come from the token; the
// profile record is created on first registration.
type UserHandler struct {
	service userProfiles
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userProfiles) *UserHandler {
	return &UserHandler{service: svc}
}

type registerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Register godoc
// @Summary Register profile for the authenticated identity
// @Tags Users
// @Accept json
// @Produce json
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "Profile already existed"
// @Router /users/me [post]
func (h *UserHandler) Register(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var payload registerPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.Error(c, bindError(err))
			return
		}
	}
	req := service.RegisterUserRequest{
		ID:    claims.UserID,
		Name:  firstNonEmpty(payload.Name, claims.Name),
		Email: firstNonEmpty(payload.Email, claims.Email),
		Role:  string(claims.Role),
	}
	user, created, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(c, status, user)
}

// Me godoc
// @Summary Get own profile
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	h.respondUser(c, claims.UserID)
}

// Get godoc
// @Summary Get user profile
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	h.respondUser(c, c.Param("id"))
}

// UploadProfileImage godoc
// @Summary Upload own profile image
// @Tags Users
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "png, jpeg or webp image"
// @Success 200 {object} response.Envelope
// @Router /users/me/profile-image [put]
func (h *UserHandler) UploadProfileImage(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close()

	user, err := h.service.SetProfileImage(c.Request.Context(), claims.UserID, header.Filename, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

func (h *UserHandler) respondUser(c *gin.Context, id string) {
	user, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
