package handler

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/course-sync/pkg/errors"
	"github.com/noah-isme/course-sync/pkg/response"
	"github.com/noah-isme/course-sync/pkg/storage"
)

type blobOpener interface {
	Open(token string) (*os.File, string, error)
}

// FileHandler serves blobs written by the local blob store through signed tokens.
type FileHandler struct {
	blobs blobOpener
}

// NewFileHandler constructs FileHandler.
func NewFileHandler(blobs blobOpener) *FileHandler {
	return &FileHandler{blobs: blobs}
}

// Download godoc
// @Summary Download a stored file
// @Tags Files
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Router /files/{token} [get]
func (h *FileHandler) Download(c *gin.Context) {
	file, key, err := h.blobs.Open(c.Param("token"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "file not found"))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired link"))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file"))
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+path.Base(key)+`"`)
	c.Header("Content-Type", storage.ContentTypeForKey(key))
	http.ServeContent(c.Writer, c.Request, path.Base(key), info.ModTime(), file)
}
