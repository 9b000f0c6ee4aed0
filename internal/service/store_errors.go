package service

import (
	"errors"

	"github.com/noah-isme/course-sync/internal/models"
	"github.com/noah-isme/course-sync/internal/repository"
	"github.com/noah-isme/course-sync/internal/store"
	appErrors "github.com/noah-isme/course-sync/pkg/errors"
)

// storeError maps a store or codec failure onto the application taxonomy.
// notFound is the message used when the addressed document is missing.
func storeError(err error, notFound, failed string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, store.ErrNotFound):
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	case errors.Is(err, models.ErrDecode):
		return appErrors.Wrap(err, appErrors.ErrDecode.Code, appErrors.ErrDecode.Status, failed)
	case errors.Is(err, store.ErrConflict), errors.Is(err, repository.ErrPairMismatch):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, failed)
	default:
		return appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, failed)
	}
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
