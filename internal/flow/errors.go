package flow

import (
	"github.com/chairside/chairside/internal/errors"
)

// Sentinel errors. Returned errors wrap them.
var (
	ErrConfirmationRequired = errors.NewStd("closing with photos in the batch requires confirmation")
	ErrInvalidTransition    = errors.NewStd("transition not allowed in current state")
	ErrProcedureRequired    = errors.NewStd("a procedure must be selected or skipped")
	ErrPhotoNotFound        = errors.NewStd("photo not in batch")
	ErrDuplicatePhoto       = errors.NewStd("photo already in batch")
	ErrInvalidRating        = errors.NewStd("rating out of range")
	ErrCommitInProgress     = errors.NewStd("commit in progress")
	ErrNoPhotoStore         = errors.NewStd("no photo store configured")
)

func transitionError(err error, from State, op string) error {
	return errors.New(err).
		Component("flow").
		Category(errors.CategoryState).
		Context("state", from.String()).
		Context("operation", op).
		Build()
}

func validationError(err error, op, key string, value any) error {
	return errors.New(err).
		Component("flow").
		Category(errors.CategoryValidation).
		Context("operation", op).
		Context(key, value).
		Build()
}

func notFound(id string) error {
	return errors.New(ErrPhotoNotFound).
		Component("flow").
		Category(errors.CategoryNotFound).
		Context("photo_id", id).
		Build()
}
