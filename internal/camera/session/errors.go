package session

import (
	"context"
	"slices"

	"github.com/chairside/chairside/internal/errors"
)

// Sentinel errors. Returned errors wrap them.
var (
	ErrPermissionDenied = errors.NewStd("camera access not granted")
	ErrNotConfigured    = errors.NewStd("capture session not configured")
	ErrNotRunning       = errors.NewStd("capture session not running")
	ErrClosed           = errors.NewStd("capture session closed")
)

// Categories that leave the controller unchanged. Anything else is folded
// into the fallback category of the operation.
var passthroughCategories = []errors.ErrorCategory{
	errors.CategoryPermissionDenied,
	errors.CategoryDeviceUnavailable,
	errors.CategoryConfigurationFailed,
	errors.CategoryCaptureFailed,
	errors.CategoryProtocolViolation,
	errors.CategoryState,
	errors.CategoryValidation,
	errors.CategoryCancellation,
}

// classify converts err into the camera error taxonomy.
func classify(err error, fallback errors.ErrorCategory, op string) error {
	if err == nil {
		return nil
	}
	if slices.Contains(passthroughCategories, errors.CategoryOf(err)) {
		return err
	}
	category := fallback
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryCancellation
	}
	return errors.New(err).
		Component("camera.session").
		Category(category).
		Context("operation", op).
		Build()
}

func permissionDenied(state AuthorizationState) error {
	return errors.New(ErrPermissionDenied).
		Component("camera.session").
		Category(errors.CategoryPermissionDenied).
		Context("authorization", string(state)).
		Build()
}

func stateError(err error, state State, op string) error {
	return errors.New(err).
		Component("camera.session").
		Category(errors.CategoryState).
		Context("state", state.String()).
		Context("operation", op).
		Build()
}

func closedError(op string) error {
	return errors.New(ErrClosed).
		Component("camera.session").
		Category(errors.CategoryState).
		Context("operation", op).
		Build()
}
