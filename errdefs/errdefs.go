// Package errdefs defines the error classes shared by the stores, the training
// registry and the HTTP layer. Callers wrap them with fmt.Errorf("...: %w") and
// test with errors.Is.
package errdefs

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation marks bad input such as a CSV missing required columns.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown run id or file id.
	ErrNotFound = errors.New("not found")
	// ErrTrainingFailure marks an error raised inside a training run.
	ErrTrainingFailure = errors.New("training failure")
	// ErrExternalService marks a failing report-generation backend.
	ErrExternalService = errors.New("external service failure")
	// ErrNotReady marks an artifact requested before the run produced it.
	ErrNotReady = errors.New("resource not ready")
	// ErrConflict marks an operation that is invalid for the current run state.
	ErrConflict = errors.New("conflict")
)

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
