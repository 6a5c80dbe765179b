package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", fmt.Errorf("bad csv: %w", ErrValidation), http.StatusBadRequest},
		{"not found", fmt.Errorf("run abc: %w", ErrNotFound), http.StatusNotFound},
		{"not ready", ErrNotReady, http.StatusConflict},
		{"conflict", ErrConflict, http.StatusConflict},
		{"external", ErrExternalService, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
