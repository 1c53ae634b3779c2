package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	driverErr := errors.New("disk full")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", New(ErrInvalidInput, http.StatusTeapot, "x"), http.StatusTeapot},
		{"syntax", fmt.Errorf("parsing: %w", ErrSyntax), http.StatusBadRequest},
		{"not found", ErrDocumentNotFound, http.StatusNotFound},
		{"io", IO("read block 7", driverErr), http.StatusServiceUnavailable},
		{"corrupt", Corruptf("bad leaf %d", 3), http.StatusInternalServerError},
		{"exhausted", ErrResourceExhausted, http.StatusInsufficientStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestIOKeepsDriverError(t *testing.T) {
	driverErr := errors.New("connection reset")
	err := fmt.Errorf("flushing: %w", IO("write block", driverErr))

	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, driverErr)
	assert.Contains(t, err.Error(), "write block")
	assert.Nil(t, IO("noop", nil))
}
