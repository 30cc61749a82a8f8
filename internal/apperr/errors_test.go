package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Invalid("section", "bad"), http.StatusBadRequest},
		{"index", &IndexOutOfRangeError{Index: 3, Length: 1}, http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("edit: %w", ErrNotFound), http.StatusNotFound},
		{"stale", ErrStaleIndex, http.StatusConflict},
		{"corrupt", &CorruptStoreError{Path: "m.json", Err: errors.New("eof")}, http.StatusInternalServerError},
		{"io", &StorageIOError{Op: "write", Path: "m.json", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{"too large", fmt.Errorf("image: %w", ErrTooLarge), http.StatusRequestEntityTooLarge},
		{"upstream", fmt.Errorf("smtp: %w", ErrUpstream), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "No before image uploaded", PublicMessage(Invalid("beforeImage", "No before image uploaded"), "x"))
	assert.Equal(t, "Invalid index", PublicMessage(&IndexOutOfRangeError{Index: -1}, "x"))
	assert.Equal(t, "fallback", PublicMessage(&StorageIOError{Op: "write", Err: errors.New("boom")}, "fallback"))
}

func TestErrorKindsUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("append: %w", &StorageIOError{Op: "write", Path: "m.json", Err: cause})

	assert.ErrorIs(t, err, ErrStorageIO)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrCorruptStore)
}
