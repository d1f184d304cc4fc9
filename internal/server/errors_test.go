package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"tasktracker/internal/engine"
	"tasktracker/internal/engine/auth"
	"tasktracker/internal/repo"
)

func TestHandleErrorMapping(t *testing.T) {
	ve := &engine.ValidationError{}
	ve.Add("name", "This field is required.")

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", ve, http.StatusUnprocessableEntity, "validation_failed"},
		{"not found", fmt.Errorf("task 9: %w", repo.ErrNotFound), http.StatusNotFound, "not_found"},
		{"credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"canceled", context.Canceled, http.StatusServiceUnavailable, "canceled"},
		{"storage", errors.New("no such table: tasks"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			se := handleError(tc.err)
			apiErr, ok := se.(*apiError)
			if !ok {
				t.Fatalf("unexpected error type %T", se)
			}
			if apiErr.status != tc.status || apiErr.Body.Code != tc.code {
				t.Fatalf("got %d %s, want %d %s", apiErr.status, apiErr.Body.Code, tc.status, tc.code)
			}
		})
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	se := handleError(errors.New("SELECT password_hash FROM workers: disk I/O error"))
	apiErr := se.(*apiError)
	if apiErr.Body.Message != "internal error" {
		t.Fatalf("message leaked cause: %q", apiErr.Body.Message)
	}
	if apiErr.Body.Details != nil {
		t.Fatalf("details leaked cause: %v", apiErr.Body.Details)
	}
}
