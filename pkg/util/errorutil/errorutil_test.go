package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestToDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"passthrough", NewForbidden("nope"), CodeForbidden, http.StatusForbidden},
		{"wrapped", fmt.Errorf("loading: %w", NewTicketClosed("done", nil)), CodeTicketClosed, http.StatusConflict},
		{"no rows", pgx.ErrNoRows, CodeNotFound, http.StatusNotFound},
		{"timeout", context.DeadlineExceeded, CodeStoreUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := ToDomainError(tc.err)
			if mapped.Code != tc.code {
				t.Fatalf("code = %s, want %s", mapped.Code, tc.code)
			}
			if mapped.HTTPStatus != tc.status {
				t.Fatalf("status = %d, want %d", mapped.HTTPStatus, tc.status)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	err := NewInvalidTransition("no", nil)
	if !HasCode(err, CodeInvalidTransition) {
		t.Fatal("HasCode missed direct error")
	}
	if !HasCode(fmt.Errorf("wrap: %w", err), CodeInvalidTransition) {
		t.Fatal("HasCode missed wrapped error")
	}
	if HasCode(errors.New("plain"), CodeInvalidTransition) {
		t.Fatal("HasCode matched plain error")
	}
}
