package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{
		StatusCode: http.StatusNotFound,
		Class:      ErrorClassClient,
		Message:    "404 Not Found",
	}

	msg := err.Error()
	if !strings.Contains(msg, "404") {
		t.Errorf("Error() = %q, want the status code included", msg)
	}
	if !strings.Contains(msg, "client") {
		t.Errorf("Error() = %q, want the error class included", msg)
	}
}

func TestHTTPError_Unwrap(t *testing.T) {
	err := &HTTPError{
		StatusCode: http.StatusBadGateway,
		Class:      ErrorClassServer,
		Message:    "502 Bad Gateway",
		Err:        ErrRetryExhausted,
	}

	if !errors.Is(err, ErrRetryExhausted) {
		t.Error("errors.Is should see ErrRetryExhausted through HTTPError")
	}
	if !strings.Contains(err.Error(), ErrRetryExhausted.Error()) {
		t.Errorf("Error() = %q, want the wrapped error included", err.Error())
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, 0},
		{"plain error", errors.New("boom"), 0},
		{"http error", &HTTPError{StatusCode: 429, Class: ErrorClassRateLimit}, 429},
		{"wrapped http error", fmt.Errorf("get: %w", &HTTPError{StatusCode: 500, Class: ErrorClassServer}), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf = %d, want %d", got, tt.want)
			}
		})
	}
}
