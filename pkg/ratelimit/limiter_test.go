package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLimiter(threshold int) *Limiter {
	return NewLimiter(threshold, zerolog.Nop())
}

func TestNewLimiter_DefaultState(t *testing.T) {
	l := testLimiter(0)

	if l.Threshold() != DefaultThreshold {
		t.Errorf("Threshold() = %d, want %d", l.Threshold(), DefaultThreshold)
	}
	// Assume a healthy budget until headers report otherwise.
	if got := l.State().Remaining; got != defaultRemaining {
		t.Errorf("initial Remaining = %d, want %d", got, defaultRemaining)
	}
}

func TestLimiter_UpdateFromHeaders(t *testing.T) {
	l := testLimiter(10)

	headers := http.Header{}
	headers.Set("X-RateLimit-Remaining", "42")
	headers.Set("X-RateLimit-Reset", "1700000000")

	l.UpdateFromHeaders(context.Background(), headers)

	state := l.State()
	if state.Remaining != 42 {
		t.Errorf("Remaining = %d, want 42", state.Remaining)
	}
	if state.ResetAt.Unix() != 1700000000 {
		t.Errorf("ResetAt = %v, want unix 1700000000", state.ResetAt)
	}
	if state.LastUpdate.IsZero() {
		t.Error("LastUpdate not set")
	}
}

func TestLimiter_UpdateFromHeaders_MalformedLeavesStateUnchanged(t *testing.T) {
	l := testLimiter(10)

	good := http.Header{}
	good.Set("X-RateLimit-Remaining", "100")
	good.Set("X-RateLimit-Reset", "1700000000")
	l.UpdateFromHeaders(context.Background(), good)

	tests := []struct {
		name    string
		headers http.Header
	}{
		{"missing headers", http.Header{}},
		{"non-numeric remaining", http.Header{"X-Ratelimit-Remaining": []string{"lots"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l.UpdateFromHeaders(context.Background(), tt.headers)

			state := l.State()
			if state.Remaining != 100 {
				t.Errorf("Remaining = %d, want 100 (unchanged)", state.Remaining)
			}
		})
	}
}

func TestLimiter_UpdateFromHeaders_ClampsNegative(t *testing.T) {
	l := testLimiter(10)

	headers := http.Header{}
	headers.Set("X-RateLimit-Remaining", "-3")
	l.UpdateFromHeaders(context.Background(), headers)

	if got := l.State().Remaining; got != 0 {
		t.Errorf("Remaining = %d, want 0 (clamped)", got)
	}
}

func TestLimiter_Wait_HealthyBudgetDoesNotBlock(t *testing.T) {
	l := testLimiter(10)

	start := time.Now()
	waited, err := l.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if waited {
		t.Error("Wait reported a wait with a healthy budget")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Wait blocked despite healthy budget")
	}
}

func TestLimiter_Wait_SuspendsUntilReset(t *testing.T) {
	l := testLimiter(10)

	headers := http.Header{}
	headers.Set("X-RateLimit-Remaining", "5")
	headers.Set("X-RateLimit-Reset", "0")
	l.UpdateFromHeaders(context.Background(), headers)

	// Remaining below threshold with the reset shortly ahead: the next
	// request must not proceed until the reset has elapsed.
	l.mu.Lock()
	l.state.ResetAt = time.Now().Add(150 * time.Millisecond)
	l.mu.Unlock()

	start := time.Now()
	waited, err := l.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !waited {
		t.Error("Wait should have suspended below threshold")
	}
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("Wait returned after %v, want >= ~150ms", elapsed)
	}
}

func TestLimiter_Wait_Cancellable(t *testing.T) {
	l := testLimiter(10)

	headers := http.Header{}
	headers.Set("X-RateLimit-Remaining", "0")
	l.UpdateFromHeaders(context.Background(), headers)
	l.mu.Lock()
	l.state.ResetAt = time.Now().Add(time.Hour)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Wait(ctx)
	if err == nil {
		t.Fatal("Wait should propagate context cancellation")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not honor cancellation promptly")
	}
}
