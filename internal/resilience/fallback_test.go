package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newChain(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestExecuteWithResult_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		failing  []string
		want     string
		wantCall []string
	}{
		{name: "primary wins", want: "primary", wantCall: []string{"primary"}},
		{name: "fallback after primary", failing: []string{"primary"}, want: "fallback", wantCall: []string{"primary", "fallback"}},
		{name: "last resort", failing: []string{"primary", "fallback"}, want: "mock", wantCall: []string{"primary", "fallback", "mock"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fg := newChain("primary", "fallback", "mock")
			var calls []string
			got, served, err := ExecuteWithResult(t.Context(), fg, func(_ context.Context, v string) (string, error) {
				calls = append(calls, v)
				if slices.Contains(tt.failing, v) {
					return "", errTest
				}
				return "from-" + v, nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if served != tt.want || got != "from-"+tt.want {
				t.Errorf("served %q with %q, want %q", served, got, tt.want)
			}
			if !slices.Equal(calls, tt.wantCall) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCall)
			}
		})
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	t.Parallel()

	fg := newChain("primary", "fallback")
	lastErr := errors.New("fallback down")
	_, served, err := ExecuteWithResult(t.Context(), fg, func(_ context.Context, v string) (int, error) {
		if v == "fallback" {
			return 0, lastErr
		}
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, lastErr) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the last failure", err)
	}
	if served != "" {
		t.Errorf("served = %q, want empty", served)
	}
}

func TestExecute_SkipsOpenCircuit(t *testing.T) {
	t.Parallel()

	fg := newChain("primary", "fallback")
	for range 3 {
		_, _ = fg.Execute(t.Context(), func(_ context.Context, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Fatal("primary breaker should be open")
	}

	var attempts []Attempt
	fg.cfg.OnAttempt = func(_ context.Context, a Attempt) { attempts = append(attempts, a) }

	served, err := fg.Execute(t.Context(), func(context.Context, string) error { return nil })
	if err != nil || served != "fallback" {
		t.Fatalf("served %q, err %v", served, err)
	}
	if len(attempts) != 2 || !attempts[0].Skipped() || attempts[1].Err != nil || attempts[1].Position != 1 {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestExecute_CancelledContextStops(t *testing.T) {
	t.Parallel()

	fg := newChain("primary", "fallback")
	ctx, cancel := context.WithCancel(t.Context())

	calls := 0
	_, err := fg.Execute(ctx, func(context.Context, string) error {
		calls++
		cancel()
		return errTest
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	fg := newChain("openai", "anthropic", "mock")
	if got := fg.Names(); !slices.Equal(got, []string{"openai", "anthropic", "mock"}) {
		t.Errorf("Names() = %v", got)
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker(missing) should be nil")
	}
}
