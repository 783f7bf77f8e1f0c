package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errDown = errors.New("provider down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errDown) {
			t.Fatalf("call %d: got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Fatalf("open breaker must short-circuit, err=%v called=%v", err, called)
	}
}

func TestHalfOpenRecovers(t *testing.T) {
	now := time.Now()
	var transitions []string
	cb := New(Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	now = now.Add(11 * time.Second)

	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("half-open probe: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after one success, got %s", cb.State())
	}
	_ = cb.Execute(ctx, ok)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v", transitions)
		}
	}
}

func TestIsFailureFilter(t *testing.T) {
	cb := New(Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errDown) },
	})
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateClosed {
		t.Fatalf("filtered error should not open the breaker")
	}
}
