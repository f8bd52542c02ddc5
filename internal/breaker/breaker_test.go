package breaker

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/clock"
)

var errRemote = errors.New("remote unavailable")

func testBreaker(clk clock.Clock) *Breaker {
	return New(Config{
		FailureThreshold: 3,
		Timeout:          30 * time.Second,
		Clock:            clk,
		Logger:           log.New(io.Discard, "", 0),
	})
}

func failOp(ctx context.Context) error { return errRemote }
func okOp(ctx context.Context) error   { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clk := clock.NewManualAt(time.Unix(1700000000, 0))
	b := testBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failOp); !errors.Is(err, errRemote) {
			t.Fatalf("attempt %d: err = %v, want %v", i+1, err, errRemote)
		}
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want %v", got, StateOpen)
	}

	// The next call must fail fast without invoking the operation.
	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if invoked {
		t.Error("operation was invoked while the circuit was open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clk := clock.NewManualAt(time.Unix(1700000000, 0))
	b := testBreaker(clk)
	ctx := context.Background()

	b.Execute(ctx, failOp)
	b.Execute(ctx, failOp)
	if got := b.FailureCount(); got != 2 {
		t.Fatalf("FailureCount() = %d, want 2", got)
	}

	if err := b.Execute(ctx, okOp); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if got := b.FailureCount(); got != 0 {
		t.Errorf("FailureCount() after success = %d, want 0", got)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestBreakerHalfOpenTrialCloses(t *testing.T) {
	clk := clock.NewManualAt(time.Unix(1700000000, 0))
	b := testBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, failOp)
	}

	// Before the cooldown elapses, calls are still rejected.
	clk.Advance(29 * time.Second)
	if err := b.Execute(ctx, okOp); !errors.Is(err, ErrOpen) {
		t.Fatalf("err before cooldown = %v, want ErrOpen", err)
	}

	// After the cooldown, one trial is admitted; success closes.
	clk.Advance(2 * time.Second)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("State() = %v, want %v", got, StateHalfOpen)
	}
	if err := b.Execute(ctx, okOp); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("State() after trial success = %v, want %v", got, StateClosed)
	}
	if got := b.FailureCount(); got != 0 {
		t.Errorf("FailureCount() = %d, want 0", got)
	}
}

func TestBreakerHalfOpenTrialReopens(t *testing.T) {
	clk := clock.NewManualAt(time.Unix(1700000000, 0))
	b := testBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, failOp)
	}

	clk.Advance(31 * time.Second)
	if err := b.Execute(ctx, failOp); !errors.Is(err, errRemote) {
		t.Fatalf("trial err = %v, want %v", err, errRemote)
	}

	// The failed trial reopens the circuit with a fresh cooldown.
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after failed trial = %v, want %v", got, StateOpen)
	}
	clk.Advance(29 * time.Second)
	if err := b.Execute(ctx, okOp); !errors.Is(err, ErrOpen) {
		t.Errorf("err during fresh cooldown = %v, want ErrOpen", err)
	}
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	clk := clock.NewManualAt(time.Unix(1700000000, 0))
	b := testBreaker(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, failOp)
	}
	clk.Advance(31 * time.Second)

	admitted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Execute(ctx, func(ctx context.Context) error {
			close(admitted)
			<-release
			return nil
		})
	}()

	<-admitted

	// While the trial is in flight, other callers are rejected.
	if err := b.Execute(ctx, okOp); !errors.Is(err, ErrOpen) {
		t.Errorf("concurrent caller err = %v, want ErrOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestBreakerManualOverrides(t *testing.T) {
	clk := clock.NewManualAt(time.Unix(1700000000, 0))
	b := testBreaker(clk)
	ctx := context.Background()

	b.Open()
	if err := b.Execute(ctx, okOp); !errors.Is(err, ErrOpen) {
		t.Fatalf("err after manual Open = %v, want ErrOpen", err)
	}

	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after Reset = %v, want %v", got, StateClosed)
	}
	if err := b.Execute(ctx, okOp); err != nil {
		t.Errorf("Execute() after Reset failed: %v", err)
	}

	// Reset also clears accumulated failures.
	b.Execute(ctx, failOp)
	b.Execute(ctx, failOp)
	b.Reset()
	if got := b.FailureCount(); got != 0 {
		t.Errorf("FailureCount() after Reset = %d, want 0", got)
	}
}

func TestBreakerStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
