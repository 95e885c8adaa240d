package session

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/nxipc/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 32; i++ {
		got := NextBackoffDelay(cfg, 3, rng)
		if got < 200*time.Millisecond || got > 600*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestDefaultConfigPollsAtFixedInterval(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	for attempt := 1; attempt <= 4; attempt++ {
		if got := NextBackoffDelay(cfg, attempt, nil); got != 50*time.Millisecond {
			t.Fatalf("attempt %d: expected 50ms, got %v", attempt, got)
		}
	}
}

var errBusy = errors.New("busy")

func isBusy(err error) bool {
	return errors.Is(err, errBusy)
}

func TestRetryStopsOnSuccess(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Millisecond}
	calls := 0
	err := Retry(context.Background(), cfg, nil, isBusy, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errBusy
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryReturnsNonRetryableImmediately(t *testing.T) {
	testlog.Start(t)
	fatal := errors.New("fatal")
	calls := 0
	err := Retry(context.Background(), BackoffConfig{InitialDelay: time.Millisecond}, nil, isBusy, func(int) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expected one fatal call, got %v after %d calls", err, calls)
	}
}

func TestRetryHonorsAttemptBudget(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Millisecond, MaxAttempts: 4}
	calls := 0
	err := Retry(context.Background(), cfg, nil, isBusy, func(int) error {
		calls++
		return errBusy
	})
	if !errors.Is(err, errBusy) || calls != 4 {
		t.Fatalf("expected busy after 4 calls, got %v after %d", err, calls)
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	err := Retry(ctx, BackoffConfig{InitialDelay: time.Hour}, nil, isBusy, func(int) error {
		cancel()
		return errBusy
	})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, errBusy) {
		t.Fatalf("expected cancellation joined with last error, got %v", err)
	}
}
