package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func fastPolicy() Policy {
	p := Default()
	p.InitialInterval = time.Millisecond
	p.MaxInterval = 5 * time.Millisecond
	return p
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	var waits []time.Duration
	p := fastPolicy()
	p.OnRetry = func(_ error, _ int, wait time.Duration) { waits = append(waits, wait) }

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return io.EOF
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 || waits[0] != time.Millisecond || waits[1] != 2*time.Millisecond {
		t.Fatalf("expected exponential waits 1ms,2ms, got %v", waits)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("dial: %w", io.ErrUnexpectedEOF)
	})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	sentinel := errors.New("status 401")
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
}

func TestValueReturnsResult(t *testing.T) {
	got, err := Value(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d (%v)", got, err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "eof", err: io.EOF, want: true},
		{name: "timeout text", err: errors.New("Client.Timeout exceeded"), want: true},
		{name: "reset", err: errors.New("read: connection reset by peer"), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "plain", err: errors.New("bad request"), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
