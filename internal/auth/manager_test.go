package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/credentials"
)

type fakeUpstream struct {
	loginToken string
	loginErr   error
	validCode  string
	verifyErr  error
	verified   []string
}

func (f *fakeUpstream) RequestLogin(_ context.Context, _ string) (string, error) {
	return f.loginToken, f.loginErr
}

func (f *fakeUpstream) VerifyLogin(_ context.Context, pendingToken, code string) error {
	f.verified = append(f.verified, pendingToken+":"+code)
	if f.verifyErr != nil {
		return f.verifyErr
	}
	if code != f.validCode {
		return cloudapi.ErrVerificationRejected
	}
	return nil
}

func newTestManager(t *testing.T, up *fakeUpstream) (*Manager, *credentials.Vault, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	vault := credentials.New(dir, logger)
	return NewManager(up, vault, logger), vault, dir
}

func TestBeginAuthStoresPendingToken(t *testing.T) {
	up := &fakeUpstream{loginToken: "pending-1"}
	m, vault, dir := newTestManager(t, up)

	if got := m.State("1001"); got != StateUnauthenticated {
		t.Fatalf("initial state = %s", got)
	}
	if err := m.BeginAuth(context.Background(), "1001", "owner@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got := m.State("1001"); got != StatePendingVerification {
		t.Fatalf("state after begin = %s", got)
	}
	token, err := vault.Pending("1001")
	if err != nil || token != "pending-1" {
		t.Fatalf("pending token = %q, %v", token, err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".eero_token_1001.temp")); err != nil {
		t.Fatalf("pending file missing: %v", err)
	}
}

func TestBeginAuthReplacesEarlierPendingToken(t *testing.T) {
	up := &fakeUpstream{loginToken: "first"}
	m, vault, _ := newTestManager(t, up)
	ctx := context.Background()

	if err := m.BeginAuth(ctx, "1001", "owner@example.com"); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	up.loginToken = "second"
	if err := m.BeginAuth(ctx, "1001", "owner@example.com"); err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if token, _ := vault.Pending("1001"); token != "second" {
		t.Fatalf("pending token = %q, want second", token)
	}
}

func TestBeginAuthErrors(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		email   string
		up      *fakeUpstream
		wantErr error
	}{
		{"bad email", "1001", "not-an-email", &fakeUpstream{}, ErrInvalidEmail},
		{"bad id", "abc", "owner@example.com", &fakeUpstream{}, nil},
		{"transport", "1001", "owner@example.com", &fakeUpstream{loginErr: &net.OpError{Op: "dial", Err: errors.New("refused")}}, ErrUpstreamUnavailable},
		{"server error", "1001", "owner@example.com", &fakeUpstream{loginErr: &cloudapi.StatusError{StatusCode: 503}}, ErrUpstreamUnavailable},
		{"malformed", "1001", "owner@example.com", &fakeUpstream{loginErr: cloudapi.ErrMalformedResponse}, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(t, tt.up)
			err := m.BeginAuth(context.Background(), tt.id, tt.email)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if m.State("1001") != StateUnauthenticated {
				t.Fatalf("failed begin must not leave a pending token")
			}
		})
	}
}

func TestCompleteAuthWrongThenRightCode(t *testing.T) {
	up := &fakeUpstream{loginToken: "pending-1", validCode: "123456"}
	m, vault, dir := newTestManager(t, up)
	ctx := context.Background()

	if err := m.BeginAuth(ctx, "1001", "owner@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	err := m.CompleteAuth(ctx, "1001", "000000")
	if !errors.Is(err, ErrVerificationRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if got := m.State("1001"); got != StatePendingVerification {
		t.Fatalf("state after wrong code = %s", got)
	}

	if err := m.CompleteAuth(ctx, "1001", "123456"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := m.State("1001"); got != StateAuthenticated {
		t.Fatalf("state after right code = %s", got)
	}
	if token, ok := vault.TokenFor("1001"); !ok || token != "pending-1" {
		t.Fatalf("live token = %q, %v", token, ok)
	}
	if _, err := os.Stat(filepath.Join(dir, ".eero_token_1001.temp")); !os.IsNotExist(err) {
		t.Fatalf("pending file should be gone, stat err = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ".eero_token_1001"))
	if err != nil || string(data) != "pending-1" {
		t.Fatalf("permanent token file = %q, %v", data, err)
	}
}

func TestCompleteAuthErrors(t *testing.T) {
	ctx := context.Background()

	m, _, _ := newTestManager(t, &fakeUpstream{})
	if err := m.CompleteAuth(ctx, "1001", "123456"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}

	up := &fakeUpstream{loginToken: "p"}
	m, _, _ = newTestManager(t, up)
	if err := m.BeginAuth(ctx, "1001", "owner@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.CompleteAuth(ctx, "1001", "  "); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	up.verifyErr = &cloudapi.StatusError{StatusCode: 502}
	if err := m.CompleteAuth(ctx, "1001", "123456"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	up.verifyErr = &cloudapi.StatusError{StatusCode: 401}
	if err := m.CompleteAuth(ctx, "1001", "123456"); !errors.Is(err, ErrVerificationRejected) {
		t.Fatalf("expected ErrVerificationRejected, got %v", err)
	}
	if m.State("1001") != StatePendingVerification {
		t.Fatalf("pending token must survive failed verification")
	}
}

func TestResultOf(t *testing.T) {
	if r := ResultOf(nil, "done"); !r.Success || r.Message != "done" {
		t.Fatalf("unexpected success result %+v", r)
	}
	if r := ResultOf(ErrNotPending, "done"); r.Success || r.Message == "" {
		t.Fatalf("unexpected failure result %+v", r)
	}
}
