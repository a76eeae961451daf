package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/asaskevich/govalidator"

	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/credentials"
	"github.com/micro-ha/minirack-dashboard/internal/model"
)

var (
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrInvalidCode          = errors.New("verification code is required")
	ErrNotPending           = errors.New("no verification in progress")
	ErrVerificationRejected = errors.New("verification code rejected")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrMalformedResponse    = errors.New("malformed upstream response")
)

// State is where a network sits in the token exchange.
type State string

const (
	StateUnauthenticated     State = "unauthenticated"
	StatePendingVerification State = "pending_verification"
	StateAuthenticated       State = "authenticated"
)

// Upstream is the wire side of the exchange.
type Upstream interface {
	RequestLogin(ctx context.Context, email string) (string, error)
	VerifyLogin(ctx context.Context, pendingToken, code string) error
}

// Vault is the token storage the manager drives.
type Vault interface {
	TokenFor(networkID string) (string, bool)
	StorePending(networkID, token string) error
	Pending(networkID string) (string, error)
	HasPending(networkID string) bool
	Promote(networkID string) (string, error)
}

// Result is the user-facing outcome of an auth step.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Manager runs the two-step email code exchange per network. Steps for the
// same network are serialized; different networks proceed independently.
type Manager struct {
	upstream Upstream
	vault    Vault
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(upstream Upstream, vault Vault, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{upstream: upstream, vault: vault, logger: logger, locks: map[string]*sync.Mutex{}}
}

// State derives the exchange state from the vault.
func (m *Manager) State(networkID string) State {
	if m.vault.HasPending(networkID) {
		return StatePendingVerification
	}
	if _, ok := m.vault.TokenFor(networkID); ok {
		return StateAuthenticated
	}
	return StateUnauthenticated
}

// BeginAuth requests a verification code for email and stores the returned
// unverified token as the network's only pending token.
func (m *Manager) BeginAuth(ctx context.Context, networkID, email string) error {
	if !model.ValidNetworkID(networkID) {
		return model.ErrInvalidNetworkID
	}
	email = strings.TrimSpace(email)
	if !govalidator.IsEmail(email) {
		return ErrInvalidEmail
	}

	unlock := m.lock(networkID)
	defer unlock()

	token, err := m.upstream.RequestLogin(ctx, email)
	if err != nil {
		m.logger.Warn("login request failed", "network_id", networkID, "err", err)
		if errors.Is(err, cloudapi.ErrMalformedResponse) {
			return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if err := m.vault.StorePending(networkID, token); err != nil {
		return fmt.Errorf("store pending token: %w", err)
	}
	m.logger.Info("verification code requested", "network_id", networkID)
	return nil
}

// CompleteAuth verifies code against the pending token. A failed attempt
// leaves the pending token in place so the user can retry.
func (m *Manager) CompleteAuth(ctx context.Context, networkID, code string) error {
	if !model.ValidNetworkID(networkID) {
		return model.ErrInvalidNetworkID
	}

	unlock := m.lock(networkID)
	defer unlock()

	pending, err := m.vault.Pending(networkID)
	if err != nil {
		return ErrNotPending
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidCode
	}

	if err := m.upstream.VerifyLogin(ctx, pending, code); err != nil {
		m.logger.Warn("verification failed", "network_id", networkID, "err", err)
		return mapVerifyError(err)
	}
	if _, err := m.vault.Promote(networkID); err != nil {
		if errors.Is(err, credentials.ErrNoPendingToken) {
			return ErrNotPending
		}
		return fmt.Errorf("promote token: %w", err)
	}
	m.logger.Info("network authenticated", "network_id", networkID)
	return nil
}

// ResultOf converts an auth step error into the response shape.
func ResultOf(err error, okMessage string) Result {
	if err == nil {
		return Result{Success: true, Message: okMessage}
	}
	switch {
	case errors.Is(err, ErrInvalidEmail):
		return Result{Message: "Please enter a valid email address"}
	case errors.Is(err, ErrInvalidCode):
		return Result{Message: "Please enter the verification code"}
	case errors.Is(err, ErrNotPending):
		return Result{Message: "No verification in progress; request a new code"}
	case errors.Is(err, ErrVerificationRejected):
		return Result{Message: "Verification code was not accepted"}
	case errors.Is(err, ErrUpstreamUnavailable):
		return Result{Message: "Upstream service unavailable; try again later"}
	case errors.Is(err, ErrMalformedResponse):
		return Result{Message: "Unexpected response from upstream service"}
	case errors.Is(err, model.ErrInvalidNetworkID):
		return Result{Message: "Network ID must be numeric"}
	}
	return Result{Message: err.Error()}
}

func (m *Manager) lock(networkID string) func() {
	m.mu.Lock()
	l, ok := m.locks[networkID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[networkID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func mapVerifyError(err error) error {
	var statusErr *cloudapi.StatusError
	switch {
	case errors.Is(err, cloudapi.ErrVerificationRejected):
		return fmt.Errorf("%w: %w", ErrVerificationRejected, err)
	case errors.Is(err, cloudapi.ErrMalformedResponse):
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	case errors.As(err, &statusErr) && statusErr.ClientError():
		return fmt.Errorf("%w: %w", ErrVerificationRejected, err)
	case errors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}
