package credentials

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/micro-ha/minirack-dashboard/internal/fsutil"
	"github.com/micro-ha/minirack-dashboard/internal/model"
)

const (
	tokenFilePrefix   = ".eero_token_"
	pendingFileSuffix = ".temp"
)

// ErrNoPendingToken is returned when a verify step has no matching send step.
var ErrNoPendingToken = errors.New("no pending token")

// Vault stores per-network tokens on disk and keeps verified ones in memory
// for the fetcher.
type Vault struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	tokens map[string]string
}

func New(dir string, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{dir: dir, logger: logger, tokens: map[string]string{}}
}

// Load populates the in-memory map from token files, falling back to a token
// embedded in the network's config record.
func (v *Vault) Load(networks []model.NetworkConfig) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, network := range networks {
		if !model.ValidNetworkID(network.ID) {
			continue
		}
		token, err := readToken(v.permanentPath(network.ID))
		switch {
		case err == nil && token != "":
			v.tokens[network.ID] = token
		case err != nil && !errors.Is(err, os.ErrNotExist):
			v.logger.Warn("failed to read token file", "network_id", network.ID, "err", err)
		}
		if _, ok := v.tokens[network.ID]; !ok && strings.TrimSpace(network.Token) != "" {
			v.tokens[network.ID] = strings.TrimSpace(network.Token)
		}
	}
}

// TokenFor returns the verified token for a network, if any.
func (v *Vault) TokenFor(networkID string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	token, ok := v.tokens[networkID]
	return token, ok && token != ""
}

// StorePending writes the unverified token, replacing any earlier one.
func (v *Vault) StorePending(networkID, token string) error {
	if err := v.checkID(networkID); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := fsutil.WriteFileAtomic(v.pendingPath(networkID), []byte(token), fsutil.OwnerOnly); err != nil {
		return fmt.Errorf("store pending token: %w", err)
	}
	return nil
}

// Pending returns the unverified token for a network.
func (v *Vault) Pending(networkID string) (string, error) {
	if err := v.checkID(networkID); err != nil {
		return "", err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pendingLocked(networkID)
}

func (v *Vault) HasPending(networkID string) bool {
	_, err := v.Pending(networkID)
	return err == nil
}

// Promote turns the pending token into the permanent one and deletes the pending file.
func (v *Vault) Promote(networkID string) (string, error) {
	if err := v.checkID(networkID); err != nil {
		return "", err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	token, err := v.pendingLocked(networkID)
	if err != nil {
		return "", err
	}
	if err := v.storePermanentLocked(networkID, token); err != nil {
		return "", err
	}
	if err := fsutil.RemoveIfExists(v.pendingPath(networkID)); err != nil {
		v.logger.Warn("failed to remove pending token file", "network_id", networkID, "err", err)
	}
	return token, nil
}

func (v *Vault) StorePermanent(networkID, token string) error {
	if err := v.checkID(networkID); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.storePermanentLocked(networkID, token)
}

// Remove deletes both token files and forgets the in-memory token.
func (v *Vault) Remove(networkID string) error {
	if err := v.checkID(networkID); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.tokens, networkID)
	return errors.Join(
		fsutil.RemoveIfExists(v.permanentPath(networkID)),
		fsutil.RemoveIfExists(v.pendingPath(networkID)),
	)
}

func (v *Vault) storePermanentLocked(networkID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}
	if err := fsutil.WriteFileAtomic(v.permanentPath(networkID), []byte(token), fsutil.OwnerOnly); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	v.tokens[networkID] = token
	return nil
}

func (v *Vault) pendingLocked(networkID string) (string, error) {
	token, err := readToken(v.pendingPath(networkID))
	if errors.Is(err, os.ErrNotExist) || (err == nil && token == "") {
		return "", ErrNoPendingToken
	}
	if err != nil {
		return "", fmt.Errorf("read pending token: %w", err)
	}
	return token, nil
}

// checkID keeps network ids from escaping the token directory.
func (v *Vault) checkID(networkID string) error {
	if !model.ValidNetworkID(networkID) {
		return fmt.Errorf("%w: %q", model.ErrInvalidNetworkID, networkID)
	}
	return nil
}

func (v *Vault) permanentPath(networkID string) string {
	return filepath.Join(v.dir, tokenFilePrefix+networkID)
}

func (v *Vault) pendingPath(networkID string) string {
	return v.permanentPath(networkID) + pendingFileSuffix
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
