package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/micro-ha/minirack-dashboard/internal/fsutil"
	"github.com/micro-ha/minirack-dashboard/internal/model"
)

// ErrSave wraps every failure to persist the configuration file.
var ErrSave = errors.New("config save failed")

// Store owns the dashboard config file. Reads are served from memory after
// the first Load; mutations reload the file first because it may be hand-edited.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	loaded bool
	config model.Config
}

func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the config file, falling back to the default config when the
// file is missing or unreadable. A legacy single-network file is migrated and
// written back.
func (s *Store) Load() model.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked().Clone()
}

// Get returns the cached config, loading it on first use.
func (s *Store) Get() model.Config {
	s.mu.RLock()
	if s.loaded {
		cfg := s.config.Clone()
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()
	return s.Load()
}

// Save validates and atomically writes cfg with owner-only permissions.
func (s *Store) Save(cfg model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg)
}

func (s *Store) AddNetwork(network model.NetworkConfig) (model.Config, error) {
	network.ID = strings.TrimSpace(network.ID)
	network.Name = strings.TrimSpace(network.Name)
	network.Email = strings.TrimSpace(network.Email)
	if !model.ValidNetworkID(network.ID) {
		return model.Config{}, fmt.Errorf("%w: %q", model.ErrInvalidNetworkID, network.ID)
	}
	if network.Name == "" {
		network.Name = "Network " + network.ID
	}

	return s.mutate(func(cfg *model.Config) error {
		if _, exists := cfg.Network(network.ID); exists {
			return fmt.Errorf("%w: %s", model.ErrDuplicateNetwork, network.ID)
		}
		if len(cfg.Networks) >= model.MaxNetworks {
			return model.ErrTooManyNetworks
		}
		cfg.Networks = append(cfg.Networks, network)
		return nil
	})
}

func (s *Store) RemoveNetwork(id string) (model.Config, error) {
	return s.mutate(func(cfg *model.Config) error {
		kept := cfg.Networks[:0]
		found := false
		for _, network := range cfg.Networks {
			if network.ID == id {
				found = true
				continue
			}
			kept = append(kept, network)
		}
		if !found {
			return fmt.Errorf("%w: %s", model.ErrNetworkNotFound, id)
		}
		cfg.Networks = kept
		return nil
	})
}

// ToggleNetwork flips the active flag and returns the updated network.
func (s *Store) ToggleNetwork(id string) (model.NetworkConfig, error) {
	var updated model.NetworkConfig
	_, err := s.mutate(func(cfg *model.Config) error {
		for i := range cfg.Networks {
			if cfg.Networks[i].ID == id {
				cfg.Networks[i].Active = !cfg.Networks[i].Active
				updated = cfg.Networks[i]
				return nil
			}
		}
		return fmt.Errorf("%w: %s", model.ErrNetworkNotFound, id)
	})
	return updated, err
}

// UpdateNetwork edits the display name and contact email. Nil fields are left unchanged.
func (s *Store) UpdateNetwork(id string, name, email *string) (model.NetworkConfig, error) {
	var updated model.NetworkConfig
	_, err := s.mutate(func(cfg *model.Config) error {
		for i := range cfg.Networks {
			if cfg.Networks[i].ID != id {
				continue
			}
			if name != nil {
				trimmed := strings.TrimSpace(*name)
				if trimmed == "" {
					return model.ErrEmptyNetworkName
				}
				cfg.Networks[i].Name = trimmed
			}
			if email != nil {
				cfg.Networks[i].Email = strings.TrimSpace(*email)
			}
			updated = cfg.Networks[i]
			return nil
		}
		return fmt.Errorf("%w: %s", model.ErrNetworkNotFound, id)
	})
	return updated, err
}

func (s *Store) SetTimezone(tz string) (model.Config, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return model.Config{}, model.ErrInvalidTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return model.Config{}, fmt.Errorf("%w: %s", model.ErrInvalidTimezone, tz)
	}
	return s.mutate(func(cfg *model.Config) error {
		cfg.Timezone = tz
		return nil
	})
}

func (s *Store) SetAPIURL(apiURL string) (model.Config, error) {
	return s.mutate(func(cfg *model.Config) error {
		cfg.APIURL = strings.TrimSpace(apiURL)
		if cfg.APIURL == "" {
			cfg.APIURL = model.DefaultAPIURL
		}
		return nil
	})
}

func (s *Store) mutate(apply func(cfg *model.Config) error) (model.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.loadLocked().Clone()
	if err := apply(&cfg); err != nil {
		return model.Config{}, err
	}
	if err := s.saveLocked(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg.Clone(), nil
}

func (s *Store) loadLocked() model.Config {
	cfg, migrated, err := readConfig(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info("config file not found; using defaults", "path", s.path)
		cfg = model.DefaultConfig()
	case err != nil:
		s.logger.Error("config load failed; using defaults", "path", s.path, "err", err)
		cfg = model.DefaultConfig()
	case migrated:
		s.logger.Info("migrated legacy single-network config", "path", s.path)
		if err := s.saveLocked(cfg); err != nil {
			s.logger.Warn("failed to persist migrated config", "err", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		s.logger.Warn("config file violates network constraints", "path", s.path, "err", err)
	}

	s.config = cfg.Clone()
	s.loaded = true
	return cfg
}

func (s *Store) saveLocked(cfg model.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}
	cfg.NetworkID = ""
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrSave, err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, fsutil.OwnerOnly); err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}
	s.config = cfg.Clone()
	s.loaded = true
	return nil
}

func readConfig(path string) (model.Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, false, err
	}
	var cfg model.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, false, fmt.Errorf("decode %s: %w", path, err)
	}
	migrated, changed := Migrate(cfg)
	return migrated, changed, nil
}

// Migrate converts the legacy single-network shape into the networks list and
// back-fills empty global settings. Applying it to its own output is a no-op.
func Migrate(cfg model.Config) (model.Config, bool) {
	out := cfg.Clone()
	changed := false

	legacyID := strings.TrimSpace(out.NetworkID)
	if legacyID != "" {
		if len(out.Networks) == 0 {
			out.Networks = []model.NetworkConfig{{
				ID:     legacyID,
				Name:   model.DefaultNetworkName,
				Active: true,
			}}
		}
		out.NetworkID = ""
		changed = true
	}

	defaults := model.DefaultConfig()
	if strings.TrimSpace(out.APIURL) == "" {
		out.APIURL = defaults.APIURL
		changed = true
	}
	if strings.TrimSpace(out.Timezone) == "" {
		out.Timezone = defaults.Timezone
		changed = true
	}
	if strings.TrimSpace(out.Environment) == "" {
		out.Environment = defaults.Environment
		changed = true
	}
	if out.Networks == nil {
		out.Networks = []model.NetworkConfig{}
		changed = true
	}
	return out, changed
}
