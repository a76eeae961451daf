package persistence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/micro-ha/minirack-dashboard/internal/model"
)

// DefaultMaxAge is how old saved history may be and still be trusted.
const DefaultMaxAge = 24 * time.Hour

// ErrNoHistory is returned by a Store that has nothing saved yet.
var ErrNoHistory = errors.New("no saved history")

// Store reads and writes one history document.
type Store interface {
	WriteHistory(ctx context.Context, h model.History) error
	ReadHistory(ctx context.Context) (model.History, error)
}

// Manager stamps history on save and refuses stale history on load.
type Manager struct {
	store  Store
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewManager(store Store, maxAge time.Duration, logger *slog.Logger) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, maxAge: maxAge, now: time.Now, logger: logger}
}

// Save writes h with the current time as SavedAt.
func (m *Manager) Save(ctx context.Context, h model.History) error {
	h.SavedAt = m.now().UTC()
	if err := m.store.WriteHistory(ctx, h); err != nil {
		m.logger.Error("history save failed", "err", err)
		return err
	}
	return nil
}

// Load returns saved history when it is younger than the trust window.
// Missing, unreadable and stale history all report false.
func (m *Manager) Load(ctx context.Context) (model.History, bool) {
	h, err := m.store.ReadHistory(ctx)
	if errors.Is(err, ErrNoHistory) {
		return model.History{}, false
	}
	if err != nil {
		m.logger.Error("history load failed; starting empty", "err", err)
		return model.History{}, false
	}
	if h.SavedAt.IsZero() {
		m.logger.Warn("history has no saved_at; discarding")
		return model.History{}, false
	}
	if age := m.now().Sub(h.SavedAt); age > m.maxAge {
		m.logger.Info("history too old; discarding", "saved_at", h.SavedAt, "age", age.Round(time.Second).String())
		return model.History{}, false
	}
	if h.Networks == nil {
		h.Networks = map[string]model.NetworkHistory{}
	}
	return h, true
}
