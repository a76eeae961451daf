package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/micro-ha/minirack-dashboard/internal/aggregator"
	"github.com/micro-ha/minirack-dashboard/internal/auth"
	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/configstore"
	"github.com/micro-ha/minirack-dashboard/internal/credentials"
	"github.com/micro-ha/minirack-dashboard/internal/metrics"
	"github.com/micro-ha/minirack-dashboard/internal/model"
	"github.com/micro-ha/minirack-dashboard/internal/persistence"
)

const pollKey = "poll"

var (
	// ErrNoData means the network is configured but has not been polled successfully yet.
	ErrNoData = errors.New("no data collected for network yet")
	// ErrInvalidEmail is returned for a malformed contact email on add/edit.
	ErrInvalidEmail = errors.New("invalid email address")
)

// Fetcher is the upstream side of a poll cycle.
type Fetcher interface {
	ListDevices(ctx context.Context, networkID string) ([]cloudapi.RawDevice, error)
	GetNetworkInfo(ctx context.Context, networkID string) (cloudapi.NetworkInfo, error)
	SetBaseURL(baseURL string)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Config  *configstore.Store
	Vault   *credentials.Vault
	Auth    *auth.Manager
	Fetcher Fetcher
	Cache   *aggregator.Cache
	History *persistence.Manager
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// Options tune cycle behavior.
type Options struct {
	// RefreshMinAge throttles read-triggered polls.
	RefreshMinAge time.Duration
	// FetchConcurrency caps parallel network fetches in one cycle.
	FetchConcurrency int
	Version          string
}

type Service struct {
	config  *configstore.Store
	vault   *credentials.Vault
	auth    *auth.Manager
	fetcher Fetcher
	cache   *aggregator.Cache
	history *persistence.Manager
	metrics *metrics.Registry
	logger  *slog.Logger
	opts    Options
	now     func() time.Time

	group   singleflight.Group
	cycleMu sync.Mutex

	stateMu   sync.RWMutex
	lastCycle time.Time
}

func New(deps Deps, opts Options) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = model.MaxNetworks
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Service{
		config:  deps.Config,
		vault:   deps.Vault,
		auth:    deps.Auth,
		fetcher: deps.Fetcher,
		cache:   deps.Cache,
		history: deps.History,
		metrics: deps.Metrics,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// RestoreHistory seeds the cache from persisted history when it is fresh enough.
func (s *Service) RestoreHistory(ctx context.Context) bool {
	if s.history == nil {
		return false
	}
	h, ok := s.history.Load(ctx)
	if !ok {
		return false
	}
	s.cache.Restore(h)
	cfg := s.config.Load()
	if pruned := s.cache.Prune(cfg.NetworkIDs()); len(pruned) > 0 {
		s.logger.Info("dropped history for unconfigured networks", "network_ids", pruned)
	}
	s.logger.Info("history restored", "saved_at", h.SavedAt, "networks", len(h.Networks))
	return true
}

// PollOnce runs one poll cycle. Concurrent callers share the cycle already
// in flight instead of starting another. The cycle runs to completion even
// when ctx ends; the caller only stops waiting for it.
func (s *Service) PollOnce(ctx context.Context) error {
	cycleCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(pollKey, func() (any, error) {
		return nil, s.pollCycle(cycleCtx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined poll cycle in flight")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) pollCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	startedAt := s.now()
	cfg := s.config.Load()
	s.fetcher.SetBaseURL(cfg.BaseURL())
	s.vault.Load(cfg.Networks)

	for _, network := range cfg.Networks {
		if network.Active && !model.ValidNetworkID(network.ID) {
			s.logger.Warn("skipping network with invalid id", "network_id", network.ID)
		}
	}
	active := cfg.ActiveNetworks()
	results := s.fetchAll(ctx, active)

	at := s.now().UTC()
	report := s.cache.ApplyCycle(at, active, results)
	if pruned := s.cache.Prune(cfg.NetworkIDs()); len(pruned) > 0 {
		s.logger.Info("pruned removed networks", "network_ids", pruned)
	}

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			s.metrics.FetchFailed(result.Network.ID)
		}
	}
	for id, outcome := range report.Outcomes {
		if outcome == aggregator.OutcomeSuppressed {
			s.logger.Warn("empty device list ignored; keeping previous data", "network_id", id)
		}
	}

	if s.history != nil {
		// Persistence failures are logged by the manager; the cache stays authoritative.
		_ = s.history.Save(ctx, s.cache.History())
	}

	s.metrics.SetNetworks(s.cache.Networks(), s.cache.Combined())
	s.metrics.ObserveCycle(s.now().Sub(startedAt), len(results)-failed, failed)

	s.stateMu.Lock()
	s.lastCycle = at
	s.stateMu.Unlock()

	s.logger.Info("poll cycle completed",
		"networks", len(active),
		"failed", failed,
		"duration_ms", s.now().Sub(startedAt).Milliseconds(),
	)
	return nil
}

func (s *Service) fetchAll(ctx context.Context, active []model.NetworkConfig) []aggregator.FetchResult {
	results := make([]aggregator.FetchResult, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FetchConcurrency)
	for i, network := range active {
		i, network := i, network
		g.Go(func() error {
			devices, err := s.fetcher.ListDevices(gctx, network.ID)
			if err != nil {
				s.logger.Warn("device fetch failed", "network_id", network.ID, "err", err)
			}
			results[i] = aggregator.FetchResult{Network: network, Devices: devices, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// LastCycle returns when the last poll cycle finished, zero if none has.
func (s *Service) LastCycle() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastCycle
}

// Dashboard is the combined view plus display settings.
type Dashboard struct {
	model.CombinedCache
	Timezone          string `json:"timezone"`
	LastUpdateDisplay string `json:"last_update_display"`
}

// Dashboard returns the combined cache, polling first when the last cycle is
// older than RefreshMinAge. A positive window keeps only series points newer
// than now minus window.
func (s *Service) Dashboard(ctx context.Context, window time.Duration) Dashboard {
	if s.opts.RefreshMinAge > 0 && s.now().Sub(s.LastCycle()) > s.opts.RefreshMinAge {
		if err := s.PollOnce(ctx); err != nil {
			s.logger.Warn("read-triggered poll failed", "err", err)
		}
	}
	cfg := s.config.Get()
	combined := s.cache.Combined()
	if window > 0 {
		combined.Series = combined.Series.Since(s.now().Add(-window))
	}
	return Dashboard{
		CombinedCache:     combined,
		Timezone:          cfg.Timezone,
		LastUpdateDisplay: formatLocal(combined.LastUpdate, cfg.Timezone),
	}
}

// NetworkDashboard returns one configured network's cache.
func (s *Service) NetworkDashboard(id string) (model.NetworkCache, error) {
	cfg := s.config.Get()
	if _, ok := cfg.Network(id); !ok {
		return model.NetworkCache{}, fmt.Errorf("%w: %s", model.ErrNetworkNotFound, id)
	}
	entry, ok := s.cache.Network(id)
	if !ok {
		return model.NetworkCache{}, fmt.Errorf("%w: %s", ErrNoData, id)
	}
	return entry, nil
}

// Devices returns the combined device list.
func (s *Service) Devices() []model.DeviceSnapshot {
	return s.cache.Combined().Devices
}

// NetworkView is a configured network as exposed to clients; tokens never leave the process.
type NetworkView struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Email                string     `json:"email"`
	Active               bool       `json:"active"`
	AuthState            auth.State `json:"auth_state"`
	TotalDevices         int        `json:"total_devices"`
	LastSuccessfulUpdate *time.Time `json:"last_successful_update"`
}

func (s *Service) Networks() []NetworkView {
	cfg := s.config.Get()
	views := make([]NetworkView, 0, len(cfg.Networks))
	for _, network := range cfg.Networks {
		view := NetworkView{
			ID:        network.ID,
			Name:      network.Name,
			Email:     network.Email,
			Active:    network.Active,
			AuthState: s.auth.State(network.ID),
		}
		if entry, ok := s.cache.Network(network.ID); ok {
			view.TotalDevices = entry.TotalDevices
			view.LastSuccessfulUpdate = entry.LastSuccessfulUpdate
		}
		views = append(views, view)
	}
	return views
}

// VersionInfo describes the running instance.
type VersionInfo struct {
	Version               string `json:"version"`
	Environment           string `json:"environment"`
	APIURL                string `json:"api_url"`
	Timezone              string `json:"timezone"`
	Networks              int    `json:"networks"`
	ActiveNetworks        int    `json:"active_networks"`
	AuthenticatedNetworks int    `json:"authenticated_networks"`
	LastCycle             string `json:"last_cycle,omitempty"`
}

func (s *Service) Version() VersionInfo {
	cfg := s.config.Get()
	info := VersionInfo{
		Version:        s.opts.Version,
		Environment:    cfg.Environment,
		APIURL:         cfg.APIURL,
		Timezone:       cfg.Timezone,
		Networks:       len(cfg.Networks),
		ActiveNetworks: len(cfg.ActiveNetworks()),
	}
	for _, network := range cfg.Networks {
		if s.auth.State(network.ID) == auth.StateAuthenticated {
			info.AuthenticatedNetworks++
		}
	}
	if last := s.LastCycle(); !last.IsZero() {
		info.LastCycle = formatLocal(&last, cfg.Timezone)
	}
	return info
}

// NetworkInput is the editable part of a network.
type NetworkInput struct {
	ID    string  `json:"id"`
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func (s *Service) AddNetwork(in NetworkInput) (model.NetworkConfig, error) {
	network := model.NetworkConfig{ID: strings.TrimSpace(in.ID), Active: true}
	if in.Name != nil {
		network.Name = *in.Name
	}
	if in.Email != nil {
		network.Email = strings.TrimSpace(*in.Email)
		if network.Email != "" && !govalidator.IsEmail(network.Email) {
			return model.NetworkConfig{}, ErrInvalidEmail
		}
	}
	cfg, err := s.config.AddNetwork(network)
	if err != nil {
		return model.NetworkConfig{}, err
	}
	added, _ := cfg.Network(network.ID)
	s.logger.Info("network added", "network_id", added.ID)
	return added, nil
}

func (s *Service) UpdateNetwork(id string, in NetworkInput) (model.NetworkConfig, error) {
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if email != "" && !govalidator.IsEmail(email) {
			return model.NetworkConfig{}, ErrInvalidEmail
		}
	}
	return s.config.UpdateNetwork(id, in.Name, in.Email)
}

// RemoveNetwork deletes the network, its tokens and its cached data.
func (s *Service) RemoveNetwork(ctx context.Context, id string) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	cfg, err := s.config.RemoveNetwork(id)
	if err != nil {
		return err
	}
	if err := s.vault.Remove(id); err != nil {
		s.logger.Warn("failed to remove network tokens", "network_id", id, "err", err)
	}
	s.cache.Prune(cfg.NetworkIDs())
	if s.history != nil {
		_ = s.history.Save(ctx, s.cache.History())
	}
	s.logger.Info("network removed", "network_id", id)
	return nil
}

func (s *Service) ToggleNetwork(id string) (model.NetworkConfig, error) {
	network, err := s.config.ToggleNetwork(id)
	if err != nil {
		return model.NetworkConfig{}, err
	}
	s.logger.Info("network toggled", "network_id", id, "active", network.Active)
	return network, nil
}

func (s *Service) SetTimezone(tz string) (string, error) {
	cfg, err := s.config.SetTimezone(tz)
	if err != nil {
		return "", err
	}
	return cfg.Timezone, nil
}

// NetworkInfo fetches upstream metadata for a configured network.
func (s *Service) NetworkInfo(ctx context.Context, id string) (cloudapi.NetworkInfo, error) {
	cfg := s.config.Get()
	if _, ok := cfg.Network(id); !ok {
		return cloudapi.NetworkInfo{}, fmt.Errorf("%w: %s", model.ErrNetworkNotFound, id)
	}
	s.fetcher.SetBaseURL(cfg.BaseURL())
	return s.fetcher.GetNetworkInfo(ctx, id)
}

// SendCode starts verification for a configured network. An empty email
// falls back to the one stored with the network; a new one is saved.
func (s *Service) SendCode(ctx context.Context, id, email string) error {
	cfg := s.config.Get()
	network, ok := cfg.Network(id)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNetworkNotFound, id)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		email = network.Email
	}
	s.fetcher.SetBaseURL(cfg.BaseURL())
	if err := s.auth.BeginAuth(ctx, id, email); err != nil {
		return err
	}
	if email != network.Email {
		if _, err := s.config.UpdateNetwork(id, nil, &email); err != nil {
			s.logger.Warn("failed to save network email", "network_id", id, "err", err)
		}
	}
	return nil
}

// VerifyCode completes verification for a configured network.
func (s *Service) VerifyCode(ctx context.Context, id, code string) error {
	cfg := s.config.Get()
	if _, ok := cfg.Network(id); !ok {
		return fmt.Errorf("%w: %s", model.ErrNetworkNotFound, id)
	}
	s.fetcher.SetBaseURL(cfg.BaseURL())
	return s.auth.CompleteAuth(ctx, id, code)
}

func formatLocal(ts *time.Time, tz string) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return ts.In(loc).Format("2006-01-02 15:04:05 MST")
}
