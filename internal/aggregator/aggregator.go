package aggregator

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/micro-ha/minirack-dashboard/internal/classify"
	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/model"
)

// Outcome describes what a single network update did to the cache.
type Outcome string

const (
	OutcomeUpdated    Outcome = "updated"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
)

// FetchResult is one network's fetch for a poll cycle.
type FetchResult struct {
	Network model.NetworkConfig
	Devices []cloudapi.RawDevice
	Err     error
}

// CycleReport summarizes ApplyCycle.
type CycleReport struct {
	At       time.Time
	Outcomes map[string]Outcome
}

// Succeeded counts networks whose fetch reached the cache.
func (r CycleReport) Succeeded() int {
	n := 0
	for _, outcome := range r.Outcomes {
		if outcome != OutcomeFailed {
			n++
		}
	}
	return n
}

// Cache holds per-network and combined telemetry. All methods are safe for
// concurrent use; reads return deep copies.
type Cache struct {
	classifier *classify.Classifier
	capacity   int
	logger     *slog.Logger

	mu          sync.RWMutex
	networks    map[string]*model.NetworkCache
	guardCounts map[string]int
	combined    model.CombinedCache
}

func New(classifier *classify.Classifier, capacity int, logger *slog.Logger) *Cache {
	if classifier == nil {
		classifier = classify.New(nil)
	}
	if capacity <= 0 {
		capacity = model.SeriesCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		classifier:  classifier,
		capacity:    capacity,
		logger:      logger,
		networks:    map[string]*model.NetworkCache{},
		guardCounts: map[string]int{},
		combined:    model.CombinedCache{Snapshot: emptySnapshot()},
	}
}

// Update applies one network's fetch. A failed fetch counts as zero devices
// but never creates an entry or advances LastSuccessfulUpdate.
func (c *Cache) Update(network model.NetworkConfig, devices []cloudapi.RawDevice, fetchErr error, at time.Time) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateLocked(network, devices, fetchErr, at)
}

// Recompute rebuilds the combined snapshot from the active networks and
// appends one point per combined series.
func (c *Cache) Recompute(active []model.NetworkConfig, at time.Time, succeeded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recomputeLocked(active, at, succeeded)
}

// ApplyCycle updates every fetched network and the combined view under one
// lock so readers never see a half-applied cycle. A panic while updating one
// network is logged and does not stop the others.
func (c *Cache) ApplyCycle(at time.Time, active []model.NetworkConfig, results []FetchResult) CycleReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := CycleReport{At: at, Outcomes: make(map[string]Outcome, len(results))}
	succeeded := false
	for _, result := range results {
		outcome := c.safeUpdateLocked(result, at)
		report.Outcomes[result.Network.ID] = outcome
		if outcome != OutcomeFailed && result.Err == nil {
			succeeded = true
		}
	}
	c.recomputeLocked(active, at, succeeded)
	return report
}

func (c *Cache) safeUpdateLocked(result FetchResult, at time.Time) (outcome Outcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("network update panicked", "network_id", result.Network.ID, "panic", fmt.Sprint(recovered))
			outcome = OutcomeFailed
		}
	}()
	return c.updateLocked(result.Network, result.Devices, result.Err, at)
}

func (c *Cache) updateLocked(network model.NetworkConfig, devices []cloudapi.RawDevice, fetchErr error, at time.Time) Outcome {
	if fetchErr != nil {
		devices = nil
	}
	connected := make([]cloudapi.RawDevice, 0, len(devices))
	for _, device := range devices {
		if device.Connected {
			connected = append(connected, device)
		}
	}

	entry, exists := c.networks[network.ID]
	if !exists {
		if fetchErr != nil {
			return OutcomeFailed
		}
		entry = &model.NetworkCache{NetworkID: network.ID, Snapshot: emptySnapshot()}
		c.networks[network.ID] = entry
	}

	if len(connected) == 0 && c.guardCounts[network.ID] > 0 {
		c.logger.Warn("zero devices reported; keeping previous snapshot",
			"network_id", network.ID, "previous_count", c.guardCounts[network.ID], "fetch_failed", fetchErr != nil)
		entry.LastUpdate = at
		return OutcomeSuppressed
	}

	if network.Name != "" {
		entry.Name = network.Name
	}
	snapshots := make([]model.DeviceSnapshot, 0, len(connected))
	for _, device := range connected {
		snapshots = append(snapshots, c.classifier.Snapshot(network.ID, device))
	}
	entry.Snapshot = buildSnapshot(snapshots)
	entry.ConnectedUsers = model.AppendBounded(entry.ConnectedUsers, model.Point{Timestamp: at, Value: float64(entry.TotalDevices)}, c.capacity)
	if entry.SignalAvg != nil {
		entry.SignalStrengthAvg = model.AppendBounded(entry.SignalStrengthAvg, model.Point{Timestamp: at, Value: *entry.SignalAvg}, c.capacity)
	}
	entry.LastUpdate = at
	c.guardCounts[network.ID] = entry.TotalDevices

	if fetchErr != nil {
		return OutcomeFailed
	}
	ts := at
	entry.LastSuccessfulUpdate = &ts
	return OutcomeUpdated
}

func (c *Cache) recomputeLocked(active []model.NetworkConfig, at time.Time, succeeded bool) {
	var merged []model.DeviceSnapshot
	contributors := 0
	for _, network := range active {
		entry, ok := c.networks[network.ID]
		if !ok {
			continue
		}
		contributors++
		merged = append(merged, entry.Devices...)
	}

	combined := c.combined
	combined.Snapshot = buildSnapshot(merged)
	combined.ActiveNetworks = len(active)
	ts := at
	combined.LastUpdate = &ts
	if succeeded {
		success := at
		combined.LastSuccessfulUpdate = &success
	}
	if contributors > 0 {
		combined.ConnectedUsers = model.AppendBounded(combined.ConnectedUsers, model.Point{Timestamp: at, Value: float64(combined.TotalDevices)}, c.capacity)
		if combined.SignalAvg != nil {
			combined.SignalStrengthAvg = model.AppendBounded(combined.SignalStrengthAvg, model.Point{Timestamp: at, Value: *combined.SignalAvg}, c.capacity)
		}
	}
	c.combined = combined
}

// Prune drops entries for networks that are no longer configured and returns their ids.
func (c *Cache) Prune(configured []string) []string {
	keep := make(map[string]struct{}, len(configured))
	for _, id := range configured {
		keep[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for id := range c.networks {
		if _, ok := keep[id]; !ok {
			delete(c.networks, id)
			delete(c.guardCounts, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

func (c *Cache) Combined() model.CombinedCache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.combined.Clone()
}

func (c *Cache) Network(id string) (model.NetworkCache, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.networks[id]
	if !ok {
		return model.NetworkCache{}, false
	}
	return entry.Clone(), true
}

// Networks returns every cached network ordered by id.
func (c *Cache) Networks() []model.NetworkCache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.NetworkCache, 0, len(c.networks))
	for _, entry := range c.networks {
		out = append(out, entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetworkID < out[j].NetworkID })
	return out
}

// History exports the rolling series for persistence. Device lists are not included.
func (c *Cache) History() model.History {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := model.History{
		Networks: make(map[string]model.NetworkHistory, len(c.networks)),
		Combined: c.combined.Series.Clone(),
	}
	for id, entry := range c.networks {
		nh := model.NetworkHistory{
			Name:        entry.Name,
			Series:      entry.Series.Clone(),
			DeviceCount: c.guardCounts[id],
		}
		if entry.LastSuccessfulUpdate != nil {
			ts := *entry.LastSuccessfulUpdate
			nh.LastSuccessfulUpdate = &ts
		}
		h.Networks[id] = nh
	}
	return h
}

// Restore seeds the cache from persisted history, replacing current state.
func (c *Cache) Restore(h model.History) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.networks = make(map[string]*model.NetworkCache, len(h.Networks))
	c.guardCounts = make(map[string]int, len(h.Networks))
	for id, nh := range h.Networks {
		if !model.ValidNetworkID(id) {
			continue
		}
		entry := &model.NetworkCache{
			NetworkID: id,
			Name:      nh.Name,
			Series:    trimSeries(nh.Series, c.capacity),
			Snapshot:  emptySnapshot(),
		}
		if nh.LastSuccessfulUpdate != nil {
			ts := *nh.LastSuccessfulUpdate
			entry.LastSuccessfulUpdate = &ts
			entry.LastUpdate = ts
		}
		c.networks[id] = entry
		c.guardCounts[id] = nh.DeviceCount
	}
	c.combined = model.CombinedCache{Series: trimSeries(h.Combined, c.capacity), Snapshot: emptySnapshot()}
}

func trimSeries(s model.Series, capacity int) model.Series {
	s = s.Clone()
	if over := len(s.ConnectedUsers) - capacity; over > 0 {
		s.ConnectedUsers = s.ConnectedUsers[over:]
	}
	if over := len(s.SignalStrengthAvg) - capacity; over > 0 {
		s.SignalStrengthAvg = s.SignalStrengthAvg[over:]
	}
	return s
}

func emptySnapshot() model.Snapshot {
	return buildSnapshot(nil)
}

// buildSnapshot derives counts and distributions from classified devices.
// Every device counts toward the OS distribution; only wireless devices
// count toward bands and the signal average.
func buildSnapshot(devices []model.DeviceSnapshot) model.Snapshot {
	s := model.Snapshot{
		Devices:               append([]model.DeviceSnapshot{}, devices...),
		DeviceOS:              make(map[model.OSClass]int, len(model.OSClasses)),
		FrequencyDistribution: make(map[model.FrequencyBand]int, len(model.WirelessBands)),
		TotalDevices:          len(devices),
	}
	for _, class := range model.OSClasses {
		s.DeviceOS[class] = 0
	}
	for _, band := range model.WirelessBands {
		s.FrequencyDistribution[band] = 0
	}

	var signalSum float64
	readings := 0
	for _, device := range devices {
		s.DeviceOS[device.OS]++
		if device.ConnectionType != model.ConnectionWireless {
			s.WiredDevices++
			continue
		}
		s.WirelessDevices++
		if _, tracked := s.FrequencyDistribution[device.FrequencyBand]; tracked {
			s.FrequencyDistribution[device.FrequencyBand]++
		}
		if device.SignalDBm != nil {
			signalSum += *device.SignalDBm
			readings++
		}
	}
	if readings > 0 {
		avg := math.Round(signalSum/float64(readings)*10) / 10
		s.SignalAvg = &avg
	}

	sort.SliceStable(s.Devices, func(i, j int) bool {
		a, b := strings.ToLower(s.Devices[i].Name), strings.ToLower(s.Devices[j].Name)
		if a != b {
			return a < b
		}
		return s.Devices[i].MAC < s.Devices[j].MAC
	})
	return s
}
