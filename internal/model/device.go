package model

import "time"

// SeriesCapacity is the default rolling window: one point per hour for a week.
const SeriesCapacity = 168

type OSClass string

const (
	OSiOS       OSClass = "iOS"
	OSAndroid   OSClass = "Android"
	OSWindows   OSClass = "Windows"
	OSAmazon    OSClass = "Amazon"
	OSGaming    OSClass = "Gaming"
	OSStreaming OSClass = "Streaming"
	OSOther     OSClass = "Other"
)

// OSClasses lists every class in reporting order.
var OSClasses = []OSClass{OSiOS, OSAndroid, OSWindows, OSAmazon, OSGaming, OSStreaming, OSOther}

type ConnectionType string

const (
	ConnectionWired    ConnectionType = "Wired"
	ConnectionWireless ConnectionType = "Wireless"
)

type FrequencyBand string

const (
	Band24GHz   FrequencyBand = "2.4GHz"
	Band5GHz    FrequencyBand = "5GHz"
	Band6GHz    FrequencyBand = "6GHz"
	BandWired   FrequencyBand = "Wired"
	BandUnknown FrequencyBand = "Unknown"
)

// WirelessBands lists the bands counted in a frequency distribution.
var WirelessBands = []FrequencyBand{Band24GHz, Band5GHz, Band6GHz}

type SignalQuality string

const (
	QualityExcellent SignalQuality = "Excellent"
	QualityVeryGood  SignalQuality = "Very Good"
	QualityGood      SignalQuality = "Good"
	QualityFair      SignalQuality = "Fair"
	QualityPoor      SignalQuality = "Poor"
	QualityWired     SignalQuality = "Wired"
	QualityUnknown   SignalQuality = "Unknown"
)

// DeviceSnapshot is one connected device normalized for presentation.
type DeviceSnapshot struct {
	Name           string         `json:"name"`
	IP             string         `json:"ip"`
	MAC            string         `json:"mac"`
	Manufacturer   string         `json:"manufacturer"`
	OS             OSClass        `json:"device_os"`
	ConnectionType ConnectionType `json:"connection_type"`
	Frequency      string         `json:"frequency"`
	FrequencyBand  FrequencyBand  `json:"frequency_band"`
	SignalDBm      *float64       `json:"signal_avg_dbm,omitempty"`
	SignalPercent  int            `json:"signal_percent"`
	SignalQuality  SignalQuality  `json:"signal_quality"`
	NetworkID      string         `json:"network_id"`
}

// Point is a single sample of a rolling series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// AppendBounded appends p and drops the oldest points beyond capacity.
func AppendBounded(series []Point, p Point, capacity int) []Point {
	if capacity <= 0 {
		capacity = SeriesCapacity
	}
	series = append(series, p)
	if over := len(series) - capacity; over > 0 {
		trimmed := make([]Point, capacity)
		copy(trimmed, series[over:])
		return trimmed
	}
	return series
}

// Series holds the two rolling metrics kept per network.
type Series struct {
	ConnectedUsers    []Point `json:"connected_users"`
	SignalStrengthAvg []Point `json:"signal_strength_avg"`
}

// Clone deep-copies both series.
func (s Series) Clone() Series {
	return Series{
		ConnectedUsers:    append([]Point(nil), s.ConnectedUsers...),
		SignalStrengthAvg: append([]Point(nil), s.SignalStrengthAvg...),
	}
}

// Since returns the points at or after cutoff. The result shares no memory
// with s.
func (s Series) Since(cutoff time.Time) Series {
	return Series{
		ConnectedUsers:    pointsSince(s.ConnectedUsers, cutoff),
		SignalStrengthAvg: pointsSince(s.SignalStrengthAvg, cutoff),
	}
}

func pointsSince(points []Point, cutoff time.Time) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if !p.Timestamp.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot is the latest derived view of the devices on one or more networks.
type Snapshot struct {
	Devices               []DeviceSnapshot      `json:"devices"`
	DeviceOS              map[OSClass]int       `json:"device_os"`
	FrequencyDistribution map[FrequencyBand]int `json:"frequency_distribution"`
	TotalDevices          int                   `json:"total_devices"`
	WirelessDevices       int                   `json:"wireless_devices"`
	WiredDevices          int                   `json:"wired_devices"`
	// SignalAvg is the mean dBm over wireless devices with a reading.
	SignalAvg *float64 `json:"signal_avg_dbm,omitempty"`
}

// Clone deep-copies the device list and distributions.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Devices = append([]DeviceSnapshot(nil), s.Devices...)
	out.DeviceOS = make(map[OSClass]int, len(s.DeviceOS))
	for k, v := range s.DeviceOS {
		out.DeviceOS[k] = v
	}
	out.FrequencyDistribution = make(map[FrequencyBand]int, len(s.FrequencyDistribution))
	for k, v := range s.FrequencyDistribution {
		out.FrequencyDistribution[k] = v
	}
	if s.SignalAvg != nil {
		avg := *s.SignalAvg
		out.SignalAvg = &avg
	}
	return out
}

// NetworkCache is the cached state of a single network.
type NetworkCache struct {
	NetworkID string `json:"network_id"`
	Name      string `json:"name"`
	Series
	Snapshot
	LastUpdate           time.Time  `json:"last_update"`
	LastSuccessfulUpdate *time.Time `json:"last_successful_update"`
}

// Clone deep-copies the cache entry.
func (c NetworkCache) Clone() NetworkCache {
	out := c
	out.Series = c.Series.Clone()
	out.Snapshot = c.Snapshot.Clone()
	if c.LastSuccessfulUpdate != nil {
		ts := *c.LastSuccessfulUpdate
		out.LastSuccessfulUpdate = &ts
	}
	return out
}

// CombinedCache aggregates every active network.
type CombinedCache struct {
	Series
	Snapshot
	ActiveNetworks       int        `json:"active_networks"`
	LastUpdate           *time.Time `json:"last_update"`
	LastSuccessfulUpdate *time.Time `json:"last_successful_update"`
}

// Clone deep-copies the combined cache.
func (c CombinedCache) Clone() CombinedCache {
	out := c
	out.Series = c.Series.Clone()
	out.Snapshot = c.Snapshot.Clone()
	if c.LastUpdate != nil {
		ts := *c.LastUpdate
		out.LastUpdate = &ts
	}
	if c.LastSuccessfulUpdate != nil {
		ts := *c.LastSuccessfulUpdate
		out.LastSuccessfulUpdate = &ts
	}
	return out
}

// NetworkHistory is the persisted part of a NetworkCache.
type NetworkHistory struct {
	Name string `json:"name"`
	Series
	// DeviceCount lets the anomaly guard survive a restart.
	DeviceCount          int        `json:"device_count"`
	LastSuccessfulUpdate *time.Time `json:"last_successful_update,omitempty"`
}

// History is the persisted rolling state of the cache.
type History struct {
	SavedAt  time.Time                 `json:"saved_at"`
	Networks map[string]NetworkHistory `json:"networks"`
	Combined Series                    `json:"combined"`
}
