package classify

import (
	"strings"

	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/model"
)

const (
	unknownDevice       = "Unknown Device"
	unknownManufacturer = "Unknown"
	notAvailable        = "N/A"
)

// VendorLookup resolves a manufacturer from a MAC address.
type VendorLookup interface {
	Vendor(mac string) (string, bool)
}

// Classifier turns raw device records into snapshots.
type Classifier struct {
	vendors VendorLookup
}

// New returns a Classifier. vendors may be nil.
func New(vendors VendorLookup) *Classifier {
	return &Classifier{vendors: vendors}
}

func (c *Classifier) Snapshot(networkID string, device cloudapi.RawDevice) model.DeviceSnapshot {
	manufacturer := c.manufacturer(device)
	snapshot := model.DeviceSnapshot{
		Name:         deviceName(device),
		IP:           deviceIP(device),
		MAC:          firstNonEmpty(device.MAC, notAvailable),
		Manufacturer: manufacturer,
		OS:           ClassifyOS(manufacturer, device.Hostname),
		NetworkID:    networkID,
	}

	if !device.IsWireless() {
		snapshot.ConnectionType = model.ConnectionWired
		snapshot.Frequency = string(model.BandWired)
		snapshot.FrequencyBand = model.BandWired
		snapshot.SignalQuality = model.QualityWired
		snapshot.SignalPercent = 100
		return snapshot
	}

	snapshot.ConnectionType = model.ConnectionWireless
	snapshot.Frequency, snapshot.FrequencyBand = ClassifyFrequency(device.Interface)
	snapshot.SignalDBm = SignalDBm(device)
	snapshot.SignalQuality = SignalQuality(snapshot.SignalDBm)
	if snapshot.SignalDBm != nil {
		snapshot.SignalPercent = SignalPercent(*snapshot.SignalDBm)
	}
	return snapshot
}

func (c *Classifier) manufacturer(device cloudapi.RawDevice) string {
	if m := strings.TrimSpace(device.Manufacturer); m != "" {
		return m
	}
	if c != nil && c.vendors != nil {
		if vendor, ok := c.vendors.Vendor(device.MAC); ok {
			return vendor
		}
	}
	return unknownManufacturer
}

func deviceName(device cloudapi.RawDevice) string {
	return firstNonEmpty(device.Nickname, device.Hostname, device.DisplayName, unknownDevice)
}

func deviceIP(device cloudapi.RawDevice) string {
	ips := make([]string, 0, len(device.IPs))
	for _, ip := range device.IPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}
	if len(ips) > 0 {
		return strings.Join(ips, ", ")
	}
	return firstNonEmpty(device.IP, notAvailable)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
