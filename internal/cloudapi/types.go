package cloudapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawDevice is one device record as returned by the devices endpoint.
type RawDevice struct {
	MAC            string        `json:"mac"`
	Connected      bool          `json:"connected"`
	Wireless       *bool         `json:"wireless"`
	ConnectionType string        `json:"connection_type"`
	Nickname       string        `json:"nickname"`
	Hostname       string        `json:"hostname"`
	DisplayName    string        `json:"display_name"`
	Manufacturer   string        `json:"manufacturer"`
	DeviceType     string        `json:"device_type"`
	ModelName      string        `json:"model_name"`
	IP             string        `json:"ip"`
	IPs            []string      `json:"ips"`
	Interface      *Interface    `json:"interface"`
	Connectivity   *Connectivity `json:"connectivity"`
}

// Interface is the radio section of a device record.
type Interface struct {
	Frequency FlexFloat `json:"frequency"`
	SignalDBm FlexFloat `json:"signal_dbm"`
}

// Connectivity carries the upstream's own signal summary.
type Connectivity struct {
	SignalAvg FlexFloat `json:"signal_avg"`
	ScoreBars FlexFloat `json:"score_bars"`
}

// IsWireless prefers the explicit flag and falls back to connection_type.
func (d RawDevice) IsWireless() bool {
	if d.Wireless != nil {
		return *d.Wireless
	}
	return strings.EqualFold(strings.TrimSpace(d.ConnectionType), "wireless")
}

// FlexFloat decodes a number that the API sometimes sends as a string such as
// "-62 dBm", "5.18" or "N/A". Raw keeps the original text for display.
type FlexFloat struct {
	Value float64
	Valid bool
	Raw   string
}

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	*f = FlexFloat{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		f.Raw = strings.TrimSpace(s)
		cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(strings.ToLower(f.Raw)), "dbm"))
		if value, err := strconv.ParseFloat(cleaned, 64); err == nil {
			f.Value, f.Valid = value, true
		}
		return nil
	}
	var value float64
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return fmt.Errorf("flex float: %w", err)
	}
	f.Value, f.Valid, f.Raw = value, true, string(trimmed)
	return nil
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	if f.Valid {
		return json.Marshal(f.Value)
	}
	if f.Raw != "" {
		return json.Marshal(f.Raw)
	}
	return []byte("null"), nil
}

// Ptr returns the value or nil when it could not be parsed.
func (f FlexFloat) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// NetworkInfo is the metadata returned for a single network.
type NetworkInfo struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status string         `json:"status,omitempty"`
	Raw    map[string]any `json:"raw,omitempty"`
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// decodeDevices normalizes the two shapes the devices endpoint returns:
// a bare list, or an object with a devices list.
func decodeDevices(body []byte) ([]RawDevice, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []RawDevice{}, nil
	}

	switch data[0] {
	case '[':
		var devices []RawDevice
		if err := json.Unmarshal(data, &devices); err != nil {
			return nil, fmt.Errorf("%w: devices list: %v", ErrMalformedResponse, err)
		}
		return devices, nil
	case '{':
		var wrapped struct {
			Devices []RawDevice `json:"devices"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: devices object: %v", ErrMalformedResponse, err)
		}
		if wrapped.Devices == nil {
			return []RawDevice{}, nil
		}
		return wrapped.Devices, nil
	default:
		return nil, fmt.Errorf("%w: unexpected data type", ErrMalformedResponse)
	}
}
