package model

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// MaxNetworks caps how many networks can be configured at once.
	MaxNetworks = 6

	DefaultNetworkID   = "20478317"
	DefaultNetworkName = "Primary Network"
	DefaultEnvironment = "production"
	DefaultAPIURL      = "api-user.e2ro.com"
	DefaultTimezone    = "America/New_York"

	apiVersionPath = "/2.2"
)

var (
	ErrInvalidNetworkID  = errors.New("network id must be numeric")
	ErrDuplicateNetwork  = errors.New("network already configured")
	ErrTooManyNetworks   = fmt.Errorf("at most %d networks can be configured", MaxNetworks)
	ErrNetworkNotFound   = errors.New("network not found")
	ErrInvalidTimezone   = errors.New("invalid timezone")
	ErrEmptyNetworkName  = errors.New("network name is required")
	numericNetworkIDExpr = regexp.MustCompile(`^[0-9]+$`)
)

// NetworkConfig is one configured upstream network.
type NetworkConfig struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
	// Token is only read from older config files that embedded the credential.
	Token string `json:"token,omitempty"`
}

// Config is the persisted dashboard configuration.
type Config struct {
	Networks    []NetworkConfig `json:"networks"`
	Environment string          `json:"environment"`
	APIURL      string          `json:"api_url"`
	Timezone    string          `json:"timezone"`

	// NetworkID is the legacy single-network field.
	NetworkID string `json:"network_id,omitempty"`
}

// DefaultConfig returns the single-network configuration used when nothing is on disk.
func DefaultConfig() Config {
	return Config{
		Networks: []NetworkConfig{{
			ID:     DefaultNetworkID,
			Name:   DefaultNetworkName,
			Active: true,
		}},
		Environment: DefaultEnvironment,
		APIURL:      DefaultAPIURL,
		Timezone:    DefaultTimezone,
	}
}

// ValidNetworkID reports whether id is a decimal numeric string.
func ValidNetworkID(id string) bool {
	return numericNetworkIDExpr.MatchString(id)
}

// Validate checks the list invariants: bounded size, numeric and unique ids.
func (c Config) Validate() error {
	if len(c.Networks) > MaxNetworks {
		return ErrTooManyNetworks
	}
	seen := make(map[string]struct{}, len(c.Networks))
	for _, network := range c.Networks {
		if !ValidNetworkID(network.ID) {
			return fmt.Errorf("%w: %q", ErrInvalidNetworkID, network.ID)
		}
		if _, dup := seen[network.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateNetwork, network.ID)
		}
		seen[network.ID] = struct{}{}
	}
	return nil
}

// ActiveNetworks returns active networks with a valid id, in config order.
func (c Config) ActiveNetworks() []NetworkConfig {
	out := make([]NetworkConfig, 0, len(c.Networks))
	for _, network := range c.Networks {
		if network.Active && ValidNetworkID(network.ID) {
			out = append(out, network)
		}
	}
	return out
}

// Network looks up a configured network by id.
func (c Config) Network(id string) (NetworkConfig, bool) {
	for _, network := range c.Networks {
		if network.ID == id {
			return network, true
		}
	}
	return NetworkConfig{}, false
}

// NetworkIDs returns every configured id.
func (c Config) NetworkIDs() []string {
	ids := make([]string, 0, len(c.Networks))
	for _, network := range c.Networks {
		ids = append(ids, network.ID)
	}
	return ids
}

// Clone returns a copy whose network slice does not alias c.
func (c Config) Clone() Config {
	out := c
	out.Networks = append([]NetworkConfig(nil), c.Networks...)
	return out
}

// BaseURL resolves the upstream API root for APIURL.
func (c Config) BaseURL() string {
	raw := strings.TrimSpace(c.APIURL)
	if raw == "" {
		raw = DefaultAPIURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(raw, "http://"), "https://")
		return "https://" + strings.Trim(host, "/") + apiVersionPath
	}

	path := strings.TrimSuffix(strings.TrimSpace(parsed.Path), "/")
	switch {
	case path == "":
		path = apiVersionPath
	case strings.HasSuffix(path, apiVersionPath):
		// Keep an explicit version path (for example behind a proxy).
	default:
		path += apiVersionPath
	}
	return parsed.Scheme + "://" + parsed.Host + path
}
