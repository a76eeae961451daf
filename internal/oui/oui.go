package oui

import (
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"
)

// Unknown is returned when no vendor matches.
const Unknown = "Unknown"

//go:embed data/oui.json
var embeddedDB []byte

// DB maps the first three MAC octets to a vendor name.
type DB struct {
	vendors map[string]string
}

func LoadEmbedded() (*DB, error) {
	return Load(embeddedDB)
}

func Load(data []byte) (*DB, error) {
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	normalized := make(map[string]string, len(m))
	for k, v := range m {
		prefix := normalizePrefix(k)
		if len(prefix) != 6 {
			continue
		}
		normalized[prefix] = strings.TrimSpace(v)
	}
	return &DB{vendors: normalized}, nil
}

// Vendor returns the registered vendor for mac. Randomized (locally
// administered) addresses never match.
func (db *DB) Vendor(mac string) (string, bool) {
	if db == nil {
		return "", false
	}
	prefix := normalizePrefix(mac)
	if len(prefix) < 6 || LocallyAdministered(prefix) {
		return "", false
	}
	vendor, ok := db.vendors[prefix[:6]]
	if !ok || vendor == "" {
		return "", false
	}
	return vendor, true
}

// Lookup is Vendor with Unknown for misses.
func (db *DB) Lookup(mac string) string {
	if vendor, ok := db.Vendor(mac); ok {
		return vendor
	}
	return Unknown
}

func (db *DB) Len() int {
	if db == nil {
		return 0
	}
	return len(db.vendors)
}

// LocallyAdministered reports whether the U/L bit of the first octet is set,
// as on phones using private Wi-Fi addresses.
func LocallyAdministered(mac string) bool {
	prefix := normalizePrefix(mac)
	if len(prefix) < 2 {
		return false
	}
	first, err := strconv.ParseUint(prefix[:2], 16, 8)
	if err != nil {
		return false
	}
	return first&0x02 != 0
}

func normalizePrefix(v string) string {
	replacer := strings.NewReplacer(":", "", "-", "", ".", "")
	v = strings.ToUpper(strings.TrimSpace(replacer.Replace(v)))
	if len(v) >= 6 {
		return v[:6]
	}
	return v
}
