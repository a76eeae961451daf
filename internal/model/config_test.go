package model

import (
	"errors"
	"testing"
	"time"
)

func TestConfigBaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "empty host uses default api",
			cfg:  Config{},
			want: "https://api-user.e2ro.com/2.2",
		},
		{
			name: "plain host gets https and version",
			cfg:  Config{APIURL: "api-user.e2ro.com"},
			want: "https://api-user.e2ro.com/2.2",
		},
		{
			name: "explicit scheme is kept",
			cfg:  Config{APIURL: "http://127.0.0.1:8080"},
			want: "http://127.0.0.1:8080/2.2",
		},
		{
			name: "version path is not duplicated",
			cfg:  Config{APIURL: "https://proxy.local/2.2/"},
			want: "https://proxy.local/2.2",
		},
		{
			name: "custom path gets version appended",
			cfg:  Config{APIURL: "https://proxy.local/eero"},
			want: "https://proxy.local/eero/2.2",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.BaseURL(); got != tt.want {
				t.Fatalf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tooMany := Config{}
	for i := 0; i < MaxNetworks+1; i++ {
		tooMany.Networks = append(tooMany.Networks, NetworkConfig{ID: string(rune('1' + i))})
	}

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{name: "default is valid", cfg: DefaultConfig()},
		{name: "non numeric id", cfg: Config{Networks: []NetworkConfig{{ID: "abc"}}}, want: ErrInvalidNetworkID},
		{name: "duplicate id", cfg: Config{Networks: []NetworkConfig{{ID: "1"}, {ID: "1"}}}, want: ErrDuplicateNetwork},
		{name: "too many networks", cfg: tooMany, want: ErrTooManyNetworks},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestActiveNetworksSkipsInactiveAndInvalid(t *testing.T) {
	cfg := Config{Networks: []NetworkConfig{
		{ID: "1", Active: true},
		{ID: "2", Active: false},
		{ID: "x3", Active: true},
		{ID: "4", Active: true},
	}}
	active := cfg.ActiveNetworks()
	if len(active) != 2 || active[0].ID != "1" || active[1].ID != "4" {
		t.Fatalf("unexpected active networks: %+v", active)
	}
}

func TestAppendBoundedDropsOldest(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var series []Point
	for i := 0; i < 10; i++ {
		series = AppendBounded(series, Point{Timestamp: base.Add(time.Duration(i) * time.Hour), Value: float64(i)}, 4)
	}
	if len(series) != 4 {
		t.Fatalf("expected 4 points, got %d", len(series))
	}
	if series[0].Value != 6 || series[3].Value != 9 {
		t.Fatalf("expected values 6..9, got %v..%v", series[0].Value, series[3].Value)
	}
}
