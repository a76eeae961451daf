package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/micro-ha/minirack-dashboard/internal/model"
)

const (
	defaultHTTPAddr       = ":5000"
	defaultDataDir        = "/data"
	defaultPollInterval   = time.Hour
	defaultRefreshMinAge  = time.Minute
	defaultHistoryMaxAge  = 24 * time.Hour
	defaultRequestTimeout = 15 * time.Second
	defaultSpeedtestURL   = "https://speed.cloudflare.com"
	defaultSpeedtestLimit = 2 * time.Minute

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config stores runtime settings. Network definitions live in the JSON
// config store under DataDir, not here.
type Config struct {
	HTTPAddr       string        `mapstructure:"http_addr"`
	DataDir        string        `mapstructure:"data_dir"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RefreshMinAge  time.Duration `mapstructure:"refresh_min_age"`
	HistoryMaxAge  time.Duration `mapstructure:"history_max_age"`
	SeriesCapacity int           `mapstructure:"series_capacity"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	HistoryBackend string        `mapstructure:"history_backend"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFile        string        `mapstructure:"log_file"`

	SpeedtestURL     string        `mapstructure:"speedtest_url"`
	SpeedtestTimeout time.Duration `mapstructure:"speedtest_timeout"`
}

// NewViper returns a viper instance with defaults and environment binding.
// Every key can be overridden by its upper-case environment variable, e.g.
// POLL_INTERVAL=30m.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("http_addr", defaultHTTPAddr)
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("poll_interval", defaultPollInterval)
	v.SetDefault("refresh_min_age", defaultRefreshMinAge)
	v.SetDefault("history_max_age", defaultHistoryMaxAge)
	v.SetDefault("series_capacity", model.SeriesCapacity)
	v.SetDefault("request_timeout", defaultRequestTimeout)
	v.SetDefault("history_backend", BackendFile)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("speedtest_url", defaultSpeedtestURL)
	v.SetDefault("speedtest_timeout", defaultSpeedtestLimit)

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds Config from v, reading configFile first when it is set.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.HTTPAddr = strings.TrimSpace(c.HTTPAddr)
	if c.HTTPAddr == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RefreshMinAge < 0 {
		c.RefreshMinAge = 0
	}
	if c.HistoryMaxAge <= 0 {
		c.HistoryMaxAge = defaultHistoryMaxAge
	}
	if c.SeriesCapacity <= 0 {
		c.SeriesCapacity = model.SeriesCapacity
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	c.HistoryBackend = strings.ToLower(strings.TrimSpace(c.HistoryBackend))
	if c.HistoryBackend == "" {
		c.HistoryBackend = BackendFile
	}
	c.SpeedtestURL = strings.TrimSuffix(strings.TrimSpace(c.SpeedtestURL), "/")
	if c.SpeedtestURL == "" {
		c.SpeedtestURL = defaultSpeedtestURL
	}
	if c.SpeedtestTimeout <= 0 {
		c.SpeedtestTimeout = defaultSpeedtestLimit
	}
}

func (c Config) Validate() error {
	switch c.HistoryBackend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("unknown history backend %q", c.HistoryBackend)
	}
	if c.RequestTimeout > c.PollInterval {
		return errors.New("request timeout must not exceed poll interval")
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

// ConfigPath is the network config file.
func (c Config) ConfigPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

// HistoryPath is the history file for the selected backend.
func (c Config) HistoryPath() string {
	if c.HistoryBackend == BackendSQLite {
		return filepath.Join(c.DataDir, "data_cache.db")
	}
	return filepath.Join(c.DataDir, "data_cache.json")
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
