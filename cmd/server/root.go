package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/micro-ha/minirack-dashboard/internal/aggregator"
	"github.com/micro-ha/minirack-dashboard/internal/auth"
	"github.com/micro-ha/minirack-dashboard/internal/classify"
	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/config"
	"github.com/micro-ha/minirack-dashboard/internal/configstore"
	"github.com/micro-ha/minirack-dashboard/internal/credentials"
	httpapi "github.com/micro-ha/minirack-dashboard/internal/http"
	"github.com/micro-ha/minirack-dashboard/internal/http/handlers"
	"github.com/micro-ha/minirack-dashboard/internal/logging"
	"github.com/micro-ha/minirack-dashboard/internal/metrics"
	"github.com/micro-ha/minirack-dashboard/internal/oui"
	"github.com/micro-ha/minirack-dashboard/internal/persistence"
	"github.com/micro-ha/minirack-dashboard/internal/poller"
	"github.com/micro-ha/minirack-dashboard/internal/retry"
	"github.com/micro-ha/minirack-dashboard/internal/service"
	"github.com/micro-ha/minirack-dashboard/internal/speedtest"
	"github.com/micro-ha/minirack-dashboard/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	root := &cobra.Command{
		Use:           "minirack-dashboard",
		Short:         "Network telemetry dashboard backend",
		Long:          "Polls the cloud network controller for connected devices, classifies them and serves rolling history as JSON.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "optional settings file (yaml, json or toml)")
	flags.String("http-addr", ":5000", "HTTP listen address")
	flags.String("data-dir", "/data", "directory for config, tokens and history")
	flags.Duration("poll-interval", time.Hour, "time between poll cycles")
	flags.Duration("refresh-min-age", time.Minute, "minimum cache age before a dashboard read triggers a poll")
	flags.String("history-backend", config.BackendFile, "history store: file or sqlite")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "optional log file, rotated by size")
	for _, name := range []string{"http-addr", "data-dir", "poll-interval", "refresh-min-age", "history-backend", "log-level", "log-file"} {
		bindFlag(v, root, name)
	}

	root.AddCommand(newVersionCmd())
	return root
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, name string) {
	_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), cmd.PersistentFlags().Lookup(name))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "minirack-dashboard %s\n", version)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.New(cfg.Level(), cfg.LogFile)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store := configstore.New(cfg.ConfigPath(), logger)
	networkCfg := store.Load()

	vault := credentials.New(cfg.DataDir, logger)
	vault.Load(networkCfg.Networks)

	client := cloudapi.NewWithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}, networkCfg.BaseURL(), vault, logger)
	client.SetUserAgent("MiniRack-Dashboard/" + version)
	client.SetRetryPolicy(retry.Default())

	ouiDB, err := oui.LoadEmbedded()
	if err != nil {
		return fmt.Errorf("load oui db: %w", err)
	}

	historyStore, closeHistory, err := openHistoryStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHistory()

	registry := metrics.NewRegistry()
	svc := service.New(service.Deps{
		Config:  store,
		Vault:   vault,
		Auth:    auth.NewManager(client, vault, logger),
		Fetcher: client,
		Cache:   aggregator.New(classify.New(ouiDB), cfg.SeriesCapacity, logger),
		History: persistence.NewManager(historyStore, cfg.HistoryMaxAge, logger),
		Metrics: registry,
		Logger:  logger,
	}, service.Options{
		RefreshMinAge: cfg.RefreshMinAge,
		Version:       version,
	})
	svc.RestoreHistory(ctx)

	devicePoller := poller.New(svc, cfg.PollInterval, logger)
	go devicePoller.Run(ctx)
	devicePoller.TriggerRefresh()

	speed := speedtest.NewTester(
		speedtest.NewHTTPRunner(&http.Client{Timeout: cfg.SpeedtestTimeout}, cfg.SpeedtestURL),
		registry,
		cfg.SpeedtestTimeout,
		logger,
	)

	api := handlers.New(svc, devicePoller, speed, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(api, registry.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting",
		"addr", httpServer.Addr,
		"version", version,
		"networks", len(networkCfg.Networks),
		"history_backend", cfg.HistoryBackend,
		"poll_interval", cfg.PollInterval.String(),
	)
	if err := httpapi.RunServer(ctx, httpServer, logger); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openHistoryStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, func(), error) {
	if cfg.HistoryBackend == config.BackendSQLite {
		repo, err := storage.New(ctx, cfg.HistoryPath(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open history db: %w", err)
		}
		return repo, func() { _ = repo.Close() }, nil
	}
	return persistence.NewFileStore(cfg.HistoryPath()), func() {}, nil
}
