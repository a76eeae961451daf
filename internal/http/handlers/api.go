package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/model"
	"github.com/micro-ha/minirack-dashboard/internal/service"
	"github.com/micro-ha/minirack-dashboard/internal/speedtest"
)

// Poller triggers an asynchronous poll cycle.
type Poller interface {
	TriggerRefresh()
}

// SpeedTester runs background speed tests one at a time.
type SpeedTester interface {
	Start(ctx context.Context) error
	Status() speedtest.Status
}

// Service is the use-case layer behind the HTTP API.
type Service interface {
	Dashboard(ctx context.Context, window time.Duration) service.Dashboard
	NetworkDashboard(id string) (model.NetworkCache, error)
	Devices() []model.DeviceSnapshot
	Version() service.VersionInfo
	LastCycle() time.Time

	Networks() []service.NetworkView
	AddNetwork(in service.NetworkInput) (model.NetworkConfig, error)
	UpdateNetwork(id string, in service.NetworkInput) (model.NetworkConfig, error)
	RemoveNetwork(ctx context.Context, id string) error
	ToggleNetwork(id string) (model.NetworkConfig, error)
	SetTimezone(tz string) (string, error)
	NetworkInfo(ctx context.Context, id string) (cloudapi.NetworkInfo, error)

	SendCode(ctx context.Context, id, email string) error
	VerifyCode(ctx context.Context, id, code string) error
}

// API groups HTTP handlers and dependencies.
type API struct {
	service Service
	poller  Poller
	speed   SpeedTester
	logger  *slog.Logger
}

// New creates HTTP handlers with explicit dependencies.
func New(svc Service, poller Poller, speed SpeedTester, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{service: svc, poller: poller, speed: speed, logger: logger}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// Health reports liveness and when the last poll cycle finished.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"status": "ok"}
	if last := a.service.LastCycle(); !last.IsZero() {
		payload["last_cycle"] = last
	}
	writeJSON(w, http.StatusOK, payload)
}

// Refresh triggers an immediate poll cycle asynchronously.
func (a *API) Refresh(w http.ResponseWriter, _ *http.Request) {
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, result{Success: true, Message: "Refresh scheduled"})
}

// Version reports instance settings and auth summary.
func (a *API) Version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.service.Version())
}

type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func writeResult(w http.ResponseWriter, status int, success bool, message string) {
	writeJSON(w, status, result{Success: success, Message: message})
}
