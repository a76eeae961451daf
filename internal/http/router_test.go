package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/micro-ha/minirack-dashboard/internal/auth"
	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/http/handlers"
	"github.com/micro-ha/minirack-dashboard/internal/model"
	"github.com/micro-ha/minirack-dashboard/internal/service"
	"github.com/micro-ha/minirack-dashboard/internal/speedtest"
)

type fakeService struct {
	networks  map[string]model.NetworkConfig
	sendErr   error
	verifyErr error
	panicOn   string
	window    time.Duration
}

func newFakeService() *fakeService {
	return &fakeService{networks: map[string]model.NetworkConfig{
		"1001": {ID: "1001", Name: "Home", Active: true, Token: "secret"},
	}}
}

func (f *fakeService) Dashboard(_ context.Context, window time.Duration) service.Dashboard {
	f.window = window
	if f.panicOn == "dashboard" {
		panic("boom")
	}
	return service.Dashboard{CombinedCache: model.CombinedCache{ActiveNetworks: 1}, Timezone: model.DefaultTimezone}
}

func (f *fakeService) NetworkDashboard(id string) (model.NetworkCache, error) {
	if _, ok := f.networks[id]; !ok {
		return model.NetworkCache{}, model.ErrNetworkNotFound
	}
	return model.NetworkCache{}, service.ErrNoData
}

func (f *fakeService) Devices() []model.DeviceSnapshot { return nil }

func (f *fakeService) Version() service.VersionInfo {
	return service.VersionInfo{Version: "test", Networks: len(f.networks)}
}

func (f *fakeService) LastCycle() time.Time { return time.Time{} }

func (f *fakeService) Networks() []service.NetworkView {
	views := []service.NetworkView{}
	for _, n := range f.networks {
		views = append(views, service.NetworkView{ID: n.ID, Name: n.Name, Active: n.Active})
	}
	return views
}

func (f *fakeService) AddNetwork(in service.NetworkInput) (model.NetworkConfig, error) {
	if !model.ValidNetworkID(in.ID) {
		return model.NetworkConfig{}, fmt.Errorf("%w: %q", model.ErrInvalidNetworkID, in.ID)
	}
	if _, ok := f.networks[in.ID]; ok {
		return model.NetworkConfig{}, model.ErrDuplicateNetwork
	}
	n := model.NetworkConfig{ID: in.ID, Name: "Network " + in.ID, Active: true}
	f.networks[in.ID] = n
	return n, nil
}

func (f *fakeService) UpdateNetwork(id string, in service.NetworkInput) (model.NetworkConfig, error) {
	n, ok := f.networks[id]
	if !ok {
		return model.NetworkConfig{}, model.ErrNetworkNotFound
	}
	if in.Name != nil {
		n.Name = *in.Name
	}
	f.networks[id] = n
	return n, nil
}

func (f *fakeService) RemoveNetwork(_ context.Context, id string) error {
	if _, ok := f.networks[id]; !ok {
		return model.ErrNetworkNotFound
	}
	delete(f.networks, id)
	return nil
}

func (f *fakeService) ToggleNetwork(id string) (model.NetworkConfig, error) {
	n, ok := f.networks[id]
	if !ok {
		return model.NetworkConfig{}, model.ErrNetworkNotFound
	}
	n.Active = !n.Active
	f.networks[id] = n
	return n, nil
}

func (f *fakeService) SetTimezone(tz string) (string, error) {
	if tz != "Europe/Berlin" {
		return "", model.ErrInvalidTimezone
	}
	return tz, nil
}

func (f *fakeService) NetworkInfo(_ context.Context, id string) (cloudapi.NetworkInfo, error) {
	if _, ok := f.networks[id]; !ok {
		return cloudapi.NetworkInfo{}, model.ErrNetworkNotFound
	}
	return cloudapi.NetworkInfo{}, cloudapi.ErrNoToken
}

func (f *fakeService) SendCode(context.Context, string, string) error { return f.sendErr }

func (f *fakeService) VerifyCode(context.Context, string, string) error { return f.verifyErr }

type fakePoller struct{ triggered int }

func (p *fakePoller) TriggerRefresh() { p.triggered++ }

type fakeSpeedTester struct {
	running bool
	last    *speedtest.Result
}

func (f *fakeSpeedTester) Start(context.Context) error {
	if f.running {
		return speedtest.ErrRunning
	}
	f.running = true
	return nil
}

func (f *fakeSpeedTester) Status() speedtest.Status {
	return speedtest.Status{Running: f.running, Result: f.last}
}

func newTestRouter(svc *fakeService, poller *fakePoller) http.Handler {
	return newTestRouterWithSpeed(svc, poller, &fakeSpeedTester{})
}

func newTestRouterWithSpeed(svc *fakeService, poller *fakePoller, speed *fakeSpeedTester) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "minirack_up 1\n")
	})
	return NewRouter(handlers.New(svc, poller, speed, logger), metrics)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	decoded := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, decoded
}

func TestRoutesStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"dashboard", http.MethodGet, "/api/dashboard", "", http.StatusOK},
		{"dashboard last 24h", http.MethodGet, "/api/dashboard?hours=24", "", http.StatusOK},
		{"dashboard bad hours", http.MethodGet, "/api/dashboard?hours=abc", "", http.StatusBadRequest},
		{"dashboard negative hours", http.MethodGet, "/api/dashboard?hours=-1", "", http.StatusBadRequest},
		{"dashboard hours beyond history", http.MethodGet, "/api/dashboard?hours=169", "", http.StatusBadRequest},
		{"speedtest status", http.MethodGet, "/api/speedtest/status", "", http.StatusOK},
		{"speedtest start", http.MethodPost, "/api/speedtest/start", "", http.StatusAccepted},
		{"network dashboard no data", http.MethodGet, "/api/dashboard/1001", "", http.StatusNotFound},
		{"network dashboard unknown", http.MethodGet, "/api/dashboard/9999", "", http.StatusNotFound},
		{"devices", http.MethodGet, "/api/devices", "", http.StatusOK},
		{"version", http.MethodGet, "/api/version", "", http.StatusOK},
		{"refresh", http.MethodPost, "/api/refresh", "", http.StatusAccepted},
		{"list networks", http.MethodGet, "/api/networks", "", http.StatusOK},
		{"add network", http.MethodPost, "/api/networks", `{"id":"2002"}`, http.StatusCreated},
		{"add duplicate", http.MethodPost, "/api/networks", `{"id":"1001"}`, http.StatusConflict},
		{"add invalid id", http.MethodPost, "/api/networks", `{"id":"abc"}`, http.StatusBadRequest},
		{"add bad json", http.MethodPost, "/api/networks", `{`, http.StatusBadRequest},
		{"rename", http.MethodPatch, "/api/networks/1001", `{"name":"Cabin"}`, http.StatusOK},
		{"toggle", http.MethodPost, "/api/networks/1001/toggle", "", http.StatusOK},
		{"toggle unknown", http.MethodPost, "/api/networks/9999/toggle", "", http.StatusNotFound},
		{"info without token", http.MethodGet, "/api/networks/1001/info", "", http.StatusConflict},
		{"timezone ok", http.MethodPut, "/api/settings/timezone", `{"timezone":"Europe/Berlin"}`, http.StatusOK},
		{"timezone bad", http.MethodPut, "/api/settings/timezone", `{"timezone":"Mars/Base"}`, http.StatusBadRequest},
		{"remove", http.MethodDelete, "/api/networks/1001", "", http.StatusOK},
	}
	h := newTestRouter(newFakeService(), &fakePoller{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("%s %s = %d, want %d: %s", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestNetworkResponsesNeverExposeTokens(t *testing.T) {
	h := newTestRouter(newFakeService(), &fakePoller{})
	rec, _ := do(t, h, http.MethodPost, "/api/networks/1001/toggle", "")
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("token leaked in response: %s", rec.Body.String())
	}
}

func TestMutationsTriggerRefresh(t *testing.T) {
	poller := &fakePoller{}
	h := newTestRouter(newFakeService(), poller)
	do(t, h, http.MethodPost, "/api/networks", `{"id":"2002"}`)
	do(t, h, http.MethodPost, "/api/networks/2002/toggle", "")
	do(t, h, http.MethodPost, "/api/networks/2002/auth/verify", `{"code":"123456"}`)
	if poller.triggered != 3 {
		t.Fatalf("expected 3 refresh triggers, got %d", poller.triggered)
	}
}

func TestAuthResults(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      string
		sendErr   error
		verifyErr error
		want      int
		success   bool
	}{
		{"send ok", "/api/networks/1001/auth/send", `{"email":"owner@example.com"}`, nil, nil, http.StatusOK, true},
		{"send without body", "/api/networks/1001/auth/send", "", nil, nil, http.StatusOK, true},
		{"send bad email", "/api/networks/1001/auth/send", `{"email":"x"}`, auth.ErrInvalidEmail, nil, http.StatusBadRequest, false},
		{"send upstream down", "/api/networks/1001/auth/send", `{}`, fmt.Errorf("%w: dial", auth.ErrUpstreamUnavailable), nil, http.StatusBadGateway, false},
		{"verify rejected", "/api/networks/1001/auth/verify", `{"code":"1"}`, nil, fmt.Errorf("%w: 401", auth.ErrVerificationRejected), http.StatusUnauthorized, false},
		{"verify not pending", "/api/networks/1001/auth/verify", `{"code":"1"}`, nil, auth.ErrNotPending, http.StatusConflict, false},
		{"verify unknown network", "/api/networks/9/auth/verify", `{"code":"1"}`, nil, model.ErrNetworkNotFound, http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.sendErr = tt.sendErr
			svc.verifyErr = tt.verifyErr
			rec, body := do(t, newTestRouter(svc, &fakePoller{}), http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if body["success"] != tt.success {
				t.Fatalf("success = %v, want %v", body["success"], tt.success)
			}
			if msg, _ := body["message"].(string); msg == "" {
				t.Fatalf("expected a message, got %v", body)
			}
		})
	}
}

func TestRecoverJSONReturnsStructuredError(t *testing.T) {
	svc := newFakeService()
	svc.panicOn = "dashboard"
	rec, body := do(t, newTestRouter(svc, &fakePoller{}), http.MethodGet, "/api/dashboard", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	errBody, _ := body["error"].(map[string]any)
	if errBody["code"] != "internal_error" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	done := make(chan error, 1)
	go func() { done <- RunServer(ctx, server, slog.New(slog.NewTextHandler(io.Discard, nil))) }()
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestDashboardHoursSetsWindow(t *testing.T) {
	svc := newFakeService()
	h := newTestRouter(svc, &fakePoller{})

	if rec, _ := do(t, h, http.MethodGet, "/api/dashboard?hours=6", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.window != 6*time.Hour {
		t.Fatalf("window = %s, want 6h", svc.window)
	}
	do(t, h, http.MethodGet, "/api/dashboard", "")
	if svc.window != 0 {
		t.Fatalf("window without hours = %s, want 0", svc.window)
	}
}

func TestSpeedtestStartAndStatus(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	speed := &fakeSpeedTester{last: &speedtest.Result{DownloadMbps: 310.2, UploadMbps: 41.7, PingMs: 11.4, Timestamp: ts}}
	h := newTestRouterWithSpeed(newFakeService(), &fakePoller{}, speed)

	rec, body := do(t, h, http.MethodPost, "/api/speedtest/start", "")
	if rec.Code != http.StatusAccepted || body["status"] != "started" {
		t.Fatalf("start = %d %v", rec.Code, body)
	}
	rec, body = do(t, h, http.MethodPost, "/api/speedtest/start", "")
	if rec.Code != http.StatusConflict || body["status"] != "already running" {
		t.Fatalf("second start = %d %v", rec.Code, body)
	}

	_, body = do(t, h, http.MethodGet, "/api/speedtest/status", "")
	if body["running"] != true {
		t.Fatalf("expected running, got %v", body)
	}
	result, ok := body["result"].(map[string]any)
	if !ok || result["download"] != 310.2 || result["ping"] != 11.4 {
		t.Fatalf("unexpected result %v", body["result"])
	}
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/dashboard", http.StatusOK, slog.LevelInfo},
		{"/api/networks", http.StatusNotFound, slog.LevelInfo},
		{"/api/dashboard", http.StatusBadGateway, slog.LevelWarn},
		{"/healthz", http.StatusOK, slog.LevelDebug},
		{"/metrics", http.StatusInternalServerError, slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.status); got != tt.want {
			t.Fatalf("requestLevel(%q, %d) = %v, want %v", tt.path, tt.status, got, tt.want)
		}
	}
}
