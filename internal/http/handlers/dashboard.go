package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/micro-ha/minirack-dashboard/internal/model"
	"github.com/micro-ha/minirack-dashboard/internal/service"
)

// maxWindowHours matches the longest history kept in the cache.
const maxWindowHours = model.SeriesCapacity

// Dashboard returns the combined view, polling first when it is stale. An
// optional hours query parameter limits the series to the last N hours; 0
// returns everything.
func (a *API) Dashboard(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 0 || hours > maxWindowHours {
			writeError(w, http.StatusBadRequest, "invalid_hours", "hours must be an integer between 0 and "+strconv.Itoa(maxWindowHours))
			return
		}
		window = time.Duration(hours) * time.Hour
	}
	writeJSON(w, http.StatusOK, a.service.Dashboard(r.Context(), window))
}

// NetworkDashboard returns one network's cached view.
func (a *API) NetworkDashboard(w http.ResponseWriter, _ *http.Request, id string) {
	entry, err := a.service.NetworkDashboard(id)
	switch {
	case errors.Is(err, model.ErrNetworkNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Network not found")
		return
	case errors.Is(err, service.ErrNoData):
		writeError(w, http.StatusNotFound, "no_data", "No data collected for this network yet")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "dashboard_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Devices returns the combined device list.
func (a *API) Devices(w http.ResponseWriter, _ *http.Request) {
	devices := a.service.Devices()
	if devices == nil {
		devices = []model.DeviceSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}
