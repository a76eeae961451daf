package handlers

import (
	"errors"
	"net/http"

	"github.com/micro-ha/minirack-dashboard/internal/speedtest"
)

// StartSpeedtest launches a background speed test.
func (a *API) StartSpeedtest(w http.ResponseWriter, r *http.Request) {
	if err := a.speed.Start(r.Context()); err != nil {
		if errors.Is(err, speedtest.ErrRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "already running"})
			return
		}
		writeError(w, http.StatusInternalServerError, "speedtest_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// SpeedtestStatus reports whether a test is running and the last result.
func (a *API) SpeedtestStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.speed.Status())
}
