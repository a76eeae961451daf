package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micro-ha/minirack-dashboard/internal/auth"
	"github.com/micro-ha/minirack-dashboard/internal/cloudapi"
	"github.com/micro-ha/minirack-dashboard/internal/model"
	"github.com/micro-ha/minirack-dashboard/internal/service"
)

type networkJSON struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

func toNetworkJSON(n model.NetworkConfig) networkJSON {
	return networkJSON{ID: n.ID, Name: n.Name, Email: n.Email, Active: n.Active}
}

// ListNetworks returns configured networks with their auth state.
func (a *API) ListNetworks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"networks": a.service.Networks(), "max_networks": model.MaxNetworks})
}

// AddNetwork adds a network and schedules a poll.
func (a *API) AddNetwork(w http.ResponseWriter, r *http.Request) {
	var payload service.NetworkInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeResult(w, http.StatusBadRequest, false, "Invalid JSON payload")
		return
	}
	network, err := a.service.AddNetwork(payload)
	if err != nil {
		a.writeConfigError(w, err)
		return
	}
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Network added",
		"network": toNetworkJSON(network),
	})
}

// UpdateNetwork edits a network's name or email.
func (a *API) UpdateNetwork(w http.ResponseWriter, r *http.Request, id string) {
	var payload service.NetworkInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeResult(w, http.StatusBadRequest, false, "Invalid JSON payload")
		return
	}
	network, err := a.service.UpdateNetwork(id, payload)
	if err != nil {
		a.writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Network updated",
		"network": toNetworkJSON(network),
	})
}

// RemoveNetwork deletes a network and its tokens.
func (a *API) RemoveNetwork(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.service.RemoveNetwork(r.Context(), id); err != nil {
		a.writeConfigError(w, err)
		return
	}
	writeResult(w, http.StatusOK, true, "Network removed")
}

// ToggleNetwork flips whether a network is polled.
func (a *API) ToggleNetwork(w http.ResponseWriter, _ *http.Request, id string) {
	network, err := a.service.ToggleNetwork(id)
	if err != nil {
		a.writeConfigError(w, err)
		return
	}
	a.poller.TriggerRefresh()
	message := "Network paused"
	if network.Active {
		message = "Network activated"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"network": toNetworkJSON(network),
	})
}

// NetworkInfo returns upstream metadata for a network.
func (a *API) NetworkInfo(w http.ResponseWriter, r *http.Request, id string) {
	info, err := a.service.NetworkInfo(r.Context(), id)
	var statusErr *cloudapi.StatusError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, info)
	case errors.Is(err, model.ErrNetworkNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Network not found")
	case errors.Is(err, cloudapi.ErrNoToken):
		writeError(w, http.StatusConflict, "not_authenticated", "Network is not authenticated")
	case errors.As(err, &statusErr):
		writeError(w, http.StatusBadGateway, "upstream_error", statusErr.Error())
	default:
		writeError(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
	}
}

type timezonePayload struct {
	Timezone string `json:"timezone"`
}

// SetTimezone changes the display timezone.
func (a *API) SetTimezone(w http.ResponseWriter, r *http.Request) {
	var payload timezonePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeResult(w, http.StatusBadRequest, false, "Invalid JSON payload")
		return
	}
	tz, err := a.service.SetTimezone(payload.Timezone)
	if err != nil {
		a.writeConfigError(w, err)
		return
	}
	writeResult(w, http.StatusOK, true, "Timezone set to "+tz)
}

type sendCodePayload struct {
	Email string `json:"email"`
}

// SendCode starts the email code exchange.
func (a *API) SendCode(w http.ResponseWriter, r *http.Request, id string) {
	var payload sendCodePayload
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeResult(w, http.StatusBadRequest, false, "Invalid JSON payload")
			return
		}
	}
	err := a.service.SendCode(r.Context(), id, payload.Email)
	a.writeAuthResult(w, err, "Verification code sent")
}

type verifyPayload struct {
	Code string `json:"code"`
}

// VerifyCode completes the email code exchange and schedules a poll.
func (a *API) VerifyCode(w http.ResponseWriter, r *http.Request, id string) {
	var payload verifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeResult(w, http.StatusBadRequest, false, "Invalid JSON payload")
		return
	}
	err := a.service.VerifyCode(r.Context(), id, payload.Code)
	if err == nil {
		a.poller.TriggerRefresh()
	}
	a.writeAuthResult(w, err, "Network authenticated")
}

func (a *API) writeAuthResult(w http.ResponseWriter, err error, okMessage string) {
	res := auth.ResultOf(err, okMessage)
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNetworkNotFound):
		status = http.StatusNotFound
		res.Message = "Network not found"
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrInvalidCode), errors.Is(err, model.ErrInvalidNetworkID):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrNotPending):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrVerificationRejected):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrUpstreamUnavailable), errors.Is(err, auth.ErrMalformedResponse):
		status = http.StatusBadGateway
	default:
		a.logger.Error("auth step failed", "err", err)
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (a *API) writeConfigError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNetworkNotFound):
		writeResult(w, http.StatusNotFound, false, "Network not found")
	case errors.Is(err, model.ErrDuplicateNetwork):
		writeResult(w, http.StatusConflict, false, "Network already configured")
	case errors.Is(err, model.ErrTooManyNetworks):
		writeResult(w, http.StatusConflict, false, err.Error())
	case errors.Is(err, model.ErrInvalidNetworkID):
		writeResult(w, http.StatusBadRequest, false, "Network ID must be numeric")
	case errors.Is(err, model.ErrInvalidTimezone):
		writeResult(w, http.StatusBadRequest, false, "Unknown timezone")
	case errors.Is(err, model.ErrEmptyNetworkName):
		writeResult(w, http.StatusBadRequest, false, "Network name is required")
	case errors.Is(err, service.ErrInvalidEmail):
		writeResult(w, http.StatusBadRequest, false, "Please enter a valid email address")
	default:
		a.logger.Error("config update failed", "err", err)
		writeResult(w, http.StatusInternalServerError, false, "Could not save configuration")
	}
}
