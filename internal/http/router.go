package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-ha/minirack-dashboard/internal/http/handlers"
)

// NewRouter builds the routing tree for the JSON API. metrics may be nil.
func NewRouter(api *handlers.API, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON(api.Logger()))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestLogger(api.Logger()))

	r.Get("/healthz", api.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Get("/dashboard", api.Dashboard)
		apiRouter.Get("/dashboard/{id}", func(w http.ResponseWriter, r *http.Request) {
			api.NetworkDashboard(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Get("/devices", api.Devices)
		apiRouter.Get("/version", api.Version)
		apiRouter.Post("/refresh", api.Refresh)

		apiRouter.Get("/networks", api.ListNetworks)
		apiRouter.Post("/networks", api.AddNetwork)
		apiRouter.Patch("/networks/{id}", func(w http.ResponseWriter, r *http.Request) {
			api.UpdateNetwork(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Delete("/networks/{id}", func(w http.ResponseWriter, r *http.Request) {
			api.RemoveNetwork(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Post("/networks/{id}/toggle", func(w http.ResponseWriter, r *http.Request) {
			api.ToggleNetwork(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Get("/networks/{id}/info", func(w http.ResponseWriter, r *http.Request) {
			api.NetworkInfo(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Post("/networks/{id}/auth/send", func(w http.ResponseWriter, r *http.Request) {
			api.SendCode(w, r, chi.URLParam(r, "id"))
		})
		apiRouter.Post("/networks/{id}/auth/verify", func(w http.ResponseWriter, r *http.Request) {
			api.VerifyCode(w, r, chi.URLParam(r, "id"))
		})

		apiRouter.Put("/settings/timezone", api.SetTimezone)

		apiRouter.Post("/speedtest/start", api.StartSpeedtest)
		apiRouter.Get("/speedtest/status", api.SpeedtestStatus)
	})
	return r
}
