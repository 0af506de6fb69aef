package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"campaign-autopilot/internal/observability"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireUser)

		r.Get("/rules", h.ListRules)
		r.Post("/rules", h.CreateRule)
		r.Get("/rules/{ruleID}", h.GetRule)
		r.Put("/rules/{ruleID}", h.UpdateRule)
		r.Delete("/rules/{ruleID}", h.DeleteRule)

		r.Get("/campaigns", h.ListCampaigns)
		r.Get("/campaigns/summary", h.Summary)
		r.Post("/campaigns/{campaignID}/status", h.SetStatus)
		r.Get("/campaigns/{campaignID}/rules", h.ListCampaignRules)
		r.Post("/campaigns/{campaignID}/rules", h.AssignRule)
		r.Delete("/campaigns/{campaignID}/rules/{ruleID}", h.UnassignRule)

		r.Get("/automation", h.AutomationStatus)
		r.Post("/automation/start", h.StartAutomation)
		r.Post("/automation/stop", h.StopAutomation)

		r.Get("/accounts", h.ListAccounts)
		r.Put("/accounts/current", h.SelectAccount)
		r.Get("/activities", h.Activities)
		r.Post("/logout", h.Logout)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
