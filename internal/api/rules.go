package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"campaign-autopilot/internal/rules"
)

type ruleRequest struct {
	Name   string                  `json:"name"`
	Payout float64                 `json:"payout"`
	Chain  []rules.Condition       `json:"chain_logic"`
	Legacy *rules.LegacyThresholds `json:"legacy"`
	Active *bool                   `json:"active"`
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.Rules.ListRules(r.Context(), userFrom(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []rules.Rule{}
	}
	respondOK(w, http.StatusOK, map[string]any{"rules": list})
}

func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Rules.GetRule(r.Context(), userFrom(r), chi.URLParam(r, "ruleID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]any{"rule": rule})
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	rule, err := rules.NewRule(req.Name, req.Payout, req.Chain, req.Legacy, h.now())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if err := h.Rules.SaveRule(r.Context(), userFrom(r), rule); err != nil {
		respondErr(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, map[string]any{"rule": rule, "message": "rule created"})
}

// UpdateRule replaces the rule's definition. Id and creation time stay.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	rule, err := h.Rules.GetRule(r.Context(), user, chi.URLParam(r, "ruleID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req ruleRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	rule.Name = req.Name
	rule.Payout = req.Payout
	rule.Chain = req.Chain
	rule.Legacy = req.Legacy
	if req.Active != nil {
		rule.Active = *req.Active
	}
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.Rules.SaveRule(r.Context(), user, rule); err != nil {
		respondErr(w, r, err)
		return
	}
	h.Manager.Invalidate(user)
	respondOK(w, http.StatusOK, map[string]any{"rule": rule, "message": "rule updated"})
}

func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	if err := h.Rules.DeleteRule(r.Context(), user, chi.URLParam(r, "ruleID")); err != nil {
		respondErr(w, r, err)
		return
	}
	h.Manager.Invalidate(user)
	respondOK(w, http.StatusOK, map[string]any{"message": "rule deleted"})
}
