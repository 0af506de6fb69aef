package api

import (
	"net/http"
	"sort"

	"campaign-autopilot/internal/action"
	"campaign-autopilot/internal/upstream"
)

func (h *Handler) AutomationStatus(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	st, err := h.Manager.Status(r.Context(), user)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	// the stored flag can outlive a crashed process; the local loop is
	// authoritative for this instance
	if h.Manager.Running(user) {
		st.IsRunning = true
	}
	respondOK(w, http.StatusOK, map[string]any{"automation": st})
}

func (h *Handler) StartAutomation(w http.ResponseWriter, r *http.Request) {
	started, err := h.Manager.Start(r.Context(), userFrom(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	msg := "automation started"
	if !started {
		msg = "automation already running"
	}
	respondOK(w, http.StatusOK, map[string]any{"message": msg})
}

func (h *Handler) StopAutomation(w http.ResponseWriter, r *http.Request) {
	msg := "automation stopped"
	if !h.Manager.Stop(userFrom(r)) {
		msg = "automation was not running"
	}
	respondOK(w, http.StatusOK, map[string]any{"message": msg})
}

func (h *Handler) Activities(w http.ResponseWriter, r *http.Request) {
	acts := h.Manager.Session(userFrom(r)).Activities()
	if acts == nil {
		acts = []action.Activity{}
	}
	respondOK(w, http.StatusOK, map[string]any{"activities": acts})
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if h.Accounts == nil {
		respondOK(w, http.StatusOK, map[string]any{"accounts": []upstream.Account{}})
		return
	}
	accts, err := h.Accounts.ListAccounts(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	sort.SliceStable(accts, func(i, j int) bool { return accts[i].Name < accts[j].Name })
	respondOK(w, http.StatusOK, map[string]any{
		"accounts": accts,
		"current":  h.Manager.Session(userFrom(r)).AccountID(),
	})
}

type accountRequest struct {
	AccountID string `json:"account_id"`
}

func (h *Handler) SelectAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	h.Manager.Session(userFrom(r)).SetAccount(req.AccountID)
	respondOK(w, http.StatusOK, map[string]any{"account_id": req.AccountID, "message": "account selected"})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Manager.Logout(userFrom(r))
	respondOK(w, http.StatusOK, map[string]any{"message": "logged out"})
}
