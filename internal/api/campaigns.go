package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"campaign-autopilot/internal/automation"
	"campaign-autopilot/internal/campaign"
	"campaign-autopilot/internal/rules"
)

func refreshOptions(r *http.Request) (automation.RefreshOptions, error) {
	q := r.URL.Query()
	o := automation.RefreshOptions{Period: q.Get("period")}
	if o.Period != "" && !campaign.ValidPeriod(o.Period) {
		return o, &badRequest{msg: fmt.Sprintf("unknown period %q", o.Period)}
	}
	if v := q.Get("refresh"); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			return o, &badRequest{msg: "refresh must be a boolean"}
		}
		o.Force = force
	}
	return o, nil
}

func fetchErrors(b campaign.Batch) map[string]string {
	out := map[string]string{}
	if b.AttributionErr != nil {
		out["attribution"] = b.AttributionErr.Error()
	}
	if b.PlatformErr != nil {
		out["platform"] = b.PlatformErr.Error()
	}
	return out
}

func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	opts, err := refreshOptions(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	b, err := h.Manager.Session(userFrom(r)).Snapshots(r.Context(), opts)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	snaps := b.Snapshots
	if snaps == nil {
		snaps = []campaign.Snapshot{}
	}
	respondOK(w, http.StatusOK, map[string]any{
		"campaigns":  snaps,
		"window":     b.Window,
		"fetched_at": b.FetchedAt,
		"degraded":   b.Degraded(),
		"errors":     fetchErrors(b),
	})
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	opts, err := refreshOptions(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	b, err := h.Manager.Session(userFrom(r)).Snapshots(r.Context(), opts)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]any{
		"summary": campaign.Summarize(b),
		"window":  b.Window,
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetStatus is the manual pause/resume.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	status := campaign.ParseStatus(req.Status)
	if status == campaign.StatusUnknown {
		respondError(w, http.StatusBadRequest, "status must be ACTIVE or PAUSED")
		return
	}

	s := h.Manager.Session(userFrom(r))
	snap, err := s.Snapshot(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	res := h.Manager.Executor().Toggle(r.Context(), s, snap, status)
	if !res.Success {
		respondError(w, http.StatusBadGateway, res.Error)
		return
	}
	respondOK(w, http.StatusOK, map[string]any{"status": res.Status, "message": "campaign status updated"})
}

func (h *Handler) ListCampaignRules(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	ids, err := h.Rules.ListAssignments(r.Context(), user, chi.URLParam(r, "campaignID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	out := make([]rules.Rule, 0, len(ids))
	for _, id := range ids {
		rule, err := h.Rules.GetRule(r.Context(), user, id)
		if errors.Is(err, rules.ErrRuleNotFound) {
			continue
		}
		if err != nil {
			respondErr(w, r, err)
			return
		}
		out = append(out, rule)
	}
	respondOK(w, http.StatusOK, map[string]any{"rules": out})
}

type assignRequest struct {
	RuleID string `json:"rule_id"`
}

// AssignRule attaches a rule to a campaign and makes sure the user's
// automation loop is running.
func (h *Handler) AssignRule(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	user := userFrom(r)
	campaignID := chi.URLParam(r, "campaignID")

	if _, err := h.Rules.GetRule(r.Context(), user, req.RuleID); err != nil {
		respondErr(w, r, err)
		return
	}
	if _, err := h.Manager.Session(user).Snapshot(r.Context(), campaignID); err != nil {
		respondErr(w, r, err)
		return
	}

	ok, err := h.Rules.Assign(r.Context(), user, campaignID, req.RuleID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if !ok {
		respondErr(w, r, rules.ErrDuplicateAssignment)
		return
	}

	started, err := h.Manager.Start(r.Context(), user)
	if err != nil {
		// the assignment stands; the listener or the next start retries
		log.Error().Err(err).Str("user", user).Msg("start automation after assign")
	}
	respondOK(w, http.StatusCreated, map[string]any{
		"message":            "rule assigned",
		"automation_started": started,
	})
}

func (h *Handler) UnassignRule(w http.ResponseWriter, r *http.Request) {
	err := h.Rules.Unassign(r.Context(), userFrom(r), chi.URLParam(r, "campaignID"), chi.URLParam(r, "ruleID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]any{"message": "rule unassigned"})
}
