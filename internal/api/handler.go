package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-autopilot/internal/automation"
	"campaign-autopilot/internal/rules"
	"campaign-autopilot/internal/upstream"
)

// UserHeader carries the caller's user id. Authentication happens in
// front of this service.
const UserHeader = "X-User-ID"

type Handler struct {
	Rules    rules.Store
	Manager  *automation.Manager
	Accounts automation.AccountLister
	now      func() time.Time
}

func NewHandler(store rules.Store, mgr *automation.Manager, accounts automation.AccountLister) *Handler {
	return &Handler{Rules: store, Manager: mgr, Accounts: accounts, now: time.Now}
}

type ctxKey struct{}

// RequireUser rejects requests without a user id.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" {
			respondError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(ctxKey{}).(string)
	return user
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondOK(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	respondJSON(w, status, body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "error": message})
}

// respondErr maps typed failures to status codes.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var (
		apiErr *upstream.APIError
		badReq *badRequest
	)
	switch {
	case errors.Is(err, rules.ErrRuleNotFound), errors.Is(err, rules.ErrCampaignNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rules.ErrDuplicateAssignment), errors.Is(err, automation.ErrNoAssignments):
		status = http.StatusConflict
	case rules.IsValidation(err), errors.As(err, &badReq), errors.Is(err, automation.ErrNoAccount):
		status = http.StatusBadRequest
	case errors.As(err, &apiErr), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respondError(w, status, err.Error())
}

type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		var ve *rules.ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		return &badRequest{msg: "malformed request body: " + err.Error()}
	}
	return nil
}
