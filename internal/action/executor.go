package action

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-autopilot/internal/campaign"
	"campaign-autopilot/internal/observability"
	"campaign-autopilot/internal/rules"
)

// StatusSetter performs the remote status mutation.
type StatusSetter interface {
	SetCampaignStatus(ctx context.Context, campaignID string, status campaign.Status) error
}

// Target receives the local effects of a successful mutation: the cached
// snapshot status and an activity entry.
type Target interface {
	SetStatus(campaignID string, status campaign.Status) bool
	Record(a Activity)
}

type Kind string

const (
	KindRuleTriggered Kind = "rule_triggered"
	KindManual        Kind = "manual"
)

type Activity struct {
	Kind         Kind            `json:"kind"`
	CampaignID   string          `json:"campaign_id"`
	CampaignName string          `json:"campaign_name"`
	Before       campaign.Status `json:"before"`
	After        campaign.Status `json:"after"`
	RuleName     string          `json:"rule_name,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	At           time.Time       `json:"at"`
}

// Result reports what Apply or Toggle did. NoOp means no remote call was
// made. Error carries the upstream's message unchanged.
type Result struct {
	Success bool            `json:"success"`
	NoOp    bool            `json:"no_op,omitempty"`
	Status  campaign.Status `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type Executor struct {
	setter StatusSetter
	now    func() time.Time
}

func NewExecutor(setter StatusSetter) *Executor {
	return &Executor{setter: setter, now: time.Now}
}

// Apply carries out a rule decision for snap. Nothing is sent when the
// decision does not fit the campaign's current status or the campaign is
// already where the decision wants it.
func (e *Executor) Apply(ctx context.Context, t Target, snap campaign.Snapshot, d rules.Decision) Result {
	desired, ok := d.DesiredStatus()
	if !ok || !d.Actionable(snap.Status) || snap.Status == desired {
		return Result{Success: true, NoOp: true, Status: snap.Status}
	}
	return e.change(ctx, t, snap, desired, Activity{
		Kind:     KindRuleTriggered,
		RuleName: d.RuleName,
		Reason:   d.Reason,
	})
}

// Toggle sets the status on the user's request. The remote call is always
// made.
func (e *Executor) Toggle(ctx context.Context, t Target, snap campaign.Snapshot, status campaign.Status) Result {
	return e.change(ctx, t, snap, status, Activity{Kind: KindManual})
}

func (e *Executor) change(ctx context.Context, t Target, snap campaign.Snapshot, status campaign.Status, a Activity) Result {
	logger := log.With().
		Str("campaign_id", snap.ID).
		Str("kind", string(a.Kind)).
		Str("from", string(snap.Status)).
		Str("to", string(status)).
		Logger()

	if err := e.setter.SetCampaignStatus(ctx, snap.ID, status); err != nil {
		observability.ActionsTotal.WithLabelValues(string(a.Kind), "error").Inc()
		logger.Error().Err(err).Msg("status change failed")
		return Result{Success: false, Status: snap.Status, Error: err.Error()}
	}
	observability.ActionsTotal.WithLabelValues(string(a.Kind), "ok").Inc()

	t.SetStatus(snap.ID, status)
	a.CampaignID = snap.ID
	a.CampaignName = snap.Name
	a.Before = snap.Status
	a.After = status
	a.At = e.now().UTC()
	t.Record(a)

	logger.Info().Str("rule", a.RuleName).Msg("campaign status changed")
	return Result{Success: true, Status: status}
}
