package rules

import (
	"fmt"
	"math"

	"campaign-autopilot/internal/campaign"
)

// Decision is the outcome of evaluating one rule against one snapshot.
type Decision struct {
	Action     Action `json:"action"`
	Reason     string `json:"reason"`
	RuleID     string `json:"rule_id"`
	RuleName   string `json:"rule_name"`
	CampaignID string `json:"campaign_id"`
	// Condition is the index of the deciding condition, -1 if none.
	Condition   int     `json:"condition"`
	Conversions int     `json:"conversions"`
	CPA         float64 `json:"-"`
}

// DesiredStatus is the campaign status a kill or reactivate asks for.
func (d Decision) DesiredStatus() (campaign.Status, bool) {
	switch d.Action {
	case ActionKill:
		return campaign.StatusPaused, true
	case ActionReactivate:
		return campaign.StatusActive, true
	}
	return "", false
}

// Actionable reports whether the decision would change a campaign that is
// currently in status: kill only applies to ACTIVE, reactivate only to
// PAUSED.
func (d Decision) Actionable(status campaign.Status) bool {
	switch d.Action {
	case ActionKill:
		return status == campaign.StatusActive
	case ActionReactivate:
		return status == campaign.StatusPaused
	}
	return false
}

// EstimateConversions derives a conversion count from revenue using the
// rule's payout. Zero revenue never implies a conversion.
func EstimateConversions(revenue, payout float64) int {
	if revenue <= 0 || payout <= 0 {
		return 0
	}
	return max(1, int(math.Floor(revenue/payout)))
}

// MetricsFor applies r's payout to s. Two rules with different payouts see
// different conversion counts for the same snapshot.
func MetricsFor(r Rule, s campaign.Snapshot) Metrics {
	conv := EstimateConversions(s.Revenue, r.Payout)
	cpa := math.Inf(1)
	if conv > 0 {
		cpa = s.Spend / float64(conv)
	}
	return Metrics{
		Conversions: conv,
		Spend:       s.Spend,
		CPA:         cpa,
		Payout:      r.Payout,
		Status:      s.Status,
	}
}

// Evaluate walks r's chain in order and returns the first kill or
// reactivate whose predicate matches. A matching continue falls through.
// Evaluate has no side effects; whether the decision can be applied to
// the campaign's current status is checked by the executor.
func Evaluate(r Rule, s campaign.Snapshot) Decision {
	d := Decision{
		RuleID:     r.ID,
		RuleName:   r.Name,
		CampaignID: s.ID,
		Condition:  -1,
	}

	switch {
	case s.Degraded != "":
		d.Action = ActionSkip
		d.Reason = "revenue data degraded: " + s.Degraded
		return d
	case s.Status != campaign.StatusActive && s.Status != campaign.StatusPaused:
		d.Action = ActionSkip
		d.Reason = fmt.Sprintf("campaign status %s is not managed", s.Status)
		return d
	case r.Payout <= 0:
		d.Action = ActionSkip
		d.Reason = "rule payout must be positive"
		return d
	}

	m := MetricsFor(r, s)
	d.Conversions = m.Conversions
	d.CPA = m.CPA

	for i, c := range r.Chain {
		if c.Predicate == nil || !c.Predicate.Match(m) {
			continue
		}
		if c.Action != ActionKill && c.Action != ActionReactivate {
			continue
		}
		d.Action = c.Action
		d.Condition = i
		d.Reason = fmt.Sprintf("%s %s", c.Label(), auditContext(m))
		return d
	}

	d.Action = ActionNoAction
	d.Reason = "no condition matched " + auditContext(m)
	return d
}

func auditContext(m Metrics) string {
	cpa := "n/a"
	if !math.IsInf(m.CPA, 0) {
		cpa = fmt.Sprintf("$%.2f", m.CPA)
	}
	return fmt.Sprintf("[Conv: %d, Spend: $%.2f, CPA: %s, Payout: $%.2f]", m.Conversions, m.Spend, cpa, m.Payout)
}
