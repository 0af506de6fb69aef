package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-autopilot/internal/campaign"
)

// protectionRule is the three-condition chain used by the scenarios:
// 0 conv & spend>=50 kill, 1 conv & spend>=60 kill, CPA>60 kill.
func protectionRule() Rule {
	return Rule{
		ID:     "r1",
		Name:   "Basic Protection",
		Payout: 75,
		Active: true,
		Chain: []Condition{
			{Predicate: ConversionsAndSpend{Conversions: 0, SpendThreshold: 50}, Action: ActionKill, Description: "Kill at $50 with 0 conversions"},
			{Predicate: ConversionsAndSpend{Conversions: 1, SpendThreshold: 60}, Action: ActionKill, Description: "Kill at $60 with 1 conversion"},
			{Predicate: CPAThreshold{Threshold: 60, Operator: OpGT}, Action: ActionKill, Description: "Kill if CPA > $60"},
		},
	}
}

func active(spend, revenue float64) campaign.Snapshot {
	return campaign.Snapshot{ID: "c1", Name: "camp", Status: campaign.StatusActive, Spend: spend, Revenue: revenue}
}

func TestEvaluate_Scenarios(t *testing.T) {
	tests := []struct {
		name          string
		snap          campaign.Snapshot
		wantAction    Action
		wantCondition int
		wantReason    string
	}{
		{"A: zero conversions over limit", active(55, 0), ActionKill, 0, "Kill at $50 with 0 conversions"},
		{"B: zero conversions under limit", active(40, 0), ActionNoAction, -1, "no condition matched"},
		{"C: one conversion over limit", active(65, 75), ActionKill, 1, "Kill at $60 with 1 conversion"},
		{"D: cpa above threshold", active(140, 150), ActionKill, 2, "Kill if CPA > $60"},
		{"cpa within range", active(100, 150), ActionNoAction, -1, "no condition matched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(protectionRule(), tt.snap)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantCondition, d.Condition)
			assert.Contains(t, d.Reason, tt.wantReason)
			assert.Equal(t, "r1", d.RuleID)
			assert.Equal(t, "c1", d.CampaignID)
		})
	}
}

func TestEvaluate_ReasonCarriesAuditContext(t *testing.T) {
	d := Evaluate(protectionRule(), active(140, 150))
	assert.Equal(t, "Kill if CPA > $60 [Conv: 2, Spend: $140.00, CPA: $70.00, Payout: $75.00]", d.Reason)
	assert.Equal(t, 2, d.Conversions)
	assert.InDelta(t, 70.0, d.CPA, 1e-9)
}

func TestEvaluate_DegradedRevenueIsSkipped(t *testing.T) {
	s := active(500, 0)
	s.Degraded = "attribution revenue unavailable: timeout"

	d := Evaluate(protectionRule(), s)
	assert.Equal(t, ActionSkip, d.Action)
	assert.Contains(t, d.Reason, "revenue data degraded")
	_, ok := d.DesiredStatus()
	assert.False(t, ok)
}

func TestEvaluate_UnknownStatusIsSkipped(t *testing.T) {
	s := active(500, 0)
	s.Status = campaign.StatusUnknown
	assert.Equal(t, ActionSkip, Evaluate(protectionRule(), s).Action)
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	r := Rule{ID: "r", Name: "order", Payout: 50, Chain: []Condition{
		{Predicate: ConversionsExact{Conversions: 0}, Action: ActionReactivate},
		{Predicate: ConversionsExact{Conversions: 0}, Action: ActionKill},
	}}
	d := Evaluate(r, active(10, 0))
	assert.Equal(t, ActionReactivate, d.Action)
	assert.Equal(t, 0, d.Condition)
}

func TestEvaluate_ContinueFallsThrough(t *testing.T) {
	r := Rule{ID: "r", Name: "continue", Payout: 50, Chain: []Condition{
		{Predicate: StatusIs{Status: campaign.StatusActive}, Action: ActionContinue},
		{Predicate: ConversionsExact{Conversions: 0}, Action: ActionKill},
	}}
	d := Evaluate(r, active(10, 0))
	assert.Equal(t, ActionKill, d.Action)
	assert.Equal(t, 1, d.Condition)

	only := Rule{ID: "r", Name: "c", Payout: 50, Chain: []Condition{
		{Predicate: StatusIs{Status: campaign.StatusActive}, Action: ActionContinue},
	}}
	assert.Equal(t, ActionNoAction, Evaluate(only, active(10, 0)).Action)
}

func TestEvaluate_PayoutIsRuleSpecific(t *testing.T) {
	chain := []Condition{{Predicate: ConversionsExact{Conversions: 2}, Action: ActionKill}}
	cheap := Rule{ID: "a", Name: "a", Payout: 50, Chain: chain}
	dear := Rule{ID: "b", Name: "b", Payout: 100, Chain: chain}
	s := active(10, 100)

	assert.Equal(t, ActionKill, Evaluate(cheap, s).Action)
	assert.Equal(t, ActionNoAction, Evaluate(dear, s).Action)
}

func TestEstimateConversions(t *testing.T) {
	tests := []struct {
		revenue, payout float64
		want            int
	}{
		{0, 75, 0},
		{-5, 75, 0},
		{0, 0.01, 0},
		{10, 75, 1},
		{75, 75, 1},
		{149.99, 75, 1},
		{150, 75, 2},
		{1000, 75, 13},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateConversions(tt.revenue, tt.payout), "revenue=%v payout=%v", tt.revenue, tt.payout)
	}
}

func TestZeroRevenueNeverEstimatesConversions(t *testing.T) {
	for _, payout := range []float64{0.01, 1, 75, 1e6} {
		r := Rule{ID: "r", Name: "r", Payout: payout, Chain: []Condition{
			{Predicate: ConversionsExact{Conversions: 0}, Action: ActionKill},
		}}
		d := Evaluate(r, active(1, 0))
		assert.Equal(t, 0, d.Conversions)
		assert.Equal(t, ActionKill, d.Action)
	}
}

func TestCPAThreshold_Operators(t *testing.T) {
	m := Metrics{Conversions: 2, CPA: 60}
	tests := []struct {
		op   Operator
		th   float64
		want bool
	}{
		{OpGT, 59.99, true},
		{OpGT, 60, false},
		{OpGTE, 60, true},
		{OpLT, 60.5, true},
		{OpLT, 60, false},
		{OpLTE, 60, true},
		{OpEQ, 60.005, true},
		{OpEQ, 60.02, false},
	}
	for _, tt := range tests {
		p := CPAThreshold{Threshold: tt.th, Operator: tt.op}
		assert.Equal(t, tt.want, p.Match(m), "%s", p)
	}

	assert.False(t, CPAThreshold{Threshold: 1, Operator: OpGT}.Match(Metrics{Conversions: 0, CPA: 99}))
	assert.False(t, CPAThreshold{Threshold: 1, Operator: OpGT, MinConversions: 3}.Match(m))
}

func TestDecision_Actionable(t *testing.T) {
	kill := Decision{Action: ActionKill}
	re := Decision{Action: ActionReactivate}

	assert.True(t, kill.Actionable(campaign.StatusActive))
	assert.False(t, kill.Actionable(campaign.StatusPaused))
	assert.True(t, re.Actionable(campaign.StatusPaused))
	assert.False(t, re.Actionable(campaign.StatusActive))
	assert.False(t, Decision{Action: ActionNoAction}.Actionable(campaign.StatusActive))

	st, ok := kill.DesiredStatus()
	require.True(t, ok)
	assert.Equal(t, campaign.StatusPaused, st)
}

func TestLegacyChain(t *testing.T) {
	legacy := LegacyThresholds{
		KillOnNoConversionSpend:  50,
		KillOnOneConversionSpend: 100,
		MaxCPAAllowed:            80,
		ReactivateIfProfitable:   true,
		ReactivateIfCPABelow:     40,
	}
	r, err := NewRule("legacy", 100, nil, &legacy, fixedNow)
	require.NoError(t, err)
	require.Len(t, r.Chain, 4)

	paused := func(spend, revenue float64) campaign.Snapshot {
		s := active(spend, revenue)
		s.Status = campaign.StatusPaused
		return s
	}

	tests := []struct {
		name string
		snap campaign.Snapshot
		want Action
	}{
		{"no conversions over limit", active(60, 0), ActionKill},
		{"no conversions under limit", active(40, 0), ActionNoAction},
		{"one conversion under limit ignores cpa", active(90, 100), ActionNoAction},
		{"one conversion over limit", active(120, 100), ActionKill},
		{"cpa over max", active(200, 200), ActionKill},
		{"cpa in range", active(120, 200), ActionNoAction},
		{"profitable paused campaign", paused(60, 200), ActionReactivate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(r, tt.snap).Action)
		})
	}
}
