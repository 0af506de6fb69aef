package rules

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-autopilot/internal/campaign"
)

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestCondition_UnmarshalJSON(t *testing.T) {
	raw := `[
		{"type":"conversions_and_spend","conversions":0,"spend_threshold":50,"action":"kill","description":"Kill at $50"},
		{"type":"conversions_exact","conversions":1,"action":"continue"},
		{"type":"cpa_threshold","operator":">=","cpa_threshold":60,"action":"kill","reason":"cpa too high"},
		{"type":"status","status":"PAUSED","action":"reactivate"}
	]`

	var chain []Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &chain))
	require.Len(t, chain, 4)

	assert.Equal(t, ConversionsAndSpend{Conversions: 0, SpendThreshold: 50}, chain[0].Predicate)
	assert.Equal(t, "Kill at $50", chain[0].Description)
	assert.Equal(t, ConversionsExact{Conversions: 1}, chain[1].Predicate)
	assert.Equal(t, ActionContinue, chain[1].Action)
	assert.Equal(t, CPAThreshold{Threshold: 60, Operator: OpGTE}, chain[2].Predicate)
	assert.Equal(t, "cpa too high", chain[2].Description, "reason is accepted as description")
	assert.Equal(t, StatusIs{Status: campaign.StatusPaused}, chain[3].Predicate)
}

func TestCondition_UnmarshalJSON_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"roas","action":"kill"}`},
		{"missing spend threshold", `{"type":"conversions_and_spend","conversions":0,"action":"kill"}`},
		{"missing conversions", `{"type":"conversions_exact","action":"kill"}`},
		{"bad operator", `{"type":"cpa_threshold","operator":"!=","cpa_threshold":1,"action":"kill"}`},
		{"bad action", `{"type":"conversions_exact","conversions":0,"action":"delete"}`},
		{"bad status", `{"type":"status","status":"ARCHIVED","action":"kill"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Condition
			err := json.Unmarshal([]byte(tt.raw), &c)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
}

func TestRule_JSONPreservesChainOrder(t *testing.T) {
	r := protectionRule()
	r.CreatedAt = fixedNow

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"chain_logic":[{"type":"conversions_and_spend","action":"kill"`)

	var back Rule
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, r, back)
}

func TestRule_Validate(t *testing.T) {
	ok := protectionRule()
	require.NoError(t, ok.Validate())

	noName := ok
	noName.Name = " "
	assert.True(t, IsValidation(noName.Validate()))

	noPayout := ok
	noPayout.Payout = 0
	assert.True(t, IsValidation(noPayout.Validate()))

	empty := ok
	empty.Chain = nil
	assert.True(t, IsValidation(empty.Validate()))

	badCond := ok
	badCond.Chain = []Condition{{Predicate: ConversionsExact{Conversions: -1}, Action: ActionKill}}
	err := badCond.Validate()
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "condition 1")
}

func TestNewRule(t *testing.T) {
	r, err := NewRule("n", 75, protectionRule().Chain, nil, fixedNow)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.True(t, r.Active)
	assert.Equal(t, fixedNow, r.CreatedAt)

	_, err = NewRule("n", -1, protectionRule().Chain, nil, fixedNow)
	assert.Error(t, err)
}

func TestDecodeFile(t *testing.T) {
	doc := `
rules:
  - name: Basic Protection
    payout: 75
    active: true
    chain_logic:
      - type: conversions_and_spend
        conversions: 0
        spend_threshold: 50
        action: kill
        description: Kill at $50 with 0 conversions
      - type: cpa_threshold
        operator: ">"
        cpa_threshold: 60
        action: kill
  - name: Legacy
    payout: 100
    legacy:
      kill_on_no_conversion_spend: 40
      kill_on_one_conversion_spend: 90
      max_cpa_allowed: 80
campaigns:
  - id: "123"
    name: Spring
    status: ACTIVE
    spend: 55
`
	f, err := DecodeFile(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, f.Rules, 2)
	assert.Equal(t, "rule_1", f.Rules[0].ID)
	assert.Len(t, f.Rules[0].Chain, 2)
	assert.Len(t, f.Rules[1].Chain, 3, "legacy thresholds expand to a chain")

	require.Len(t, f.Campaigns, 1)
	s := f.Campaigns[0].Snapshot()
	assert.Equal(t, campaign.StatusActive, s.Status)

	d := Evaluate(f.Rules[0], s)
	assert.Equal(t, ActionKill, d.Action)
}

func TestDecodeFile_Invalid(t *testing.T) {
	_, err := DecodeFile(strings.NewReader("rules:\n  - name: x\n    payout: 0\n    chain_logic: []\n"))
	assert.Error(t, err)
}
