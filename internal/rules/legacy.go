package rules

// LegacyThresholds is the older fixed three-tier rule shape. It is kept
// only as input; evaluation always runs the chain built by Chain.
type LegacyThresholds struct {
	KillOnNoConversionSpend  float64 `json:"kill_on_no_conversion_spend" yaml:"kill_on_no_conversion_spend"`
	KillOnOneConversionSpend float64 `json:"kill_on_one_conversion_spend" yaml:"kill_on_one_conversion_spend"`
	MaxCPAAllowed            float64 `json:"max_cpa_allowed" yaml:"max_cpa_allowed"`
	ReactivateIfProfitable   bool    `json:"reactivate_if_profitable" yaml:"reactivate_if_profitable"`
	ReactivateIfCPABelow     float64 `json:"reactivate_if_cpa_below" yaml:"reactivate_if_cpa_below"`
}

// Chain returns the equivalent chained form. CPA tiers only apply from
// two conversions on, as in the three-tier shape.
func (l LegacyThresholds) Chain() []Condition {
	chain := []Condition{
		{
			Predicate: ConversionsAndSpend{Conversions: 0, SpendThreshold: l.KillOnNoConversionSpend},
			Action:    ActionKill,
		},
		{
			Predicate: ConversionsAndSpend{Conversions: 1, SpendThreshold: l.KillOnOneConversionSpend},
			Action:    ActionKill,
		},
		{
			Predicate: CPAThreshold{Threshold: l.MaxCPAAllowed, Operator: OpGTE, MinConversions: 2},
			Action:    ActionKill,
		},
	}
	if l.ReactivateIfProfitable {
		chain = append(chain, Condition{
			Predicate: CPAThreshold{Threshold: l.ReactivateIfCPABelow, Operator: OpLT, MinConversions: 2},
			Action:    ActionReactivate,
		})
	}
	return chain
}
