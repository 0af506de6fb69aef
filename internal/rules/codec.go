package rules

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"campaign-autopilot/internal/campaign"
)

// conditionDoc is the flat wire form of a condition, shared by the JSON
// API, the jsonb column and YAML rule files.
type conditionDoc struct {
	Type           Kind     `json:"type" yaml:"type"`
	Action         Action   `json:"action" yaml:"action"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	Reason         string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Conversions    *int     `json:"conversions,omitempty" yaml:"conversions,omitempty"`
	SpendThreshold *float64 `json:"spend_threshold,omitempty" yaml:"spend_threshold,omitempty"`
	CPAThreshold   *float64 `json:"cpa_threshold,omitempty" yaml:"cpa_threshold,omitempty"`
	Operator       Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	MinConversions int      `json:"min_conversions,omitempty" yaml:"min_conversions,omitempty"`
	Status         string   `json:"status,omitempty" yaml:"status,omitempty"`
}

func (c Condition) toDoc() (conditionDoc, error) {
	d := conditionDoc{Action: c.Action, Description: c.Description}
	switch p := c.Predicate.(type) {
	case ConversionsAndSpend:
		d.Type = KindConversionsAndSpend
		d.Conversions = &p.Conversions
		d.SpendThreshold = &p.SpendThreshold
	case ConversionsExact:
		d.Type = KindConversionsExact
		d.Conversions = &p.Conversions
	case CPAThreshold:
		d.Type = KindCPAThreshold
		d.CPAThreshold = &p.Threshold
		d.Operator = p.Operator
		d.MinConversions = p.MinConversions
	case StatusIs:
		d.Type = KindStatus
		d.Status = string(p.Status)
	default:
		return d, fmt.Errorf("unknown predicate %T", c.Predicate)
	}
	return d, nil
}

func (d conditionDoc) toCondition() (Condition, error) {
	c := Condition{Action: d.Action, Description: d.Description}
	if c.Description == "" {
		c.Description = d.Reason
	}
	switch d.Type {
	case KindConversionsAndSpend:
		if d.Conversions == nil || d.SpendThreshold == nil {
			return c, &ValidationError{Field: "conversions_and_spend", Msg: "needs conversions and spend_threshold"}
		}
		c.Predicate = ConversionsAndSpend{Conversions: *d.Conversions, SpendThreshold: *d.SpendThreshold}
	case KindConversionsExact:
		if d.Conversions == nil {
			return c, &ValidationError{Field: "conversions_exact", Msg: "needs conversions"}
		}
		c.Predicate = ConversionsExact{Conversions: *d.Conversions}
	case KindCPAThreshold:
		if d.CPAThreshold == nil {
			return c, &ValidationError{Field: "cpa_threshold", Msg: "is required"}
		}
		op := d.Operator
		if op == "" {
			op = OpGT
		}
		c.Predicate = CPAThreshold{Threshold: *d.CPAThreshold, Operator: op, MinConversions: d.MinConversions}
	case KindStatus:
		c.Predicate = StatusIs{Status: campaign.Status(d.Status)}
	default:
		return c, &ValidationError{Field: "type", Msg: fmt.Sprintf("unknown condition type %q", d.Type)}
	}
	return c, c.Validate()
}

func (c Condition) MarshalJSON() ([]byte, error) {
	d, err := c.toDoc()
	if err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

func (c *Condition) UnmarshalJSON(b []byte) error {
	var d conditionDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	out, err := d.toCondition()
	if err != nil {
		return err
	}
	*c = out
	return nil
}

func (c Condition) MarshalYAML() (any, error) { return c.toDoc() }

func (c *Condition) UnmarshalYAML(n *yaml.Node) error {
	var d conditionDoc
	if err := n.Decode(&d); err != nil {
		return err
	}
	out, err := d.toCondition()
	if err != nil {
		return err
	}
	*c = out
	return nil
}
