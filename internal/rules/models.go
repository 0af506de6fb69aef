package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"campaign-autopilot/internal/campaign"
)

// Action is both what a condition asks for and what a decision carries.
// Conditions use kill, reactivate or continue; decisions use kill,
// reactivate, no_action or skip.
type Action string

const (
	ActionKill       Action = "kill"
	ActionReactivate Action = "reactivate"
	ActionContinue   Action = "continue"
	ActionNoAction   Action = "no_action"
	ActionSkip       Action = "skip"
)

type Kind string

const (
	KindConversionsAndSpend Kind = "conversions_and_spend"
	KindConversionsExact    Kind = "conversions_exact"
	KindCPAThreshold        Kind = "cpa_threshold"
	KindStatus              Kind = "status"
)

type Operator string

const (
	OpGT  Operator = ">"
	OpGTE Operator = ">="
	OpLT  Operator = "<"
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
)

// cpaEpsilon absorbs rounding when comparing CPA with ==.
const cpaEpsilon = 0.01

// Metrics is what a predicate sees: the snapshot's numbers after the
// rule's payout has been applied.
type Metrics struct {
	Conversions int
	Spend       float64
	CPA         float64
	Payout      float64
	Status      campaign.Status
}

// Predicate is one variant of the condition sum type.
type Predicate interface {
	Kind() Kind
	Match(m Metrics) bool
	String() string
	validate() error
}

type ConversionsAndSpend struct {
	Conversions    int
	SpendThreshold float64
}

func (ConversionsAndSpend) Kind() Kind { return KindConversionsAndSpend }

func (p ConversionsAndSpend) Match(m Metrics) bool {
	return m.Conversions == p.Conversions && m.Spend >= p.SpendThreshold
}

func (p ConversionsAndSpend) String() string {
	return fmt.Sprintf("%d conversions and spend >= $%.2f", p.Conversions, p.SpendThreshold)
}

func (p ConversionsAndSpend) validate() error {
	if p.Conversions < 0 {
		return &ValidationError{Field: "conversions", Msg: "must not be negative"}
	}
	if p.SpendThreshold < 0 {
		return &ValidationError{Field: "spend_threshold", Msg: "must not be negative"}
	}
	return nil
}

type ConversionsExact struct {
	Conversions int
}

func (ConversionsExact) Kind() Kind { return KindConversionsExact }

func (p ConversionsExact) Match(m Metrics) bool { return m.Conversions == p.Conversions }

func (p ConversionsExact) String() string { return fmt.Sprintf("exactly %d conversions", p.Conversions) }

func (p ConversionsExact) validate() error {
	if p.Conversions < 0 {
		return &ValidationError{Field: "conversions", Msg: "must not be negative"}
	}
	return nil
}

// CPAThreshold compares CPA with Threshold. CPA is undefined without
// conversions, so the predicate never matches at zero conversions, nor
// below MinConversions when that is set.
type CPAThreshold struct {
	Threshold      float64
	Operator       Operator
	MinConversions int
}

func (CPAThreshold) Kind() Kind { return KindCPAThreshold }

func (p CPAThreshold) Match(m Metrics) bool {
	if m.Conversions <= 0 || m.Conversions < p.MinConversions || math.IsInf(m.CPA, 0) {
		return false
	}
	switch p.Operator {
	case OpGT:
		return m.CPA > p.Threshold
	case OpGTE:
		return m.CPA >= p.Threshold
	case OpLT:
		return m.CPA < p.Threshold
	case OpLTE:
		return m.CPA <= p.Threshold
	case OpEQ:
		return math.Abs(m.CPA-p.Threshold) < cpaEpsilon
	}
	return false
}

func (p CPAThreshold) String() string {
	s := fmt.Sprintf("CPA %s $%.2f", p.Operator, p.Threshold)
	if p.MinConversions > 0 {
		s += fmt.Sprintf(" at %d+ conversions", p.MinConversions)
	}
	return s
}

func (p CPAThreshold) validate() error {
	switch p.Operator {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ:
	default:
		return &ValidationError{Field: "operator", Msg: fmt.Sprintf("unsupported operator %q", p.Operator)}
	}
	if p.Threshold < 0 {
		return &ValidationError{Field: "cpa_threshold", Msg: "must not be negative"}
	}
	if p.MinConversions < 0 {
		return &ValidationError{Field: "min_conversions", Msg: "must not be negative"}
	}
	return nil
}

type StatusIs struct {
	Status campaign.Status
}

func (StatusIs) Kind() Kind { return KindStatus }

func (p StatusIs) Match(m Metrics) bool { return m.Status == p.Status }

func (p StatusIs) String() string { return fmt.Sprintf("campaign is %s", p.Status) }

func (p StatusIs) validate() error {
	if p.Status != campaign.StatusActive && p.Status != campaign.StatusPaused {
		return &ValidationError{Field: "status", Msg: fmt.Sprintf("unsupported status %q", p.Status)}
	}
	return nil
}

// Condition is one link of a rule's chain.
type Condition struct {
	Predicate   Predicate
	Action      Action
	Description string
}

// Label is the authored description, or the predicate text if none.
func (c Condition) Label() string {
	if c.Description != "" {
		return c.Description
	}
	return c.Predicate.String()
}

// Rule is a user-owned chain of conditions. Chain order is significant
// and kept exactly as authored.
type Rule struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Payout    float64           `json:"payout" yaml:"payout"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
	Active    bool              `json:"active" yaml:"active"`
	Chain     []Condition       `json:"chain_logic" yaml:"chain_logic"`
	Legacy    *LegacyThresholds `json:"legacy,omitempty" yaml:"legacy,omitempty"`
}

// NewRule builds an active rule with a fresh id. Legacy thresholds are
// expanded into the chain when no chain is given.
func NewRule(name string, payout float64, chain []Condition, legacy *LegacyThresholds, now time.Time) (Rule, error) {
	r := Rule{
		ID:        uuid.NewString(),
		Name:      name,
		Payout:    payout,
		CreatedAt: now.UTC(),
		Active:    true,
		Chain:     chain,
		Legacy:    legacy,
	}
	r.Normalize()
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Normalize expands legacy thresholds into the equivalent chain.
func (r *Rule) Normalize() {
	if len(r.Chain) == 0 && r.Legacy != nil {
		r.Chain = r.Legacy.Chain()
	}
}
