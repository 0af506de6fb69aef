package rules

import (
	"fmt"
	"strings"
)

// Validate checks a rule before it is stored. Evaluation assumes a rule
// that passed Validate.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Msg: "is required"}
	}
	if r.Payout <= 0 {
		return &ValidationError{Field: "payout", Msg: "must be positive"}
	}
	if len(r.Chain) == 0 {
		return &ValidationError{Field: "chain_logic", Msg: "needs at least one condition"}
	}
	for i, c := range r.Chain {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
	}
	return nil
}

func (c Condition) Validate() error {
	if c.Predicate == nil {
		return &ValidationError{Field: "type", Msg: "is required"}
	}
	switch c.Action {
	case ActionKill, ActionReactivate, ActionContinue:
	default:
		return &ValidationError{Field: "action", Msg: fmt.Sprintf("unsupported action %q", c.Action)}
	}
	return c.Predicate.validate()
}
