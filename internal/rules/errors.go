package rules

import (
	"errors"
	"fmt"
)

var (
	ErrRuleNotFound        = errors.New("rule not found")
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrDuplicateAssignment = errors.New("rule already assigned to this campaign")
)

// ValidationError is returned when a rule or condition is malformed.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid rule: " + e.Msg
	}
	return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Msg)
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
