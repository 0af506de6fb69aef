package rules

import "context"

// Store persists rules and campaign-to-rule assignments per user.
type Store interface {
	SaveRule(ctx context.Context, user string, r Rule) error
	ListRules(ctx context.Context, user string) ([]Rule, error)
	// GetRule returns ErrRuleNotFound for an unknown id.
	GetRule(ctx context.Context, user, ruleID string) (Rule, error)
	// DeleteRule removes the rule and every assignment of it.
	DeleteRule(ctx context.Context, user, ruleID string) error

	// Assign reports false when the triple already exists.
	Assign(ctx context.Context, user, campaignID, ruleID string) (bool, error)
	Unassign(ctx context.Context, user, campaignID, ruleID string) error
	// ListAssignments returns rule ids in assignment order.
	ListAssignments(ctx context.Context, user, campaignID string) ([]string, error)
	// AssignmentsByCampaign returns every campaign's rule ids in
	// assignment order.
	AssignmentsByCampaign(ctx context.Context, user string) (map[string][]string, error)
	HasAnyAssignment(ctx context.Context, user string) (bool, error)
}
