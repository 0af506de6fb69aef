// Package storagetest provides an in-memory rules.Store for tests.
package storagetest

import (
	"context"
	"slices"
	"sync"

	"campaign-autopilot/internal/rules"
)

type assignment struct {
	user, campaignID, ruleID string
}

// MemoryStore implements rules.Store with the same ordering and cascade
// semantics as the Postgres store. Err, when set, is returned from every
// call.
type MemoryStore struct {
	mu          sync.Mutex
	rules       map[string][]rules.Rule // user -> rules in creation order
	assignments []assignment
	Err         error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: map[string][]rules.Rule{}}
}

func (m *MemoryStore) SaveRule(_ context.Context, user string, r rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	list := m.rules[user]
	for i := range list {
		if list[i].ID == r.ID {
			list[i] = r
			return nil
		}
	}
	m.rules[user] = append(list, r)
	return nil
}

func (m *MemoryStore) ListRules(_ context.Context, user string) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return slices.Clone(m.rules[user]), nil
}

func (m *MemoryStore) GetRule(_ context.Context, user, ruleID string) (rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return rules.Rule{}, m.Err
	}
	for _, r := range m.rules[user] {
		if r.ID == ruleID {
			return r, nil
		}
	}
	return rules.Rule{}, rules.ErrRuleNotFound
}

func (m *MemoryStore) DeleteRule(_ context.Context, user, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	list := m.rules[user]
	i := slices.IndexFunc(list, func(r rules.Rule) bool { return r.ID == ruleID })
	if i < 0 {
		return rules.ErrRuleNotFound
	}
	m.rules[user] = slices.Delete(list, i, i+1)
	m.assignments = slices.DeleteFunc(m.assignments, func(a assignment) bool {
		return a.user == user && a.ruleID == ruleID
	})
	return nil
}

func (m *MemoryStore) Assign(_ context.Context, user, campaignID, ruleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	a := assignment{user, campaignID, ruleID}
	if slices.Contains(m.assignments, a) {
		return false, nil
	}
	m.assignments = append(m.assignments, a)
	return true, nil
}

func (m *MemoryStore) Unassign(_ context.Context, user, campaignID, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.assignments = slices.DeleteFunc(m.assignments, func(a assignment) bool {
		return a == assignment{user, campaignID, ruleID}
	})
	return nil
}

func (m *MemoryStore) ListAssignments(_ context.Context, user, campaignID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []string
	for _, a := range m.assignments {
		if a.user == user && a.campaignID == campaignID {
			out = append(out, a.ruleID)
		}
	}
	return out, nil
}

func (m *MemoryStore) AssignmentsByCampaign(_ context.Context, user string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := map[string][]string{}
	for _, a := range m.assignments {
		if a.user == user {
			out[a.campaignID] = append(out[a.campaignID], a.ruleID)
		}
	}
	return out, nil
}

func (m *MemoryStore) HasAnyAssignment(_ context.Context, user string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return slices.ContainsFunc(m.assignments, func(a assignment) bool { return a.user == user }), nil
}

// SetErr sets the error returned by every subsequent call.
func (m *MemoryStore) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

func (m *MemoryStore) AssignedUsers(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []string
	for _, a := range m.assignments {
		if !slices.Contains(out, a.user) {
			out = append(out, a.user)
		}
	}
	slices.Sort(out)
	return out, nil
}
