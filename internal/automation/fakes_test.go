package automation

import (
	"context"
	"sync"
	"time"

	"campaign-autopilot/internal/campaign"
	"campaign-autopilot/internal/rules"
	"campaign-autopilot/internal/upstream"
)

type fakeSource struct {
	mu          sync.Mutex
	spend       []campaign.SpendRecord
	attribution campaign.AttributionRecords
	spendErr    error
	attrErr     error
	platformErr error
	hang        bool
	attrHang    bool
	calls       int
	windows     []campaign.Window
}

func (f *fakeSource) FetchSpendAndStatus(ctx context.Context, _ string, w campaign.Window) ([]campaign.SpendRecord, error) {
	f.mu.Lock()
	f.calls++
	f.windows = append(f.windows, w)
	hang, err := f.hang, f.spendErr
	out := append([]campaign.SpendRecord(nil), f.spend...)
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return out, err
}

func (f *fakeSource) FetchAttributionRevenue(ctx context.Context, _ campaign.Window) (campaign.AttributionRecords, error) {
	f.mu.Lock()
	hang, out, err := f.attrHang, f.attribution, f.attrErr
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return campaign.AttributionRecords{}, ctx.Err()
	}
	return out, err
}

func (f *fakeSource) FetchPlatformConversions(context.Context, string, campaign.Window) (campaign.PlatformRecords, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return campaign.PlatformRecords{}, f.platformErr
}

func (f *fakeSource) set(fn func(f *fakeSource)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAccounts struct{ ids []string }

func (f fakeAccounts) ListAccounts(context.Context) ([]upstream.Account, error) {
	out := make([]upstream.Account, 0, len(f.ids))
	for _, id := range f.ids {
		out = append(out, upstream.Account{ID: id})
	}
	return out, nil
}

type setCall struct {
	id     string
	status campaign.Status
}

type fakeSetter struct {
	mu    sync.Mutex
	calls []setCall
	err   error
}

func (f *fakeSetter) SetCampaignStatus(_ context.Context, id string, status campaign.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, setCall{id, status})
	return f.err
}

func (f *fakeSetter) snapshot() []setCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]setCall(nil), f.calls...)
}

type busyLease struct{}

func (busyLease) Acquire(context.Context) (bool, error) { return false, nil }
func (busyLease) Release(context.Context) error         { return nil }

var fixedNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		PollInterval:   10 * time.Millisecond,
		ErrorBackoff:   20 * time.Millisecond,
		CacheFreshness: 5 * time.Minute,
		FetchTimeout:   time.Second,
		DefaultAccount: "act_1",
	}.withDefaults()
}

// killAtFifty kills any active campaign with no conversions past $50.
func killAtFifty(id string) rules.Rule {
	return rules.Rule{
		ID:     id,
		Name:   "Kill " + id,
		Payout: 75,
		Active: true,
		Chain: []rules.Condition{
			{Predicate: rules.ConversionsAndSpend{Conversions: 0, SpendThreshold: 50}, Action: rules.ActionKill, Description: "Kill at $50 with 0 conversions"},
		},
	}
}
