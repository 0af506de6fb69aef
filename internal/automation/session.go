package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"campaign-autopilot/internal/action"
	"campaign-autopilot/internal/cache"
	"campaign-autopilot/internal/campaign"
	"campaign-autopilot/internal/observability"
	"campaign-autopilot/internal/rules"
	"campaign-autopilot/internal/upstream"
)

var ErrNoAccount = errors.New("no ad account selected")

// MetricSource is the read side of the two upstreams.
type MetricSource interface {
	FetchSpendAndStatus(ctx context.Context, accountID string, w campaign.Window) ([]campaign.SpendRecord, error)
	FetchAttributionRevenue(ctx context.Context, w campaign.Window) (campaign.AttributionRecords, error)
	FetchPlatformConversions(ctx context.Context, accountID string, w campaign.Window) (campaign.PlatformRecords, error)
}

type AccountLister interface {
	ListAccounts(ctx context.Context) ([]upstream.Account, error)
}

// Options tune sessions and loops. Zero fields take the defaults below.
type Options struct {
	PollInterval   time.Duration
	ErrorBackoff   time.Duration
	CacheFreshness time.Duration
	SessionIdle    time.Duration
	FetchTimeout   time.Duration
	DefaultPeriod  string
	DefaultAccount string
	ActivityLimit  int
	Location       *time.Location
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 60 * time.Second
	}
	if o.CacheFreshness <= 0 {
		o.CacheFreshness = 5 * time.Minute
	}
	if o.SessionIdle <= 0 {
		o.SessionIdle = time.Hour
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if !campaign.ValidPeriod(o.DefaultPeriod) {
		o.DefaultPeriod = campaign.PeriodLast30Days
	}
	if o.ActivityLimit <= 0 {
		o.ActivityLimit = 50
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Session is one user's view of their ad account: the snapshot cache,
// the selected account and the recent activity list. All of it is safe
// for concurrent use by the user's loop and request handlers.
type Session struct {
	user     string
	src      MetricSource
	accounts AccountLister
	opts     Options
	now      func() time.Time

	refreshMu sync.Mutex // one upstream refresh at a time

	mu         sync.Mutex
	accountID  string
	snapshots  *cache.Fresh[campaign.Batch]
	activities []action.Activity
	lastSeen   time.Time
}

func newSession(user string, src MetricSource, accounts AccountLister, opts Options, now func() time.Time) *Session {
	return &Session{
		user:      user,
		src:       src,
		accounts:  accounts,
		opts:      opts,
		now:       now,
		accountID: opts.DefaultAccount,
		snapshots: &cache.Fresh[campaign.Batch]{},
		lastSeen:  now(),
	}
}

func (s *Session) User() string { return s.user }

func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// SetAccount switches the session to another ad account. Cached
// snapshots belong to the previous account and are dropped.
func (s *Session) SetAccount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.accountID {
		return
	}
	s.accountID = id
	s.snapshots = &cache.Fresh[campaign.Batch]{}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) cache() *cache.Fresh[campaign.Batch] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots
}

// Invalidate forces the next default-window read to go upstream.
func (s *Session) Invalidate() { s.cache().Invalidate() }

type RefreshOptions struct {
	Force  bool
	Period string
}

// Snapshots returns the reconciled batch for the requested period. The
// default period is served from cache while fresh; other periods and
// forced reads always go upstream and are not cached.
func (s *Session) Snapshots(ctx context.Context, o RefreshOptions) (campaign.Batch, error) {
	period := o.Period
	if period == "" {
		period = s.opts.DefaultPeriod
	}
	if period != s.opts.DefaultPeriod {
		return s.fetch(ctx, period)
	}

	c := s.cache()
	if !o.Force {
		if b, ok := c.Get(s.now(), s.opts.CacheFreshness); ok {
			return b, nil
		}
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	// another caller may have refreshed while we waited
	if !o.Force {
		if b, ok := c.Get(s.now(), s.opts.CacheFreshness); ok {
			return b, nil
		}
	}
	b, err := s.fetch(ctx, period)
	if err != nil {
		return campaign.Batch{}, err
	}
	c.Store(b, b.FetchedAt)
	return b, nil
}

// Snapshot returns the cached snapshot for a campaign, refreshing when
// nothing is cached yet.
func (s *Session) Snapshot(ctx context.Context, campaignID string) (campaign.Snapshot, error) {
	b, _, ok := s.cache().Peek()
	if !ok {
		var err error
		if b, err = s.Snapshots(ctx, RefreshOptions{}); err != nil {
			return campaign.Snapshot{}, err
		}
	}
	snap, found := b.Find(campaignID)
	if !found {
		return campaign.Snapshot{}, fmt.Errorf("campaign %s: %w", campaignID, rules.ErrCampaignNotFound)
	}
	return snap, nil
}

func (s *Session) fetch(ctx context.Context, period string) (campaign.Batch, error) {
	account, err := s.ensureAccount(ctx)
	if err != nil {
		return campaign.Batch{}, err
	}
	now := s.now()
	w := campaign.WindowFor(period, now, s.opts.Location)
	in := campaign.Inputs{Window: w, FetchedAt: now.UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, s.opts.FetchTimeout)
		defer cancel()
		spend, err := s.src.FetchSpendAndStatus(fctx, account, w)
		if err != nil {
			observability.UpstreamErrors.WithLabelValues("spend").Inc()
			return fmt.Errorf("fetch spend and status: %w", err)
		}
		in.Spend = spend
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, s.opts.FetchTimeout)
		defer cancel()
		in.Attribution, in.AttributionErr = s.src.FetchAttributionRevenue(fctx, w)
		// a failed spend fetch cancels gctx; the fetches it cuts short are not upstream failures
		if in.AttributionErr != nil && gctx.Err() == nil {
			observability.UpstreamErrors.WithLabelValues("attribution").Inc()
			log.Warn().Err(in.AttributionErr).Str("user", s.user).Msg("attribution revenue unavailable")
		}
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, s.opts.FetchTimeout)
		defer cancel()
		in.Platform, in.PlatformErr = s.src.FetchPlatformConversions(fctx, account, w)
		if in.PlatformErr != nil && gctx.Err() == nil {
			observability.UpstreamErrors.WithLabelValues("platform").Inc()
			log.Warn().Err(in.PlatformErr).Str("user", s.user).Msg("platform conversions unavailable")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return campaign.Batch{}, err
	}

	return campaign.Reconcile(in), nil
}

func (s *Session) ensureAccount(ctx context.Context) (string, error) {
	if id := s.AccountID(); id != "" {
		return id, nil
	}
	if s.accounts == nil {
		return "", ErrNoAccount
	}
	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()
	accts, err := s.accounts.ListAccounts(fctx)
	if err != nil {
		return "", fmt.Errorf("list ad accounts: %w", err)
	}
	if len(accts) == 0 {
		return "", ErrNoAccount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountID == "" {
		s.accountID = accts[0].ID
	}
	return s.accountID, nil
}

// SetStatus updates the cached snapshot after a successful mutation.
func (s *Session) SetStatus(campaignID string, status campaign.Status) bool {
	found := false
	s.cache().Update(func(b *campaign.Batch) {
		for i := range b.Snapshots {
			if b.Snapshots[i].ID == campaignID {
				b.Snapshots[i].Status = status
				found = true
				return
			}
		}
	})
	return found
}

func (s *Session) Record(a action.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, a)
	if over := len(s.activities) - s.opts.ActivityLimit; over > 0 {
		s.activities = append(s.activities[:0:0], s.activities[over:]...)
	}
}

// Activities returns the recent activity list, newest first.
func (s *Session) Activities() []action.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]action.Activity, len(s.activities))
	for i, a := range s.activities {
		out[len(out)-1-i] = a
	}
	return out
}
