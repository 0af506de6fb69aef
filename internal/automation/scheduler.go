package automation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"campaign-autopilot/internal/action"
	"campaign-autopilot/internal/observability"
	"campaign-autopilot/internal/pkg/distlock"
	"campaign-autopilot/internal/rules"
)

// Scheduler is one user's automation loop. Cycles run sequentially; a
// cycle that has started always runs to completion.
type Scheduler struct {
	session *Session
	store   rules.Store
	exec    *action.Executor
	state   RunStateStore
	lease   distlock.Lease
	opts    Options
	now     func() time.Time
	logger  zerolog.Logger

	// confirmExit is asked before the loop leaves on an empty assignment
	// read. It returns false when the loop must keep running.
	confirmExit func(ctx context.Context) bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newScheduler(s *Session, store rules.Store, exec *action.Executor, state RunStateStore, lease distlock.Lease, opts Options, now func() time.Time) *Scheduler {
	if lease == nil {
		lease = distlock.Local{}
	}
	return &Scheduler{
		session: s,
		store:   store,
		exec:    exec,
		state:   state,
		lease:   lease,
		opts:    opts,
		now:     now,
		logger:  log.With().Str("user", s.User()).Logger(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Stop asks the loop to exit. It is observed before the next cycle.
func (sc *Scheduler) Stop() { sc.stopOnce.Do(func() { close(sc.stop) }) }

// Done is closed once the loop has exited.
func (sc *Scheduler) Done() <-chan struct{} { return sc.done }

func (sc *Scheduler) stopped() bool {
	select {
	case <-sc.stop:
		return true
	default:
		return false
	}
}

// Run blocks until the user has no assignments left, Stop is called or
// ctx is done.
func (sc *Scheduler) Run(ctx context.Context) {
	defer close(sc.done)
	// cycles must not be cut short by ctx; only the waits between them are
	work := context.WithoutCancel(ctx)

	observability.RunningSchedulers.Inc()
	defer observability.RunningSchedulers.Dec()

	if err := sc.state.SetRunning(work, sc.session.User(), true, sc.now().UTC()); err != nil {
		sc.logger.Error().Err(err).Msg("record run state")
	}
	sc.logger.Info().Dur("interval", sc.opts.PollInterval).Msg("automation started")
	defer func() {
		if err := sc.state.SetRunning(work, sc.session.User(), false, sc.now().UTC()); err != nil {
			sc.logger.Error().Err(err).Msg("record run state")
		}
		if err := sc.lease.Release(work); err != nil {
			sc.logger.Warn().Err(err).Msg("release lease")
		}
		sc.logger.Info().Msg("automation stopped")
	}()

	for {
		if sc.stopped() || ctx.Err() != nil {
			return
		}

		wait := sc.opts.PollInterval
		more, err := sc.safeCycle(work)
		switch {
		case err != nil:
			observability.CyclesTotal.WithLabelValues("error").Inc()
			sc.logger.Error().Err(err).Dur("retry_in", sc.opts.ErrorBackoff).Msg("automation cycle failed")
			wait = sc.opts.ErrorBackoff
		case !more:
			if sc.leave(work) {
				observability.CyclesTotal.WithLabelValues("no_assignments").Inc()
				return
			}
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-sc.stop:
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (sc *Scheduler) leave(ctx context.Context) bool {
	if sc.confirmExit == nil {
		sc.Stop()
		return true
	}
	return sc.confirmExit(ctx)
}

// safeCycle turns a panic inside a cycle into an error.
func (sc *Scheduler) safeCycle(ctx context.Context) (more bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			sc.logger.Error().Str("stack", string(debug.Stack())).Msg("panic in automation cycle")
			more, err = true, fmt.Errorf("panic: %v", r)
		}
	}()
	start := time.Now()
	defer func() { observability.CycleDuration.Observe(time.Since(start).Seconds()) }()
	return sc.cycle(ctx)
}

// cycle evaluates every assigned rule once. It reports false when the
// user no longer has any assignment.
func (sc *Scheduler) cycle(ctx context.Context) (bool, error) {
	user := sc.session.User()

	has, err := sc.store.HasAnyAssignment(ctx, user)
	if err != nil {
		return true, fmt.Errorf("check assignments: %w", err)
	}
	if !has {
		sc.logger.Info().Msg("no rule assignments left")
		return false, nil
	}

	held, err := sc.lease.Acquire(ctx)
	if err != nil {
		return true, err
	}
	if !held {
		sc.logger.Debug().Msg("another process owns this user's automation; skipping cycle")
		observability.CyclesTotal.WithLabelValues("lease_busy").Inc()
		return true, nil
	}

	assigned, err := sc.store.AssignmentsByCampaign(ctx, user)
	if err != nil {
		return true, fmt.Errorf("load assignments: %w", err)
	}
	if len(assigned) == 0 {
		return false, nil
	}

	batch, err := sc.session.Snapshots(ctx, RefreshOptions{})
	if err != nil {
		return true, fmt.Errorf("refresh metrics: %w", err)
	}

	loaded := map[string]*rules.Rule{}
	ruleFor := func(id string) (*rules.Rule, error) {
		if r, ok := loaded[id]; ok {
			return r, nil
		}
		r, err := sc.store.GetRule(ctx, user, id)
		if errors.Is(err, rules.ErrRuleNotFound) {
			loaded[id] = nil
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		loaded[id] = &r
		return &r, nil
	}

	campaignIDs := make([]string, 0, len(assigned))
	for id := range assigned {
		campaignIDs = append(campaignIDs, id)
	}
	sort.Strings(campaignIDs)

	actions := 0
	for _, cid := range campaignIDs {
		snap, ok := batch.Find(cid)
		if !ok {
			sc.logger.Debug().Str("campaign_id", cid).Msg("assigned campaign not in account")
			continue
		}
		for _, rid := range assigned[cid] {
			r, err := ruleFor(rid)
			if err != nil {
				return true, fmt.Errorf("load rule %s: %w", rid, err)
			}
			if r == nil || !r.Active {
				continue
			}

			d := rules.Evaluate(*r, snap)
			sc.logger.Debug().Str("campaign_id", cid).Str("rule", r.Name).Str("action", string(d.Action)).Msg(d.Reason)

			if d.Action == rules.ActionSkip {
				observability.SkippedEvaluations.Inc()
				continue
			}
			if !d.Actionable(snap.Status) {
				continue
			}

			res := sc.exec.Apply(ctx, sc.session, snap, d)
			if res.Success && !res.NoOp {
				actions++
			}
			// the campaign has been acted on (or the attempt failed);
			// its remaining rules wait for the next cycle
			break
		}
	}

	if err := sc.state.RecordCheck(ctx, user, sc.now().UTC(), actions); err != nil {
		sc.logger.Error().Err(err).Msg("record check")
	}
	observability.CyclesTotal.WithLabelValues("ok").Inc()
	return true, nil
}
