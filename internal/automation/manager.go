package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-autopilot/internal/action"
	"campaign-autopilot/internal/pkg/distlock"
	"campaign-autopilot/internal/rules"
)

var ErrNoAssignments = errors.New("no rules assigned to any campaign")

type Deps struct {
	Source   MetricSource
	Accounts AccountLister
	Setter   action.StatusSetter
	Rules    rules.Store
	State    RunStateStore
	Leases   distlock.Factory
}

// Manager owns every user's Session and Scheduler. Sessions are created
// on first access and evicted on logout or after being idle.
type Manager struct {
	deps Deps
	opts Options
	exec *action.Executor
	now  func() time.Time
	base context.Context

	mu         sync.Mutex
	sessions   map[string]*Session
	schedulers map[string]*Scheduler
	wg         sync.WaitGroup
}

// NewManager builds a manager whose loops live as long as ctx.
func NewManager(ctx context.Context, deps Deps, opts Options) *Manager {
	if deps.Leases == nil {
		deps.Leases = distlock.NewFactory(nil, 0)
	}
	return &Manager{
		deps:       deps,
		opts:       opts.withDefaults(),
		exec:       action.NewExecutor(deps.Setter),
		now:        time.Now,
		base:       ctx,
		sessions:   map[string]*Session{},
		schedulers: map[string]*Scheduler{},
	}
}

func (m *Manager) Executor() *action.Executor { return m.exec }

// Session returns the user's session, creating it if needed.
func (m *Manager) Session(user string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[user]
	if !ok {
		s = newSession(user, m.deps.Source, m.deps.Accounts, m.opts, m.now)
		m.sessions[user] = s
	}
	s.touch()
	return s
}

// Start launches the user's loop unless one is already running. It
// reports whether a new loop was started.
func (m *Manager) Start(ctx context.Context, user string) (bool, error) {
	has, err := m.deps.Rules.HasAnyAssignment(ctx, user)
	if err != nil {
		return false, err
	}
	if !has {
		return false, ErrNoAssignments
	}

	s := m.Session(user)

	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.schedulers[user]
	if ok && !prev.stopped() {
		return false, nil
	}
	sc := newScheduler(s, m.deps.Rules, m.exec, m.deps.State, m.deps.Leases(user), m.opts, m.now)
	sc.confirmExit = func(ctx context.Context) bool { return m.confirmExit(ctx, user, sc) }
	m.schedulers[user] = sc
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if prev != nil {
			// a stopped loop may still be finishing its cycle
			<-prev.Done()
		}
		sc.Run(m.base)
		m.release(user, sc)
	}()
	return true, nil
}

// confirmExit re-reads the user's assignments under the lock Start holds.
// An assignment made while the loop was winding down keeps it running;
// otherwise the loop is marked stopped so the next Start replaces it.
func (m *Manager) confirmExit(ctx context.Context, user string, sc *Scheduler) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	has, err := m.deps.Rules.HasAnyAssignment(ctx, user)
	if err != nil {
		sc.logger.Error().Err(err).Msg("recheck assignments before exit")
		return false
	}
	if has {
		sc.logger.Info().Msg("assignment added while stopping; automation continues")
		return false
	}
	sc.Stop()
	return true
}

func (m *Manager) release(user string, sc *Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schedulers[user] == sc {
		delete(m.schedulers, user)
	}
}

// Stop signals the user's loop to exit and reports whether one was
// running. It does not wait for an in-flight cycle.
func (m *Manager) Stop(user string) bool {
	m.mu.Lock()
	sc, ok := m.schedulers[user]
	m.mu.Unlock()
	if !ok || sc.stopped() {
		return false
	}
	sc.Stop()
	return true
}

func (m *Manager) Running(user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schedulers[user]
	return ok && !sc.stopped()
}

func (m *Manager) Status(ctx context.Context, user string) (RunState, error) {
	return m.deps.State.Status(ctx, user)
}

// Logout stops the user's loop and forgets their session.
func (m *Manager) Logout(user string) {
	m.Stop(user)
	m.mu.Lock()
	delete(m.sessions, user)
	m.mu.Unlock()
}

// Invalidate drops the user's cached snapshots, if any.
func (m *Manager) Invalidate(user string) {
	m.mu.Lock()
	s, ok := m.sessions[user]
	m.mu.Unlock()
	if ok {
		s.Invalidate()
	}
}

// Run evicts idle sessions until ctx is done, then stops every loop and
// waits for them to finish their current cycle.
func (m *Manager) Run(ctx context.Context) {
	tick := time.NewTicker(m.opts.SessionIdle / 4)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-tick.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := m.now().Add(-m.opts.SessionIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	for user, s := range m.sessions {
		if _, running := m.schedulers[user]; running {
			continue
		}
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, user)
			log.Debug().Str("user", user).Msg("evicted idle session")
		}
	}
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	for _, sc := range m.schedulers {
		sc.Stop()
	}
	m.mu.Unlock()
	m.wg.Wait()
	log.Info().Msg("all automation loops stopped")
}
