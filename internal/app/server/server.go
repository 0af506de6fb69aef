package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-autopilot/internal/api"
	"campaign-autopilot/internal/automation"
	"campaign-autopilot/internal/config"
	"campaign-autopilot/internal/listener"
	"campaign-autopilot/internal/pkg/distlock"
	"campaign-autopilot/internal/storage"
	"campaign-autopilot/internal/upstream"
)

// assignedUsers is implemented by stores that can list users to resume.
type assignedUsers interface {
	AssignedUsers(ctx context.Context) ([]string, error)
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()
	if cfg.Postgres.Migrate {
		if err := store.Migrate(rootCtx, cfg.Listener.Channel); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
	}

	// Run state + leases (Redis optional)
	rdb, err := storage.NewRedis(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init redis")
	}
	var state automation.RunStateStore = automation.NewMemoryRunState()
	if rdb != nil {
		defer rdb.Close()
		state = storage.NewRedisRunState(rdb)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("run state and leases in redis")
	}

	// Upstreams
	meta := upstream.NewMeta(metaConfig(cfg))
	attribution := upstream.NewAttribution(attributionConfig(cfg))

	opts := automationOptions(cfg)
	mgr := automation.NewManager(rootCtx, automation.Deps{
		Source:   upstream.Source{Meta: meta, Attribution: attribution},
		Accounts: meta,
		Setter:   meta,
		Rules:    store,
		State:    state,
		Leases:   distlock.NewFactory(rdb, leaseTTL(opts)),
	}, opts)
	mgrDone := make(chan struct{})
	go func() {
		mgr.Run(rootCtx)
		close(mgrDone)
	}()

	resume(rootCtx, store, mgr)

	// HTTP
	h := api.NewHandler(store, mgr, meta)
	srv := newHTTPServer(cfg, api.Router(h))

	// Listener (LISTEN/NOTIFY)
	go listener.ListenAndStart(rootCtx, store.PgxPool(), mgr, cfg.Listener.Channel, cfg.Backoff())

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel() // stop background goroutines
	select {
	case <-mgrDone:
	case <-shCtx.Done():
		log.Warn().Msg("automation loops still finishing a cycle at exit")
	}
}

// resume restarts loops for users that had assignments before the
// process went down.
func resume(ctx context.Context, users assignedUsers, starter listener.Starter) int {
	list, err := users.AssignedUsers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list users to resume")
		return 0
	}
	n := 0
	for _, u := range list {
		started, err := starter.Start(ctx, u)
		if err != nil {
			log.Error().Err(err).Str("user", u).Msg("resume automation")
			continue
		}
		if started {
			n++
		}
	}
	log.Info().Int("users", n).Msg("automation resumed")
	return n
}

func newHTTPServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func metaConfig(cfg config.Config) upstream.MetaConfig {
	return upstream.MetaConfig{
		BaseURL:    cfg.Meta.BaseURL,
		Token:      cfg.Meta.Token,
		Timeout:    time.Duration(cfg.Meta.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Meta.MaxRetries,
	}
}

func attributionConfig(cfg config.Config) upstream.AttributionConfig {
	return upstream.AttributionConfig{
		BaseURL:    cfg.Attribution.BaseURL,
		APIKey:     cfg.Attribution.APIKey,
		Timezone:   cfg.Attribution.Timezone,
		Timeout:    time.Duration(cfg.Attribution.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Attribution.MaxRetries,
	}
}

func automationOptions(cfg config.Config) automation.Options {
	loc, err := time.LoadLocation(cfg.Attribution.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Attribution.Timezone).Msg("unknown timezone; using UTC")
		loc = time.UTC
	}
	// a refresh retries each upstream; leave room for both clients' retries
	fetch := time.Duration(max(cfg.Meta.TimeoutSeconds, cfg.Attribution.TimeoutSeconds)*(1+max(cfg.Meta.MaxRetries, cfg.Attribution.MaxRetries))) * time.Second
	return automation.Options{
		PollInterval:   cfg.PollInterval(),
		ErrorBackoff:   cfg.ErrorBackoff(),
		CacheFreshness: cfg.CacheFreshness(),
		SessionIdle:    cfg.SessionIdle(),
		FetchTimeout:   fetch,
		DefaultPeriod:  cfg.Automation.DefaultPeriod,
		DefaultAccount: cfg.Meta.AccountID,
		ActivityLimit:  cfg.Automation.ActivityLimit,
		Location:       loc,
	}
}

// leaseTTL outlasts a full cycle plus the longest wait before the next.
func leaseTTL(o automation.Options) time.Duration {
	return o.FetchTimeout + 2*max(o.PollInterval, o.ErrorBackoff)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
