package listener

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"campaign-autopilot/internal/automation"
)

// Starter starts a user's automation loop if it is not running.
type Starter interface {
	Start(ctx context.Context, user string) (bool, error)
}

// ListenAndStart waits for assignment notifications (payload: user id) and
// starts the user's loop. A lost connection is re-established after a
// jittered backoff. It returns when ctx is done.
func ListenAndStart(ctx context.Context, pool *pgxpool.Pool, starter Starter, channel string, baseBackoff time.Duration) {
	for {
		err := listen(ctx, pool, starter, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("listener connection lost")
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, pool *pgxpool.Pool, starter Starter, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for rule assignments")

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		handle(ctx, starter, ntf.Payload)
	}
}

func handle(ctx context.Context, starter Starter, user string) {
	if user == "" {
		return
	}
	started, err := starter.Start(ctx, user)
	switch {
	case errors.Is(err, automation.ErrNoAssignments):
		// the assignment was removed again before we got here
		log.Debug().Str("user", user).Msg("assignment notification without assignments")
	case err != nil:
		log.Error().Err(err).Str("user", user).Msg("start automation")
	case started:
		log.Info().Str("user", user).Msg("assignment created; automation started")
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
