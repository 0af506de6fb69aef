package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"campaign-autopilot/internal/automation"
	"campaign-autopilot/internal/config"
)

// NewRedis connects to the configured Redis. It returns a nil client when
// no address is configured.
func NewRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

// RedisRunState stores each user's run state in a hash so every process
// serving the user reports the same state.
type RedisRunState struct {
	client *redis.Client
}

var _ automation.RunStateStore = (*RedisRunState)(nil)

func NewRedisRunState(client *redis.Client) *RedisRunState {
	return &RedisRunState{client: client}
}

func runKey(user string) string { return "automation:run:" + user }

func (r *RedisRunState) SetRunning(ctx context.Context, user string, running bool, at time.Time) error {
	fields := map[string]any{"is_running": strconv.FormatBool(running)}
	if running {
		fields["started_at"] = at.UTC().Format(time.RFC3339Nano)
	}
	if err := r.client.HSet(ctx, runKey(user), fields).Err(); err != nil {
		return fmt.Errorf("set run state: %w", err)
	}
	return nil
}

func (r *RedisRunState) RecordCheck(ctx context.Context, user string, at time.Time, actions int) error {
	if err := r.client.HSet(ctx, runKey(user),
		"last_check", at.UTC().Format(time.RFC3339Nano),
		"last_action_count", actions,
	).Err(); err != nil {
		return fmt.Errorf("record check: %w", err)
	}
	return nil
}

func (r *RedisRunState) Status(ctx context.Context, user string) (automation.RunState, error) {
	m, err := r.client.HGetAll(ctx, runKey(user)).Result()
	if err != nil {
		return automation.RunState{}, fmt.Errorf("get run state: %w", err)
	}
	var st automation.RunState
	st.IsRunning, _ = strconv.ParseBool(m["is_running"])
	st.StartedAt = parseTime(m["started_at"])
	st.LastCheck = parseTime(m["last_check"])
	st.LastActionCount, _ = strconv.Atoi(m["last_action_count"])
	return st, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
