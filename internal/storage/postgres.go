package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"campaign-autopilot/internal/config"
	"campaign-autopilot/internal/rules"
)

//go:embed schema.sql
var schema string

const queryTimeout = 5 * time.Second

// Store is the Postgres rules.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ rules.Store = (*Store)(nil)

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}

// Migrate creates the tables and the trigger that notifies channel on
// every new assignment.
func (s *Store) Migrate(ctx context.Context, channel string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	trigger := fmt.Sprintf(`
		DROP TRIGGER IF EXISTS rule_assignment_notify ON rule_assignments;
		CREATE TRIGGER rule_assignment_notify AFTER INSERT ON rule_assignments
			FOR EACH ROW EXECUTE FUNCTION notify_rule_assignment(%s);`, quoteLiteral(channel))
	if _, err := s.pool.Exec(ctx, trigger); err != nil {
		return fmt.Errorf("create notify trigger: %w", err)
	}
	return nil
}

// SaveRule inserts r or updates it in place. Id, owner and created_at
// never change on update.
func (s *Store) SaveRule(ctx context.Context, user string, r rules.Rule) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	chain, legacy, err := encodeRule(r)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO rules (id, user_id, name, payout, active, chain, legacy, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		   SET name = EXCLUDED.name, payout = EXCLUDED.payout, active = EXCLUDED.active,
		       chain = EXCLUDED.chain, legacy = EXCLUDED.legacy
		 WHERE rules.user_id = EXCLUDED.user_id
	`, r.ID, user, r.Name, r.Payout, r.Active, chain, legacy, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// the id exists but belongs to someone else
		return rules.ErrRuleNotFound
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context, user string) ([]rules.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, payout, active, chain, legacy, created_at
		FROM rules WHERE user_id = $1 ORDER BY seq
	`, user)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetRule(ctx context.Context, user, ruleID string) (rules.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT id, name, payout, active, chain, legacy, created_at
		FROM rules WHERE user_id = $1 AND id = $2
	`, user, ruleID)
	r, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.Rule{}, rules.ErrRuleNotFound
	}
	return r, err
}

// DeleteRule removes the rule; its assignments go with it through the
// foreign key.
func (s *Store) DeleteRule(ctx context.Context, user, ruleID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE user_id = $1 AND id = $2`, user, ruleID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rules.ErrRuleNotFound
	}
	return nil
}

func (s *Store) Assign(ctx context.Context, user, campaignID, ruleID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO rule_assignments (user_id, campaign_id, rule_id)
		SELECT $1, $2, id FROM rules WHERE id = $3 AND user_id = $1
		ON CONFLICT (user_id, campaign_id, rule_id) DO NOTHING
	`, user, campaignID, ruleID)
	if err != nil {
		return false, fmt.Errorf("assign rule: %w", mapPgError(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Unassign(ctx context.Context, user, campaignID, ruleID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `
		DELETE FROM rule_assignments WHERE user_id = $1 AND campaign_id = $2 AND rule_id = $3
	`, user, campaignID, ruleID); err != nil {
		return fmt.Errorf("unassign rule: %w", err)
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, user, campaignID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT rule_id FROM rule_assignments
		WHERE user_id = $1 AND campaign_id = $2 ORDER BY seq
	`, user, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan assignments: %w", err)
	}
	return ids, nil
}

func (s *Store) AssignmentsByCampaign(ctx context.Context, user string) (map[string][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT campaign_id, rule_id FROM rule_assignments
		WHERE user_id = $1 ORDER BY seq
	`, user)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var campaignID, ruleID string
		if err := rows.Scan(&campaignID, &ruleID); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[campaignID] = append(out[campaignID], ruleID)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Store) HasAnyAssignment(ctx context.Context, user string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var ok bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rule_assignments WHERE user_id = $1)`, user,
	).Scan(&ok); err != nil {
		return false, fmt.Errorf("check assignments: %w", err)
	}
	return ok, nil
}

// AssignedUsers lists every user with at least one assignment, used to
// resume loops after a restart.
func (s *Store) AssignedUsers(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM rule_assignments ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query assigned users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan assigned users: %w", err)
	}
	return users, nil
}

func scanRule(row pgx.Row) (rules.Rule, error) {
	var (
		r      rules.Rule
		chain  []byte
		legacy []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Payout, &r.Active, &chain, &legacy, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rules.Rule{}, err
		}
		return rules.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	if err := decodeRule(&r, chain, legacy); err != nil {
		return rules.Rule{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func encodeRule(r rules.Rule) (chain, legacy []byte, err error) {
	if chain, err = json.Marshal(r.Chain); err != nil {
		return nil, nil, fmt.Errorf("encode chain: %w", err)
	}
	if r.Legacy != nil {
		if legacy, err = json.Marshal(r.Legacy); err != nil {
			return nil, nil, fmt.Errorf("encode legacy thresholds: %w", err)
		}
	}
	return chain, legacy, nil
}

func decodeRule(r *rules.Rule, chain, legacy []byte) error {
	if err := json.Unmarshal(chain, &r.Chain); err != nil {
		return fmt.Errorf("decode chain of rule %s: %w", r.ID, err)
	}
	if len(legacy) > 0 {
		r.Legacy = &rules.LegacyThresholds{}
		if err := json.Unmarshal(legacy, r.Legacy); err != nil {
			return fmt.Errorf("decode legacy thresholds of rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// mapPgError turns a foreign key violation into ErrRuleNotFound.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return rules.ErrRuleNotFound
	}
	return err
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
