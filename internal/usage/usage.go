// Package usage gates searches and research runs against per-user daily limits.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/metrics"
)

type Mode string

const (
	ModeSearch   Mode = "search"
	ModeResearch Mode = "research"

	anonymousUser = "anonymous"
	window        = 24 * time.Hour
)

// ErrLimitExceeded is returned by callers that turn a denied Decision into an error.
var ErrLimitExceeded = errors.New("daily usage limit reached")

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed bool `json:"allowed"`
	Used    int  `json:"used"`
	Limit   int  `json:"limit"`
}

// Run is one recorded invocation.
type Run struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	Mode       Mode      `db:"mode"`
	Status     string    `db:"status"`
	Steps      int       `db:"steps"`
	Sources    int       `db:"sources"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
}

// Gate decides whether a user may start another run.
type Gate interface {
	Allow(ctx context.Context, userID string, mode Mode) (Decision, error)
	Record(ctx context.Context, run Run) error
}

// Unlimited allows everything and records nothing.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string, Mode) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func (Unlimited) Record(context.Context, Run) error { return nil }

// Limits are daily run counts per mode; zero means unlimited.
type Limits map[Mode]int

const schema = `
CREATE TABLE IF NOT EXISTS usage_runs (
	id          VARCHAR(64) PRIMARY KEY,
	user_id     VARCHAR(255) NOT NULL,
	mode        VARCHAR(32) NOT NULL,
	status      VARCHAR(32) NOT NULL,
	steps       INTEGER NOT NULL DEFAULT 0,
	sources     INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL
)`

const indexSchema = `CREATE INDEX IF NOT EXISTS idx_usage_runs_user_mode ON usage_runs (user_id, mode, started_at)`

// Store is a SQL backed Gate. Postgres in production, SQLite for local runs.
type Store struct {
	db     *sqlx.DB
	limits Limits
	now    func() time.Time
	logger *zap.Logger
}

// Open connects with driver ("postgres" or "sqlite3") and creates the table.
func Open(ctx context.Context, driver, dsn string, limits Limits, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect usage store: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	s := NewStore(db, limits, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewStore(db *sqlx.DB, limits Limits, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits == nil {
		limits = Limits{}
	}
	return &Store{db: db, limits: limits, now: time.Now, logger: logger}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range []string{schema, indexSchema} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate usage store: %w", err)
		}
	}
	return nil
}

// Allow counts the user's runs of mode over the last 24 hours.
func (s *Store) Allow(ctx context.Context, userID string, mode Mode) (Decision, error) {
	limit := s.limits[mode]
	if limit <= 0 {
		metrics.UsageDecisions.WithLabelValues(string(mode), "unlimited").Inc()
		return Decision{Allowed: true}, nil
	}

	var used int
	q := s.db.Rebind(`SELECT COUNT(*) FROM usage_runs WHERE user_id = ? AND mode = ? AND started_at >= ?`)
	if err := s.db.GetContext(ctx, &used, q, normalizeUser(userID), string(mode), s.now().UTC().Add(-window)); err != nil {
		metrics.UsageDecisions.WithLabelValues(string(mode), "error").Inc()
		return Decision{}, fmt.Errorf("failed to count usage: %w", err)
	}

	d := Decision{Allowed: used < limit, Used: used, Limit: limit}
	result := "allowed"
	if !d.Allowed {
		result = "denied"
		s.logger.Info("Usage limit reached",
			zap.String("user_id", userID),
			zap.String("mode", string(mode)),
			zap.Int("used", used),
			zap.Int("limit", limit))
	}
	metrics.UsageDecisions.WithLabelValues(string(mode), result).Inc()
	return d, nil
}

// Record stores a finished run.
func (s *Store) Record(ctx context.Context, run Run) error {
	run.UserID = normalizeUser(run.UserID)
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.now()
	}
	run.StartedAt, run.FinishedAt = run.StartedAt.UTC(), run.FinishedAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO usage_runs (id, user_id, mode, status, steps, sources, started_at, finished_at)
		VALUES (:id, :user_id, :mode, :status, :steps, :sources, :started_at, :finished_at)`, run)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Ping backs the health checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeUser(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return anonymousUser
	}
	return id
}
