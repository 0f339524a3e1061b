package usage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockStore(t *testing.T, limits Limits) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewStore(sqlx.NewDb(db, "postgres"), limits, zaptest.NewLogger(t))
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

const countQuery = `SELECT COUNT(*) FROM usage_runs WHERE user_id = $1 AND mode = $2 AND started_at >= $3`

func TestAllowCountsLastDay(t *testing.T) {
	s, mock := newMockStore(t, Limits{ModeResearch: 5})
	since := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(countQuery)).
		WithArgs("u1", "research", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta(countQuery)).
		WithArgs("anonymous", "research", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	d, err := s.Allow(context.Background(), "u1", ModeResearch)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Used: 4, Limit: 5}, d)

	d, err = s.Allow(context.Background(), "", ModeResearch)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowUnlimitedSkipsQuery(t *testing.T) {
	s, mock := newMockStore(t, Limits{ModeResearch: 5})
	d, err := s.Allow(context.Background(), "u1", ModeSearch)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowQueryError(t *testing.T) {
	s, mock := newMockStore(t, Limits{ModeSearch: 10})
	mock.ExpectQuery(regexp.QuoteMeta(countQuery)).WillReturnError(errors.New("connection reset"))

	_, err := s.Allow(context.Background(), "u1", ModeSearch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRecordInsertsRun(t *testing.T) {
	s, mock := newMockStore(t, nil)
	started := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO usage_runs")).
		WithArgs("run-1", "u1", ModeResearch, "success", 6, 4, started, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Record(context.Background(), Run{ID: "run-1", UserID: "u1", Mode: ModeResearch, Status: "success", Steps: 6, Sources: 4, StartedAt: started})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite3", ":memory:", Limits{ModeResearch: 2}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().UTC()
	require.NoError(t, s.Record(ctx, Run{ID: "old", UserID: "u", Mode: ModeResearch, Status: "success", StartedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.Record(ctx, Run{ID: "r1", UserID: "u", Mode: ModeResearch, Status: "success", StartedAt: now.Add(-time.Hour)}))

	d, err := s.Allow(ctx, "u", ModeResearch)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Used)
	assert.True(t, d.Allowed)

	require.NoError(t, s.Record(ctx, Run{ID: "r2", UserID: "u", Mode: ModeResearch, Status: "error"}))
	d, err = s.Allow(ctx, "u", ModeResearch)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.NoError(t, s.Ping(ctx))
}
