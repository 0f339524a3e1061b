package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	b := New("test", cfg, zaptest.NewLogger(t))
	b.now = clock.Now
	return b, clock
}

func TestBreakerLifecycle(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 3, SuccessThreshold: 2, HalfOpenRequests: 2, OpenTimeout: time.Minute})
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return boom }), boom)
	}
	require.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return nil }), ErrOpen)

	clock.Advance(time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 2})
	ctx := context.Background()
	fail := func(context.Context) error { return errors.New("x") }
	ok := func(context.Context) error { return nil }

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
	_ = b.Execute(ctx, fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenProbeLimit(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, HalfOpenRequests: 1, OpenTimeout: time.Second})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	clock.Advance(time.Second)

	done, err := b.Allow()
	require.NoError(t, err)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)

	done(false)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerTransitionCallback(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 1})
	var seen []State
	b.OnTransition(func(_, to State) { seen = append(seen, to) })
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	assert.Equal(t, []State{StateOpen}, seen)
}

func TestTransportTripsOn5xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := New("upstream-5xx", Config{FailureThreshold: 2, OpenTimeout: time.Hour}, zaptest.NewLogger(t))
	client := NewHTTPClient(b, 5*time.Second)

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestTransportIgnores4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := New("upstream-4xx", Config{FailureThreshold: 1}, zaptest.NewLogger(t))
	client := NewHTTPClient(b, 5*time.Second)
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateClosed, b.State())
}
