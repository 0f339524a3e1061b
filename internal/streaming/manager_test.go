package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRingReplaySince(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 4; i++ {
		r.push(ProgressEvent{Seq: uint64(i)})
	}
	evs := r.since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)

	evs = r.since(2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Seq)
}

func TestManagerPublishSubscribe(t *testing.T) {
	m := NewManager(nil, 8, zaptest.NewLogger(t))
	ch := m.Subscribe("run-1", 4)
	defer m.Unsubscribe("run-1", ch)

	m.Publish("run-1", ProgressEvent{Kind: KindQuery, ID: "q1", Status: StatusStarted})
	m.Publish("run-2", ProgressEvent{Kind: KindQuery, ID: "other"})

	select {
	case ev := <-ch:
		assert.Equal(t, "q1", ev.ID)
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, uint64(1), ev.Seq)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
	assert.Empty(t, ch)
}

func TestManagerPumpAndReplay(t *testing.T) {
	m := NewManager(nil, 16, zaptest.NewLogger(t))
	ch := make(chan ProgressEvent, 4)
	sink := NewChannelSink(ch, nil)

	done := make(chan struct{})
	go func() {
		m.Pump("run", ch)
		close(done)
	}()
	for i := 0; i < 5; i++ {
		Emit(sink, ProgressEvent{Kind: KindSource})
	}
	close(ch)
	<-done

	evs := m.ReplaySince(context.Background(), "run", 3)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(4), evs[0].Seq)
	assert.Equal(t, uint64(5), evs[1].Seq)

	m.Forget("run")
	assert.Empty(t, m.ReplaySince(context.Background(), "run", 0))
}

func TestManagerRedisReplay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	writer := NewManager(rdb, 32, zaptest.NewLogger(t))
	writer.Publish("run-r", ProgressEvent{Kind: KindPlan, Message: "plan ready"})
	writer.Publish("run-r", ProgressEvent{Kind: KindQuery, ID: "q", Status: StatusStarted})
	writer.Publish("run-r", ProgressEvent{Kind: KindQuery, ID: "q", Status: StatusCompleted, ResultCount: 3})

	// A second replica has no in-memory backlog and falls back to the stream.
	reader := NewManager(rdb, 32, zaptest.NewLogger(t))
	evs := reader.ReplaySince(context.Background(), "run-r", 1)
	require.Len(t, evs, 2)
	assert.Equal(t, StatusStarted, evs[0].Status)
	assert.Equal(t, 3, evs[1].ResultCount)
	assert.True(t, mr.TTL(streamKeyPrefix+"run-r") > 0)
}

func TestEmitToleratesNilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(nil, ProgressEvent{Kind: KindCode})
		var cs *ChannelSink
		cs.Emit(ProgressEvent{})
	})
}

func TestChannelSinkStopsOnDone(t *testing.T) {
	ch := make(chan ProgressEvent)
	done := make(chan struct{})
	close(done)
	sink := NewChannelSink(ch, done)

	finished := make(chan struct{})
	go func() {
		sink.Emit(ProgressEvent{Kind: KindQuery})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("emit blocked after done was closed")
	}
}

func TestRecorderByID(t *testing.T) {
	r := NewRecorder()
	Emit(r, ProgressEvent{Kind: KindQuery, ID: "a", Status: StatusStarted})
	Emit(r, ProgressEvent{Kind: KindQuery, ID: "b", Status: StatusStarted})
	Emit(r, ProgressEvent{Kind: KindQuery, ID: "a", Status: StatusCompleted})
	Emit(r, ProgressEvent{Kind: KindMessage, Message: "hi"})

	byID := r.ByID()
	require.Len(t, byID["a"], 2)
	assert.True(t, byID["a"][1].Status.Terminal())
	assert.Len(t, r.Filter(KindMessage), 1)
}
