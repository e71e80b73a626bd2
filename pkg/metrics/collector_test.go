package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-queue/internal/testutil"
	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/storage"
	"github.com/jdziat/durable-queue/pkg/worker"
)

type fixture struct {
	q     *queue.Queue
	s     *storage.GormStorage
	stats StatsStorage
	clock *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock()
	s := testutil.NewStorage(t, storage.WithClock(clock.Now))
	stats := NewGormStatsStorage(s.DB())
	require.NoError(t, stats.MigrateStats(context.Background()))
	q := queue.New(s, queue.WithClock(clock.Now))
	q.Register("noop", func(context.Context) error { return nil })
	return &fixture{q: q, s: s, stats: stats, clock: clock}
}

func job(queueName string) *core.Job {
	return &core.Job{ID: core.NewJobID(), Type: "noop", Queue: queueName}
}

func TestCollector_Counters(t *testing.T) {
	f := newFixture(t)
	c := NewCollector(f.q, nil)

	j := job("default")
	c.handleEvent(&core.JobQueued{Job: j})
	c.handleEvent(&core.JobStarted{Job: j})
	c.handleEvent(&core.JobRetrying{Job: j, Duration: 100 * time.Millisecond})
	c.handleEvent(&core.JobStarted{Job: j})
	c.handleEvent(&core.JobCompleted{Job: j, Duration: 300 * time.Millisecond, MemoryMB: 42})
	c.handleEvent(&core.JobFailed{Job: job("emails"), Duration: 200 * time.Millisecond})
	c.handleEvent(&core.JobRecovered{JobID: "x", Queue: "emails"})
	c.handleEvent(&core.QueuePaused{Queue: "default"})

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	d := snap["default"]
	assert.Equal(t, int64(1), d.Queued)
	assert.Equal(t, int64(2), d.Started)
	assert.Equal(t, int64(1), d.Retried)
	assert.Equal(t, int64(1), d.Completed)
	assert.Equal(t, 300*time.Millisecond, d.MaxDuration)
	assert.Equal(t, 200*time.Millisecond, d.AvgDuration())
	assert.Equal(t, 42.0, d.PeakMemoryMB)

	e := snap["emails"]
	assert.Equal(t, int64(1), e.Failed)
	assert.Equal(t, int64(1), e.Recovered)

	assert.Equal(t, []string{"default", "emails"}, c.Queues())
	assert.Zero(t, Counters{}.AvgDuration())
}

func TestCollector_FlushPersistsMinuteRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := NewCollector(f.q, f.stats)

	j := job("default")
	c.handleEvent(&core.JobCompleted{Job: j, Duration: 2 * time.Second})
	require.NoError(t, c.Flush(ctx))
	c.handleEvent(&core.JobCompleted{Job: j, Duration: time.Second})
	c.handleEvent(&core.JobRetrying{Job: j, Duration: time.Second})
	require.NoError(t, c.Flush(ctx))

	rows, err := f.stats.GetStatsHistory(ctx, "default", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].Completed)
	assert.Equal(t, int64(1), rows[0].Retried)
	assert.Equal(t, int64(4000), rows[0].DurationMs)
	assert.Equal(t, int64(2000), rows[0].MaxDurationMs)
	assert.True(t, f.clock.Now().Truncate(time.Minute).Equal(rows[0].Timestamp))

	f.clock.Advance(time.Minute)
	c.handleEvent(&core.JobFailed{Job: j})
	require.NoError(t, c.Flush(ctx))
	rows, err = f.stats.GetStatsHistory(ctx, "default", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[1].Failed)

	assert.Equal(t, int64(3), c.Snapshot()["default"].Completed+c.Snapshot()["default"].Failed,
		"lifetime counters survive flushes")
}

func TestCollector_FlushSnapshotsDepth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := NewCollector(f.q, f.stats)

	_, err := f.q.Submit(ctx, "noop", nil)
	require.NoError(t, err)
	_, err = f.q.Submit(ctx, "noop", nil, queue.Delay(time.Hour))
	require.NoError(t, err)
	_, err = f.q.Submit(ctx, "noop", nil)
	require.NoError(t, err)
	_, err = f.s.Pop(ctx, core.DefaultQueue, "w1")
	require.NoError(t, err)

	require.NoError(t, c.Flush(ctx))
	rows, err := f.stats.GetStatsHistory(ctx, core.DefaultQueue, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Pending)
	assert.Equal(t, int64(1), rows[0].Delayed)
	assert.Equal(t, int64(1), rows[0].Reserved)
}

func TestCollector_WithoutStorage(t *testing.T) {
	f := newFixture(t)
	c := NewCollector(f.q, nil)
	c.handleEvent(&core.JobCompleted{Job: job("default")})
	assert.NoError(t, c.Flush(context.Background()))
	c.prune(context.Background())
	assert.Equal(t, int64(1), c.Snapshot()["default"].Completed)
}

func TestCollector_Prune(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := NewCollector(f.q, f.stats, WithRetention(time.Hour))

	c.handleEvent(&core.JobCompleted{Job: job("default")})
	require.NoError(t, c.Flush(ctx))

	f.clock.Advance(2 * time.Hour)
	c.prune(ctx)

	rows, err := f.stats.GetStatsHistory(ctx, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCollector_StartConsumesEvents(t *testing.T) {
	f := newFixture(t)
	c := NewCollector(f.q, f.stats, WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Start(ctx)
	}()
	c.WaitReady()

	_, err := f.q.Submit(context.Background(), "noop", nil)
	require.NoError(t, err)
	w := worker.NewWorker(f.q, worker.WithID("w1"), worker.Monitor(true))
	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	require.Eventually(t, func() bool {
		return c.Snapshot()[core.DefaultQueue].Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	rows, err := f.stats.GetStatsHistory(context.Background(), core.DefaultQueue, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1, "the collector flushes on shutdown")
	assert.Equal(t, int64(1), rows[0].Queued)
	assert.Equal(t, int64(1), rows[0].Started)
	assert.Equal(t, int64(1), rows[0].Completed)
	assert.Greater(t, rows[0].PeakMemoryMB, 0.0)
}
