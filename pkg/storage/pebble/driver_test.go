package pebblestore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/security"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDriver(t *testing.T) (*Driver, *testClock, string) {
	t.Helper()
	dir := t.TempDir()
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	d, err := Open(Options{DataDir: dir, Fsync: FsyncModeNever}, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, clock, dir
}

func newJob(queue, jobType string) *core.Job {
	return &core.Job{Type: jobType, Queue: queue, MaxAttempts: 3, Payload: []byte(`{}`)}
}

func TestOpen_RequiresDataDir(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
	assert.True(t, core.IsInfrastructure(err))
}

func TestParseFsyncMode(t *testing.T) {
	for in, want := range map[string]FsyncMode{
		"":         FsyncModeInterval,
		"interval": FsyncModeInterval,
		"always":   FsyncModeAlways,
		"never":    FsyncModeNever,
	} {
		got, err := ParseFsyncMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFsyncMode("sometimes")
	assert.Error(t, err)
}

func TestInvertPriority_SortsHighFirst(t *testing.T) {
	assert.Less(t, invertPriority(10), invertPriority(0))
	assert.Less(t, invertPriority(0), invertPriority(-10))
	assert.Less(t, invertPriority(1<<30), invertPriority(-(1 << 30)))
}

func TestPushAndGet(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	job := &core.Job{Type: "email.send", Payload: []byte(`{"to":"x"}`)}
	require.NoError(t, d.Push(ctx, job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.DefaultQueue, job.Queue)
	assert.Equal(t, DriverName, job.Backend)

	got, err := d.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "email.send", got.Type)
	assert.JSONEq(t, `{"to":"x"}`, string(got.Payload))
	assert.Equal(t, core.StateAvailable, got.State(clock.Now()))

	_, err = d.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestPush_RejectsInvalidPayload(t *testing.T) {
	d, _, _ := newTestDriver(t)
	err := d.Push(context.Background(), &core.Job{Type: "bad", Payload: []byte(`{`)})
	require.Error(t, err)
	assert.False(t, core.IsInfrastructure(err))
}

func TestPop_PriorityThenAvailability(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	low := newJob("q", "low")
	low.Priority = -5
	older := newJob("q", "older")
	older.AvailableAt = clock.Now().Add(-time.Minute)
	newer := newJob("q", "newer")
	high := newJob("q", "high")
	high.Priority = 10
	require.NoError(t, d.PushBatch(ctx, []*core.Job{low, newer, older, high}))

	var order []string
	for {
		job, err := d.Pop(ctx, "q", "w1")
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.Type)
	}
	assert.Equal(t, []string{"high", "older", "newer", "low"}, order)
}

func TestPop_FIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(t)

	for i := range 5 {
		require.NoError(t, d.Push(ctx, newJob("q", fmt.Sprintf("job-%d", i))))
	}
	for i := range 5 {
		job, err := d.Pop(ctx, "q", "w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, fmt.Sprintf("job-%d", i), job.Type)
	}
}

func TestPop_ReservesAndCountsAttempt(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	require.NoError(t, d.Push(ctx, newJob("q", "task")))
	job, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.True(t, job.Reserved)
	assert.Equal(t, "w1", job.ReservedBy)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.ReservedAt)
	assert.Equal(t, clock.Now(), *job.ReservedAt)

	again, err := d.Pop(ctx, "q", "w2")
	require.NoError(t, err)
	assert.Nil(t, again, "a reserved job is never popped twice")

	st, err := d.Stats(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Reserved)
	assert.Equal(t, int64(0), st.Pending)
}

func TestPop_PromotesDelayedWhenDue(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	job := newJob("q", "later")
	job.AvailableAt = clock.Now().Add(30 * time.Second)
	require.NoError(t, d.Push(ctx, job))

	got, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)
	assert.Nil(t, got)

	st, err := d.Stats(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Delayed)
	assert.Equal(t, int64(0), st.Pending)

	clock.Advance(30 * time.Second)
	size, err := d.Size(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size, "due delayed jobs count as ready")

	got, err = d.Pop(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

func TestPop_DelayedNeverDueBeforeAvailableAt(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	job := newJob("q", "soon")
	job.AvailableAt = clock.Now().Add(700 * time.Microsecond)
	require.NoError(t, d.Push(ctx, job))

	clock.Advance(300 * time.Microsecond)
	got, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)
	assert.Nil(t, got, "a job is not popped inside the millisecond before it is due")
	size, err := d.Size(ctx, "q")
	require.NoError(t, err)
	assert.Zero(t, size)

	clock.Advance(700 * time.Microsecond)
	got, err = d.Pop(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

func TestPop_PrioritiesSaturateAtInt32(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(t)

	lo := newJob("q", "lo")
	lo.Priority = 1
	hi := newJob("q", "hi")
	hi.Priority = 1 << 32
	require.NoError(t, d.Push(ctx, lo))
	require.NoError(t, d.Push(ctx, hi))

	got, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hi", got.Type)
	assert.Equal(t, security.MaxPriority, got.Priority)

	assert.Less(t, invertPriority(1<<32), invertPriority(1))
	assert.Equal(t, invertPriority(security.MinPriority), invertPriority(-(1 << 40)))
}

func TestPop_QueueIsolation(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(t)

	require.NoError(t, d.Push(ctx, newJob("a", "task")))
	got, err := d.Pop(ctx, "ab", "w1")
	require.NoError(t, err)
	assert.Nil(t, got, "queue prefixes must not leak into each other")
}

func TestPop_ConcurrentWorkersNeverShareAJob(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(t)

	const total = 50
	jobs := make([]*core.Job, total)
	for i := range jobs {
		jobs[i] = newJob("q", "task")
	}
	require.NoError(t, d.PushBatch(ctx, jobs))

	var (
		mu   sync.Mutex
		seen = map[string]string{}
		wg   sync.WaitGroup
	)
	for w := range 8 {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			for {
				job, err := d.Pop(ctx, "q", owner)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				_, dup := seen[job.ID]
				seen[job.ID] = owner
				mu.Unlock()
				assert.False(t, dup, "job %s popped twice", job.ID)
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()
	assert.Len(t, seen, total)
}

func TestRelease_RequeuesWithHistory(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	require.NoError(t, d.Push(ctx, newJob("q", "task")))
	job, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)

	next := clock.Now().Add(10 * time.Second)
	rec := &core.AttemptRecord{Attempt: 1, At: clock.Now(), Delay: 10 * time.Second, Error: "boom"}
	require.NoError(t, d.Release(ctx, job.ID, "w1", next, rec))

	got, err := d.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, got.Reserved)
	assert.Equal(t, 1, got.Attempts, "release keeps the consumed attempt")
	assert.Equal(t, "boom", got.LastError)
	require.Len(t, got.History, 1)
	assert.Equal(t, core.StateDelayed, got.State(clock.Now()))

	clock.Advance(10 * time.Second)
	again, err := d.Pop(ctx, "q", "w2")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)
}

func TestRelease_WithoutAttemptGivesItBack(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	require.NoError(t, d.Push(ctx, newJob("q", "task")))
	job, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)
	require.NoError(t, d.Release(ctx, job.ID, "w1", clock.Now(), nil))

	got, err := d.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Attempts)
	assert.Empty(t, got.History)
}

func TestOwnershipIsEnforced(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	require.NoError(t, d.Push(ctx, newJob("q", "task")))
	job, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)

	err = d.Release(ctx, job.ID, "w2", clock.Now(), nil)
	assert.ErrorIs(t, err, core.ErrJobNotOwned)
	err = d.Delete(ctx, job.ID, "w2")
	assert.ErrorIs(t, err, core.ErrJobNotOwned)
	err = d.Delete(ctx, "missing", "w1")
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	require.NoError(t, d.Delete(ctx, job.ID, "w1"))
	_, err = d.Get(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	st, err := d.Stats(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, core.QueueStats{Queue: "q"}, st)
}

func TestRemove_OnlyUnreserved(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(t)

	idle := newJob("q", "idle")
	busy := newJob("q", "busy")
	busy.Priority = 1
	require.NoError(t, d.PushBatch(ctx, []*core.Job{idle, busy}))
	popped, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)
	require.Equal(t, busy.ID, popped.ID)

	ok, err := d.Remove(ctx, busy.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.Remove(ctx, idle.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Remove(ctx, idle.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	size, err := d.Size(ctx, "q")
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestRemoveBatch(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(t)

	batchID := "batch-1"
	var members []*core.Job
	for range 3 {
		job := newJob("q", "member")
		job.BatchID = &batchID
		members = append(members, job)
	}
	require.NoError(t, d.PushBatch(ctx, append(members, newJob("q", "other"))))

	_, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)

	removed, err := d.RemoveBatch(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed, "the reserved member survives")

	st, err := d.Stats(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Pending)
	assert.Equal(t, int64(1), st.Reserved)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	delayed := newJob("q", "delayed")
	delayed.AvailableAt = clock.Now().Add(time.Hour)
	require.NoError(t, d.PushBatch(ctx, []*core.Job{newJob("q", "a"), newJob("q", "b"), delayed, newJob("keep", "c")}))
	_, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)

	cleared, err := d.Clear(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)

	st, err := d.Stats(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, core.QueueStats{Queue: "q"}, st)

	size, err := d.Size(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestReleaseStuck(t *testing.T) {
	ctx := context.Background()
	d, clock, _ := newTestDriver(t)

	require.NoError(t, d.PushBatch(ctx, []*core.Job{newJob("a", "old"), newJob("b", "old")}))
	_, err := d.Pop(ctx, "a", "w1")
	require.NoError(t, err)
	_, err = d.Pop(ctx, "b", "w1")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	require.NoError(t, d.Push(ctx, newJob("a", "fresh")))
	fresh, err := d.Pop(ctx, "a", "w2")
	require.NoError(t, err)
	require.NotNil(t, fresh)

	released, err := d.ReleaseStuck(ctx, "a", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	released, err = d.ReleaseStuck(ctx, "", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released, "empty queue sweeps every queue")

	again, err := d.Pop(ctx, "a", "w3")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "old", again.Type)
	assert.Equal(t, 2, again.Attempts)

	got, err := d.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.Reserved, "recent reservations are left alone")
}

func TestQueues(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDriver(t)

	require.NoError(t, d.PushBatch(ctx, []*core.Job{newJob("zeta", "t"), newJob("alpha", "t")}))
	queues, err := d.Queues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, queues)
}

func TestReopenKeepsJobs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	d, err := Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	require.NoError(t, err)
	job := newJob("q", "durable")
	require.NoError(t, d.Push(ctx, job))
	require.NoError(t, d.Close())

	d, err = Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	require.NoError(t, err)
	defer d.Close()

	got, err := d.Pop(ctx, "q", "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

func TestCancelledContext(t *testing.T) {
	d, _, _ := newTestDriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Pop(ctx, "q", "w1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, d.Push(ctx, newJob("q", "t")), context.Canceled)
}
