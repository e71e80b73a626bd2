package batch

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-queue/internal/testutil"
	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/storage"
	"github.com/jdziat/durable-queue/pkg/worker"
)

type fixture struct {
	q   *queue.Queue
	s   *storage.GormStorage
	o   *Orchestrator
	w   *worker.Worker
	ran []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock()
	s := testutil.NewStorage(t, storage.WithClock(clock.Now))
	q := queue.New(s, queue.WithClock(clock.Now))
	f := &fixture{q: q, s: s, o: New(q)}
	f.w = worker.NewWorker(q, worker.WithID("w1"), worker.Queues(core.DefaultQueue, "images"))

	q.Register("ok", func(_ context.Context, name string) error {
		f.ran = append(f.ran, name)
		return nil
	})
	q.Register("bad", func(_ context.Context, name string) error {
		f.ran = append(f.ran, name)
		return core.NoRetry(errors.New("broken member"))
	})
	q.Register("notify", func(_ context.Context, msg string) error {
		f.ran = append(f.ran, "notify:"+msg)
		return nil
	})
	return f
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for range 20 {
		ran, err := f.w.RunOnce(context.Background())
		require.NoError(t, err)
		if !ran {
			return
		}
	}
	t.Fatal("queue did not drain")
}

func callbacks() []Option {
	return []Option{
		OnSuccess("notify", "success"),
		OnFailure("notify", "failure"),
		OnFinally("notify", "finally"),
	}
}

func TestDispatch_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.o.Dispatch(ctx, Define(nil))
	assert.ErrorIs(t, err, core.ErrEmptyBatch)

	_, err = f.o.Dispatch(ctx, Define([]Member{Job("ok", "a")}, FailureThreshold(1.5)))
	assert.Error(t, err)

	_, err = f.o.Dispatch(ctx, Define([]Member{Job("ok", "a"), Job("missing", nil)}))
	assert.ErrorIs(t, err, core.ErrNoHandler)
}

func TestBatch_AllSucceed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	events := f.q.Events()

	b, err := f.o.Dispatch(ctx, Define(
		[]Member{Job("ok", "a"), Job("ok", "b"), Job("ok", "c")},
		append(callbacks(), Named("thumbnails"))...,
	))
	require.NoError(t, err)
	assert.Equal(t, 3, b.TotalJobs)

	f.drain(t)
	assert.ElementsMatch(t, []string{"a", "b", "c", "notify:success", "notify:finally"}, f.ran)

	stored, err := f.o.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "thumbnails", stored.Name)
	assert.Equal(t, 0, stored.PendingJobs)
	assert.Equal(t, 3, stored.ProcessedJobs)
	assert.True(t, stored.Finished())
	assert.False(t, stored.Cancelled())

	var finished int
	for len(events) > 0 {
		if _, ok := (<-events).(*core.BatchFinished); ok {
			finished++
		}
	}
	assert.Equal(t, 1, finished)
}

func TestBatch_FirstFailureCancels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.o.Dispatch(ctx, Define(
		[]Member{Job("bad", "a"), Job("ok", "b"), Job("ok", "c")},
		callbacks()...,
	))
	require.NoError(t, err)

	f.drain(t)
	assert.Equal(t, []string{"a", "notify:failure", "notify:finally"}, f.ran)

	stored, err := f.o.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, stored.Cancelled())
	assert.True(t, stored.Finished())
	assert.Equal(t, 1, stored.FailedJobs)
	assert.Equal(t, 2, stored.CancelledJobs)
	assert.Equal(t, 0, stored.PendingJobs)
	assert.Len(t, stored.FailedJobIDs, 1)
	assert.Equal(t, stored.TotalJobs,
		stored.PendingJobs+stored.ProcessedJobs+stored.FailedJobs+stored.CancelledJobs)
}

func TestBatch_AllowFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	opts := append(callbacks(), AllowFailures())
	b, err := f.o.Dispatch(ctx, Define([]Member{Job("bad", "a"), Job("ok", "b")}, opts...))
	require.NoError(t, err)

	f.drain(t)
	assert.Equal(t, []string{"a", "b", "notify:failure", "notify:finally"}, f.ran)

	stored, err := f.o.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, stored.Cancelled())
	assert.Equal(t, 1, stored.FailedJobs)
	assert.Equal(t, 1, stored.ProcessedJobs)
}

func TestBatch_FailureThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	opts := append(callbacks(), FailureThreshold(0.4))
	b, err := f.o.Dispatch(ctx, Define(
		[]Member{Job("bad", "a"), Job("bad", "b"), Job("ok", "c")}, opts...))
	require.NoError(t, err)

	f.drain(t)
	assert.Equal(t, []string{"a", "b", "notify:failure", "notify:finally"}, f.ran)

	stored, err := f.o.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, stored.Cancelled())
	assert.Equal(t, 2, stored.FailedJobs)
	assert.Equal(t, 1, stored.CancelledJobs)
}

func TestBatch_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.o.Dispatch(ctx, Define([]Member{Job("ok", "a"), Job("ok", "b")}, callbacks()...))
	require.NoError(t, err)

	cancelled, err := f.o.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	f.drain(t)
	assert.Equal(t, []string{"notify:finally"}, f.ran)

	stored, err := f.o.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CancelledJobs)
	assert.True(t, stored.Finished())

	again, err := f.o.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, again)

	_, err = f.o.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrBatchNotFound)
}

func TestBatch_MemberOptions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b, err := f.o.Dispatch(ctx, Define(
		[]Member{
			Job("ok", "same", queue.Unique()),
			Job("ok", "same", queue.Unique()),
			Job("ok", "img", queue.QueueOpt("images"), queue.Priority(9)),
		},
		WithPriority(2),
		WithMaxAttempts(4),
	))
	require.NoError(t, err)

	size, err := f.s.Size(ctx, core.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size, "batch members are never deduplicated")

	job, err := f.s.Pop(ctx, "images", "inspector")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 9, job.Priority)
	assert.Equal(t, 4, job.MaxAttempts)
	require.NotNil(t, job.BatchID)
	assert.Equal(t, b.ID, *job.BatchID)
}

func TestBatch_RetriedFailedMemberRunsDetached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	calls := 0
	f.q.Register("flaky", func(_ context.Context, name string) error {
		f.ran = append(f.ran, name)
		calls++
		if calls == 1 {
			return core.NoRetry(errors.New("first try fails"))
		}
		return nil
	})

	opts := append(callbacks(), AllowFailures())
	b, err := f.o.Dispatch(ctx, Define(
		[]Member{Job("flaky", "a"), Job("ok", "b"), Job("ok", "c")}, opts...))
	require.NoError(t, err)

	ran, err := f.w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, []string{"a"}, f.ran)

	stored, err := f.o.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, stored.FailedJobIDs, 1)

	revived, err := f.q.RetryFailed(ctx, stored.FailedJobIDs[0])
	require.NoError(t, err)
	assert.Nil(t, revived.BatchID)

	f.drain(t)
	assert.ElementsMatch(t, []string{"a", "a", "b", "c", "notify:failure", "notify:finally"}, f.ran)
	finally := slices.Index(f.ran, "notify:finally")
	assert.Greater(t, finally, slices.Index(f.ran, "b"))
	assert.Greater(t, finally, slices.Index(f.ran, "c"), "the batch finishes after its last counted member")

	stored, err = f.o.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, stored.Finished())
	assert.Equal(t, 1, stored.FailedJobs)
	assert.Equal(t, 2, stored.ProcessedJobs)
	assert.Equal(t, stored.TotalJobs,
		stored.PendingJobs+stored.ProcessedJobs+stored.FailedJobs+stored.CancelledJobs)
}

func TestBatch_CountsMemberWhenRunContextCancelled(t *testing.T) {
	f := newFixture(t)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.q.Register("stopper", func(_ context.Context, name string) error {
		f.ran = append(f.ran, name)
		cancel()
		return nil
	})

	b, err := f.o.Dispatch(context.Background(), Define(
		[]Member{Job("stopper", "a"), Job("ok", "b")}, callbacks()...))
	require.NoError(t, err)

	ran, err := f.w.RunOnce(runCtx)
	require.NoError(t, err)
	require.True(t, ran)

	f.drain(t)
	assert.Equal(t, []string{"a", "b", "notify:success", "notify:finally"}, f.ran)

	stored, err := f.o.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ProcessedJobs)
	assert.Zero(t, stored.PendingJobs)
	assert.True(t, stored.Finished())
}
