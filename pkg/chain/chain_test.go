package chain

import (
	"context"
	"errors"
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
	clock *testutil.Clock
	o     *Orchestrator
	w     *worker.Worker
	ran   []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock()
	s := testutil.NewStorage(t, storage.WithClock(clock.Now))
	q := queue.New(s, queue.WithClock(clock.Now))
	f := &fixture{q: q, s: s, clock: clock, o: New(q)}
	f.w = worker.NewWorker(q, worker.WithID("w1"), worker.Queues(core.DefaultQueue, "alerts"))

	q.Register("step", func(_ context.Context, name string) error {
		f.ran = append(f.ran, name)
		return nil
	})
	q.Register("broken", func(_ context.Context, name string) error {
		f.ran = append(f.ran, name)
		return core.NoRetry(errors.New("cannot continue"))
	})
	q.Register("notify", func(_ context.Context, msg string) error {
		f.ran = append(f.ran, "notify:"+msg)
		return nil
	})
	return f
}

// drain runs the worker until no job is ready.
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

func TestDispatch_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.o.Dispatch(ctx, Define(nil))
	assert.ErrorIs(t, err, core.ErrEmptyChain)

	_, err = f.o.Dispatch(ctx, Define([]Step{Then("step", "a"), Then("missing", nil)}))
	assert.ErrorIs(t, err, core.ErrNoHandler)

	_, err = f.o.Dispatch(ctx, Define([]Step{Then("step", "a")}, WithQueue("bad queue!")))
	assert.Error(t, err)
}

func TestChain_RunsStepsInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	events := f.q.Events()

	c, err := f.o.Dispatch(ctx, Define(
		[]Step{Then("step", "a"), Then("step", "b"), Then("step", "c")},
		Named("pipeline"),
		OnSuccess("notify", "done"),
		OnFailure("notify", "failed"),
	))
	require.NoError(t, err)
	assert.NotEmpty(t, c.CurrentJobID)

	stored, err := f.o.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChainPending, stored.Status)
	assert.Equal(t, "pipeline", stored.Name)

	size, err := f.s.Size(ctx, core.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size, "only the first step is dispatched")

	f.drain(t)
	assert.Equal(t, []string{"a", "b", "c", "notify:done"}, f.ran)

	stored, err = f.o.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChainCompleted, stored.Status)
	assert.Equal(t, 3, stored.CurrentStep)
	assert.NotNil(t, stored.FinishedAt)

	var finished *core.ChainFinished
	for len(events) > 0 {
		if e, ok := (<-events).(*core.ChainFinished); ok {
			finished = e
		}
	}
	require.NotNil(t, finished)
	assert.Equal(t, core.ChainCompleted, finished.Status)
}

func TestChain_StepOptions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.o.Dispatch(ctx, Define([]Step{
		Then("step", "a"),
		Then("step", "b", queue.Delay(time.Minute), queue.Priority(5), queue.MaxAttempts(7)),
	}))
	require.NoError(t, err)

	f.drain(t)
	assert.Equal(t, []string{"a"}, f.ran, "the second step is delayed")

	stored, err := f.o.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChainRunning, stored.Status)
	job, err := f.s.Get(ctx, stored.CurrentJobID)
	require.NoError(t, err)
	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, 7, job.MaxAttempts)
	assert.Equal(t, 1, job.ChainStep)
	require.NotNil(t, job.ChainID)
	assert.Equal(t, c.ID, *job.ChainID)

	f.clock.Advance(time.Minute)
	f.drain(t)
	assert.Equal(t, []string{"a", "b"}, f.ran)
}

func TestChain_FailureStopsChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.o.Dispatch(ctx, Define(
		[]Step{Then("step", "a"), Then("broken", "b"), Then("step", "c")},
		OnSuccess("notify", "done"),
		OnFailure("notify", "failed"),
	))
	require.NoError(t, err)

	f.drain(t)
	assert.Equal(t, []string{"a", "b", "notify:failed"}, f.ran)

	stored, err := f.o.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChainFailed, stored.Status)
	assert.Contains(t, stored.LastError, "cannot continue")
}

func TestChain_ContinueOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.o.Dispatch(ctx, Define(
		[]Step{Then("broken", "a").AllowFailure(), Then("step", "b")},
		OnSuccess("notify", "done"),
	))
	require.NoError(t, err)

	f.drain(t)
	assert.Equal(t, []string{"a", "b", "notify:done"}, f.ran)

	stored, err := f.o.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChainCompleted, stored.Status)
}

func TestChain_CallbackQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.o.Dispatch(ctx, Definition{
		Steps:     []Step{Then("step", "a")},
		OnSuccess: []queue.Callback{{Name: "notify", Args: "routed", Queue: "alerts"}},
	})
	require.NoError(t, err)

	_, err = f.w.RunOnce(ctx)
	require.NoError(t, err)
	size, err := f.s.Size(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestChain_CancelRemovesPendingStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.o.Dispatch(ctx, Define(
		[]Step{Then("step", "a"), Then("step", "b")},
		OnFailure("notify", "failed"),
	))
	require.NoError(t, err)

	cancelled, err := f.o.Cancel(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, err = f.s.Get(ctx, c.CurrentJobID)
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	stored, err := f.o.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChainCancelled, stored.Status)

	f.drain(t)
	assert.Empty(t, f.ran, "no step or callback runs after cancel")

	again, err := f.o.Cancel(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, again)

	_, err = f.o.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrChainNotFound)
}

func TestChain_CancelWhileStepRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var c *core.Chain
	f.q.Register("cancelling", func(ctx context.Context) error {
		_, err := f.o.Cancel(ctx, c.ID)
		return err
	})

	var err error
	c, err = f.o.Dispatch(ctx, Define([]Step{Then("cancelling", nil), Then("step", "b")}))
	require.NoError(t, err)

	f.drain(t)
	assert.Empty(t, f.ran, "a chain cancelled mid-step does not advance")

	stored, err := f.o.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChainCancelled, stored.Status)
}

func TestStepBuilders(t *testing.T) {
	s := Then("step", "x", queue.QueueOpt("emails"))
	assert.False(t, s.ContinueOnFailure)
	assert.True(t, s.AllowFailure().ContinueOnFailure)

	enc, err := encodeStep(s)
	require.NoError(t, err)
	assert.Equal(t, "emails", enc.Queue)
	assert.JSONEq(t, `"x"`, string(enc.Args))

	_, err = encodeStep(Then("step", make(chan int)))
	assert.Error(t, err)
}

func TestChain_AdvancesWhenRunContextCancelled(t *testing.T) {
	f := newFixture(t)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.q.Register("stopper", func(_ context.Context, name string) error {
		f.ran = append(f.ran, name)
		cancel()
		return nil
	})

	c, err := f.o.Dispatch(context.Background(), Define(
		[]Step{Then("stopper", "one"), Then("step", "two")},
		OnSuccess("notify", "done"),
	))
	require.NoError(t, err)

	ran, err := f.w.RunOnce(runCtx)
	require.NoError(t, err)
	require.True(t, ran)

	f.drain(t)
	assert.Equal(t, []string{"one", "two", "notify:done"}, f.ran)

	stored, err := f.o.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChainCompleted, stored.Status)
}

func TestChain_CancelDuringDispatchRemovesNextStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Cancel lands after the next step is submitted but before the chain
	// records its job id.
	f.q.OnJobQueued(func(ctx context.Context, job *core.Job) {
		if job.ChainID != nil && job.ChainStep == 1 {
			_, err := f.o.Cancel(ctx, *job.ChainID)
			assert.NoError(t, err)
		}
	})

	c, err := f.o.Dispatch(ctx, Define([]Step{Then("step", "a"), Then("step", "b")}))
	require.NoError(t, err)

	f.drain(t)
	assert.Equal(t, []string{"a"}, f.ran, "a step dispatched into a cancelled chain never runs")

	stored, err := f.o.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChainCancelled, stored.Status)
	require.NotEmpty(t, stored.CurrentJobID)
	_, err = f.s.Get(ctx, stored.CurrentJobID)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}
