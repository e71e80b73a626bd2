package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-queue/internal/testutil"
	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/retry"
	"github.com/jdziat/durable-queue/pkg/storage"
)

func ok(context.Context, *core.Job) core.Outcome { return core.Success() }

func testJob() *core.Job {
	return &core.Job{ID: "job-1", Type: "report", Queue: "default", Attempts: 1}
}

func TestChain_FirstIsOutermost(t *testing.T) {
	var order []string
	stage := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, job *core.Job) core.Outcome {
				order = append(order, name+">")
				out := next(ctx, job)
				order = append(order, "<"+name)
				return out
			}
		}
	}

	h := Chain(stage("a"), nil, stage("b"))(func(context.Context, *core.Job) core.Outcome {
		order = append(order, "run")
		return core.Success()
	})
	out := h(context.Background(), testJob())

	assert.True(t, out.Succeeded())
	assert.Equal(t, []string{"a>", "b>", "run", "<b", "<a"}, order)
}

func TestChain_StageMayShortCircuit(t *testing.T) {
	called := false
	deny := func(Handler) Handler {
		return func(context.Context, *core.Job) core.Outcome {
			return core.Permanent(errors.New("denied"))
		}
	}
	out := Chain(deny)(func(context.Context, *core.Job) core.Outcome {
		called = true
		return core.Success()
	})(context.Background(), testJob())

	assert.False(t, called)
	assert.Equal(t, core.OutcomePermanent, out.Kind)
}

func TestRecover(t *testing.T) {
	out := Recover()(func(context.Context, *core.Job) core.Outcome {
		panic("kaboom")
	})(context.Background(), testJob())

	assert.Equal(t, core.OutcomeUnclassified, out.Kind)
	assert.Contains(t, out.Error(), "kaboom")
}

func TestLogging_PassesOutcomeThrough(t *testing.T) {
	want := core.Retry(time.Second, errors.New("later"))
	out := Logging(nil)(func(context.Context, *core.Job) core.Outcome { return want })(context.Background(), testJob())
	assert.Equal(t, want, out)
}

func TestClassify(t *testing.T) {
	m := retry.NewManager(retry.Config{
		MaxRetries: 3,
		Default:    retry.BackoffConfig{Strategy: retry.StrategyLinear, Base: time.Second},
	})
	run := func(out core.Outcome) core.Outcome {
		job := testJob()
		job.Attempts = 2
		return Classify(m)(func(context.Context, *core.Job) core.Outcome { return out })(context.Background(), job)
	}

	got := run(core.Unclassified(errors.New("flaky")))
	assert.Equal(t, core.OutcomeRetry, got.Kind)
	assert.Equal(t, 2*time.Second, got.Delay)

	got = run(core.Unclassified(core.NoRetry(errors.New("fatal"))))
	assert.Equal(t, core.OutcomePermanent, got.Kind)

	explicit := core.Retry(time.Minute, errors.New("explicit"))
	assert.Equal(t, explicit, run(explicit))
	assert.True(t, run(core.Success()).Succeeded())
}

func TestThrottle_DefersOverLimit(t *testing.T) {
	clock := testutil.NewClock()
	store := testutil.NewStorage(t, storage.WithClock(clock.Now))
	mw := Throttle(store, 2, time.Minute)

	runs := 0
	h := mw(func(context.Context, *core.Job) core.Outcome {
		runs++
		return core.Success()
	})

	ctx := context.Background()
	assert.True(t, h(ctx, testJob()).Succeeded())
	assert.True(t, h(ctx, testJob()).Succeeded())

	out := h(ctx, testJob())
	assert.Equal(t, core.OutcomeRetry, out.Kind)
	assert.ErrorIs(t, out.Err, core.ErrThrottled)
	assert.ErrorIs(t, out.Err, core.ErrRateLimited)
	assert.Equal(t, time.Minute, out.Delay)
	assert.Equal(t, 2, runs)

	other := testJob()
	other.Type = "other"
	assert.True(t, h(ctx, other).Succeeded(), "limits are per job type")

	clock.Advance(time.Minute)
	assert.True(t, h(ctx, testJob()).Succeeded())
}

type brokenRates struct{}

func (brokenRates) HitRate(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
	return false, 0, errors.New("db down")
}

func TestThrottle_FailsOpen(t *testing.T) {
	h := Throttle(brokenRates{}, 1, time.Second)(ok)
	assert.True(t, h(context.Background(), testJob()).Succeeded())
}

func TestThrottle_DisabledWithoutLimit(t *testing.T) {
	h := Throttle(brokenRates{}, 0, time.Second)(ok)
	assert.True(t, h(context.Background(), testJob()).Succeeded())
}

func TestMemoryLimit(t *testing.T) {
	var used uint64 = 100 << 20
	var exceeded []float64
	mw := MemoryLimit(64, func() uint64 { return used }, func(_ context.Context, _ *core.Job, mb float64) {
		exceeded = append(exceeded, mb)
	})
	h := mw(ok)

	require.True(t, h(context.Background(), testJob()).Succeeded())
	assert.Equal(t, []float64{100}, exceeded)

	used = 10 << 20
	h(context.Background(), testJob())
	assert.Len(t, exceeded, 1)
}

func TestMemoryLimit_ZeroDisables(t *testing.T) {
	called := false
	h := MemoryLimit(0, func() uint64 { return 1 << 40 }, func(context.Context, *core.Job, float64) { called = true })(ok)
	h(context.Background(), testJob())
	assert.False(t, called)
}

func TestReadMemory(t *testing.T) {
	assert.Positive(t, ReadMemory())
	assert.Equal(t, 1.5, BytesToMB(3<<19))
}
