package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_Exponential(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyExponential, Base: time.Second, Multiplier: 2, Max: 60 * time.Second}

	var got []time.Duration
	for attempt := 1; attempt <= 8; attempt++ {
		got = append(got, cfg.Delay(attempt))
	}
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i := range want {
		want[i] *= time.Second
	}
	assert.Equal(t, want, got)
}

func TestDelay_MultiplierOfOneIsConstant(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyExponential, Base: 3 * time.Second, Multiplier: 1}
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 3*time.Second, cfg.Delay(attempt), "attempt %d", attempt)
	}

	unset := BackoffConfig{Strategy: StrategyExponential, Base: time.Second}
	assert.Equal(t, 4*time.Second, unset.Delay(3), "an unset multiplier doubles")
}

func TestDelay_Linear(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyLinear, Base: 5 * time.Second, Max: 12 * time.Second}
	assert.Equal(t, 5*time.Second, cfg.Delay(1))
	assert.Equal(t, 10*time.Second, cfg.Delay(2))
	assert.Equal(t, 12*time.Second, cfg.Delay(3))
}

func TestDelay_Immediate(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyImmediate, Base: time.Hour}
	assert.Zero(t, cfg.Delay(1))
	assert.Zero(t, cfg.Delay(10))
}

func TestDelay_JitterStaysWithinTenPercent(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyExponentialJitter, Base: time.Second, Multiplier: 2}
	for range 200 {
		d := cfg.Delay(3)
		assert.GreaterOrEqual(t, d, 3600*time.Millisecond)
		assert.LessOrEqual(t, d, 4400*time.Millisecond)
	}
}

func TestDelay_JitterIsClamped(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyExponentialJitter, Base: time.Second, Multiplier: 2, Max: 3 * time.Second}
	for range 50 {
		assert.LessOrEqual(t, cfg.Delay(5), 3*time.Second)
	}
}

func TestDelay_EdgeCases(t *testing.T) {
	cfg := BackoffConfig{Strategy: StrategyExponential, Base: time.Second}
	assert.Equal(t, time.Second, cfg.Delay(0), "attempts below one count as the first")
	assert.Equal(t, 2*time.Second, cfg.Delay(2), "multiplier defaults to two")
	assert.Equal(t, time.Duration(1<<63-1), cfg.Delay(500), "overflow saturates")
}

func TestBackoffConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultBackoff().Validate())
	assert.Error(t, BackoffConfig{Strategy: "fibonacci"}.Validate())
	assert.Error(t, BackoffConfig{Strategy: StrategyLinear, Base: -time.Second}.Validate())
	assert.Error(t, BackoffConfig{Strategy: StrategyExponentialJitter, Jitter: 2}.Validate())
	assert.Error(t, BackoffConfig{Strategy: StrategyExponential, Multiplier: -2}.Validate())
}
