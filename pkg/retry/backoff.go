package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy names a delay curve.
type Strategy string

const (
	StrategyImmediate         Strategy = "immediate"
	StrategyLinear            Strategy = "linear"
	StrategyExponential       Strategy = "exponential"
	StrategyExponentialJitter Strategy = "exponential_jitter"
)

// DefaultJitter is the randomisation applied by StrategyExponentialJitter
// when BackoffConfig.Jitter is unset.
const DefaultJitter = 0.1

// BackoffConfig describes how long to wait before attempt n.
type BackoffConfig struct {
	Strategy Strategy `json:"strategy"`
	// Base is the first delay of linear and exponential curves.
	Base time.Duration `json:"base"`
	// Multiplier grows exponential delays. Zero means 2; 1 keeps the
	// delay constant.
	Multiplier float64 `json:"multiplier,omitempty"`
	// Max caps every delay. Zero means uncapped.
	Max time.Duration `json:"max,omitempty"`
	// Jitter is the fraction of the delay to randomise, in both directions.
	Jitter float64 `json:"jitter,omitempty"`
}

// DefaultBackoff is used when nothing more specific is configured.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Strategy:   StrategyExponential,
		Base:       time.Second,
		Multiplier: 2,
		Max:        time.Hour,
	}
}

// Validate reports configuration that cannot produce a delay.
func (c BackoffConfig) Validate() error {
	switch c.Strategy {
	case StrategyImmediate, StrategyLinear, StrategyExponential, StrategyExponentialJitter:
	default:
		return fmt.Errorf("retry: unknown backoff strategy %q", c.Strategy)
	}
	if c.Base < 0 || c.Max < 0 {
		return fmt.Errorf("retry: negative backoff duration")
	}
	if c.Multiplier < 0 {
		return fmt.Errorf("retry: negative backoff multiplier %v", c.Multiplier)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("retry: jitter %v out of range [0,1]", c.Jitter)
	}
	return nil
}

// Delay returns the wait before the given attempt; attempt 1 is the first
// retry. Unknown strategies behave like exponential.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d float64
	switch c.Strategy {
	case StrategyImmediate:
		return 0
	case StrategyLinear:
		d = float64(c.Base) * float64(attempt)
	default:
		mult := c.Multiplier
		if mult == 0 {
			mult = 2
		}
		d = float64(c.Base) * math.Pow(mult, float64(attempt-1))
		if c.Strategy == StrategyExponentialJitter {
			jitter := c.Jitter
			if jitter == 0 {
				jitter = DefaultJitter
			}
			d += d * jitter * (rand.Float64()*2 - 1)
		}
	}
	return c.clamp(d)
}

func (c BackoffConfig) clamp(d float64) time.Duration {
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	if c.Max > 0 && d > float64(c.Max) {
		return c.Max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
