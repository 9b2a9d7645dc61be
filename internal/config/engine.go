package config

import (
	"fmt"
	"time"
)

// Range bounds a parsed property value. Predictions outside the range
// are recorded as validation failures rather than appended.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// EngineConfig configures the iteration orchestrator.
type EngineConfig struct {
	// RoundBudget is the maximum number of prediction rounds.
	RoundBudget int `yaml:"round_budget"`

	// Threshold is the relative-change convergence threshold. A property
	// converges when its pairwise relative change is strictly below this.
	Threshold float64 `yaml:"threshold"`

	// Floor is the denominator floor in the relative-change formula,
	// guarding against blow-up when the previous value is near zero.
	Floor float64 `yaml:"floor"`

	// Concurrency bounds simultaneous sample attempts within a round.
	Concurrency int `yaml:"concurrency"`

	// EarlyStop ends the run before the budget once no samples remain active.
	EarlyStop bool `yaml:"early_stop"`

	// MaxAttemptRetries bounds automatic retries of transient failures
	// within a single sample attempt, before the attempt is recorded
	// as failed for the round.
	MaxAttemptRetries int `yaml:"max_attempt_retries"`

	// RetryBackoff is the base backoff between transient retries,
	// doubled per attempt.
	RetryBackoff Duration `yaml:"retry_backoff"`

	// ValidationRanges holds optional per-property sanity ranges.
	ValidationRanges map[string]Range `yaml:"validation_ranges"`
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RoundBudget:       5,
		Threshold:         0.01,
		Floor:             0.1,
		Concurrency:       5,
		EarlyStop:         true,
		MaxAttemptRetries: 2,
		RetryBackoff:      Duration(time.Second),
	}
}

// Validate checks engine settings.
func (c *EngineConfig) Validate() error {
	if c.RoundBudget < 1 {
		return fmt.Errorf("round_budget must be >= 1, got %d", c.RoundBudget)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be > 0, got %v", c.Threshold)
	}
	if c.Floor <= 0 {
		return fmt.Errorf("floor must be > 0, got %v", c.Floor)
	}
	if c.Concurrency < 1 || c.Concurrency > 20 {
		return fmt.Errorf("concurrency must be in [1,20], got %d", c.Concurrency)
	}
	if c.MaxAttemptRetries < 0 {
		return fmt.Errorf("max_attempt_retries must be >= 0, got %d", c.MaxAttemptRetries)
	}
	for prop, r := range c.ValidationRanges {
		if r.Min >= r.Max {
			return fmt.Errorf("validation range for %s: min %v >= max %v", prop, r.Min, r.Max)
		}
	}
	return nil
}
