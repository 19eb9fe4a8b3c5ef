package engine

import "time"

// Config holds engine-level defaults. Step-level settings take precedence.
type Config struct {
	// DefaultModel is used by prompt steps that do not name a model.
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`

	// MaxParallel bounds concurrent element processing when a collection
	// step does not set its own limit. 1 means sequential.
	MaxParallel int `json:"maxParallel,omitempty" yaml:"maxParallel,omitempty"`

	// MaxContinuations bounds automatic continuation of truncated
	// responses when the step does not set its own limit.
	MaxContinuations int `json:"maxContinuations,omitempty" yaml:"maxContinuations,omitempty"`

	// ContinuationPrompt is the user turn sent when continuing a
	// truncated response.
	ContinuationPrompt string `json:"continuationPrompt,omitempty" yaml:"continuationPrompt,omitempty"`

	// MaxCallRetries bounds retries of transport-level provider failures.
	MaxCallRetries int `json:"maxCallRetries,omitempty" yaml:"maxCallRetries,omitempty"`

	// CallRetryDelay is the base backoff delay, doubled per attempt.
	CallRetryDelay time.Duration `json:"callRetryDelay,omitempty" yaml:"callRetryDelay,omitempty"`

	// CallTimeout bounds a single provider call; an expired call counts as
	// a retryable failure.
	CallTimeout time.Duration `json:"callTimeout,omitempty" yaml:"callTimeout,omitempty"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxParallel:        1,
		MaxContinuations:   3,
		ContinuationPrompt: "Continue exactly where you left off.",
		MaxCallRetries:     2,
		CallRetryDelay:     500 * time.Millisecond,
		CallTimeout:        2 * time.Minute,
	}
}

// Validate applies defaults to unset values.
func (c *Config) Validate() {
	defaults := DefaultConfig()
	if c.MaxParallel <= 0 {
		c.MaxParallel = defaults.MaxParallel
	}
	if c.MaxContinuations < 0 {
		c.MaxContinuations = defaults.MaxContinuations
	}
	if c.ContinuationPrompt == "" {
		c.ContinuationPrompt = defaults.ContinuationPrompt
	}
	if c.MaxCallRetries < 0 {
		c.MaxCallRetries = defaults.MaxCallRetries
	}
	if c.CallRetryDelay <= 0 {
		c.CallRetryDelay = defaults.CallRetryDelay
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaults.CallTimeout
	}
}
