package resilience

import "time"

// Breaker defaults.
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 2

	// The provider breaker trips sooner so a dead API key or outage shows up
	// on the status line within a few lines of dialogue.
	ProviderThreshold         = 3
	ProviderResetTimeout      = 20 * time.Second
	ProviderHalfOpenSuccesses = 1
)

// Config holds breaker settings.
type Config struct {
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // time open before a probe is allowed
	HalfOpenSuccesses int           // probe successes needed to close

	// Ignore reports errors that should not count against the breaker,
	// such as caller cancellation.
	Ignore func(error) bool
}

// DefaultConfig returns general purpose settings.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// ProviderConfig returns the settings used for translation provider calls.
func ProviderConfig() Config {
	return Config{
		Threshold:         ProviderThreshold,
		ResetTimeout:      ProviderResetTimeout,
		HalfOpenSuccesses: ProviderHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
