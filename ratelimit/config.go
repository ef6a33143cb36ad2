package ratelimit

import "time"

// Config holds the tuning of one sliding-window counter family.
// There are no defaults: the zero value is invalid.
type Config struct {
	// Window is the span over which reservations count. 0 means the window never slides.
	Window time.Duration `yaml:"window"`
	// Limit is the maximum number of live reservations.
	Limit int64 `yaml:"limit"`
	// Block is how long a counter stays exhausted once it reaches Limit, and
	// the idle TTL of the counter. 0 is only valid together with Window 0 and
	// means the counter blocks forever.
	Block time.Duration `yaml:"block"`
}

// Forever reports whether counters never expire and only Cleanup releases them.
func (c Config) Forever() bool {
	return c.Window == 0 && c.Block == 0
}

// Validate rejects configurations the store cannot honor. Nothing is clamped.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return configError("limit must be > 0, got %d", c.Limit)
	}
	if c.Window < 0 {
		return configError("window must be >= 0, got %s", c.Window)
	}
	if c.Block < 0 {
		return configError("block must be >= 0, got %s", c.Block)
	}
	if c.Window%time.Millisecond != 0 {
		return configError("window must be a whole number of milliseconds, got %s", c.Window)
	}
	if c.Block%time.Millisecond != 0 {
		return configError("block must be a whole number of milliseconds, got %s", c.Block)
	}
	if c.Block == 0 && c.Window != 0 {
		return configError("block may only be 0 when window is 0")
	}
	if c.Window > 0 && c.Block < c.Window {
		return configError("block (%s) must cover the window (%s)", c.Block, c.Window)
	}
	return nil
}

func (c Config) windowMillis() int64 { return c.Window.Milliseconds() }
func (c Config) blockMillis() int64  { return c.Block.Milliseconds() }
