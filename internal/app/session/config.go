package session

import (
	"math"
	"time"
)

// Backoff is the reconnect delay policy: Base·Multiplier^n plus up to Jitter·d of
// random extra delay, capped at Cap.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
	Jitter     float64 // Fraction of the delay, kept below Multiplier-1
}

// Delay returns the delay before retry attempt n (0-based). r is a uniform sample in [0,1).
func (b Backoff) Delay(n int, r float64) time.Duration {
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(n))
	if b.Jitter > 0 {
		d += d * b.Jitter * r
	}
	if d > float64(b.Cap) || math.IsInf(d, 1) {
		d = float64(b.Cap)
	}
	return time.Duration(d)
}

func (b Backoff) normalized() Backoff {
	if b.Base <= 0 {
		b.Base = 500 * time.Millisecond
	}
	if b.Cap < b.Base {
		b.Cap = 30 * time.Second
		if b.Cap < b.Base {
			b.Cap = b.Base
		}
	}
	if b.Multiplier <= 1 {
		b.Multiplier = 2
	}
	// Jitter must not let attempt n overtake attempt n+1.
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Jitter >= b.Multiplier-1 {
		b.Jitter = (b.Multiplier - 1) / 2
	}
	return b
}

// Config represents coordinator configuration.
type Config struct {
	QueueSize       int           // Pending command capacity
	CommandTimeout  time.Duration // Bound for one backend command or item resolution
	Backoff         Backoff       // Reconnect delay policy
	MaxAttempts     int           // Retries before Errored
	SeekTolerance   time.Duration // Distance at which a tick confirms a pending seek
	SeekSettleTicks int           // Disagreeing ticks ignored after a seek
	AutoAdvance     bool          // Play the next queue item when a track ends
	TeardownTimeout time.Duration // Grace period for closing a session
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:      64,
		CommandTimeout: 10 * time.Second,
		Backoff: Backoff{
			Base:       500 * time.Millisecond,
			Cap:        30 * time.Second,
			Multiplier: 2,
			Jitter:     0.2,
		},
		MaxAttempts:     5,
		SeekTolerance:   1500 * time.Millisecond,
		SeekSettleTicks: 3,
		AutoAdvance:     true,
		TeardownTimeout: 3 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	c.Backoff = c.Backoff.normalized()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.SeekTolerance <= 0 {
		c.SeekTolerance = d.SeekTolerance
	}
	if c.SeekSettleTicks <= 0 {
		c.SeekSettleTicks = d.SeekSettleTicks
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = d.TeardownTimeout
	}
	return c
}
