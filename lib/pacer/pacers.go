package pacer

import (
	"time"
)

type (
	// MinSleep configures the minimum sleep time of a Calculator
	MinSleep time.Duration
	// MaxSleep configures the maximum sleep time of a Calculator
	MaxSleep time.Duration
	// DecayConstant configures the decay constant time of a Calculator
	DecayConstant uint
	// AttackConstant configures the attack constant of a Calculator
	AttackConstant uint
)

// Default is a truncated exponential attack and decay.
//
// On retries the sleep time is doubled, on non errors then sleeptime decays
// according to the decay constant as set with SetDecayConstant.
//
// The sleep never goes below that set with SetMinSleep or above that set
// with SetMaxSleep.
type Default struct {
	minSleep       time.Duration // minimum sleep time
	maxSleep       time.Duration // maximum sleep time
	decayConstant  uint          // decay constant
	attackConstant uint          // attack constant
}

// DefaultOption is the interface implemented by all options for the Default Calculator
type DefaultOption interface {
	ApplyDefault(*Default)
}

// NewDefault creates a Calculator used by Pacer as the default.
func NewDefault(opts ...DefaultOption) *Default {
	c := &Default{
		minSleep:       10 * time.Millisecond,
		maxSleep:       2 * time.Second,
		decayConstant:  2,
		attackConstant: 1,
	}
	for _, o := range opts {
		o.ApplyDefault(c)
	}
	return c
}

// ApplyDefault updates the value on the Calculator
func (o MinSleep) ApplyDefault(c *Default) {
	c.minSleep = time.Duration(o)
}

// ApplyDefault updates the value on the Calculator
func (o MaxSleep) ApplyDefault(c *Default) {
	c.maxSleep = time.Duration(o)
}

// ApplyDefault updates the value on the Calculator
func (o DecayConstant) ApplyDefault(c *Default) {
	c.decayConstant = uint(o)
}

// ApplyDefault updates the value on the Calculator
func (o AttackConstant) ApplyDefault(c *Default) {
	c.attackConstant = uint(o)
}

// Calculate takes the current Pacer state and return the wait time until the next try.
func (c *Default) Calculate(state State) time.Duration {
	if t, ok := IsRetryAfter(state.LastError); ok {
		if t < c.minSleep {
			return c.minSleep
		}
		return t
	}

	if state.ConsecutiveRetries > 0 {
		sleepTime := c.maxSleep
		if c.attackConstant != 0 {
			sleepTime = (state.SleepTime << c.attackConstant) / ((1 << c.attackConstant) - 1)
		}
		if sleepTime > c.maxSleep {
			sleepTime = c.maxSleep
		}
		return sleepTime
	}
	sleepTime := (state.SleepTime<<c.decayConstant - state.SleepTime) >> c.decayConstant
	if sleepTime < c.minSleep {
		sleepTime = c.minSleep
	}
	return sleepTime
}

// Backoff is an exponential backoff for retries which does not pace
// successful calls at all.
//
// The n-th consecutive retry waits MinSleep·2^(n-1), capped at MaxSleep.
// A server supplied Retry-After wins over the computed delay but is
// still capped at MaxSleep.
type Backoff struct {
	minSleep time.Duration
	maxSleep time.Duration
}

// BackoffOption is the interface implemented by all options for the Backoff Calculator
type BackoffOption interface {
	ApplyBackoff(*Backoff)
}

// NewBackoff creates a Backoff calculator, by default 600ms to 20s.
func NewBackoff(opts ...BackoffOption) *Backoff {
	c := &Backoff{
		minSleep: 600 * time.Millisecond,
		maxSleep: 20 * time.Second,
	}
	for _, o := range opts {
		o.ApplyBackoff(c)
	}
	return c
}

// ApplyBackoff updates the value on the Calculator
func (o MinSleep) ApplyBackoff(c *Backoff) {
	c.minSleep = time.Duration(o)
}

// ApplyBackoff updates the value on the Calculator
func (o MaxSleep) ApplyBackoff(c *Backoff) {
	c.maxSleep = time.Duration(o)
}

// Calculate takes the current Pacer state and return the wait time until the next try.
func (c *Backoff) Calculate(state State) time.Duration {
	if state.ConsecutiveRetries <= 0 {
		return 0
	}
	if t, ok := IsRetryAfter(state.LastError); ok {
		if t > c.maxSleep {
			return c.maxSleep
		}
		if t < 0 {
			return 0
		}
		return t
	}
	sleepTime := c.minSleep
	for i := 1; i < state.ConsecutiveRetries; i++ {
		sleepTime *= 2
		if sleepTime >= c.maxSleep {
			return c.maxSleep
		}
	}
	if sleepTime > c.maxSleep {
		sleepTime = c.maxSleep
	}
	return sleepTime
}
