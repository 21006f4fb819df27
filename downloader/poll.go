package downloader

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrPollTimeout is returned when the downloads are still being prepared after the last poll
var ErrPollTimeout = errors.New("downloads are still being prepared")

// Clock provides the current time and the waits of the poll loop
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock
var RealClock Clock = realClock{}

// PollPolicy configures the wait for the preparation of the downloads.
// The n-th wait (starting at 0) is min(Interval*Multiplier^n, MaxInterval).
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	MaxAttempts int           // 0: unlimited
	Timeout     time.Duration // 0: no deadline
}

// DefaultPollPolicy waits 30s, then 45s... up to 5 minutes, 60 times at most
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    30 * time.Second,
		MaxInterval: 5 * time.Minute,
		Multiplier:  1.5,
		MaxAttempts: 60,
	}
}

// Validate checks the consistency of the policy
func (p PollPolicy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if p.MaxInterval > 0 && p.MaxInterval < p.Interval {
		return fmt.Errorf("poll max interval (%v) must be greater than poll interval (%v)", p.MaxInterval, p.Interval)
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("poll multiplier must be greater or equal to 1")
	}
	if p.MaxAttempts < 0 || p.Timeout < 0 {
		return fmt.Errorf("poll max attempts and timeout must be positive")
	}
	return nil
}

// Wait returns the duration of the n-th wait
func (p PollPolicy) Wait(n int) time.Duration {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	wait := float64(p.Interval) * math.Pow(multiplier, float64(n))
	if p.MaxInterval > 0 && wait > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	if wait > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(wait)
}

// poller counts the attempts and checks the deadline
type poller struct {
	policy   PollPolicy
	clock    Clock
	attempt  int
	deadline time.Time
}

func newPoller(policy PollPolicy, clock Clock) *poller {
	p := &poller{policy: policy, clock: clock}
	if policy.Timeout > 0 {
		p.deadline = clock.Now().Add(policy.Timeout)
	}
	return p
}

// next returns the next wait, or ErrPollTimeout if no more attempt is allowed
func (p *poller) next() (time.Duration, error) {
	if p.policy.MaxAttempts > 0 && p.attempt >= p.policy.MaxAttempts {
		return 0, fmt.Errorf("%w after %d attempts", ErrPollTimeout, p.attempt)
	}
	wait := p.policy.Wait(p.attempt)
	if !p.deadline.IsZero() {
		remaining := p.deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			return 0, fmt.Errorf("%w after %v", ErrPollTimeout, p.policy.Timeout)
		}
		if wait > remaining {
			wait = remaining
		}
	}
	p.attempt++
	return wait, nil
}
