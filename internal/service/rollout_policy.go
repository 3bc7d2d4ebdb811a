package service

import "time"

// RolloutPolicy drives the progress of gradual distributions. Progress is the share of the target
// population reached, 0-100.
type RolloutPolicy interface {
	// Initial is the progress a gradual distribution reports as soon as it starts.
	Initial() int
	// Advance returns the progress reached at now given the progress recorded at since, along with
	// the instant that progress should be anchored to.
	Advance(progress int, since, now time.Time) (int, time.Time)
}

// LinearRampPolicy adds Step percentage points every Interval.
type LinearRampPolicy struct {
	Step     int
	Interval time.Duration
}

// NewLinearRampPolicy builds a ramp, falling back to 10 points per hour for non-positive inputs.
func NewLinearRampPolicy(step int, interval time.Duration) LinearRampPolicy {
	if step <= 0 {
		step = 10
	}
	if step > 100 {
		step = 100
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return LinearRampPolicy{Step: step, Interval: interval}
}

// Initial implements RolloutPolicy.
func (p LinearRampPolicy) Initial() int {
	return clampProgress(p.Step)
}

// Advance implements RolloutPolicy. Partial intervals carry over to the next evaluation.
func (p LinearRampPolicy) Advance(progress int, since, now time.Time) (int, time.Time) {
	if progress >= 100 || p.Interval <= 0 || !now.After(since) {
		return progress, since
	}
	steps := int(now.Sub(since) / p.Interval)
	if steps == 0 {
		return progress, since
	}
	next := clampProgress(progress + steps*p.Step)
	return next, since.Add(time.Duration(steps) * p.Interval)
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
