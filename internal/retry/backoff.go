package retry

import "time"

// DefaultBackoffStep is the per-attempt delay of the default linear policy.
const DefaultBackoffStep = 60 * time.Second

// Policy computes the delay before retry attempt n (1-indexed).
type Policy interface {
	DelayFor(attempt int) time.Duration
}

// Linear grows the delay by Step per attempt: Step * attempt.
type Linear struct {
	Step time.Duration
}

// NewLinear creates a linear policy. A non-positive step falls back to
// DefaultBackoffStep.
func NewLinear(step time.Duration) *Linear {
	if step <= 0 {
		step = DefaultBackoffStep
	}
	return &Linear{Step: step}
}

// DelayFor returns Step * attempt.
func (l *Linear) DelayFor(attempt int) time.Duration {
	return l.Step * time.Duration(attempt)
}

// NextFireTime returns now + p.DelayFor(attempt) in UTC with the sub-second
// part dropped.
func NextFireTime(p Policy, now time.Time, attempt int) time.Time {
	return now.Add(p.DelayFor(attempt)).UTC().Truncate(time.Second)
}
