package retry

// DefaultMaxAttempts is the retry budget used when none is configured.
const DefaultMaxAttempts = 5

// Verdict is the limiter's decision for one pass.
type Verdict int

const (
	Continue Verdict = iota
	Exhausted
)

func (v Verdict) String() string {
	switch v {
	case Continue:
		return "CONTINUE"
	case Exhausted:
		return "EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// Classify compares an already incremented retry count against the budget.
// A count equal to maxAttempts still gets its retry.
func Classify(retryCount, maxAttempts int) Verdict {
	if retryCount > maxAttempts {
		return Exhausted
	}
	return Continue
}

// Limiter holds the retry budget fixed at startup.
type Limiter struct {
	MaxAttempts int
}

func NewLimiter(maxAttempts int) Limiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Limiter{MaxAttempts: maxAttempts}
}

func (l Limiter) Classify(retryCount int) Verdict {
	return Classify(retryCount, l.MaxAttempts)
}
