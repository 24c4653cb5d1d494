package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Boundary(t *testing.T) {
	const maxAttempts = 5

	for n := 1; n <= maxAttempts; n++ {
		assert.Equal(t, Continue, Classify(n, maxAttempts), "attempt %d", n)
	}
	assert.Equal(t, Exhausted, Classify(maxAttempts+1, maxAttempts))
	assert.Equal(t, Exhausted, Classify(maxAttempts+10, maxAttempts))
}

func TestClassify_IsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, Continue, Classify(5, 5))
		assert.Equal(t, Exhausted, Classify(6, 5))
	}
}

func TestLimiter(t *testing.T) {
	tests := []struct {
		name       string
		max        int
		retryCount int
		expected   Verdict
	}{
		{name: "default budget, within", max: 0, retryCount: 5, expected: Continue},
		{name: "default budget, over", max: 0, retryCount: 6, expected: Exhausted},
		{name: "custom budget, within", max: 2, retryCount: 2, expected: Continue},
		{name: "custom budget, over", max: 2, retryCount: 3, expected: Exhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewLimiter(tt.max).Classify(tt.retryCount))
		})
	}
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "CONTINUE", Continue.String())
	assert.Equal(t, "EXHAUSTED", Exhausted.String())
	assert.Equal(t, "UNKNOWN", Verdict(42).String())
}
