package harvest

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// ExponentialBackoff computes jittered delays between recovery attempts.
type ExponentialBackoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewExponentialBackoff builds a backoff. A zero base disables it.
func NewExponentialBackoff(base, maxDelay time.Duration) *ExponentialBackoff {
	if maxDelay < base {
		maxDelay = base
	}
	return &ExponentialBackoff{baseDelay: base, maxDelay: maxDelay}
}

// Backoff returns the extra wait before retry number attempt (0-based). The
// result lies in [d/2, d) where d = min(base*2^attempt, max).
func (p *ExponentialBackoff) Backoff(attempt int) time.Duration {
	if p == nil || p.baseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
