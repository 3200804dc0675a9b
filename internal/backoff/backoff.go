package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy names accepted by Compute.
const (
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// Compute returns the delay before retry number attempt (0 based).
// Unknown policies behave like exp_full_jitter.
func Compute(policy string, base, maxDelay time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case PolicyFixed:
		return min(base, maxDelay)
	case PolicyLinear:
		return min(base*time.Duration(max(1, attempt)), maxDelay)
	case PolicyExponential:
		return exponential(base, maxDelay, attempt)
	case PolicyExpEqualJitter:
		d := exponential(base, maxDelay, attempt)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		d := exponential(base, maxDelay, attempt)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

func exponential(base, maxDelay time.Duration, attempt int) time.Duration {
	f := float64(base) * math.Pow(2, float64(attempt))
	if f > float64(maxDelay) || math.IsInf(f, 0) {
		return maxDelay
	}
	return time.Duration(f)
}

// Valid reports whether policy is one of the known names.
func Valid(policy string) bool {
	switch policy {
	case PolicyFixed, PolicyLinear, PolicyExponential, PolicyExpEqualJitter, PolicyExpFullJitter:
		return true
	default:
		return false
	}
}
