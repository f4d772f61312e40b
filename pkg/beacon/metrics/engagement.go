// Package metrics derives engagement, bounce and churn-risk scores.
//
// All functions are pure: they read a snapshot and return a value, keeping
// the scoring rules testable apart from the session and identity state that
// feed them.
package metrics

import (
	"math"
	"time"
)

// SessionInput is the slice of session state the scores depend on.
type SessionInput struct {
	PageViews    int
	ClickEvents  int
	ScrollEvents int
	// ScrollDepth is the deepest scroll position reached, in percent.
	ScrollDepth float64
	Duration    time.Duration
}

// EngagementScore returns a 0-100 measure of session activity intensity.
//
//	min(clicks×2, 25) + min(scrollDepth, 20) + min(minutes×3, 30)
//	  + min(pageViews×4, 20) + min(scrollEvents×0.5, 5)
func EngagementScore(in SessionInput) float64 {
	score := capAt(float64(nonNeg(in.ClickEvents))*2, 25) +
		capAt(math.Max(finiteOrZero(in.ScrollDepth), 0), 20) +
		capAt(math.Max(in.Duration.Minutes(), 0)*3, 30) +
		capAt(float64(nonNeg(in.PageViews))*4, 20) +
		capAt(float64(nonNeg(in.ScrollEvents))*0.5, 5)
	return clamp(score, 0, 100)
}

// BounceLikelihood returns a 0-100 estimate that the visitor leaves
// without engaging. Starts at 100 and subtracts for each depth signal.
func BounceLikelihood(in SessionInput) float64 {
	likelihood := 100.0
	seconds := in.Duration.Seconds()

	if in.PageViews > 1 {
		likelihood -= 30
	}
	if in.ClickEvents > 3 {
		likelihood -= 20
	}
	if in.ScrollEvents > 5 {
		likelihood -= 15
	}
	if finiteOrZero(in.ScrollDepth) > 50 {
		likelihood -= 15
	}
	if seconds > 30 {
		likelihood -= 10
	}
	if seconds > 120 {
		likelihood -= 10
	}
	return clamp(likelihood, 0, 100)
}

func capAt(v, limit float64) float64 {
	return math.Min(v, limit)
}

// clamp bounds v to [lo, hi]; NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}

// finiteOrZero maps NaN and ±Inf to 0.
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func nonNeg(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
