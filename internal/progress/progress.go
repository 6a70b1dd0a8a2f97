// Package progress estimates render completion from elapsed wall-clock time.
package progress

import "time"

// Estimate returns elapsed / (maxFrames * perFrame) as a percentage.
// The result is not clamped and grows past 100 when the render runs long.
// Non-positive maxFrames or perFrame yield 0.
func Estimate(elapsed time.Duration, maxFrames int, perFrame time.Duration) float64 {
	if maxFrames <= 0 || perFrame <= 0 || elapsed <= 0 {
		return 0
	}
	total := time.Duration(maxFrames) * perFrame
	return float64(elapsed) / float64(total) * 100
}

// Reportable truncates an estimate to the integer percentage sent while a
// job is still running. Unlike the raw estimate it never exceeds 99: long
// renders would otherwise report more than 100% before they finish, and 100
// is left for the success report.
func Reportable(pct float64) int {
	switch {
	case pct <= 0:
		return 0
	case pct >= 99:
		return 99
	default:
		return int(pct)
	}
}
