// Package ratemodel computes the simulated upload/download throughput a
// session reports on each tick: a configured base rate, optionally ramped
// toward a target over a progressive horizon, optionally jittered.
package ratemodel

import "math/rand/v2"

// Model holds one session's rate-shaping configuration. All rates are in
// KiB/s. Model is immutable once constructed; Tick computations take it
// by value.
type Model struct {
	BaseUploadRate   float64
	BaseDownloadRate float64

	Randomize          bool
	JitterRangePercent float64

	Progressive            bool
	TargetUploadRate       float64
	TargetDownloadRate     float64
	ProgressiveHorizonSecs float64
}

// CurrentRates returns the upload and download rates, in KiB/s, that
// apply elapsedSecs into the session, after progressive interpolation and
// jitter. elapsedSecs is the time since the session started (not since
// the last tick) so the ramp is stable across pause/resume.
func (m Model) CurrentRates(elapsedSecs float64, rng *rand.Rand) (uploadKiBps, downloadKiBps float64) {
	up := m.progressiveRate(m.BaseUploadRate, m.TargetUploadRate, elapsedSecs)
	down := m.progressiveRate(m.BaseDownloadRate, m.TargetDownloadRate, elapsedSecs)

	if m.Randomize {
		up = m.applyJitter(up, rng)
		down = m.applyJitter(down, rng)
	}
	return up, down
}

// progressiveRate linearly interpolates from base to target over
// ProgressiveHorizonSecs, clamped at target once elapsedSecs reaches the
// horizon. When Progressive is false, or the horizon is non-positive, it
// returns base unchanged.
func (m Model) progressiveRate(base, target, elapsedSecs float64) float64 {
	if !m.Progressive || m.ProgressiveHorizonSecs <= 0 {
		return base
	}
	if elapsedSecs >= m.ProgressiveHorizonSecs {
		return target
	}
	frac := elapsedSecs / m.ProgressiveHorizonSecs
	return base + (target-base)*frac
}

// applyJitter multiplies rate by 1 + U(-r, +r), r = JitterRangePercent /
// 100. A single draw is never clamped below zero here — the caller is
// responsible for clamping the byte delta added to counters, not the
// rate itself, so the average rate stays at the configured value over
// long horizons.
func (m Model) applyJitter(rate float64, rng *rand.Rand) float64 {
	if m.JitterRangePercent == 0 {
		return rate
	}
	r := m.JitterRangePercent / 100
	draw := -r + rng.Float64()*2*r
	return rate * (1 + draw)
}

// BytesForTick converts a KiB/s rate and a tick duration into a byte
// delta, clamped to zero (a negative jitter draw must never remove bytes
// from a counter).
func BytesForTick(rateKiBps float64, deltaSecs float64) uint64 {
	bytes := rateKiBps * 1024 * deltaSecs
	if bytes <= 0 {
		return 0
	}
	return uint64(bytes)
}
