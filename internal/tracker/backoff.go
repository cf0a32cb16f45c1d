package tracker

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetrySchedule configures how long the session engine waits before
// retrying a periodic announce after a transport failure. It
// governs *when the next announce is attempted*, never the in-flight
// request's own timeout.
type RetrySchedule struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetrySchedule mirrors a conservative client: back off quickly on
// repeated failures but never wait longer than a typical tracker's own
// interval.
func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{
		InitialInterval: 10 * time.Second,
		MaxInterval:     15 * time.Minute,
		Multiplier:      2.0,
	}
}

// NewBackOff returns a fresh exponential backoff cursor. Callers call
// NextBackOff() once per failed announce; the session engine discards the
// cursor on the first success and builds a new one on the next failure.
func (s RetrySchedule) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialInterval
	b.MaxInterval = s.MaxInterval
	b.Multiplier = s.Multiplier
	b.MaxElapsedTime = 0 // never give up; the session keeps retrying forever
	return b
}
