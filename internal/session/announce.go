package session

import (
	"context"
	"time"

	"github.com/seedbox-tools/ratiofaker/internal/faulterr"
	"github.com/seedbox-tools/ratiofaker/internal/tracker"
)

// announceLocked is the clone-and-drop-guard pattern: it copies out the
// fields an announce needs while mu is held, releases mu for the
// network round-trip, then re-acquires mu before returning so callers
// always regain the lock regardless of outcome.
func (s *Session) announceLocked(ctx context.Context, event tracker.Event) (*tracker.AnnounceResponse, error) {
	params := tracker.AnnounceParams{
		InfoHash:        s.meta.InfoHash,
		PeerID:          s.peerID,
		Port:            s.cfg.Port,
		Uploaded:        s.cumulativeUploaded,
		Downloaded:      s.cumulativeDownloaded,
		Left:            s.cumulativeLeft,
		Event:           event,
		NumWant:         s.effectiveNumWant(),
		Key:             s.key,
		TrackerID:       s.trackerID,
		SupportsCompact: s.fp.SupportsCompact,
		SupportsCrypto:  s.fp.SupportsCrypto,
		UserAgent:       s.fp.UserAgent,
	}

	s.mu.Unlock()
	resp, err := s.tr.Announce(ctx, params)
	s.mu.Lock()
	return resp, err
}

func (s *Session) effectiveNumWant() int {
	if s.cfg.NumWant > 0 {
		return s.cfg.NumWant
	}
	return s.fp.DefaultNumWant
}

// applyAnnounceSuccessLocked commits a successful announce's response
// into the session's schedule and tracker snapshot. Must be called with
// mu held.
func (s *Session) applyAnnounceSuccessLocked(now time.Time, resp *tracker.AnnounceResponse) {
	s.backoffCursor = nil

	if resp.Interval > 0 {
		s.announceInterval = resp.Interval
	}
	next := s.announceInterval
	if resp.MinInterval > 0 && next < resp.MinInterval {
		next = resp.MinInterval
	}

	if resp.TrackerID != "" {
		s.trackerID = resp.TrackerID
	}
	s.seeders = resp.Seeders
	s.leechers = resp.Leechers
	s.lastAnnounceAt = now
	s.nextAnnounceAt = now.Add(next)
	s.announceSeq++
}

// scheduleRetryLocked decides how soon to retry a failed periodic
// announce. A TrackerFailure (the tracker explicitly rejected the
// request) keeps the existing schedule, as if the announce had
// succeeded — the interval is not extended. A TransportFailure (a
// transient network error) instead backs off exponentially, so the core
// doesn't hammer an unreachable tracker every tick.
func (s *Session) scheduleRetryLocked(now time.Time, err error) {
	if !faulterr.Is(err, faulterr.KindTransportFailure) {
		s.nextAnnounceAt = now.Add(s.announceInterval)
		return
	}

	if s.backoffCursor == nil {
		s.backoffCursor = tracker.DefaultRetrySchedule().NewBackOff()
	}
	s.nextAnnounceAt = now.Add(s.backoffCursor.NextBackOff())
}
