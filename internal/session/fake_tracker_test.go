package session

import (
	"context"
	"crypto/sha1"
	"sync"
	"time"

	"github.com/seedbox-tools/ratiofaker/internal/tracker"
)

// fakeTracker is an in-memory stub of tracker.Tracker for exercising the
// session state machine without any network I/O.
type fakeTracker struct {
	mu sync.Mutex

	interval    int64 // seconds
	minInterval int64
	seeders     int64
	leechers    int64
	trackerID   string
	announceErr error

	announces []tracker.AnnounceParams
}

func (f *fakeTracker) URL() string          { return "http://fake.test/announce" }
func (f *fakeTracker) SupportsScrape() bool { return true }

func (f *fakeTracker) Announce(ctx context.Context, p tracker.AnnounceParams) (*tracker.AnnounceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announces = append(f.announces, p)

	if f.announceErr != nil {
		return nil, f.announceErr
	}

	return &tracker.AnnounceResponse{
		Interval:    time.Duration(f.interval) * time.Second,
		MinInterval: time.Duration(f.minInterval) * time.Second,
		Seeders:     f.seeders,
		Leechers:    f.leechers,
		TrackerID:   f.trackerID,
	}, nil
}

func (f *fakeTracker) Scrape(ctx context.Context, infoHash [sha1.Size]byte) (*tracker.ScrapeStats, error) {
	return &tracker.ScrapeStats{Seeders: f.seeders, Leechers: f.leechers}, nil
}

func (f *fakeTracker) announceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.announces)
}

func (f *fakeTracker) lastEvent() tracker.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.announces) == 0 {
		return tracker.EventNone
	}
	return f.announces[len(f.announces)-1].Event
}
