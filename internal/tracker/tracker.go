// Package tracker speaks the BitTorrent HTTP tracker protocol (BEP 3): it
// assembles announce/scrape requests exactly as a real client would and
// decodes the bencoded responses. It never contacts peers — the returned
// peer list, if any, is not parsed.
package tracker

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/url"
	"time"
)

// Tracker abstracts one tracker endpoint (one URL from a torrent's
// announce or announce-list).
type Tracker interface {
	// URL returns the tracker's announce URL.
	URL() string

	// Announce sends a single announce request and returns the decoded
	// response. Exactly one HTTP GET, honoring ctx's deadline.
	Announce(ctx context.Context, params AnnounceParams) (*AnnounceResponse, error)

	// SupportsScrape reports whether URL's final path segment is derived
	// from "announce", making a scrape endpoint derivable.
	SupportsScrape() bool

	// Scrape queries aggregate swarm statistics for infoHash.
	Scrape(ctx context.Context, infoHash [sha1.Size]byte) (*ScrapeStats, error)
}

// Event is the BEP 3 "event" announce parameter.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventCompleted
	EventStopped
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventStopped:
		return "stopped"
	default:
		return ""
	}
}

// AnnounceParams carries one announce request's parameters. Fields are
// copied out of a session under lock before the request is issued (the
// clone-and-drop-guard pattern), so this type has no mutable internal
// state of its own.
type AnnounceParams struct {
	InfoHash [sha1.Size]byte
	PeerID   [20]byte
	Port     uint16

	Uploaded   uint64
	Downloaded uint64
	Left       uint64

	Event Event

	NumWant         int
	Key             string
	TrackerID       string
	SupportsCompact bool
	SupportsCrypto  bool

	UserAgent string
}

// AnnounceResponse is the decoded body of a 2xx announce reply.
type AnnounceResponse struct {
	Interval    time.Duration
	MinInterval time.Duration
	Seeders     int64 // "complete"
	Leechers    int64 // "incomplete"
	TrackerID   string
	Warning     string
}

// ScrapeStats is the decoded per-infohash entry of a scrape reply.
type ScrapeStats struct {
	Seeders   int64
	Leechers  int64
	Completed int64
	Name      string
}

// New constructs a Tracker for announceURL. Only http/https are
// supported; the core never speaks the UDP tracker protocol.
func New(announceURL string, userAgent string) (Tracker, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: invalid announce url %q: %w", announceURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return newHTTPTracker(u, userAgent), nil
	default:
		return nil, fmt.Errorf("tracker: unsupported scheme %q", u.Scheme)
	}
}
