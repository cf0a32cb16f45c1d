package supervisor

import (
	"sync"

	"github.com/seedbox-tools/ratiofaker/internal/session"
)

const (
	lifecycleHubSlots = 64
	logHubSlots       = 256
)

// LogLine is one ambient log record fanned out to subscribers, distinct
// from the lifecycle-event stream: every session.Event also becomes a
// LogLine, with level "warn" for a failed announce and "info" otherwise.
// The supervisor publishes no other records to this stream.
type LogLine struct {
	SessionID string
	Level     string
	Message   string
}

// hub is a bounded, drop-oldest broadcast point. Each subscriber gets a
// buffered channel; when a subscriber's buffer is full, the hub evicts
// that subscriber's oldest unread value rather than blocking the
// publisher. There is no natural fit for a message broker here — this
// is in-process pub/sub between the supervisor and its own channel
// consumers (a CLI, a future HTTP/SSE layer), so it stays on stdlib
// channels (see DESIGN.md).
type hub[T any] struct {
	slots int

	subMu sync.Mutex
	subs  map[chan T]struct{}
}

func newHub[T any](slots int) *hub[T] {
	return &hub[T]{slots: slots, subs: make(map[chan T]struct{})}
}

// Subscribe returns a channel that receives every value published after
// this call. The caller must eventually call the returned cancel func.
func (h *hub[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, h.slots)
	h.subMu.Lock()
	h.subs[ch] = struct{}{}
	h.subMu.Unlock()

	cancel := func() {
		h.subMu.Lock()
		delete(h.subs, ch)
		h.subMu.Unlock()
	}
	return ch, cancel
}

// Publish fans v out to every subscriber, evicting the oldest buffered
// value from any subscriber whose channel is full.
func (h *hub[T]) Publish(v T) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// eventLogLevel maps a session.EventKind to the log surface's severity.
func eventLogLevel(k session.EventKind) string {
	if k == session.EventAnnounceFailed {
		return "warn"
	}
	return "info"
}

// eventKindString renders a session.EventKind as the log/event surface's
// wire-friendly lowercase tag.
func eventKindString(k session.EventKind) string {
	switch k {
	case session.EventStarted:
		return "started"
	case session.EventAnnounceOK:
		return "announce_ok"
	case session.EventAnnounceFailed:
		return "announce_failed"
	case session.EventScrapeOK:
		return "scrape_ok"
	case session.EventPaused:
		return "paused"
	case session.EventResumed:
		return "resumed"
	case session.EventCompleted:
		return "completed"
	case session.EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
