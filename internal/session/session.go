// Package session implements the per-torrent ratio-faking state machine:
// one Session owns a torrent's rate model, tracker identity, and
// synthetic byte counters, and advances them one Tick at a time.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/seedbox-tools/ratiofaker/internal/config"
	"github.com/seedbox-tools/ratiofaker/internal/faulterr"
	"github.com/seedbox-tools/ratiofaker/internal/fingerprint"
	"github.com/seedbox-tools/ratiofaker/internal/ratemodel"
	"github.com/seedbox-tools/ratiofaker/internal/torrent"
	"github.com/seedbox-tools/ratiofaker/internal/tracker"
	"log/slog"
)

const ringBufferLen = 60

// State is one of the five session lifecycle states.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ParseState reverses State.String(), for reconstructing a persisted
// session's state tag from its snapshot.
func ParseState(s string) (State, error) {
	switch s {
	case "idle":
		return StateIdle, nil
	case "running":
		return StateRunning, nil
	case "paused":
		return StatePaused, nil
	case "stopped":
		return StateStopped, nil
	case "completed":
		return StateCompleted, nil
	default:
		return 0, faulterr.InvalidInput(fmt.Sprintf("unknown session state %q", s))
	}
}

// EventKind tags a lifecycle/log-worthy occurrence emitted by a Session.
type EventKind int

const (
	EventStarted EventKind = iota
	EventAnnounceOK
	EventAnnounceFailed
	EventScrapeOK
	EventPaused
	EventResumed
	EventCompleted
	EventStopped
)

// Event is published through a Session's event sink (wired to the
// supervisor's log/lifecycle fan-out).
type Event struct {
	SessionID string
	Kind      EventKind
	Message   string
	At        time.Time
}

// Stats is the immutable snapshot returned by Stats(). It is rebuilt and
// published under a dedicated sync.RWMutex distinct from the session's
// mutation lock, so readers never block a running Tick.
type Stats struct {
	State State

	UploadedBytes   uint64
	DownloadedBytes uint64
	LeftBytes       uint64

	SessionUploadedBytes   uint64
	SessionDownloadedBytes uint64
	ElapsedTime            time.Duration

	CurrentUploadRateKiBps   float64
	CurrentDownloadRateKiBps float64
	AverageUploadRateKiBps   float64
	AverageDownloadRateKiBps float64

	Ratio        float64
	SessionRatio float64

	UploadProgressPercent   float64
	DownloadProgressPercent float64
	RatioProgressPercent    float64
	SeedTimeProgressPercent float64

	EtaUploaded *time.Duration
	EtaRatio    *time.Duration
	EtaSeedTime *time.Duration

	UploadRateHistory   []float64
	DownloadRateHistory []float64
	RatioHistory        []float64

	Seeders          int64
	Leechers         int64
	LastAnnounce     time.Time
	NextAnnounce     time.Time
	AnnounceSequence uint64
}

// Session is the per-torrent aggregate. All mutating operations
// (Tick, Start, Pause, Resume, Stop, Scrape) serialize on mu.
type Session struct {
	id      string
	meta    *torrent.Meta
	fp      *fingerprint.Fingerprint
	cfg     config.Config
	tr      tracker.Tracker
	logger  *slog.Logger
	onEvent func(Event)

	mu sync.Mutex

	state     State
	peerID    [20]byte
	key       string
	trackerID string

	announceInterval time.Duration
	nextAnnounceAt   time.Time
	lastAnnounceAt   time.Time
	announceSeq      uint64
	backoffCursor    backoff.BackOff

	startedAt  time.Time
	lastTickAt time.Time

	// cumulativeSeedTime accumulates wall-clock time spent Running or
	// Completed across every Start/Stop cycle and process restart, unlike
	// startedAt which resets on every Start. It is what stop_at_seed_time
	// and the persisted seed_time_secs actually measure.
	cumulativeSeedTime time.Duration

	cumulativeUploaded   uint64
	cumulativeDownloaded uint64
	cumulativeLeft       uint64
	sessionUploaded      uint64
	sessionDownloaded    uint64

	currentUploadRate   float64
	currentDownloadRate float64
	uploadRateHist      []float64
	downloadRateHist    []float64
	ratioHist           []float64

	seeders  int64
	leechers int64

	rng *rand.Rand

	statsMu sync.RWMutex
	stats   Stats
}

// New constructs an Idle session. initialUploaded/initialDownloaded seed
// the cumulative counters and initialSeedTime seeds cumulativeSeedTime
// (the supervisor applies the cumulative-counter inheritance rule, from
// either a persisted snapshot or an existing in-memory session for the
// same torrent, before calling New).
func New(
	id string,
	meta *torrent.Meta,
	cfg config.Config,
	tr tracker.Tracker,
	logger *slog.Logger,
	initialUploaded, initialDownloaded uint64,
	initialSeedTime time.Duration,
) (*Session, error) {
	fp, err := fingerprint.New(cfg.ClientVariant, cfg.ClientVersion)
	if err != nil {
		return nil, err
	}

	left := uint64(0)
	if meta.TotalSize > int64(initialDownloaded) {
		left = uint64(meta.TotalSize) - initialDownloaded
	}

	s := &Session{
		id:                   id,
		meta:                 meta,
		fp:                   fp,
		cfg:                  cfg,
		tr:                   tr,
		logger:               logger,
		state:                StateIdle,
		announceInterval:     config.DefaultAnnounceInterval,
		cumulativeUploaded:   initialUploaded,
		cumulativeDownloaded: initialDownloaded,
		cumulativeLeft:       left,
		cumulativeSeedTime:   initialSeedTime,
		rng:                  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	s.commitStatsLocked(s.computeRatio(), 0, 0)
	return s, nil
}

func (s *Session) ID() string { return s.id }

// RestoreState forces a freshly constructed Idle session directly into
// state, without sending any announce — used only by the supervisor when
// reconstructing a session from a persisted snapshot on boot. Restoring
// into StateRunning is rejected: a Running session must go through Start
// so it gets a fresh peer-id/key and a real "started" announce, per
// spec.md §4.F ("any session whose saved state was Running is
// auto-started"). Must be called before Start, Pause, Resume, or Stop.
func (s *Session) RestoreState(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == StateRunning {
		return faulterr.InternalInvariant("RestoreState cannot target StateRunning; call Start instead")
	}
	s.state = state
	s.commitStatsLocked(s.computeRatio(), 0, 0)
	return nil
}

// SetEventSink wires the session's event emitter. Must be called before
// Start.
func (s *Session) SetEventSink(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// Stats returns a snapshot safe for concurrent readers.
func (s *Session) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *Session) emitEvent(kind EventKind, message string) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(Event{SessionID: s.id, Kind: kind, Message: message, At: time.Now()})
}

// Start transitions Idle/Stopped -> Running, generating a fresh peer-id
// and key (regenerated once per session, never per announce) and sending
// a "started" announce.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return faulterr.InvalidInput(fmt.Sprintf("cannot start session from state %s", s.state))
	}

	peerID, err := s.fp.GeneratePeerID()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	key, err := s.fp.GenerateKey()
	if err != nil {
		s.mu.Unlock()
		return err
	}

	now := time.Now()
	s.peerID = peerID
	s.key = key
	s.trackerID = ""
	s.sessionUploaded = 0
	s.sessionDownloaded = 0
	s.announceSeq = 0
	s.backoffCursor = nil
	s.startedAt = now
	s.lastTickAt = now
	s.state = StateRunning

	resp, err := s.announceLocked(ctx, tracker.EventStarted)
	if err != nil {
		s.announceInterval = config.DefaultAnnounceInterval
		s.nextAnnounceAt = now
		s.commitStatsLocked(s.computeRatio(), 0, 0)
		s.mu.Unlock()
		s.emitEvent(EventAnnounceFailed, err.Error())
		s.emitEvent(EventStarted, "")
		return nil
	}
	s.applyAnnounceSuccessLocked(now, resp)
	s.commitStatsLocked(s.computeRatio(), 0, 0)
	s.mu.Unlock()

	s.emitEvent(EventStarted, "")
	s.emitEvent(EventAnnounceOK, "")
	return nil
}

// Pause transitions Running -> Paused.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return faulterr.InvalidInput(fmt.Sprintf("cannot pause session from state %s", s.state))
	}
	s.state = StatePaused
	s.commitStatsLocked(s.computeRatio(), s.stats.AverageUploadRateKiBps, s.stats.AverageDownloadRateKiBps)
	s.emitEvent(EventPaused, "")
	return nil
}

// Resume transitions Paused -> Running. The last-tick timestamp is reset
// to now so the first post-resume tick does not account bytes for the
// paused interval.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return faulterr.InvalidInput(fmt.Sprintf("cannot resume session from state %s", s.state))
	}
	s.state = StateRunning
	s.lastTickAt = time.Now()
	s.commitStatsLocked(s.computeRatio(), s.stats.AverageUploadRateKiBps, s.stats.AverageDownloadRateKiBps)
	s.emitEvent(EventResumed, "")
	return nil
}

// Stop sends a best-effort "stopped" announce and transitions to
// Stopped regardless of whether that announce succeeds.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	if _, err := s.announceLocked(ctx, tracker.EventStopped); err != nil {
		s.logger.Warn("stop announce failed", slog.String("session_id", s.id), slog.Any("error", err))
	}
	s.state = StateStopped
	s.commitStatsLocked(s.computeRatio(), s.stats.AverageUploadRateKiBps, s.stats.AverageDownloadRateKiBps)
	s.mu.Unlock()

	s.emitEvent(EventStopped, "requested")
	return nil
}

// Scrape queries the tracker for aggregate swarm stats without affecting
// the session's announce schedule.
func (s *Session) Scrape(ctx context.Context) (*tracker.ScrapeStats, error) {
	s.mu.Lock()
	infoHash := s.meta.InfoHash
	s.mu.Unlock()

	stats, err := s.tr.Scrape(ctx, infoHash)
	if err != nil {
		s.emitEvent(EventAnnounceFailed, err.Error())
		return nil, err
	}
	s.emitEvent(EventScrapeOK, "")
	return stats, nil
}

// Tick advances the session by one update step. It is a no-op unless the
// session is Running or Completed (a completed session keeps ticking as
// a seeder).
func (s *Session) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StateCompleted {
		s.mu.Unlock()
		return
	}

	deltaSecs := now.Sub(s.lastTickAt).Seconds()
	if deltaSecs < 0 {
		deltaSecs = 0
	}
	s.lastTickAt = now
	s.cumulativeSeedTime += time.Duration(deltaSecs * float64(time.Second))
	elapsedSinceStart := now.Sub(s.startedAt).Seconds()

	up, down := s.cfg.RateModel.CurrentRates(elapsedSinceStart, s.rng)
	s.currentUploadRate = up
	s.currentDownloadRate = down

	upDelta := ratemodel.BytesForTick(up, deltaSecs)
	s.cumulativeUploaded += upDelta
	s.sessionUploaded += upDelta

	if s.cumulativeLeft > 0 {
		downDelta := ratemodel.BytesForTick(down, deltaSecs)
		if downDelta > s.cumulativeLeft {
			downDelta = s.cumulativeLeft
		}
		s.cumulativeDownloaded += downDelta
		s.sessionDownloaded += downDelta
		s.cumulativeLeft -= downDelta
	}

	justCompleted := s.meta.TotalSize > 0 && s.cumulativeLeft == 0 && s.state == StateRunning
	if justCompleted {
		s.state = StateCompleted
		if _, err := s.announceLocked(ctx, tracker.EventCompleted); err != nil {
			s.mu.Unlock()
			s.emitEvent(EventAnnounceFailed, err.Error())
			s.emitEvent(EventCompleted, "")
			s.mu.Lock()
		} else {
			s.mu.Unlock()
			s.emitEvent(EventCompleted, "")
			s.emitEvent(EventAnnounceOK, "")
			s.mu.Lock()
		}
	}

	ratio := s.computeRatio()
	s.ratioHist = appendRing(s.ratioHist, ratio, ringBufferLen)
	s.uploadRateHist = appendRing(s.uploadRateHist, up, ringBufferLen)
	s.downloadRateHist = appendRing(s.downloadRateHist, down, ringBufferLen)

	elapsedSecs := now.Sub(s.startedAt).Seconds()
	avgUp, avgDown := 0.0, 0.0
	if elapsedSecs > 0 {
		avgUp = (float64(s.sessionUploaded) / 1024) / elapsedSecs
		avgDown = (float64(s.sessionDownloaded) / 1024) / elapsedSecs
	}

	if reason, fire := s.evaluateStopPredicates(ratio); fire {
		s.state = StateStopped
		if _, err := s.announceLocked(ctx, tracker.EventStopped); err != nil {
			s.logger.Warn("stop announce failed", slog.String("session_id", s.id), slog.Any("error", err))
		}
		s.commitStatsLocked(ratio, avgUp, avgDown)
		s.mu.Unlock()
		s.emitEvent(EventStopped, reason)
		return
	}

	dueAnnounce := !s.nextAnnounceAt.IsZero() && !now.Before(s.nextAnnounceAt)
	s.commitStatsLocked(ratio, avgUp, avgDown)

	if !dueAnnounce {
		s.mu.Unlock()
		return
	}

	resp, err := s.announceLocked(ctx, tracker.EventNone)
	if err != nil {
		s.scheduleRetryLocked(now, err)
		s.commitStatsLocked(ratio, avgUp, avgDown)
		s.mu.Unlock()
		s.emitEvent(EventAnnounceFailed, err.Error())
		return
	}
	s.applyAnnounceSuccessLocked(now, resp)
	s.commitStatsLocked(ratio, avgUp, avgDown)
	s.mu.Unlock()
	s.emitEvent(EventAnnounceOK, "")
}

func (s *Session) computeRatio() float64 {
	if s.meta.TotalSize <= 0 {
		return 0
	}
	return float64(s.cumulativeUploaded) / float64(s.meta.TotalSize)
}

func (s *Session) evaluateStopPredicates(ratio float64) (string, bool) {
	st := s.cfg.Stop
	if st.StopAtRatioEnabled && ratio >= st.StopAtRatio-1e-3 {
		return "stop_at_ratio", true
	}
	if st.StopAtUploadedBytesEnabled && s.sessionUploaded >= st.StopAtUploadedBytes {
		return "stop_at_uploaded_bytes", true
	}
	if st.StopAtDownloadedBytesEnabled && s.sessionDownloaded >= st.StopAtDownloadedBytes {
		return "stop_at_downloaded_bytes", true
	}
	if st.StopAtSeedTimeSecsEnabled && uint64(s.cumulativeSeedTime.Seconds()) >= st.StopAtSeedTimeSecs {
		return "stop_at_seed_time_secs", true
	}
	if st.StopWhenNoLeechers && s.leechers == 0 && s.announceSeq >= 1 {
		return "stop_when_no_leechers", true
	}
	return "", false
}

func appendRing(buf []float64, v float64, max int) []float64 {
	buf = append(buf, v)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
