// Package supervisor owns the registry of sessions, their background
// drivers, durable persistence, and event fan-out — the multi-session
// orchestration layer sitting above internal/session's single-session
// state machine.
package supervisor

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seedbox-tools/ratiofaker/internal/config"
	"github.com/seedbox-tools/ratiofaker/internal/faulterr"
	"github.com/seedbox-tools/ratiofaker/internal/fingerprint"
	"github.com/seedbox-tools/ratiofaker/internal/session"
	"github.com/seedbox-tools/ratiofaker/internal/torrent"
	"github.com/seedbox-tools/ratiofaker/internal/tracker"
	"github.com/seedbox-tools/ratiofaker/pkg/logging"
)

const snapshotInterval = 30 * time.Second

// managedSession bundles a running session.Session with the bookkeeping
// the supervisor needs to drive and persist it, but does not itself own.
type managedSession struct {
	id          string
	meta        *torrent.Meta
	cfg         config.Config
	source      Source
	torrentPath string
	createdAt   time.Time

	sess *session.Session

	driverCancel context.CancelFunc
	driverDone   chan struct{}
	driving      bool
}

// Supervisor is the process-wide registry described in spec.md §4.F. All
// mutating registry operations (create/delete, driver start/stop) take
// mu exclusively; GetStats/List take it for a shared read only long
// enough to copy out what's needed, never while blocked on I/O.
type Supervisor struct {
	mu       sync.RWMutex
	sessions map[string]*managedSession

	persist *persistence
	logger  *slog.Logger

	events *hub[session.Event]
	logs   *hub[LogLine]

	snapMu       sync.Mutex
	lastSnapshot time.Time
}

// New constructs a Supervisor backed by a persistence document at
// persistencePath. Call Boot to reconstruct any previously-saved
// sessions.
func New(persistencePath string, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		sessions: make(map[string]*managedSession),
		persist:  newPersistence(persistencePath),
		logger:   logger,
		events:   newHub[session.Event](lifecycleHubSlots),
		logs:     newHub[LogLine](logHubSlots),
	}
}

// Events subscribes to the lifecycle event stream.
func (sup *Supervisor) Events() (<-chan session.Event, func()) { return sup.events.Subscribe() }

// Logs subscribes to the ambient log stream.
func (sup *Supervisor) Logs() (<-chan LogLine, func()) { return sup.logs.Subscribe() }

// Boot reconstructs every session from the persistence document and
// auto-starts any whose saved state was Running, per spec.md §4.F.
func (sup *Supervisor) Boot(ctx context.Context) error {
	doc, err := sup.persist.Load()
	if err != nil {
		return err
	}

	for _, ps := range doc.Sessions {
		m, err := sup.reconstruct(ps)
		if err != nil {
			sup.logger.Warn("skipping unreconstructable persisted session", slog.String("session_id", ps.ID), slog.String("error", err.Error()))
			continue
		}
		sup.mu.Lock()
		sup.sessions[m.id] = m
		sup.mu.Unlock()

		if ps.State == session.StateRunning.String() {
			if err := sup.Start(ctx, m.id); err != nil {
				sup.logger.Warn("failed to auto-start session on boot", slog.String("session_id", m.id), slog.String("error", err.Error()))
			}
			continue
		}

		// Non-Running states (Idle/Paused/Stopped/Completed) are restored
		// directly: the session round-trips to the exact state it was
		// snapshotted in, without sending any announce.
		state, err := session.ParseState(ps.State)
		if err != nil {
			sup.logger.Warn("persisted session has unknown state, leaving Idle", slog.String("session_id", m.id), slog.Any("error", err))
			continue
		}
		if err := m.sess.RestoreState(state); err != nil {
			sup.logger.Warn("failed to restore session state on boot", slog.String("session_id", m.id), slog.Any("error", err))
		}
	}
	return nil
}

func (sup *Supervisor) reconstruct(ps PersistedSession) (*managedSession, error) {
	variant, err := fingerprint.ParseVariant(ps.ClientVariant)
	if err != nil {
		return nil, err
	}

	meta := &torrent.Meta{
		AnnounceURL: ps.Torrent.AnnounceURL,
		Name:        ps.Torrent.Name,
		TotalSize:   ps.Torrent.TotalSize,
	}
	raw, err := hex.DecodeString(ps.Torrent.InfoHash)
	if err != nil {
		return nil, fmt.Errorf("supervisor: decode persisted info_hash %q: %w", ps.Torrent.InfoHash, err)
	}
	if len(raw) != len(meta.InfoHash) {
		return nil, fmt.Errorf("supervisor: persisted info_hash %q has wrong length", ps.Torrent.InfoHash)
	}
	copy(meta.InfoHash[:], raw)

	cfg := config.Config{
		ClientVariant: variant,
		ClientVersion: ps.ClientVersion,
		Port:          ps.Port,
		NumWant:       ps.NumWant,
		RateModel:     ps.RateModel,
		Stop:          ps.Stop,
	}

	initialSeedTime := time.Duration(ps.SeedTimeSecs) * time.Second
	return sup.newManagedSession(ps.ID, meta, cfg, ps.Source, ps.Torrent.TorrentPath, ps.CumulativeUploadedBytes, ps.CumulativeDownloadedBytes, initialSeedTime)
}

// CreateSession registers a new session. If id already exists and the
// submitted torrent's info hash matches the existing session's, the new
// session inherits cumulative_uploaded/cumulative_downloaded (the
// "resume the same torrent" rule). If id collides with an existing entry
// of a different torrent, the counters start at zero; for an id not yet
// registered they start at cfg.InitialUploadedBytes/InitialDownloadedBytes.
// An empty id generates a fresh opaque one.
func (sup *Supervisor) CreateSession(id string, meta *torrent.Meta, cfg config.Config, source Source, torrentPath string) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	sup.mu.Lock()
	defer sup.mu.Unlock()

	initialUploaded, initialDownloaded := cfg.InitialUploadedBytes, cfg.InitialDownloadedBytes
	var initialSeedTime time.Duration
	if id == "" {
		id = generateID()
		for _, exists := sup.sessions[id]; exists; _, exists = sup.sessions[id] {
			id = generateID()
		}
	} else if existing, ok := sup.sessions[id]; ok {
		initialUploaded, initialDownloaded = 0, 0
		if existing.meta.InfoHash == meta.InfoHash {
			stats := existing.sess.Stats()
			initialUploaded = stats.UploadedBytes
			initialDownloaded = stats.DownloadedBytes
			initialSeedTime = stats.ElapsedTime
		}
		if existing.driving {
			sup.stopDriverLocked(existing)
		}
	}

	m, err := sup.newManagedSession(id, meta, cfg, source, torrentPath, initialUploaded, initialDownloaded, initialSeedTime)
	if err != nil {
		return "", err
	}
	sup.sessions[id] = m
	sup.saveLocked()
	return id, nil
}

func (sup *Supervisor) newManagedSession(id string, meta *torrent.Meta, cfg config.Config, source Source, torrentPath string, initialUploaded, initialDownloaded uint64, initialSeedTime time.Duration) (*managedSession, error) {
	fp, err := fingerprint.New(cfg.ClientVariant, cfg.ClientVersion)
	if err != nil {
		return nil, err
	}
	tr, err := tracker.New(meta.AnnounceURL, fp.UserAgent)
	if err != nil {
		return nil, err
	}

	logger := logging.WithInstance(sup.logger, id)
	sess, err := session.New(id, meta, cfg, tr, logger, initialUploaded, initialDownloaded, initialSeedTime)
	if err != nil {
		return nil, err
	}

	m := &managedSession{
		id:          id,
		meta:        meta,
		cfg:         cfg,
		source:      source,
		torrentPath: torrentPath,
		createdAt:   time.Now(),
		sess:        sess,
	}
	sess.SetEventSink(func(ev session.Event) {
		sup.events.Publish(ev)
		sup.logs.Publish(LogLine{SessionID: ev.SessionID, Level: eventLogLevel(ev.Kind), Message: eventKindString(ev.Kind) + " " + ev.Message})
	})
	return m, nil
}

// Start transitions a session to Running and launches its driver.
func (sup *Supervisor) Start(ctx context.Context, id string) error {
	sup.mu.Lock()
	m, ok := sup.sessions[id]
	if !ok {
		sup.mu.Unlock()
		return faulterr.InvalidInput(fmt.Sprintf("unknown session %q", id))
	}
	sup.mu.Unlock()

	if err := m.sess.Start(ctx); err != nil {
		return err
	}

	sup.mu.Lock()
	if !m.driving {
		driverCtx, cancel := context.WithCancel(context.Background())
		m.driverCancel = cancel
		m.driverDone = make(chan struct{})
		m.driving = true
		go sup.runDriver(driverCtx, m)
	}
	sup.saveLocked()
	sup.mu.Unlock()
	return nil
}

// Pause pauses a running session without stopping its driver (the
// driver's Tick calls become no-ops while paused).
func (sup *Supervisor) Pause(id string) error {
	m, err := sup.get(id)
	if err != nil {
		return err
	}
	if err := m.sess.Pause(); err != nil {
		return err
	}
	sup.mu.Lock()
	sup.saveLocked()
	sup.mu.Unlock()
	return nil
}

// Resume resumes a paused session.
func (sup *Supervisor) Resume(id string) error {
	m, err := sup.get(id)
	if err != nil {
		return err
	}
	if err := m.sess.Resume(); err != nil {
		return err
	}
	sup.mu.Lock()
	sup.saveLocked()
	sup.mu.Unlock()
	return nil
}

// Stop stops a session's driver (bounded grace period) and sends a
// best-effort "stopped" announce.
func (sup *Supervisor) Stop(ctx context.Context, id string) error {
	m, err := sup.get(id)
	if err != nil {
		return err
	}

	sup.mu.Lock()
	sup.stopDriverLocked(m)
	sup.mu.Unlock()

	if err := m.sess.Stop(ctx); err != nil {
		return err
	}

	sup.mu.Lock()
	sup.saveLocked()
	sup.mu.Unlock()
	return nil
}

// stopDriverLocked cancels m's driver and waits up to driverStopGrace
// for it to exit before abandoning it. Must be called with mu held.
func (sup *Supervisor) stopDriverLocked(m *managedSession) {
	if !m.driving {
		return
	}
	m.driverCancel()
	select {
	case <-m.driverDone:
	case <-time.After(driverStopGrace):
		sup.logger.Warn("driver did not exit within grace period, abandoning", slog.String("session_id", m.id))
	}
	m.driving = false
}

// Scrape queries the tracker for aggregate swarm stats.
func (sup *Supervisor) Scrape(ctx context.Context, id string) (*tracker.ScrapeStats, error) {
	m, err := sup.get(id)
	if err != nil {
		return nil, err
	}
	return m.sess.Scrape(ctx)
}

// GetStats returns the current snapshot for id.
func (sup *Supervisor) GetStats(id string) (session.Stats, error) {
	m, err := sup.get(id)
	if err != nil {
		return session.Stats{}, err
	}
	return m.sess.Stats(), nil
}

// ListEntry is one row of List()'s snapshot.
type ListEntry struct {
	ID    string
	Name  string
	Stats session.Stats
}

// List returns a snapshot of every registered session. Insertion order
// is not preserved, per spec.md §3 ("insertion order is irrelevant").
func (sup *Supervisor) List() []ListEntry {
	sup.mu.RLock()
	defer sup.mu.RUnlock()

	out := make([]ListEntry, 0, len(sup.sessions))
	for id, m := range sup.sessions {
		out = append(out, ListEntry{ID: id, Name: m.meta.Name, Stats: m.sess.Stats()})
	}
	return out
}

// Delete removes a session from the registry. If force is false, a
// Running or Paused session is refused; if true, its driver is stopped
// first.
func (sup *Supervisor) Delete(ctx context.Context, id string, force bool) error {
	sup.mu.Lock()
	m, ok := sup.sessions[id]
	if !ok {
		sup.mu.Unlock()
		return faulterr.InvalidInput(fmt.Sprintf("unknown session %q", id))
	}
	stats := m.sess.Stats()
	if !force && (stats.State == session.StateRunning || stats.State == session.StatePaused) {
		sup.mu.Unlock()
		return faulterr.InvalidInput(fmt.Sprintf("session %q is %s; stop it or pass force", id, stats.State))
	}
	sup.stopDriverLocked(m)
	delete(sup.sessions, id)
	sup.saveLocked()
	sup.mu.Unlock()
	return nil
}

func (sup *Supervisor) get(id string) (*managedSession, error) {
	sup.mu.RLock()
	defer sup.mu.RUnlock()
	m, ok := sup.sessions[id]
	if !ok {
		return nil, faulterr.InvalidInput(fmt.Sprintf("unknown session %q", id))
	}
	return m, nil
}

// saveLocked persists every session. Must be called with mu held (read
// or write — only PersistedSession fields are read).
func (sup *Supervisor) saveLocked() {
	doc := &PersistedDocument{SchemaVersion: currentSchemaVersion}
	for _, m := range sup.sessions {
		doc.Sessions = append(doc.Sessions, toPersisted(m))
	}
	if err := sup.persist.Save(doc); err != nil {
		sup.logger.Warn("persistence save failed", slog.String("error", err.Error()))
	}
}

// maybeSnapshot is called from every driver tick; it saves at most once
// per snapshotInterval regardless of how many sessions are ticking.
func (sup *Supervisor) maybeSnapshot() {
	sup.snapMu.Lock()
	due := time.Since(sup.lastSnapshot) >= snapshotInterval
	if due {
		sup.lastSnapshot = time.Now()
	}
	sup.snapMu.Unlock()
	if !due {
		return
	}

	sup.mu.RLock()
	defer sup.mu.RUnlock()
	sup.saveLocked()
}

// Shutdown cancels every driver and waits up to driverShutdownGrace,
// total, for all of them to exit concurrently, writes a final snapshot,
// and returns.
func (sup *Supervisor) Shutdown() {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	deadline := time.Now().Add(driverShutdownGrace)
	for _, m := range sup.sessions {
		if !m.driving {
			continue
		}
		m.driverCancel()
	}

	grp := &errgroup.Group{}
	for _, m := range sup.sessions {
		if !m.driving {
			continue
		}
		m := m
		grp.Go(func() error {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			select {
			case <-m.driverDone:
			case <-time.After(remaining):
				sup.logger.Warn("driver did not exit during shutdown, abandoning", slog.String("session_id", m.id))
			}
			return nil
		})
	}
	grp.Wait()

	for _, m := range sup.sessions {
		m.driving = false
	}
	sup.saveLocked()
}
