package session

import (
	"context"
	"testing"
	"time"

	"github.com/seedbox-tools/ratiofaker/internal/config"
	"github.com/seedbox-tools/ratiofaker/internal/fingerprint"
	"github.com/seedbox-tools/ratiofaker/internal/ratemodel"
	"github.com/seedbox-tools/ratiofaker/internal/torrent"
	"github.com/seedbox-tools/ratiofaker/internal/tracker"
	"github.com/stretchr/testify/require"
	"log/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func testMeta(totalSize int64) *torrent.Meta {
	return &torrent.Meta{
		AnnounceURL: "http://fake.test/announce",
		Name:        "test",
		TotalSize:   totalSize,
		PieceLength: 16384,
		PieceCount:  1,
		Files:       []torrent.FileRecord{{Path: []string{"test"}, Length: totalSize}},
	}
}

func baseConfig() config.Config {
	return config.Config{
		ClientVariant: fingerprint.QBittorrent,
		Port:          6881,
	}
}

func newTestSession(t *testing.T, meta *torrent.Meta, cfg config.Config, tr *fakeTracker, initialUploaded, initialDownloaded uint64) *Session {
	t.Helper()
	return newTestSessionWithSeedTime(t, meta, cfg, tr, initialUploaded, initialDownloaded, 0)
}

func newTestSessionWithSeedTime(t *testing.T, meta *torrent.Meta, cfg config.Config, tr *fakeTracker, initialUploaded, initialDownloaded uint64, initialSeedTime time.Duration) *Session {
	t.Helper()
	s, err := New("testid01", meta, cfg, tr, discardLogger(), initialUploaded, initialDownloaded, initialSeedTime)
	require.NoError(t, err)
	return s
}

func TestStartSendsStartedEventAndSeedsSchedule(t *testing.T) {
	tr := &fakeTracker{interval: 60, seeders: 3, leechers: 1}
	s := newTestSession(t, testMeta(1024), baseConfig(), tr, 0, 0)

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, 1, tr.announceCount())
	require.Equal(t, tracker.EventStarted, tr.lastEvent())

	stats := s.Stats()
	require.Equal(t, StateRunning, stats.State)
	require.Equal(t, int64(3), stats.Seeders)
	require.Equal(t, int64(1), stats.Leechers)
	require.Equal(t, uint64(1), stats.AnnounceSequence)
	require.Equal(t, stats.LastAnnounce.Add(60*time.Second), stats.NextAnnounce)
}

func TestSessionUploadedMonotonicallyNonDecreasing(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	cfg := baseConfig()
	cfg.RateModel = ratemodel.Model{BaseUploadRate: 100, Randomize: true, JitterRangePercent: 50}
	s := newTestSession(t, testMeta(1<<30), cfg, tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))

	now := time.Now()
	prev := uint64(0)
	for i := 0; i < 50; i++ {
		now = now.Add(5 * time.Second)
		s.Tick(context.Background(), now)
		stats := s.Stats()
		require.GreaterOrEqual(t, stats.SessionUploadedBytes, prev)
		prev = stats.SessionUploadedBytes
	}
}

func TestLeftNeverNegativeOrAboveTotal(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	cfg := baseConfig()
	cfg.RateModel = ratemodel.Model{BaseDownloadRate: 100000}
	total := int64(1024 * 1024)
	s := newTestSession(t, testMeta(total), cfg, tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))

	now := time.Now()
	for i := 0; i < 10; i++ {
		now = now.Add(10 * time.Second)
		s.Tick(context.Background(), now)
		stats := s.Stats()
		require.LessOrEqual(t, stats.LeftBytes, uint64(total))
	}
}

func TestZeroUploadRateAdvancesNothing(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	cfg := baseConfig()
	cfg.RateModel = ratemodel.Model{BaseUploadRate: 0, Randomize: true, JitterRangePercent: 90}
	s := newTestSession(t, testMeta(1024), cfg, tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))

	now := time.Now()
	now = now.Add(5 * time.Second)
	s.Tick(context.Background(), now)
	require.Equal(t, uint64(0), s.Stats().SessionUploadedBytes)
}

func TestJitterOffProducesExactBaseRate(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	cfg := baseConfig()
	cfg.RateModel = ratemodel.Model{BaseUploadRate: 100, Randomize: false}
	s := newTestSession(t, testMeta(1<<30), cfg, tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))

	baseline := s.Stats().LastAnnounce
	s.Tick(context.Background(), baseline.Add(10*time.Second))
	stats := s.Stats()
	require.Equal(t, uint64(100*1024*10), stats.SessionUploadedBytes)
}

func TestStopAtRatioZeroFiresFirstTick(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	cfg := baseConfig()
	cfg.RateModel = ratemodel.Model{BaseUploadRate: 10}
	cfg.Stop.StopAtRatioEnabled = true
	cfg.Stop.StopAtRatio = 0
	s := newTestSession(t, testMeta(1024), cfg, tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))

	s.Tick(context.Background(), time.Now().Add(time.Second))
	require.Equal(t, StateStopped, s.Stats().State)
}

func TestZeroTotalSizeNeverCompletes(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	cfg := baseConfig()
	cfg.RateModel = ratemodel.Model{BaseDownloadRate: 1000}
	s := newTestSession(t, testMeta(0), cfg, tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))

	now := time.Now()
	for i := 0; i < 5; i++ {
		now = now.Add(10 * time.Second)
		s.Tick(context.Background(), now)
	}
	stats := s.Stats()
	require.Equal(t, StateRunning, stats.State)
	require.Equal(t, 0.0, stats.Ratio)
}

func TestCompletionEmitsOnceAndContinuesAsSeeder(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	cfg := baseConfig()
	cfg.RateModel = ratemodel.Model{BaseDownloadRate: 1024}               // 1 MiB/s
	s := newTestSession(t, testMeta(1024*1024), cfg, tr, 0, 1024*1024-10) // 10 bytes left
	require.NoError(t, s.Start(context.Background()))
	countAfterStart := tr.announceCount()

	now := time.Now().Add(time.Second)
	s.Tick(context.Background(), now)
	require.Equal(t, StateCompleted, s.Stats().State)
	require.Equal(t, countAfterStart+1, tr.announceCount())

	// Subsequent ticks continue issuing periodic announces with left=0,
	// but never another "completed" event.
	now = now.Add(1800 * time.Second)
	s.Tick(context.Background(), now)
	require.Equal(t, StateCompleted, s.Stats().State)
	require.Equal(t, uint64(0), s.Stats().LeftBytes)
	require.Equal(t, countAfterStart+2, tr.announceCount())
	require.Equal(t, tracker.EventNone, tr.lastEvent())
}

func TestPeriodicAnnounceCadence(t *testing.T) {
	tr := &fakeTracker{interval: 60}
	cfg := baseConfig()
	s := newTestSession(t, testMeta(1<<40), cfg, tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, 1, tr.announceCount()) // started

	now := time.Now()
	for i := 0; i < 305; i++ {
		now = now.Add(time.Second)
		s.Tick(context.Background(), now)
	}
	// started + 5 periodic (at t=60,120,180,240,300)
	require.Equal(t, 6, tr.announceCount())
}

func TestPauseResumeDoesNotAccountPausedInterval(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	cfg := baseConfig()
	cfg.RateModel = ratemodel.Model{BaseUploadRate: 100}
	s := newTestSession(t, testMeta(1<<30), cfg, tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Pause())
	require.Equal(t, StatePaused, s.Stats().State)

	// A tick while paused is a no-op.
	s.Tick(context.Background(), time.Now().Add(time.Hour))
	require.Equal(t, uint64(0), s.Stats().SessionUploadedBytes)

	require.NoError(t, s.Resume())
	require.Equal(t, StateRunning, s.Stats().State)

	s.Tick(context.Background(), time.Now().Add(time.Second))
	require.InDelta(t, float64(100*1024), float64(s.Stats().SessionUploadedBytes), 4096)
}

func TestRestoreStateRoundTripsNonRunningStates(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	for _, state := range []State{StateIdle, StatePaused, StateStopped, StateCompleted} {
		s := newTestSession(t, testMeta(1024), baseConfig(), tr, 0, 0)
		require.NoError(t, s.RestoreState(state))
		require.Equal(t, state, s.Stats().State)

		parsed, err := ParseState(state.String())
		require.NoError(t, err)
		require.Equal(t, state, parsed)
	}
}

func TestRestoreStateRejectsRunning(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	s := newTestSession(t, testMeta(1024), baseConfig(), tr, 0, 0)
	require.Error(t, s.RestoreState(StateRunning))
}

func TestSeedTimeAccumulatesAcrossStartStopCycles(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	s := newTestSession(t, testMeta(1<<30), baseConfig(), tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))

	s.Tick(context.Background(), time.Now().Add(10*time.Second))
	require.NoError(t, s.Stop(context.Background()))
	firstRunSeedTime := s.Stats().ElapsedTime

	require.NoError(t, s.Start(context.Background()))
	s.Tick(context.Background(), time.Now().Add(5*time.Second))
	require.Greater(t, s.Stats().ElapsedTime, firstRunSeedTime)
}

func TestSeedTimeInheritedFromPriorSession(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	cfg := baseConfig()
	s := newTestSessionWithSeedTime(t, testMeta(1<<30), cfg, tr, 0, 0, 90*time.Second)
	require.Equal(t, 90*time.Second, s.Stats().ElapsedTime)

	require.NoError(t, s.Start(context.Background()))
	s.Tick(context.Background(), time.Now().Add(time.Second))
	require.GreaterOrEqual(t, s.Stats().ElapsedTime, 90*time.Second)
}

func TestStopIsIdempotentAndSendsStoppedOnce(t *testing.T) {
	tr := &fakeTracker{interval: 1800}
	s := newTestSession(t, testMeta(1024), baseConfig(), tr, 0, 0)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	count := tr.announceCount()
	require.NoError(t, s.Stop(context.Background()))
	require.Equal(t, count, tr.announceCount())
	require.Equal(t, StateStopped, s.Stats().State)
}
