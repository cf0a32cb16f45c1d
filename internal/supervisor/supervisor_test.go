package supervisor

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seedbox-tools/ratiofaker/internal/config"
	"github.com/seedbox-tools/ratiofaker/internal/fingerprint"
	"github.com/seedbox-tools/ratiofaker/internal/ratemodel"
	"github.com/seedbox-tools/ratiofaker/internal/session"
	"github.com/seedbox-tools/ratiofaker/internal/torrent"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

// fakeAnnounceServer answers every announce with a fixed interval/seeder
// count, so created sessions can Start without touching the network.
func fakeAnnounceServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("d8:completei4e10:incompletei1e8:intervali1800ee"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testMeta(announceURL string, totalSize int64, seed byte) *torrent.Meta {
	m := &torrent.Meta{
		AnnounceURL: announceURL,
		Name:        "test-torrent",
		TotalSize:   totalSize,
		Files:       []torrent.FileRecord{{Path: []string{"test"}, Length: totalSize}},
	}
	m.InfoHash[0] = seed
	return m
}

func testConfig() config.Config {
	return config.Config{
		ClientVariant: fingerprint.QBittorrent,
		Port:          6881,
		RateModel:     ratemodel.Model{BaseUploadRate: 10},
	}
}

func TestCreateSessionCumulativeInheritanceSameTorrent(t *testing.T) {
	srv := fakeAnnounceServer(t)
	sup := New(filepath.Join(t.TempDir(), "sessions.toml"), discardLogger())

	meta := testMeta(srv.URL+"/announce", 1<<20, 0xAA)
	id, err := sup.CreateSession("fixed-id", meta, testConfig(), SourceManual, "")
	require.NoError(t, err)
	require.Equal(t, "fixed-id", id)

	// Drive the session's own state machine directly (bypassing
	// sup.Start, which would also spawn a real-time background driver
	// and race this deterministic tick loop).
	m, err := sup.get(id)
	require.NoError(t, err)
	require.NoError(t, m.sess.Start(context.Background()))
	now := m.sess.Stats().LastAnnounce
	for i := 0; i < 20; i++ {
		now = now.Add(5_000_000_000) // 5s
		m.sess.Tick(context.Background(), now)
	}
	require.NoError(t, m.sess.Stop(context.Background()))

	statsBefore := m.sess.Stats()
	require.Greater(t, statsBefore.UploadedBytes, uint64(0))

	// Re-create with the SAME torrent (same info hash): cumulative
	// counters must be inherited immediately, before any tick.
	id2, err := sup.CreateSession("fixed-id", meta, testConfig(), SourceManual, "")
	require.NoError(t, err)
	require.Equal(t, "fixed-id", id2)

	statsAfter, err := sup.GetStats(id2)
	require.NoError(t, err)
	require.Equal(t, statsBefore.UploadedBytes, statsAfter.UploadedBytes)
	require.Equal(t, uint64(0), statsAfter.SessionUploadedBytes)
}

func TestCreateSessionResetsOnDifferentTorrent(t *testing.T) {
	srv := fakeAnnounceServer(t)
	sup := New(filepath.Join(t.TempDir(), "sessions.toml"), discardLogger())

	metaA := testMeta(srv.URL+"/announce", 1<<20, 0xAA)
	id, err := sup.CreateSession("fixed-id", metaA, testConfig(), SourceManual, "")
	require.NoError(t, err)

	m, err := sup.get(id)
	require.NoError(t, err)
	require.NoError(t, m.sess.Start(context.Background()))
	m.sess.Tick(context.Background(), m.sess.Stats().LastAnnounce.Add(3600_000_000_000))
	require.NoError(t, m.sess.Stop(context.Background()))

	statsBefore := m.sess.Stats()
	require.Greater(t, statsBefore.UploadedBytes, uint64(0))

	metaB := testMeta(srv.URL+"/announce", 1<<20, 0xBB) // different info hash
	_, err = sup.CreateSession("fixed-id", metaB, testConfig(), SourceManual, "")
	require.NoError(t, err)

	statsAfter, err := sup.GetStats("fixed-id")
	require.NoError(t, err)
	require.Equal(t, uint64(0), statsAfter.UploadedBytes)
}

func TestDeleteRefusesRunningWithoutForce(t *testing.T) {
	srv := fakeAnnounceServer(t)
	sup := New(filepath.Join(t.TempDir(), "sessions.toml"), discardLogger())

	meta := testMeta(srv.URL+"/announce", 1<<20, 0x01)
	id, err := sup.CreateSession("", meta, testConfig(), SourceManual, "")
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background(), id))

	err = sup.Delete(context.Background(), id, false)
	require.Error(t, err)

	require.NoError(t, sup.Delete(context.Background(), id, true))
	_, err = sup.GetStats(id)
	require.Error(t, err)
}

func TestPersistenceSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.toml")
	srv := fakeAnnounceServer(t)

	sup := New(path, discardLogger())
	meta := testMeta(srv.URL+"/announce", 2048, 0x42)
	id, err := sup.CreateSession("persist-id", meta, testConfig(), SourceManual, "")
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background(), id))
	require.NoError(t, sup.Stop(context.Background(), id))

	sup2 := New(path, discardLogger())
	require.NoError(t, sup2.Boot(context.Background()))

	entries := sup2.List()
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].ID)
	require.Equal(t, session.StateStopped, entries[0].Stats.State)
}

func TestBootRestoresRateModelAndNumWant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.toml")
	srv := fakeAnnounceServer(t)

	sup := New(path, discardLogger())
	meta := testMeta(srv.URL+"/announce", 2048, 0x55)
	cfg := testConfig()
	cfg.RateModel = ratemodel.Model{BaseUploadRate: 123, BaseDownloadRate: 45}
	cfg.NumWant = 17
	id, err := sup.CreateSession("rate-id", meta, cfg, SourceManual, "")
	require.NoError(t, err)

	sup2 := New(path, discardLogger())
	require.NoError(t, sup2.Boot(context.Background()))

	m, err := sup2.get(id)
	require.NoError(t, err)
	require.Equal(t, 123.0, m.cfg.RateModel.BaseUploadRate)
	require.Equal(t, 45.0, m.cfg.RateModel.BaseDownloadRate)
	require.Equal(t, 17, m.cfg.NumWant)
}

func TestSeedTimeSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.toml")
	srv := fakeAnnounceServer(t)

	sup := New(path, discardLogger())
	meta := testMeta(srv.URL+"/announce", 1<<20, 0x66)
	id, err := sup.CreateSession("seed-id", meta, testConfig(), SourceManual, "")
	require.NoError(t, err)

	m, err := sup.get(id)
	require.NoError(t, err)
	require.NoError(t, m.sess.Start(context.Background()))
	now := m.sess.Stats().LastAnnounce.Add(30 * time.Second)
	m.sess.Tick(context.Background(), now)
	require.NoError(t, m.sess.Stop(context.Background()))

	elapsedBefore := m.sess.Stats().ElapsedTime
	require.Greater(t, elapsedBefore, time.Duration(0))

	sup.Shutdown()

	sup2 := New(path, discardLogger())
	require.NoError(t, sup2.Boot(context.Background()))
	m2, err := sup2.get(id)
	require.NoError(t, err)
	require.Equal(t, elapsedBefore, m2.sess.Stats().ElapsedTime)
}

func TestListReturnsAllRegisteredSessions(t *testing.T) {
	srv := fakeAnnounceServer(t)
	sup := New(filepath.Join(t.TempDir(), "sessions.toml"), discardLogger())

	for i := 0; i < 3; i++ {
		meta := testMeta(srv.URL+"/announce", 1024, byte(i))
		_, err := sup.CreateSession("", meta, testConfig(), SourceManual, "")
		require.NoError(t, err)
	}

	require.Len(t, sup.List(), 3)
}

func TestScrapeQueriesConfiguredTracker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/scrape" {
			w.Write([]byte("d5:filesd20:01234567890123456789d8:completei7e10:downloadedi9e10:incompletei2eeee"))
			return
		}
		w.Write([]byte("d8:completei0e10:incompletei0e8:intervali1800ee"))
	}))
	defer srv.Close()

	sup := New(filepath.Join(t.TempDir(), "sessions.toml"), discardLogger())
	meta := testMeta(srv.URL+"/announce", 1024, 0x01)
	copy(meta.InfoHash[:], []byte("01234567890123456789"))
	id, err := sup.CreateSession("", meta, testConfig(), SourceManual, "")
	require.NoError(t, err)

	stats, err := sup.Scrape(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, int64(7), stats.Seeders)
	require.Equal(t, int64(2), stats.Leechers)
}
