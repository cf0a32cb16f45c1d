package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/seedbox-tools/ratiofaker/internal/config"
	"github.com/seedbox-tools/ratiofaker/internal/ratemodel"
)

// currentSchemaVersion is bumped whenever PersistedDocument's shape
// changes in a way old readers can't tolerate. Loading a document with a
// higher version than this is refused outright.
const currentSchemaVersion = 1

// Source tags where a session's torrent came from, carried through so a
// reconstructed session can explain its own provenance.
type Source string

const (
	SourceManual      Source = "manual"
	SourceWatchFolder Source = "watch_folder"
)

// PersistedTorrent is the on-disk projection of a torrent.Meta: only the
// fields needed to reconstruct InfoHash-identity and size, plus the
// announce URL. The supervisor never re-parses a .torrent file from this
// record; TorrentPath (if set) is informational only.
type PersistedTorrent struct {
	InfoHash    string `toml:"info_hash"` // hex
	AnnounceURL string `toml:"announce_url"`
	Name        string `toml:"name"`
	TotalSize   int64  `toml:"total_size"`
	TorrentPath string `toml:"torrent_path,omitempty"`
}

// PersistedSession is the durable snapshot of one session, matching
// spec.md §4.F's PersistedSession data model field for field.
type PersistedSession struct {
	ID      string           `toml:"id"`
	Torrent PersistedTorrent `toml:"torrent"`

	ClientVariant string `toml:"client_variant"`
	ClientVersion string `toml:"client_version,omitempty"`
	Port          uint16 `toml:"port"`
	NumWant       int    `toml:"num_want"`

	RateModel ratemodel.Model `toml:"rate_model"`

	CumulativeUploadedBytes   uint64 `toml:"cumulative_uploaded_bytes"`
	CumulativeDownloadedBytes uint64 `toml:"cumulative_downloaded_bytes"`
	SeedTimeSecs              uint64 `toml:"seed_time_secs"`

	Stop config.StopThresholds `toml:"stop"`

	State  string `toml:"state"`
	Source Source `toml:"source"`

	CreatedAt time.Time `toml:"created_at"`
	UpdatedAt time.Time `toml:"updated_at"`
}

// PersistedDocument is the single file written to disk: one version tag
// plus every session known to the supervisor.
type PersistedDocument struct {
	SchemaVersion int                `toml:"schema_version"`
	Sessions      []PersistedSession `toml:"session"`
}

// persistence owns the document path and performs atomic
// write-temp-then-rename saves, per spec.md §4.F/§6.
type persistence struct {
	path string
}

func newPersistence(path string) *persistence {
	return &persistence{path: path}
}

// Load reads the document at p.path. A missing file is not an error — it
// means a fresh install with no prior sessions.
func (p *persistence) Load() (*PersistedDocument, error) {
	var doc PersistedDocument
	if _, err := os.Stat(p.path); os.IsNotExist(err) {
		return &PersistedDocument{SchemaVersion: currentSchemaVersion}, nil
	}
	if _, err := toml.DecodeFile(p.path, &doc); err != nil {
		return nil, fmt.Errorf("supervisor: decode persistence document: %w", err)
	}
	if doc.SchemaVersion > currentSchemaVersion {
		return nil, fmt.Errorf("supervisor: persistence document schema version %d is newer than this binary supports (%d)", doc.SchemaVersion, currentSchemaVersion)
	}
	return &doc, nil
}

// Save atomically overwrites p.path with doc: write to a temp file in the
// same directory, fsync, then rename over the target.
func (p *persistence) Save(doc *PersistedDocument) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("supervisor: create persistence directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ratiofaker-*.toml")
	if err != nil {
		return fmt.Errorf("supervisor: create temp persistence file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("supervisor: encode persistence document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("supervisor: sync temp persistence file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("supervisor: close temp persistence file: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return fmt.Errorf("supervisor: rename persistence file into place: %w", err)
	}
	return nil
}

// toPersisted snapshots one managed session into its durable form.
func toPersisted(m *managedSession) PersistedSession {
	stats := m.sess.Stats()
	now := time.Now()
	created := m.createdAt
	if created.IsZero() {
		created = now
	}

	return PersistedSession{
		ID: m.id,
		Torrent: PersistedTorrent{
			InfoHash:    fmt.Sprintf("%x", m.meta.InfoHash),
			AnnounceURL: m.meta.AnnounceURL,
			Name:        m.meta.Name,
			TotalSize:   m.meta.TotalSize,
			TorrentPath: m.torrentPath,
		},
		ClientVariant:             m.cfg.ClientVariant.String(),
		ClientVersion:             m.cfg.ClientVersion,
		Port:                      m.cfg.Port,
		NumWant:                   m.cfg.NumWant,
		RateModel:                 m.cfg.RateModel,
		CumulativeUploadedBytes:   stats.UploadedBytes,
		CumulativeDownloadedBytes: stats.DownloadedBytes,
		SeedTimeSecs:              uint64(stats.ElapsedTime.Seconds()),
		Stop:                      m.cfg.Stop,
		State:                     stats.State.String(),
		Source:                    m.source,
		CreatedAt:                 created,
		UpdatedAt:                 now,
	}
}
