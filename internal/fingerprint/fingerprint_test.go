package fingerprint

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultVersions(t *testing.T) {
	cases := []struct {
		variant Variant
		prefix  string
		ua      string
	}{
		{QBittorrent, "-qB5140-", "qBittorrent/5.1.4"},
		{UTorrent, "-UT3550-", "uTorrent/3.5.5"},
		{Transmission, "-TR4050-", "Transmission/4.0.5"},
		{Deluge, "-DE2110-", "Deluge/2.1.1"},
	}

	for _, tt := range cases {
		fp, err := New(tt.variant, "")
		require.NoError(t, err)
		require.Equal(t, tt.prefix, fp.PeerIDPrefix)
		require.Equal(t, tt.ua, fp.UserAgent)
	}
}

func TestNewExplicitVersion(t *testing.T) {
	fp, err := New(QBittorrent, "4.3.9")
	require.NoError(t, err)
	require.Equal(t, "-qB4390-", fp.PeerIDPrefix)
	require.Equal(t, "qBittorrent/4.3.9", fp.UserAgent)
}

func TestNewUnknownVariant(t *testing.T) {
	_, err := New(Variant(999), "")
	require.Error(t, err)
}

func TestGeneratePeerIDShape(t *testing.T) {
	fp, err := New(QBittorrent, "5.1.4")
	require.NoError(t, err)

	id, err := fp.GeneratePeerID()
	require.NoError(t, err)
	require.Len(t, id, 20)
	require.Equal(t, "-qB5140-", string(id[:8]))

	suffixPattern := regexp.MustCompile(`^[0-9A-Za-z]{12}$`)
	require.True(t, suffixPattern.Match(id[8:]))
}

func TestGeneratePeerIDRegeneratesPerCall(t *testing.T) {
	fp, err := New(Transmission, "")
	require.NoError(t, err)

	id1, err := fp.GeneratePeerID()
	require.NoError(t, err)
	id2, err := fp.GeneratePeerID()
	require.NoError(t, err)

	// Astronomically unlikely to collide; guards against a broken RNG
	// that always returns the same suffix.
	require.NotEqual(t, id1, id2)
}

func TestGenerateKeyShape(t *testing.T) {
	fp, err := New(Deluge, "")
	require.NoError(t, err)

	key, err := fp.GenerateKey()
	require.NoError(t, err)
	require.Regexp(t, `^[0-9A-F]{8}$`, key)
}

func TestDefaultNumWant(t *testing.T) {
	fp, err := New(Transmission, "")
	require.NoError(t, err)
	require.Equal(t, 80, fp.DefaultNumWant)

	fp, err = New(QBittorrent, "")
	require.NoError(t, err)
	require.Equal(t, 200, fp.DefaultNumWant)
}
