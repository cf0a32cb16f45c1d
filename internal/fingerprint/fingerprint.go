// Package fingerprint builds the peer-id, user-agent, and request-shape
// defaults that let a session's announce/scrape traffic present as one of
// a handful of real BitTorrent clients.
package fingerprint

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/seedbox-tools/ratiofaker/internal/faulterr"
)

// Variant identifies which real client a Fingerprint impersonates.
type Variant int

const (
	QBittorrent Variant = iota
	UTorrent
	Transmission
	Deluge
)

func (v Variant) String() string {
	switch v {
	case QBittorrent:
		return "qBittorrent"
	case UTorrent:
		return "uTorrent"
	case Transmission:
		return "Transmission"
	case Deluge:
		return "Deluge"
	default:
		return "Unknown"
	}
}

// ParseVariant reverses Variant.String(), for reconstructing a
// persisted session's client variant from its TOML snapshot.
func ParseVariant(name string) (Variant, error) {
	for v, tmpl := range templates {
		if tmpl.name == name {
			return v, nil
		}
	}
	return 0, faulterr.InvalidInput(fmt.Sprintf("unknown client variant %q", name))
}

const peerIDSuffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Fingerprint is the immutable, per-session impersonation profile.
type Fingerprint struct {
	Variant         Variant
	Version         string
	PeerIDPrefix    string // 8 ASCII bytes, e.g. "-qB5140-"
	UserAgent       string
	DefaultNumWant  int
	SupportsCompact bool
	SupportsCrypto  bool
}

type variantTemplate struct {
	defaultVersion string
	name           string
	defaultNumWant int
	prefixCode     string
	buildVersionID func(version string) string
}

var templates = map[Variant]variantTemplate{
	QBittorrent: {
		defaultVersion: "5.1.4",
		name:           "qBittorrent",
		defaultNumWant: 200,
		prefixCode:     "qB",
		buildVersionID: threeComponentCode,
	},
	UTorrent: {
		defaultVersion: "3.5.5",
		name:           "uTorrent",
		defaultNumWant: 200,
		prefixCode:     "UT",
		buildVersionID: dotsStrippedCode,
	},
	Transmission: {
		defaultVersion: "4.0.5",
		name:           "Transmission",
		defaultNumWant: 80,
		prefixCode:     "TR",
		buildVersionID: threeComponentCode,
	},
	Deluge: {
		defaultVersion: "2.1.1",
		name:           "Deluge",
		defaultNumWant: 200,
		prefixCode:     "DE",
		buildVersionID: threeComponentCode,
	},
}

// New constructs a Fingerprint for variant. An empty version uses the
// variant's documented default.
func New(variant Variant, version string) (*Fingerprint, error) {
	tmpl, ok := templates[variant]
	if !ok {
		return nil, faulterr.InvalidInput(fmt.Sprintf("unknown client variant %d", variant))
	}
	if version == "" {
		version = tmpl.defaultVersion
	}

	padded := padRight(tmpl.buildVersionID(version), 4, '0')
	prefix := fmt.Sprintf("-%s%s-", tmpl.prefixCode, padded)
	if len(prefix) != 8 {
		return nil, faulterr.InternalInvariant(
			fmt.Sprintf("peer-id prefix %q is not 8 bytes", prefix))
	}

	return &Fingerprint{
		Variant:         variant,
		Version:         version,
		PeerIDPrefix:    prefix,
		UserAgent:       fmt.Sprintf("%s/%s", tmpl.name, version),
		DefaultNumWant:  tmpl.defaultNumWant,
		SupportsCompact: true,
		SupportsCrypto:  true,
	}, nil
}

// threeComponentCode concatenates the first three dot-separated version
// components, e.g. "5.1.4" -> "514".
func threeComponentCode(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) < 3 {
		parts = append(parts, make([]string, 3-len(parts))...)
		for i := range parts {
			if parts[i] == "" {
				parts[i] = "0"
			}
		}
	}
	return parts[0] + parts[1] + parts[2]
}

// dotsStrippedCode removes every dot, e.g. "3.5.5" -> "355".
func dotsStrippedCode(version string) string {
	return strings.ReplaceAll(version, ".", "")
}

// padRight pads s on the right with ch to reach width, truncating if s is
// already longer than width.
func padRight(s string, width int, ch byte) string {
	if len(s) >= width {
		return s[:width]
	}
	var sb strings.Builder
	sb.WriteString(s)
	for sb.Len() < width {
		sb.WriteByte(ch)
	}
	return sb.String()
}

// GeneratePeerID returns a fresh 20-byte peer-id: the fingerprint's
// 8-byte prefix followed by 12 random alphanumeric characters, drawn
// uniformly from [0-9A-Za-z] via crypto/rand. Peer-ids are generated once
// per session, never per announce.
func (f *Fingerprint) GeneratePeerID() ([20]byte, error) {
	var id [20]byte
	copy(id[:], f.PeerIDPrefix)

	suffix, err := randomAlphabetString(12, peerIDSuffixAlphabet)
	if err != nil {
		return id, err
	}
	copy(id[8:], suffix)
	return id, nil
}

// GenerateKey returns a fresh 8-character uppercase-hex client key.
func (f *Fingerprint) GenerateKey() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", faulterr.TransportFailure(err)
	}
	return fmt.Sprintf("%08X", buf), nil
}

func randomAlphabetString(n int, alphabet string) (string, error) {
	out := make([]byte, n)
	idx := make([]byte, n)
	if _, err := rand.Read(idx); err != nil {
		return "", faulterr.TransportFailure(err)
	}
	for i, b := range idx {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
