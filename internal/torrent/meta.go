// Package torrent decodes BitTorrent v1 metainfo ("*.torrent") files into
// an immutable Meta value. It never writes this format — the engine only
// ever consumes torrents, it does not produce them.
package torrent

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"time"

	"github.com/seedbox-tools/ratiofaker/internal/bencode"
)

// Meta describes a parsed torrent file. It is immutable once constructed;
// every field is populated by ParseMeta and never mutated afterwards.
type Meta struct {
	// AnnounceURL is the top-level "announce" tracker URL.
	AnnounceURL string

	// AnnounceList holds the optional tiered announce list, ordered as it
	// appeared in the source ("announce-list"): each inner slice is one
	// tier of URLs to try in order.
	AnnounceList [][]string

	// Name is the suggested display name (single file name, or top-level
	// directory name for multi-file torrents).
	Name string

	// TotalSize is the sum of all file lengths in bytes.
	TotalSize int64

	// PieceLength is the number of bytes per piece.
	PieceLength int64

	// PieceCount is the number of 20-byte piece hashes in "pieces".
	PieceCount int

	// InfoHash is the SHA-1 of the exact bencoded bytes of the "info"
	// sub-dictionary as it appeared in the source file.
	InfoHash [sha1.Size]byte

	// MultiFile is true when the torrent carries a "files" list rather
	// than a single top-level "length".
	MultiFile bool

	// Files enumerates the file records. In single-file mode this holds
	// exactly one entry whose Path is []string{Name}.
	Files []FileRecord

	// CreationDate is the optional "creation date", zero Time if absent.
	CreationDate time.Time

	// Comment is the optional free-form "comment" field.
	Comment string

	// Creator is the optional "created by" field.
	Creator string
}

// FileRecord describes one file within a torrent.
type FileRecord struct {
	// Path is the file's relative path, one element per path component.
	Path []string
	// Length is the exact size of this file in bytes.
	Length int64
}

// ParseMeta decodes the raw bytes of a .torrent file into a Meta value.
//
// The info hash is computed over the exact byte slice of the "info"
// sub-value as it appeared in data — ParseMeta locates that slice with
// bencode.RawValueAt and hashes it directly. It never re-encodes a parsed
// value to compute the hash, which would risk a hash that silently
// disagrees with every real tracker and client (see the bencode
// info-hash hazard).
func ParseMeta(data []byte) (*Meta, error) {
	decoded, err := bencode.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("torrent: failed to decode metainfo: %w", err)
	}

	root, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("torrent: top-level value is not a dictionary")
	}

	announceURL, err := bencode.GetStringUTF8Lossy(root, "announce")
	if err != nil {
		return nil, fmt.Errorf("torrent: %w", err)
	}

	infoDict, err := bencode.GetDict(root, "info")
	if err != nil {
		return nil, fmt.Errorf("torrent: %w", err)
	}

	rawInfo, err := bencode.RawValueAt(data, "info")
	if err != nil {
		return nil, fmt.Errorf("torrent: failed to locate raw info slice: %w", err)
	}
	infoHash := sha1.Sum(rawInfo)

	pieceLength, err := bencode.GetInt(infoDict, "piece length")
	if err != nil {
		return nil, fmt.Errorf("torrent: %w", err)
	}
	if pieceLength <= 0 {
		return nil, fmt.Errorf("torrent: invalid piece length %d", pieceLength)
	}

	pieces, err := bencode.GetBytes(infoDict, "pieces")
	if err != nil {
		return nil, fmt.Errorf("torrent: %w", err)
	}
	if len(pieces)%sha1.Size != 0 {
		return nil, fmt.Errorf("torrent: 'pieces' length %d is not a multiple of %d", len(pieces), sha1.Size)
	}

	name, _ := bencode.GetStringUTF8Lossy(infoDict, "name")

	files, totalSize, multiFile, err := parseFiles(infoDict, name)
	if err != nil {
		return nil, err
	}

	announceList := parseAnnounceList(root)

	var creationDate time.Time
	if secs, err := bencode.GetInt(root, "creation date"); err == nil {
		creationDate = time.Unix(secs, 0).UTC()
	}
	comment, _ := bencode.GetStringUTF8Lossy(root, "comment")
	creator, _ := bencode.GetStringUTF8Lossy(root, "created by")

	return &Meta{
		AnnounceURL:  announceURL,
		AnnounceList: announceList,
		Name:         name,
		TotalSize:    totalSize,
		PieceLength:  pieceLength,
		PieceCount:   len(pieces) / sha1.Size,
		InfoHash:     infoHash,
		MultiFile:    multiFile,
		Files:        files,
		CreationDate: creationDate,
		Comment:      comment,
		Creator:      creator,
	}, nil
}

func parseFiles(infoDict map[string]any, name string) (files []FileRecord, total int64, multi bool, err error) {
	filesAny, ferr := bencode.GetList(infoDict, "files")
	if ferr != nil {
		// Single-file mode.
		length, lerr := bencode.GetInt(infoDict, "length")
		if lerr != nil {
			return nil, 0, false, fmt.Errorf("torrent: missing both 'files' and 'length': %w", lerr)
		}
		if length < 0 {
			return nil, 0, false, fmt.Errorf("torrent: negative 'length' %d", length)
		}
		return []FileRecord{{Path: []string{name}, Length: length}}, length, false, nil
	}

	out := make([]FileRecord, 0, len(filesAny))
	var sum int64
	for i, fe := range filesAny {
		fdict, ok := fe.(map[string]any)
		if !ok {
			return nil, 0, false, fmt.Errorf("torrent: file entry %d is not a dictionary", i)
		}

		length, err := bencode.GetInt(fdict, "length")
		if err != nil || length < 0 {
			return nil, 0, false, fmt.Errorf("torrent: invalid 'length' at file index %d", i)
		}

		pathAny, err := bencode.GetList(fdict, "path")
		if err != nil || len(pathAny) == 0 {
			return nil, 0, false, fmt.Errorf("torrent: invalid 'path' at file index %d", i)
		}

		path := make([]string, 0, len(pathAny))
		for j, pe := range pathAny {
			ps, ok := pe.(string)
			if !ok {
				return nil, 0, false, fmt.Errorf("torrent: non-string path element at file %d index %d", i, j)
			}
			path = append(path, ps)
		}

		out = append(out, FileRecord{Path: path, Length: length})
		sum += length
	}

	return out, sum, true, nil
}

func parseAnnounceList(root map[string]any) [][]string {
	tiersAny, err := bencode.GetList(root, "announce-list")
	if err != nil {
		return nil
	}

	tiers := make([][]string, 0, len(tiersAny))
	for _, tierAny := range tiersAny {
		tierList, ok := tierAny.([]any)
		if !ok {
			continue
		}

		tier := make([]string, 0, len(tierList))
		for _, u := range tierList {
			s, ok := u.(string)
			if !ok || s == "" {
				continue
			}
			tier = append(tier, s)
		}
		if len(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}

// GetAllTrackerURLs returns the primary announce URL plus every URL in
// AnnounceList, de-duplicated. Ordering among duplicates is unspecified.
func (m *Meta) GetAllTrackerURLs() []string {
	seen := make(map[string]struct{}, 1+len(m.AnnounceList))
	urls := make([]string, 0, 1+len(m.AnnounceList))

	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	add(m.AnnounceURL)
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return urls
}
