package tracker

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seedbox-tools/ratiofaker/internal/bencode"
	"github.com/seedbox-tools/ratiofaker/internal/faulterr"
)

// requestTimeout is the fixed per-request deadline for every announce and
// scrape GET. It is never extended by retry/backoff — backoff only
// governs how soon the *next* request is attempted.
const requestTimeout = 30 * time.Second

const hexDigitsUpper = "0123456789ABCDEF"

type httpTracker struct {
	announceURL *url.URL
	userAgent   string
	client      *http.Client
}

func newHTTPTracker(u *url.URL, userAgent string) *httpTracker {
	return &httpTracker{
		announceURL: u,
		userAgent:   userAgent,
		client:      &http.Client{Timeout: requestTimeout},
	}
}

func (t *httpTracker) URL() string { return t.announceURL.String() }

func (t *httpTracker) SupportsScrape() bool {
	idx := strings.LastIndex(t.announceURL.Path, "/")
	if idx == -1 {
		return false
	}
	return strings.Contains(t.announceURL.Path[idx+1:], "announce")
}

// Announce issues one announce GET and decodes the response.
func (t *httpTracker) Announce(ctx context.Context, params AnnounceParams) (*AnnounceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reqURL := buildAnnounceURL(t.announceURL, params)
	body, status, err := t.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	return decodeAnnounceResponse(body, status)
}

// Scrape derives the scrape URL by substring replacement of the final
// "/announce" path segment, matching real tracker wire-compatibility.
func (t *httpTracker) Scrape(ctx context.Context, infoHash [sha1.Size]byte) (*ScrapeStats, error) {
	if !t.SupportsScrape() {
		return nil, faulterr.TrackerFailure("tracker does not expose a scrape endpoint")
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	scrapeURL := *t.announceURL
	idx := strings.LastIndex(scrapeURL.Path, "/")
	scrapeURL.Path = scrapeURL.Path[:idx+1] + strings.Replace(scrapeURL.Path[idx+1:], "announce", "scrape", 1)
	scrapeURL.RawQuery = ""

	reqURL := scrapeURL.String()
	sep := "?"
	if strings.Contains(reqURL, "?") {
		sep = "&"
	}
	reqURL += sep + "info_hash=" + percentEncodeInfoHash(infoHash)

	body, status, err := t.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	return decodeScrapeResponse(body, status, infoHash)
}

func (t *httpTracker) get(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, faulterr.InternalInvariant(fmt.Sprintf("malformed tracker request: %v", err))
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, faulterr.TransportFailure(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, faulterr.TransportFailure(err)
	}
	return body, resp.StatusCode, nil
}

// buildAnnounceURL assembles the announce request in the fixed parameter
// order the wire protocol requires for client fingerprinting: info_hash,
// peer_id, port, uploaded, downloaded, left, compact, then optionally
// event, numwant, key, trackerid, supportcrypto.
func buildAnnounceURL(base *url.URL, p AnnounceParams) string {
	var sb strings.Builder
	sb.WriteString(base.String())
	if strings.Contains(base.String(), "?") {
		sb.WriteByte('&')
	} else {
		sb.WriteByte('?')
	}

	sb.WriteString("info_hash=")
	sb.WriteString(percentEncodeInfoHash(p.InfoHash))

	sb.WriteString("&peer_id=")
	sb.Write(p.PeerID[:])

	sb.WriteString("&port=")
	sb.WriteString(strconv.Itoa(int(p.Port)))

	sb.WriteString("&uploaded=")
	sb.WriteString(strconv.FormatUint(p.Uploaded, 10))

	sb.WriteString("&downloaded=")
	sb.WriteString(strconv.FormatUint(p.Downloaded, 10))

	sb.WriteString("&left=")
	sb.WriteString(strconv.FormatUint(p.Left, 10))

	if p.SupportsCompact {
		sb.WriteString("&compact=1")
	}

	if p.Event != EventNone {
		sb.WriteString("&event=")
		sb.WriteString(p.Event.String())
	}
	if p.NumWant > 0 {
		sb.WriteString("&numwant=")
		sb.WriteString(strconv.Itoa(p.NumWant))
	}
	if p.Key != "" {
		sb.WriteString("&key=")
		sb.WriteString(p.Key)
	}
	if p.TrackerID != "" {
		sb.WriteString("&trackerid=")
		sb.WriteString(url.QueryEscape(p.TrackerID))
	}
	if p.SupportsCrypto {
		sb.WriteString("&supportcrypto=1")
	}

	return sb.String()
}

// percentEncodeInfoHash renders ih as twenty uppercase %XX pairs.
func percentEncodeInfoHash(ih [sha1.Size]byte) string {
	var sb strings.Builder
	sb.Grow(3 * sha1.Size)
	for _, b := range ih {
		sb.WriteByte('%')
		sb.WriteByte(hexDigitsUpper[b>>4])
		sb.WriteByte(hexDigitsUpper[b&0x0f])
	}
	return sb.String()
}

// decodeAnnounceResponse distinguishes a tracker-level rejection from a
// transport-level one: a body carrying "failure reason" is a
// TrackerFailure regardless of HTTP status, but any other non-2xx status
// is the wire-level HttpError (KindTransportFailure) per spec.md §4.D —
// this matters because only KindTransportFailure triggers the session's
// exponential announce backoff.
func decodeAnnounceResponse(body []byte, status int) (*AnnounceResponse, error) {
	decoded, derr := bencode.NewDecoder(strings.NewReader(string(body))).Decode()
	if derr == nil {
		if dict, ok := decoded.(map[string]any); ok {
			if reason, err := bencode.GetStringUTF8Lossy(dict, "failure reason"); err == nil {
				return nil, faulterr.TrackerFailure(reason)
			}
			if status >= 200 && status < 300 {
				return decodeAnnounceDict(dict)
			}
		}
	}

	if status < 200 || status >= 300 {
		return nil, faulterr.TransportFailure(fmt.Errorf("tracker returned HTTP %d", status))
	}
	return nil, faulterr.TrackerFailure(fmt.Sprintf("malformed announce response: %v", derr))
}

func decodeAnnounceDict(dict map[string]any) (*AnnounceResponse, error) {
	intervalSecs, err := bencode.GetInt(dict, "interval")
	if err != nil {
		return nil, faulterr.TrackerFailure("announce response missing required 'interval'")
	}

	seeders, err := bencode.GetOptionalInt(dict, "complete", 0)
	if err != nil {
		return nil, faulterr.TrackerFailure("announce response has malformed 'complete'")
	}
	leechers, err := bencode.GetOptionalInt(dict, "incomplete", 0)
	if err != nil {
		return nil, faulterr.TrackerFailure("announce response has malformed 'incomplete'")
	}
	minIntervalSecs, _ := bencode.GetOptionalInt(dict, "min interval", 0)
	trackerID, _ := bencode.GetStringUTF8Lossy(dict, "tracker id")
	warning, _ := bencode.GetStringUTF8Lossy(dict, "warning message")

	return &AnnounceResponse{
		Interval:    time.Duration(intervalSecs) * time.Second,
		MinInterval: time.Duration(minIntervalSecs) * time.Second,
		Seeders:     seeders,
		Leechers:    leechers,
		TrackerID:   trackerID,
		Warning:     warning,
	}, nil
}

func decodeScrapeResponse(body []byte, status int, infoHash [sha1.Size]byte) (*ScrapeStats, error) {
	if status < 200 || status >= 300 {
		return nil, faulterr.TransportFailure(fmt.Errorf("scrape returned HTTP %d", status))
	}

	decoded, err := bencode.NewDecoder(strings.NewReader(string(body))).Decode()
	if err != nil {
		return nil, faulterr.TrackerFailure(fmt.Sprintf("malformed scrape response: %v", err))
	}
	root, ok := decoded.(map[string]any)
	if !ok {
		return nil, faulterr.TrackerFailure("scrape response is not a dictionary")
	}
	if reason, err := bencode.GetStringUTF8Lossy(root, "failure reason"); err == nil {
		return nil, faulterr.TrackerFailure(reason)
	}

	files, err := bencode.GetDict(root, "files")
	if err != nil {
		return nil, faulterr.TrackerFailure("scrape response missing 'files'")
	}

	entry, ok := files[string(infoHash[:])]
	if !ok {
		return nil, faulterr.TrackerFailure("scrape response has no entry for the requested info-hash")
	}
	fdict, ok := entry.(map[string]any)
	if !ok {
		return nil, faulterr.TrackerFailure("scrape response entry is not a dictionary")
	}

	seeders, err := bencode.GetInt(fdict, "complete")
	if err != nil {
		return nil, faulterr.TrackerFailure("scrape entry missing 'complete'")
	}
	leechers, err := bencode.GetInt(fdict, "incomplete")
	if err != nil {
		return nil, faulterr.TrackerFailure("scrape entry missing 'incomplete'")
	}
	completed, err := bencode.GetInt(fdict, "downloaded")
	if err != nil {
		return nil, faulterr.TrackerFailure("scrape entry missing 'downloaded'")
	}
	name, _ := bencode.GetStringUTF8Lossy(fdict, "name")

	return &ScrapeStats{Seeders: seeders, Leechers: leechers, Completed: completed, Name: name}, nil
}
