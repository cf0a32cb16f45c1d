package bencode

import (
	"fmt"
)

// RawValueAt locates the exact byte range of the bencoded value associated
// with a top-level dictionary key and returns a slice of the original
// buffer spanning it — it never re-parses the value into Go types and
// re-encodes it. This is the safe way to compute a hash over a
// sub-dictionary such as a torrent's "info" dict: any re-encoding risks
// producing bytes that differ from the source (key ordering already
// present in the file, integer formatting, etc.), which would silently
// change the hash. Slicing the original bytes sidesteps the hazard
// entirely.
func RawValueAt(buf []byte, key string) ([]byte, error) {
	if len(buf) == 0 || buf[0] != byte(bDict) {
		return nil, fmt.Errorf("bencode: top-level value is not a dictionary")
	}

	pos := 1
	for {
		if pos >= len(buf) {
			return nil, fmt.Errorf("bencode: unterminated dictionary")
		}
		if buf[pos] == byte(bDelim) {
			return nil, fmt.Errorf("bencode: key %q not found", key)
		}

		keyStart, keyEnd, next, err := scanStringSpan(buf, pos)
		if err != nil {
			return nil, err
		}

		valueStart := next
		valueEnd, err := scanValueEnd(buf, valueStart)
		if err != nil {
			return nil, err
		}

		if string(buf[keyStart:keyEnd]) == key {
			return buf[valueStart:valueEnd], nil
		}

		pos = valueEnd
	}
}

// scanStringSpan parses a bencoded string starting at pos and returns the
// span of its content (excluding the "<len>:" header) plus the index
// immediately after the string.
func scanStringSpan(buf []byte, pos int) (start, end, next int, err error) {
	colon := -1
	for i := pos; i < len(buf); i++ {
		if buf[i] == ':' {
			colon = i
			break
		}
		if buf[i] < '0' || buf[i] > '9' {
			return 0, 0, 0, fmt.Errorf("bencode: invalid string length at offset %d", pos)
		}
	}
	if colon == -1 {
		return 0, 0, 0, fmt.Errorf("bencode: unterminated string length at offset %d", pos)
	}

	length := 0
	for _, c := range buf[pos:colon] {
		length = length*10 + int(c-'0')
	}

	start = colon + 1
	end = start + length
	if end > len(buf) {
		return 0, 0, 0, fmt.Errorf("bencode: string overruns buffer at offset %d", pos)
	}
	return start, end, end, nil
}

// scanValueEnd returns the index immediately after the bencoded value that
// starts at pos, without allocating or decoding it into a Go value.
func scanValueEnd(buf []byte, pos int) (int, error) {
	if pos >= len(buf) {
		return 0, fmt.Errorf("bencode: unexpected end of buffer at offset %d", pos)
	}

	switch buf[pos] {
	case byte(bInteger):
		i := pos + 1
		for i < len(buf) && buf[i] != byte(bDelim) {
			i++
		}
		if i >= len(buf) {
			return 0, fmt.Errorf("bencode: unterminated integer at offset %d", pos)
		}
		return i + 1, nil

	case byte(bList):
		i := pos + 1
		for {
			if i >= len(buf) {
				return 0, fmt.Errorf("bencode: unterminated list at offset %d", pos)
			}
			if buf[i] == byte(bDelim) {
				return i + 1, nil
			}
			end, err := scanValueEnd(buf, i)
			if err != nil {
				return 0, err
			}
			i = end
		}

	case byte(bDict):
		i := pos + 1
		for {
			if i >= len(buf) {
				return 0, fmt.Errorf("bencode: unterminated dictionary at offset %d", pos)
			}
			if buf[i] == byte(bDelim) {
				return i + 1, nil
			}
			_, _, next, err := scanStringSpan(buf, i)
			if err != nil {
				return 0, err
			}
			end, err := scanValueEnd(buf, next)
			if err != nil {
				return 0, err
			}
			i = end
		}

	default:
		_, _, next, err := scanStringSpan(buf, pos)
		if err != nil {
			return 0, err
		}
		return next, nil
	}
}
