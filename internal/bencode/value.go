package bencode

import (
	"strings"
	"unicode/utf8"

	"github.com/seedbox-tools/ratiofaker/internal/faulterr"
)

// Value is the variant tagged type produced by Decode: string, int64,
// []any (for lists), or map[string]any (for dictionaries with
// lexicographically ordered keys).
type Value = any

// GetInt reads an integer field from a decoded dictionary. It fails with
// faulterr.InvalidStructure(field) when the key is missing or not an
// integer.
func GetInt(dict map[string]any, field string) (int64, error) {
	v, ok := dict[field]
	if !ok {
		return 0, faulterr.InvalidStructure(field)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, faulterr.InvalidStructure(field)
	}
	return n, nil
}

// GetOptionalInt reads an integer field, returning def when the key is
// absent. It still fails if the key is present with the wrong type.
func GetOptionalInt(dict map[string]any, field string, def int64) (int64, error) {
	if _, ok := dict[field]; !ok {
		return def, nil
	}
	return GetInt(dict, field)
}

// GetBytes reads a byte-string field, returned as raw bytes (no encoding
// assumptions). Bencode strings are byte strings; treat them as text only
// where the caller explicitly chooses to.
func GetBytes(dict map[string]any, field string) ([]byte, error) {
	v, ok := dict[field]
	if !ok {
		return nil, faulterr.InvalidStructure(field)
	}
	s, ok := v.(string)
	if !ok {
		return nil, faulterr.InvalidStructure(field)
	}
	return []byte(s), nil
}

// GetStringUTF8Lossy reads a byte-string field and lossily converts it to
// a UTF-8 Go string, replacing any invalid byte sequence with the Unicode
// replacement character. This conversion is the caller's explicit choice;
// GetBytes is the lossless alternative.
func GetStringUTF8Lossy(dict map[string]any, field string) (string, error) {
	b, err := GetBytes(dict, field)
	if err != nil {
		return "", err
	}
	if utf8.Valid(b) {
		return string(b), nil
	}

	var sb strings.Builder
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		sb.WriteRune(r)
		i += size
	}
	return sb.String(), nil
}

// GetList reads a list field.
func GetList(dict map[string]any, field string) ([]any, error) {
	v, ok := dict[field]
	if !ok {
		return nil, faulterr.InvalidStructure(field)
	}
	l, ok := v.([]any)
	if !ok {
		return nil, faulterr.InvalidStructure(field)
	}
	return l, nil
}

// GetDict reads a dictionary field.
func GetDict(dict map[string]any, field string) (map[string]any, error) {
	v, ok := dict[field]
	if !ok {
		return nil, faulterr.InvalidStructure(field)
	}
	d, ok := v.(map[string]any)
	if !ok {
		return nil, faulterr.InvalidStructure(field)
	}
	return d, nil
}
