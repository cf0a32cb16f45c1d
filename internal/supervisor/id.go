package supervisor

import (
	"strings"

	"github.com/google/uuid"
)

const (
	idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	idLength   = 10
)

// generateID returns an opaque, collision-resistant 10-character session
// ID drawn from [0-9A-Z], satisfying the "opaque short tokens" registry
// requirement without leaking any structure (no timestamp, no counter).
func generateID() string {
	raw := uuid.New() // 16 random bytes (v4)
	var b strings.Builder
	b.Grow(idLength)
	for i := 0; i < idLength; i++ {
		b.WriteByte(idAlphabet[int(raw[i])%len(idAlphabet)])
	}
	return b.String()
}
