package store

import (
	"crypto/rand"
	"fmt"
)

// newUUIDv4 generates a random (version 4, variant 1) UUID. None of the
// retrieved example repositories pull in a UUID library, so this follows
// RFC 4122 §4.4 directly against crypto/rand rather than reaching for an
// out-of-corpus dependency.
func newUUIDv4() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("store: failed to read random bytes for uuid: %v", err))
	}

	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80

	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
