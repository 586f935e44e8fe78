package workflow

import (
	"crypto/rand"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
)

// IDLength is the length of a workflow identifier.
const IDLength = 8

// GenerateID generates a new 8 character workflow ID.
// It keeps the tail of a ULID (the random component, Crockford base32) so
// the alphabet is lowercase alphanumeric. Uniqueness is probabilistic:
// callers treat an existing state record at the id as a collision.
func GenerateID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	s := id.String()
	return strings.ToLower(s[len(s)-IDLength:])
}

// IsValidID reports whether id has the shape produced by GenerateID.
func IsValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, r := range id {
		if r > unicode.MaxASCII || !(unicode.IsDigit(r) || unicode.IsLower(r)) {
			return false
		}
	}
	return true
}
