package storage

import "github.com/oklog/ulid/v2"

// newArtifactID returns a lexically time-ordered artifact id
func newArtifactID() string {
	return ulid.Make().String()
}
