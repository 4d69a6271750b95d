package gameserver

import (
	"strings"

	"github.com/google/uuid"
)

// shortIDLen is the length of generated user and room tokens.
const shortIDLen = 8

// ShortID returns a random 8-character hex token.
func ShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:shortIDLen]
}

// maxIDAttempts bounds retries on token collision before falling back to a
// full UUID.
const maxIDAttempts = 16

// uniqueID draws tokens from gen until taken reports a free one.
func uniqueID(gen func() string, taken func(string) bool) string {
	for i := 0; i < maxIDAttempts; i++ {
		if id := gen(); id != "" && !taken(id) {
			return id
		}
	}
	return uuid.NewString()
}
