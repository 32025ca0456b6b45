package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// TranscriptID names a transcript by its start time and a short digest of
// the peripheral address, so IDs sort chronologically and two peripherals
// connected in the same second do not collide.
func TranscriptID(started time.Time, address string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(address) + started.Format(time.RFC3339Nano)))
	return started.UTC().Format("20060102-150405") + "-" + ShortHash(hex.EncodeToString(sum[:]))
}

// ShortHash returns a shortened version of the hash for display purposes.
func ShortHash(fullHash string) string {
	if len(fullHash) > 8 {
		return fullHash[:8]
	}
	return fullHash
}
