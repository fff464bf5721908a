// Package contentstore provides content-addressed blob storage: every blob is
// keyed by the SHA-256 of its bytes, so retrieval of unmodified content is
// guaranteed as long as readers re-check the address.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get when no blob exists for the hash.
var ErrNotFound = errors.New("content not found")

// Store is the content-addressed storage contract. Put is deterministic:
// the same bytes always yield the same hash. Implementations must honor
// context deadlines so callers can bound round trips.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
}

// HashBytes computes the content address of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidHash reports whether s looks like a SHA-256 hex address.
func ValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
