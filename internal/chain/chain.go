// Package chain implements the tamper-evident entry kernel: entry hashing,
// lane linkage rules and verification walks. It performs no I/O; persistence
// and the single-writer-per-lane discipline live in the repository layer.
package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"blocksentinel/internal/models"
)

// GenesisHash is the fixed prev_hash of every lane's first entry.
var GenesisHash = func() string {
	sum := sha256.Sum256([]byte("blocksentinel/chain/genesis/v1"))
	return hex.EncodeToString(sum[:])
}()

// EntryHash computes the hash binding an entry to its predecessor:
// SHA-256 over prevHash bytes, the big-endian sequence number and the
// canonical JSON encoding of the payload.
func EntryHash(prevHash string, sequence int64, payload models.ChainPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode payload")
	}

	h := sha256.New()
	h.Write([]byte(prevHash))

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))
	h.Write(seq[:])

	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NextEntry builds the entry that extends a lane whose current tip is prev.
// A nil prev starts the lane at sequence 0 with the genesis constant.
func NextEntry(complaintID uuid.UUID, prev *models.ChainEntry, payload models.ChainPayload) (*models.ChainEntry, error) {
	prevHash := GenesisHash
	var sequence int64
	if prev != nil {
		prevHash = prev.EntryHash
		sequence = prev.Sequence + 1
	}

	entryHash, err := EntryHash(prevHash, sequence, payload)
	if err != nil {
		return nil, err
	}

	return &models.ChainEntry{
		ID:          uuid.New(),
		ComplaintID: complaintID,
		Sequence:    sequence,
		PrevHash:    prevHash,
		EntryHash:   entryHash,
		Payload:     payload,
		RecordedAt:  time.Now().UTC(),
	}, nil
}

// VerifyResult is the outcome of a lane walk.
type VerifyResult struct {
	Valid            bool
	BrokenAtSequence *int64
}

// VerifyLane walks entries from genesis, recomputing each entry hash and
// checking linkage to the predecessor. Entries must be ordered by sequence.
// The first divergence is reported; a valid empty lane is legal only for a
// complaint that was never registered, so callers decide how to treat it.
func VerifyLane(entries []models.ChainEntry) VerifyResult {
	prevHash := GenesisHash
	for i := range entries {
		e := &entries[i]
		broken := e.Sequence != int64(i) || e.PrevHash != prevHash
		if !broken {
			recomputed, err := EntryHash(e.PrevHash, e.Sequence, e.Payload)
			broken = err != nil || recomputed != e.EntryHash
		}
		if broken {
			seq := e.Sequence
			return VerifyResult{Valid: false, BrokenAtSequence: &seq}
		}
		prevHash = e.EntryHash
	}
	return VerifyResult{Valid: true}
}

// Tip returns the entry hash of the last entry, or the empty string for an
// empty lane.
func Tip(entries []models.ChainEntry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].EntryHash
}
