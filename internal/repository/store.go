// Package repository persists complaints, evidence items and chain lanes.
// All lane mutations go through Append, which enforces the single-writer
// invariant with an expected-tip check: a losing concurrent writer gets
// ErrHeadConflict and must re-read the lane before retrying.
package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"blocksentinel/internal/database"
	"blocksentinel/internal/models"
)

var (
	// ErrNotFound is returned when a complaint or evidence item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrHeadConflict is returned when an append's expected head hash no
	// longer matches the lane tip, i.e. a concurrent append won the race.
	ErrHeadConflict = errors.New("lane head moved")
)

// AppendParams describes one atomic lane extension: the new entry plus the
// denormalized complaint columns it implies. Evidence, when set, is the
// evidence or FIR item recorded by the entry.
type AppendParams struct {
	ComplaintID      uuid.UUID
	Entry            *models.ChainEntry
	ExpectedHeadHash string
	NewStatus        models.ComplaintStatus
	AssignOfficerID  *uuid.UUID
	Evidence         *models.EvidenceItem
}

// Store is the persistence contract consumed by the ledger and the
// verification service. Backends: Postgres (production) and an in-memory
// store (dev and tests).
type Store interface {
	// CreateComplaint persists a new complaint together with its genesis
	// entry in one atomic step.
	CreateComplaint(ctx context.Context, complaint *models.Complaint, genesis *models.ChainEntry) error

	GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error)
	ListComplaints(ctx context.Context, filter *models.ComplaintFilter, paginate *database.Paginate) (*database.PaginatedResult, error)

	// Append atomically inserts the entry, updates the complaint's status and
	// head hash conditioned on ExpectedHeadHash, and records the evidence
	// item if present. Returns ErrHeadConflict when the condition fails.
	Append(ctx context.Context, params AppendParams) error

	// Lane returns a complaint's entries ordered by sequence, as a consistent
	// snapshot (no partially appended entry is visible).
	Lane(ctx context.Context, complaintID uuid.UUID) ([]models.ChainEntry, error)

	// Tip returns the latest entry of a lane, or nil for an empty lane.
	Tip(ctx context.Context, complaintID uuid.UUID) (*models.ChainEntry, error)

	ListEvidence(ctx context.Context, complaintID uuid.UUID) ([]models.EvidenceItem, error)
	CountEvidence(ctx context.Context, complaintID uuid.UUID, kind models.EvidenceKind) (int, error)
	FindEvidenceByContentHash(ctx context.Context, contentHash string) (*models.EvidenceItem, error)
}
