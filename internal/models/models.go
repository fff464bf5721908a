package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Complaint represents a registered cybercrime complaint. Title, description
// and complainant are immutable after registration; new facts are appended to
// the complaint's chain as events, never written back into these fields.
type Complaint struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	Title             string          `json:"title" db:"title" validate:"required,min=1,max=255"`
	Description       string          `json:"description" db:"description" validate:"required"`
	ComplainantID     uuid.UUID       `json:"complainant_id" db:"complainant_id" validate:"required"`
	Status            ComplaintStatus `json:"status" db:"status"`
	AssignedOfficerID *uuid.UUID      `json:"assigned_officer_id,omitempty" db:"assigned_officer_id"`
	RequiredEvidence  int             `json:"required_evidence" db:"required_evidence"`
	HeadHash          string          `json:"head_hash" db:"head_hash"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// EvidenceItem is an evidence or FIR document linked to a complaint by its
// content address. Immutable once created.
type EvidenceItem struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	ComplaintID   uuid.UUID    `json:"complaint_id" db:"complaint_id"`
	Kind          EvidenceKind `json:"kind" db:"kind"`
	ContentHash   string       `json:"content_hash" db:"content_hash"`
	Description   *string      `json:"description,omitempty" db:"description"`
	FIRNumber     *string      `json:"fir_number,omitempty" db:"fir_number"`
	UploadedBy    uuid.UUID    `json:"uploaded_by" db:"uploaded_by"`
	UploadedAt    time.Time    `json:"uploaded_at" db:"uploaded_at"`
	ChainSequence int64        `json:"chain_sequence" db:"chain_sequence"`
}

// ChainEntry is one link of a complaint's append-only lane. EntryHash is
// computed over (PrevHash, Sequence, Payload) and must never change once
// persisted; any recomputation mismatch signals tampering.
type ChainEntry struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	ComplaintID uuid.UUID    `json:"complaint_id" db:"complaint_id"`
	Sequence    int64        `json:"sequence" db:"sequence"`
	PrevHash    string       `json:"prev_hash" db:"prev_hash"`
	EntryHash   string       `json:"entry_hash" db:"entry_hash"`
	Payload     ChainPayload `json:"payload" db:"payload"`
	RecordedAt  time.Time    `json:"recorded_at" db:"recorded_at"`
}

// ChainPayload is the tagged event recorded by a chain entry. Kind selects
// which of the optional fields are meaningful.
type ChainPayload struct {
	Kind        PayloadKind     `json:"kind"`
	ActorID     uuid.UUID       `json:"actor_id"`
	ActorRole   Role            `json:"actor_role"`
	FromStatus  ComplaintStatus `json:"from_status,omitempty"`
	ToStatus    ComplaintStatus `json:"to_status,omitempty"`
	OfficerID   *uuid.UUID      `json:"officer_id,omitempty"`
	ContentHash string          `json:"content_hash,omitempty"`
	FIRNumber   string          `json:"fir_number,omitempty"`
	RefSequence *int64          `json:"ref_sequence,omitempty"`
	Note        string          `json:"note,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Value implements driver.Valuer so payloads persist as JSONB.
func (p ChainPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *ChainPayload) Scan(value interface{}) error {
	if value == nil {
		*p = ChainPayload{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.Errorf("unsupported payload column type %T", value)
	}
}

// ComplaintStatus is the lifecycle state of a complaint. Transitions are
// forward-only and enforced by the ledger; the raw column is never written
// outside a chain append.
type ComplaintStatus string

const (
	StatusPending          ComplaintStatus = "pending"
	StatusPendingEvidence  ComplaintStatus = "pending_evidence"
	StatusEvidenceUploaded ComplaintStatus = "evidence_uploaded"
	StatusPendingFIR       ComplaintStatus = "pending_fir"
	StatusFIRFiled         ComplaintStatus = "fir_filed"
	StatusCompleted        ComplaintStatus = "completed"
)

// Valid reports whether s is a known status value.
func (s ComplaintStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPendingEvidence, StatusEvidenceUploaded,
		StatusPendingFIR, StatusFIRFiled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s ComplaintStatus) Terminal() bool {
	return s == StatusCompleted
}

type EvidenceKind string

const (
	EvidenceKindEvidence EvidenceKind = "evidence"
	EvidenceKindFIR      EvidenceKind = "fir"
)

type PayloadKind string

const (
	PayloadComplaintRegistered PayloadKind = "complaint_registered"
	PayloadOfficerAssigned     PayloadKind = "officer_assigned"
	PayloadEvidenceAttached    PayloadKind = "evidence_attached"
	PayloadFIRAttached         PayloadKind = "fir_attached"
	PayloadStatusAdvanced      PayloadKind = "status_advanced"
	PayloadCompleted           PayloadKind = "completed"
	PayloadCorrection          PayloadKind = "correction"
)

// Role is the verified role supplied by the auth collaborator.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleOfficer Role = "officer"
	RoleCitizen Role = "citizen"
)

// Valid reports whether the role is one the ledger recognizes.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOfficer, RoleCitizen:
		return true
	default:
		return false
	}
}

// Actor is the verified identity attached to every ledger operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// Request DTOs

type RegisterComplaintRequest struct {
	Title         string    `json:"title" binding:"required,min=1,max=255"`
	Description   string    `json:"description" binding:"required,min=1"`
	ComplainantID uuid.UUID `json:"complainant_id"`
}

type AssignOfficerRequest struct {
	OfficerID uuid.UUID `json:"officer_id" binding:"required"`
}

// AttachEvidenceRequest carries either raw bytes (base64 via encoding/json)
// or a content hash the caller claims is already stored. The ledger round
// trips either form against the content store before appending.
type AttachEvidenceRequest struct {
	Content     []byte  `json:"content,omitempty"`
	ContentHash string  `json:"content_hash,omitempty"`
	Description *string `json:"description,omitempty"`
}

type AttachFIRRequest struct {
	FIRNumber   string `json:"fir_number" binding:"required,min=1,max=64"`
	Content     []byte `json:"content,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

type RecordCorrectionRequest struct {
	RefSequence int64  `json:"ref_sequence"`
	Note        string `json:"note" binding:"required,min=1"`
}

// TransitionResult is the common response for ledger mutations.
type TransitionResult struct {
	ComplaintID uuid.UUID       `json:"complaint_id"`
	Status      ComplaintStatus `json:"status"`
	HeadHash    string          `json:"head_hash"`
	Sequence    int64           `json:"sequence"`
}

// ComplaintFilter narrows complaint list queries.
type ComplaintFilter struct {
	Statuses      []ComplaintStatus `json:"statuses,omitempty"`
	ComplainantID *uuid.UUID        `json:"complainant_id,omitempty"`
	OfficerID     *uuid.UUID        `json:"officer_id,omitempty"`
}

// VerificationReport is the read-only integrity proof for one complaint.
type VerificationReport struct {
	ComplaintID               uuid.UUID           `json:"complaint_id"`
	ChainValid                bool                `json:"chain_valid"`
	BrokenAtSequence          *int64              `json:"broken_at_sequence,omitempty"`
	StatusConsistentWithChain bool                `json:"status_consistent_with_chain"`
	HeadHashConsistent        bool                `json:"head_hash_consistent"`
	EvidenceHashesValid       []EvidenceHashCheck `json:"evidence_hashes_valid"`
	CheckedAt                 time.Time           `json:"checked_at"`
}

// EvidenceHashCheck records one evidence round-trip result.
type EvidenceHashCheck struct {
	EvidenceID  uuid.UUID    `json:"evidence_id"`
	ComplaintID uuid.UUID    `json:"complaint_id"`
	Kind        EvidenceKind `json:"kind"`
	ContentHash string       `json:"content_hash"`
	Valid       bool         `json:"valid"`
	Error       string       `json:"error,omitempty"`
}
