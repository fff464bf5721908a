// Package ledger enforces the complaint lifecycle: who may perform which
// transition, in which status, and how every accepted transition becomes a
// hash chain entry. It is the only writer of complaint state.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"blocksentinel/internal/chain"
	"blocksentinel/internal/config"
	"blocksentinel/internal/contentstore"
	"blocksentinel/internal/database"
	"blocksentinel/internal/metrics"
	"blocksentinel/internal/models"
	"blocksentinel/internal/repository"
)

// EventPublisher receives appended entries for downstream consumers.
// Implemented by events.Publisher; a nil publisher disables publication.
type EventPublisher interface {
	EntryAppended(ctx context.Context, complaint *models.Complaint, entry *models.ChainEntry)
}

// Service is the complaint lifecycle ledger.
type Service struct {
	store     repository.Store
	content   contentstore.Store
	publisher EventPublisher
	collector *metrics.Collector
	logger    *zap.Logger

	requiredEvidence int
	retryLimit       int
	contentTimeout   time.Duration
	maxBlobSize      int64
}

// New creates the ledger service. publisher and collector may be nil.
func New(store repository.Store, content contentstore.Store, publisher EventPublisher,
	collector *metrics.Collector, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		store:            store,
		content:          content,
		publisher:        publisher,
		collector:        collector,
		logger:           logger.Named("ledger"),
		requiredEvidence: cfg.Ledger.RequiredEvidence,
		retryLimit:       cfg.Ledger.AppendRetryLimit,
		contentTimeout:   cfg.ContentStore.RequestTimeout,
		maxBlobSize:      cfg.ContentStore.MaxBlobSize,
	}
}

// Register creates a complaint in status Pending with its genesis entry.
func (s *Service) Register(ctx context.Context, req *models.RegisterComplaintRequest, actor models.Actor) (*models.Complaint, error) {
	complainantID := req.ComplainantID
	if complainantID == uuid.Nil {
		complainantID = actor.ID
	}

	now := time.Now().UTC()
	complaint := &models.Complaint{
		ID:               uuid.New(),
		Title:            req.Title,
		Description:      req.Description,
		ComplainantID:    complainantID,
		Status:           models.StatusPending,
		RequiredEvidence: s.requiredEvidence,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	payload := models.ChainPayload{
		Kind:      models.PayloadComplaintRegistered,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		ToStatus:  models.StatusPending,
		Timestamp: now,
	}

	genesis, err := chain.NextEntry(complaint.ID, nil, payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build genesis entry")
	}
	complaint.HeadHash = genesis.EntryHash

	if err := s.store.CreateComplaint(ctx, complaint, genesis); err != nil {
		return nil, errors.Wrap(err, "failed to persist complaint")
	}

	s.publish(ctx, complaint, genesis)
	s.collector.TransitionApplied(string(models.PayloadComplaintRegistered))
	s.logger.Info("Complaint registered",
		zap.String("complaint_id", complaint.ID.String()),
		zap.String("head_hash", complaint.HeadHash))
	return complaint, nil
}

// AssignOfficer moves Pending to PendingEvidence. Admin only.
func (s *Service) AssignOfficer(ctx context.Context, complaintID, officerID uuid.UUID, actor models.Actor) (*models.TransitionResult, error) {
	if actor.Role != models.RoleAdmin {
		return nil, NewError(CodeUnauthorized, "only an admin may assign an officer")
	}

	return s.transition(ctx, complaintID, func(c *models.Complaint) (*appendPlan, error) {
		if c.Status != models.StatusPending {
			return nil, NewError(CodeInvalidTransition, "complaint is not awaiting assignment")
		}
		return &appendPlan{
			payload: models.ChainPayload{
				Kind:       models.PayloadOfficerAssigned,
				ActorID:    actor.ID,
				ActorRole:  actor.Role,
				FromStatus: c.Status,
				ToStatus:   models.StatusPendingEvidence,
				OfficerID:  &officerID,
				Timestamp:  time.Now().UTC(),
			},
			newStatus:     models.StatusPendingEvidence,
			assignOfficer: &officerID,
		}, nil
	})
}

// AttachEvidence records a content-verified evidence item. Only the assigned
// officer may attach, and only while evidence is pending. The status becomes
// EvidenceUploaded once the attachment completes the complaint's required
// evidence count; earlier attachments are progress events that leave the
// status in place.
func (s *Service) AttachEvidence(ctx context.Context, complaintID uuid.UUID, req *models.AttachEvidenceRequest, actor models.Actor) (*models.TransitionResult, error) {
	contentHash, err := s.resolveContent(ctx, req.Content, req.ContentHash)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, complaintID, func(c *models.Complaint) (*appendPlan, error) {
		if err := requireAssignedOfficer(c, actor); err != nil {
			return nil, err
		}
		if c.Status != models.StatusPendingEvidence {
			return nil, NewError(CodeInvalidTransition, "complaint is not accepting evidence")
		}

		attached, err := s.store.CountEvidence(ctx, c.ID, models.EvidenceKindEvidence)
		if err != nil {
			return nil, errors.Wrap(err, "failed to count evidence")
		}

		newStatus := c.Status
		if attached+1 >= c.RequiredEvidence {
			newStatus = models.StatusEvidenceUploaded
		}

		now := time.Now().UTC()
		return &appendPlan{
			payload: models.ChainPayload{
				Kind:        models.PayloadEvidenceAttached,
				ActorID:     actor.ID,
				ActorRole:   actor.Role,
				FromStatus:  c.Status,
				ToStatus:    newStatus,
				ContentHash: contentHash,
				Timestamp:   now,
			},
			newStatus: newStatus,
			evidence: &models.EvidenceItem{
				ID:          uuid.New(),
				ComplaintID: c.ID,
				Kind:        models.EvidenceKindEvidence,
				ContentHash: contentHash,
				Description: req.Description,
				UploadedBy:  actor.ID,
				UploadedAt:  now,
			},
		}, nil
	})
}

// AdvanceToFIRPending is the explicit acknowledgement that evidence review
// is done: EvidenceUploaded to PendingFIR. AttachFIR accepts either state,
// so this step is optional.
func (s *Service) AdvanceToFIRPending(ctx context.Context, complaintID uuid.UUID, actor models.Actor) (*models.TransitionResult, error) {
	return s.transition(ctx, complaintID, func(c *models.Complaint) (*appendPlan, error) {
		if err := requireAssignedOfficer(c, actor); err != nil {
			return nil, err
		}
		if c.Status != models.StatusEvidenceUploaded {
			return nil, NewError(CodeInvalidTransition, "complaint evidence is not complete")
		}
		return &appendPlan{
			payload: models.ChainPayload{
				Kind:       models.PayloadStatusAdvanced,
				ActorID:    actor.ID,
				ActorRole:  actor.Role,
				FromStatus: c.Status,
				ToStatus:   models.StatusPendingFIR,
				Timestamp:  time.Now().UTC(),
			},
			newStatus: models.StatusPendingFIR,
		}, nil
	})
}

// AttachFIR records the FIR document and moves the complaint to FIRFiled.
func (s *Service) AttachFIR(ctx context.Context, complaintID uuid.UUID, req *models.AttachFIRRequest, actor models.Actor) (*models.TransitionResult, error) {
	contentHash, err := s.resolveContent(ctx, req.Content, req.ContentHash)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, complaintID, func(c *models.Complaint) (*appendPlan, error) {
		if err := requireAssignedOfficer(c, actor); err != nil {
			return nil, err
		}
		if c.Status != models.StatusEvidenceUploaded && c.Status != models.StatusPendingFIR {
			return nil, NewError(CodeInvalidTransition, "complaint is not ready for an FIR")
		}

		now := time.Now().UTC()
		firNumber := req.FIRNumber
		return &appendPlan{
			payload: models.ChainPayload{
				Kind:        models.PayloadFIRAttached,
				ActorID:     actor.ID,
				ActorRole:   actor.Role,
				FromStatus:  c.Status,
				ToStatus:    models.StatusFIRFiled,
				ContentHash: contentHash,
				FIRNumber:   firNumber,
				Timestamp:   now,
			},
			newStatus: models.StatusFIRFiled,
			evidence: &models.EvidenceItem{
				ID:          uuid.New(),
				ComplaintID: c.ID,
				Kind:        models.EvidenceKindFIR,
				ContentHash: contentHash,
				FIRNumber:   &firNumber,
				UploadedBy:  actor.ID,
				UploadedAt:  now,
			},
		}, nil
	})
}

// MarkCompleted closes the complaint. Admin only. The chain remains readable
// forever; no entry is ever deleted.
func (s *Service) MarkCompleted(ctx context.Context, complaintID uuid.UUID, actor models.Actor) (*models.TransitionResult, error) {
	if actor.Role != models.RoleAdmin {
		return nil, NewError(CodeUnauthorized, "only an admin may complete a complaint")
	}

	return s.transition(ctx, complaintID, func(c *models.Complaint) (*appendPlan, error) {
		if c.Status != models.StatusFIRFiled {
			return nil, NewError(CodeInvalidTransition, "complaint FIR has not been filed")
		}
		return &appendPlan{
			payload: models.ChainPayload{
				Kind:       models.PayloadCompleted,
				ActorID:    actor.ID,
				ActorRole:  actor.Role,
				FromStatus: c.Status,
				ToStatus:   models.StatusCompleted,
				Timestamp:  time.Now().UTC(),
			},
			newStatus: models.StatusCompleted,
		}, nil
	})
}

// RecordCorrection appends a correction entry referencing an earlier
// sequence. Entries are never edited or removed; corrections are new facts.
// Admin only; the status is unchanged.
func (s *Service) RecordCorrection(ctx context.Context, complaintID uuid.UUID, req *models.RecordCorrectionRequest, actor models.Actor) (*models.TransitionResult, error) {
	if actor.Role != models.RoleAdmin {
		return nil, NewError(CodeUnauthorized, "only an admin may record a correction")
	}

	return s.transitionWithTip(ctx, complaintID, func(c *models.Complaint, tip *models.ChainEntry) (*appendPlan, error) {
		if req.RefSequence < 0 || req.RefSequence > tip.Sequence {
			return nil, NewError(CodeInvalidArgument, "referenced sequence does not exist")
		}
		refSeq := req.RefSequence
		return &appendPlan{
			payload: models.ChainPayload{
				Kind:        models.PayloadCorrection,
				ActorID:     actor.ID,
				ActorRole:   actor.Role,
				FromStatus:  c.Status,
				ToStatus:    c.Status,
				RefSequence: &refSeq,
				Note:        req.Note,
				Timestamp:   time.Now().UTC(),
			},
			newStatus: c.Status,
		}, nil
	})
}

// Read passthroughs for the API layer.

func (s *Service) GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	complaint, err := s.store.GetComplaint(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(CodeNotFound, "complaint not found")
		}
		return nil, err
	}
	return complaint, nil
}

func (s *Service) ListComplaints(ctx context.Context, filter *models.ComplaintFilter, limit, offset int) (*database.PaginatedResult, error) {
	return s.store.ListComplaints(ctx, filter, database.NewPaginate(limit, offset))
}

func (s *Service) Lane(ctx context.Context, id uuid.UUID) ([]models.ChainEntry, error) {
	if _, err := s.GetComplaint(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Lane(ctx, id)
}

func (s *Service) ListEvidence(ctx context.Context, id uuid.UUID) ([]models.EvidenceItem, error) {
	if _, err := s.GetComplaint(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvidence(ctx, id)
}

// appendPlan is the output of a transition's validation step: the payload to
// append and the denormalized state it implies.
type appendPlan struct {
	payload       models.ChainPayload
	newStatus     models.ComplaintStatus
	assignOfficer *uuid.UUID
	evidence      *models.EvidenceItem
}

type planFunc func(c *models.Complaint) (*appendPlan, error)

func (s *Service) transition(ctx context.Context, complaintID uuid.UUID, plan planFunc) (*models.TransitionResult, error) {
	return s.transitionWithTip(ctx, complaintID, func(c *models.Complaint, _ *models.ChainEntry) (*appendPlan, error) {
		return plan(c)
	})
}

// transitionWithTip runs the optimistic append loop: read state, validate,
// build the entry against the observed tip, and append conditioned on that
// tip. A lost race re-reads and re-validates, up to the retry budget.
func (s *Service) transitionWithTip(ctx context.Context, complaintID uuid.UUID,
	plan func(*models.Complaint, *models.ChainEntry) (*appendPlan, error)) (*models.TransitionResult, error) {

	start := time.Now()
	var lastHead, lastTip string
	sawMismatch := false
	for attempt := 0; attempt < s.retryLimit; attempt++ {
		complaint, err := s.store.GetComplaint(ctx, complaintID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, NewError(CodeNotFound, "complaint not found")
			}
			return nil, errors.Wrap(err, "failed to load complaint")
		}

		tip, err := s.store.Tip(ctx, complaintID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load lane tip")
		}
		if tip == nil {
			// A registered complaint always has its genesis entry; an empty
			// lane cannot be a race because lanes only grow. Surface it,
			// never repair it.
			s.collector.CorruptionDetected()
			return nil, NewError(CodeChainCorruption, "complaint lane is empty")
		}
		if tip.EntryHash != complaint.HeadHash {
			// The complaint and tip reads are not one snapshot: a writer
			// landing between them leaves the pair pointing at different
			// moments, which is a lost race, not damage. Only the same
			// mismatched pair recurring across a re-read cannot be a race.
			if sawMismatch && lastHead == complaint.HeadHash && lastTip == tip.EntryHash {
				s.collector.CorruptionDetected()
				return nil, NewError(CodeChainCorruption, "complaint head does not match chain tip")
			}
			sawMismatch = true
			lastHead = complaint.HeadHash
			lastTip = tip.EntryHash
			s.collector.AppendConflict()
			s.logger.Debug("Head moved between reads, retrying",
				zap.String("complaint_id", complaintID.String()),
				zap.Int("attempt", attempt+1))
			continue
		}
		sawMismatch = false

		p, err := plan(complaint, tip)
		if err != nil {
			return nil, err
		}

		entry, err := chain.NextEntry(complaintID, tip, p.payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build chain entry")
		}
		if p.evidence != nil {
			p.evidence.ChainSequence = entry.Sequence
		}

		err = s.store.Append(ctx, repository.AppendParams{
			ComplaintID:      complaintID,
			Entry:            entry,
			ExpectedHeadHash: tip.EntryHash,
			NewStatus:        p.newStatus,
			AssignOfficerID:  p.assignOfficer,
			Evidence:         p.evidence,
		})
		if err != nil {
			if errors.Is(err, repository.ErrHeadConflict) {
				s.collector.AppendConflict()
				s.logger.Debug("Lost append race, retrying",
					zap.String("complaint_id", complaintID.String()),
					zap.Int("attempt", attempt+1))
				continue
			}
			if errors.Is(err, repository.ErrNotFound) {
				return nil, NewError(CodeNotFound, "complaint not found")
			}
			return nil, errors.Wrap(err, "failed to append chain entry")
		}

		complaint.Status = p.newStatus
		complaint.HeadHash = entry.EntryHash
		s.publish(ctx, complaint, entry)
		s.collector.TransitionApplied(string(p.payload.Kind))
		s.collector.AppendLatency(time.Since(start))

		s.logger.Info("Transition applied",
			zap.String("complaint_id", complaintID.String()),
			zap.String("kind", string(p.payload.Kind)),
			zap.String("status", string(p.newStatus)),
			zap.Int64("sequence", entry.Sequence))

		return &models.TransitionResult{
			ComplaintID: complaintID,
			Status:      p.newStatus,
			HeadHash:    entry.EntryHash,
			Sequence:    entry.Sequence,
		}, nil
	}

	return nil, NewError(CodeAppendConflict, "concurrent appends exhausted the retry budget")
}

// resolveContent verifies the caller's content against the store and returns
// the authoritative hash. Verify-then-append: nothing is appended unless
// this succeeds. Callers supply raw bytes, a claimed hash, or both; a
// claimed hash is never trusted without the round trip.
func (s *Service) resolveContent(ctx context.Context, content []byte, claimedHash string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contentTimeout)
	defer cancel()

	switch {
	case len(content) > 0:
		if s.maxBlobSize > 0 && int64(len(content)) > s.maxBlobSize {
			return "", NewError(CodeInvalidArgument, "content exceeds the maximum blob size")
		}

		stored, err := s.content.Put(ctx, content)
		if err != nil {
			return "", s.contentStoreError("failed to store content", err)
		}
		if claimedHash != "" && claimedHash != stored {
			s.collector.ContentMismatch()
			s.logger.Warn("Claimed content hash does not match stored content",
				zap.String("claimed", claimedHash),
				zap.String("stored", stored))
			return "", NewError(CodeContentMismatch, "claimed hash does not match the stored content")
		}
		return stored, nil

	case claimedHash != "":
		if !contentstore.ValidHash(claimedHash) {
			return "", NewError(CodeInvalidArgument, "content hash is not a valid address")
		}

		data, err := s.content.Get(ctx, claimedHash)
		if err != nil {
			if errors.Is(err, contentstore.ErrNotFound) {
				s.collector.ContentMismatch()
				return "", NewError(CodeContentMismatch, "no content stored for the claimed hash")
			}
			return "", s.contentStoreError("failed to fetch content", err)
		}
		if actual := contentstore.HashBytes(data); actual != claimedHash {
			s.collector.ContentMismatch()
			s.logger.Warn("Stored content does not match its address",
				zap.String("claimed", claimedHash),
				zap.String("actual", actual))
			return "", NewError(CodeContentMismatch, "stored content does not match the claimed hash")
		}
		return claimedHash, nil

	default:
		return "", NewError(CodeInvalidArgument, "either content or content_hash is required")
	}
}

func (s *Service) contentStoreError(message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WrapError(CodeContentStoreUnavailable, "content store timed out", err)
	}
	return WrapError(CodeContentStoreUnavailable, message, err)
}

func (s *Service) publish(ctx context.Context, complaint *models.Complaint, entry *models.ChainEntry) {
	if s.publisher == nil {
		return
	}
	s.publisher.EntryAppended(ctx, complaint, entry)
}

func requireAssignedOfficer(c *models.Complaint, actor models.Actor) error {
	if actor.Role != models.RoleOfficer {
		return NewError(CodeUnauthorized, "only an officer may perform this transition")
	}
	if c.AssignedOfficerID == nil || *c.AssignedOfficerID != actor.ID {
		return NewError(CodeUnauthorized, "actor is not the assigned officer")
	}
	return nil
}
