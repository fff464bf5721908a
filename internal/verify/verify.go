// Package verify re-derives a complaint's state from first principles and
// compares it against what is stored. Verification is read-only and
// idempotent: running it never mutates the ledger, and two runs over an
// unchanged lane produce the same report.
package verify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"blocksentinel/internal/chain"
	"blocksentinel/internal/contentstore"
	"blocksentinel/internal/ledger"
	"blocksentinel/internal/metrics"
	"blocksentinel/internal/models"
	"blocksentinel/internal/repository"
)

// Service runs integrity checks over complaint lanes and their evidence.
type Service struct {
	store     repository.Store
	content   contentstore.Store
	cache     ReportCache
	collector *metrics.Collector
	logger    *zap.Logger
}

// New creates the verification service. cache and collector may be nil.
func New(store repository.Store, content contentstore.Store, cache ReportCache,
	collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		content:   content,
		cache:     cache,
		collector: collector,
		logger:    logger.Named("verify"),
	}
}

// VerifyComplaint recomputes the complaint's chain, replays its status, and
// round-trips every evidence blob through the content store.
func (s *Service) VerifyComplaint(ctx context.Context, complaintID uuid.UUID) (*models.VerificationReport, error) {
	complaint, err := s.store.GetComplaint(ctx, complaintID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ledger.NewError(ledger.CodeNotFound, "complaint not found")
		}
		return nil, errors.Wrap(err, "failed to load complaint")
	}

	if report, ok := s.cachedReport(ctx, complaint); ok {
		return report, nil
	}

	entries, err := s.store.Lane(ctx, complaintID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load chain entries")
	}

	report := &models.VerificationReport{
		ComplaintID: complaintID,
		CheckedAt:   time.Now().UTC(),
	}

	chainResult := chain.VerifyLane(entries)
	report.ChainValid = chainResult.Valid
	report.BrokenAtSequence = chainResult.BrokenAtSequence

	if report.ChainValid {
		replayed := replayStatus(entries)
		report.StatusConsistentWithChain = replayed == complaint.Status
		report.HeadHashConsistent = len(entries) > 0 && chain.Tip(entries) == complaint.HeadHash
	}

	report.EvidenceHashesValid, err = s.checkEvidence(ctx, complaintID)
	if err != nil {
		return nil, err
	}

	valid := reportClean(report)
	s.collector.VerificationCompleted(valid)
	if !valid {
		s.collector.CorruptionDetected()
		s.logger.Warn("Verification found an inconsistent complaint",
			zap.String("complaint_id", complaintID.String()),
			zap.Bool("chain_valid", report.ChainValid),
			zap.Bool("status_consistent", report.StatusConsistentWithChain),
			zap.Bool("head_consistent", report.HeadHashConsistent))
	}

	s.cacheReport(ctx, complaint, report)
	return report, nil
}

// VerifyEvidence re-fetches a single blob by address and recomputes its hash.
func (s *Service) VerifyEvidence(ctx context.Context, contentHash string) (*models.EvidenceHashCheck, error) {
	if !contentstore.ValidHash(contentHash) {
		return nil, ledger.NewError(ledger.CodeInvalidArgument, "content hash is not a valid address")
	}

	item, err := s.store.FindEvidenceByContentHash(ctx, contentHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ledger.NewError(ledger.CodeNotFound, "no evidence recorded for this hash")
		}
		return nil, errors.Wrap(err, "failed to look up evidence")
	}

	check := s.roundTrip(ctx, item)
	s.collector.VerificationCompleted(check.Valid)
	return &check, nil
}

func (s *Service) checkEvidence(ctx context.Context, complaintID uuid.UUID) ([]models.EvidenceHashCheck, error) {
	items, err := s.store.ListEvidence(ctx, complaintID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list evidence")
	}

	checks := make([]models.EvidenceHashCheck, 0, len(items))
	for i := range items {
		checks = append(checks, s.roundTrip(ctx, &items[i]))
	}
	return checks, nil
}

func (s *Service) roundTrip(ctx context.Context, item *models.EvidenceItem) models.EvidenceHashCheck {
	check := models.EvidenceHashCheck{
		EvidenceID:  item.ID,
		ComplaintID: item.ComplaintID,
		Kind:        item.Kind,
		ContentHash: item.ContentHash,
	}

	data, err := s.content.Get(ctx, item.ContentHash)
	if err != nil {
		if errors.Is(err, contentstore.ErrNotFound) {
			check.Error = "content missing from store"
		} else {
			check.Error = "content store unavailable"
		}
		return check
	}

	if actual := contentstore.HashBytes(data); actual != item.ContentHash {
		check.Error = "stored content does not match its address"
		return check
	}

	check.Valid = true
	return check
}

// replayStatus folds the lane's payloads into the status the complaint
// should be in. The last ToStatus wins; corrections carry the status along.
func replayStatus(entries []models.ChainEntry) models.ComplaintStatus {
	status := models.StatusPending
	for i := range entries {
		if to := entries[i].Payload.ToStatus; to != "" {
			status = to
		}
	}
	return status
}

func reportClean(r *models.VerificationReport) bool {
	if !r.ChainValid || !r.StatusConsistentWithChain || !r.HeadHashConsistent {
		return false
	}
	for i := range r.EvidenceHashesValid {
		if !r.EvidenceHashesValid[i].Valid {
			return false
		}
	}
	return true
}

// A cache hit is only trusted after the lane tip re-verifies: the cached
// report describes a past walk, and the stored head hash does not change
// when an entry is rewritten underneath it.
func (s *Service) cachedReport(ctx context.Context, c *models.Complaint) (*models.VerificationReport, bool) {
	if s.cache == nil {
		return nil, false
	}

	report, ok := s.cache.Get(ctx, cacheKey(c))
	if !ok {
		return nil, false
	}
	if !s.tipIntact(ctx, c) {
		return nil, false
	}
	return report, true
}

func (s *Service) tipIntact(ctx context.Context, c *models.Complaint) bool {
	tip, err := s.store.Tip(ctx, c.ID)
	if err != nil || tip == nil {
		return false
	}
	if tip.EntryHash != c.HeadHash {
		return false
	}
	recomputed, err := chain.EntryHash(tip.PrevHash, tip.Sequence, tip.Payload)
	return err == nil && recomputed == tip.EntryHash
}

func (s *Service) cacheReport(ctx context.Context, c *models.Complaint, report *models.VerificationReport) {
	if s.cache == nil {
		return
	}
	s.cache.Set(ctx, cacheKey(c), report)
}
