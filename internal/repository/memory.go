package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"blocksentinel/internal/database"
	"blocksentinel/internal/models"
)

// MemoryStore is an in-process Store for development and tests. It enforces
// the same expected-tip append discipline as the Postgres backend, with a
// single mutex standing in for the transaction.
type MemoryStore struct {
	mu         sync.RWMutex
	complaints map[uuid.UUID]models.Complaint
	lanes      map[uuid.UUID][]models.ChainEntry
	evidence   map[uuid.UUID][]models.EvidenceItem
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		complaints: make(map[uuid.UUID]models.Complaint),
		lanes:      make(map[uuid.UUID][]models.ChainEntry),
		evidence:   make(map[uuid.UUID][]models.EvidenceItem),
	}
}

func (s *MemoryStore) CreateComplaint(ctx context.Context, complaint *models.Complaint, genesis *models.ChainEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.complaints[complaint.ID] = *complaint
	s.lanes[complaint.ID] = []models.ChainEntry{*genesis}
	return nil
}

func (s *MemoryStore) GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	complaint, ok := s.complaints[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := complaint
	return &out, nil
}

func (s *MemoryStore) ListComplaints(ctx context.Context, filter *models.ComplaintFilter, paginate *database.Paginate) (*database.PaginatedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matched []models.Complaint
	for _, c := range s.complaints {
		if filterMatches(filter, &c) {
			matched = append(matched, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := paginate.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + paginate.Limit
	if end > len(matched) {
		end = len(matched)
	}

	return database.NewPaginatedResult(matched[start:end], total, paginate), nil
}

func filterMatches(filter *models.ComplaintFilter, c *models.Complaint) bool {
	if filter == nil {
		return true
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if c.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.ComplainantID != nil && c.ComplainantID != *filter.ComplainantID {
		return false
	}
	if filter.OfficerID != nil {
		if c.AssignedOfficerID == nil || *c.AssignedOfficerID != *filter.OfficerID {
			return false
		}
	}
	return true
}

func (s *MemoryStore) Append(ctx context.Context, params AppendParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	complaint, ok := s.complaints[params.ComplaintID]
	if !ok {
		return ErrNotFound
	}
	if complaint.HeadHash != params.ExpectedHeadHash {
		return ErrHeadConflict
	}

	complaint.Status = params.NewStatus
	complaint.HeadHash = params.Entry.EntryHash
	complaint.UpdatedAt = params.Entry.RecordedAt
	if params.AssignOfficerID != nil {
		officerID := *params.AssignOfficerID
		complaint.AssignedOfficerID = &officerID
	}
	s.complaints[params.ComplaintID] = complaint
	s.lanes[params.ComplaintID] = append(s.lanes[params.ComplaintID], *params.Entry)

	if params.Evidence != nil {
		s.evidence[params.ComplaintID] = append(s.evidence[params.ComplaintID], *params.Evidence)
	}
	return nil
}

func (s *MemoryStore) Lane(ctx context.Context, complaintID uuid.UUID) ([]models.ChainEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	lane := s.lanes[complaintID]
	out := make([]models.ChainEntry, len(lane))
	copy(out, lane)
	return out, nil
}

func (s *MemoryStore) Tip(ctx context.Context, complaintID uuid.UUID) (*models.ChainEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	lane := s.lanes[complaintID]
	if len(lane) == 0 {
		return nil, nil
	}
	tip := lane[len(lane)-1]
	return &tip, nil
}

func (s *MemoryStore) ListEvidence(ctx context.Context, complaintID uuid.UUID) ([]models.EvidenceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.evidence[complaintID]
	out := make([]models.EvidenceItem, len(items))
	copy(out, items)
	return out, nil
}

func (s *MemoryStore) CountEvidence(ctx context.Context, complaintID uuid.UUID, kind models.EvidenceKind) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, item := range s.evidence[complaintID] {
		if item.Kind == kind {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) FindEvidenceByContentHash(ctx context.Context, contentHash string) (*models.EvidenceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.EvidenceItem
	for _, items := range s.evidence {
		for i := range items {
			if items[i].ContentHash != contentHash {
				continue
			}
			if best == nil || items[i].UploadedAt.Before(best.UploadedAt) {
				item := items[i]
				best = &item
			}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// TamperEntry overwrites the payload of one stored entry without rehashing.
// Test hook for exercising corruption detection; never used by the service.
func (s *MemoryStore) TamperEntry(complaintID uuid.UUID, sequence int64, payload models.ChainPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane := s.lanes[complaintID]
	for i := range lane {
		if lane[i].Sequence == sequence {
			lane[i].Payload = payload
			return
		}
	}
}
