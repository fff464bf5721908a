package verify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blocksentinel/internal/config"
	"blocksentinel/internal/contentstore"
	"blocksentinel/internal/ledger"
	"blocksentinel/internal/models"
	"blocksentinel/internal/repository"
)

type fixture struct {
	verifier *Service
	ledger   *ledger.Service
	store    *repository.MemoryStore
	content  *contentstore.MemoryStore

	admin   models.Actor
	officer models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		ContentStore: config.ContentStoreConfig{
			RequestTimeout: 5 * time.Second,
			MaxBlobSize:    1 << 20,
		},
		Ledger: config.LedgerConfig{
			RequiredEvidence: 1,
			AppendRetryLimit: 3,
		},
	}

	store := repository.NewMemoryStore()
	content := contentstore.NewMemoryStore()
	logger := zap.NewNop()
	return &fixture{
		verifier: New(store, content, nil, nil, logger),
		ledger:   ledger.New(store, content, nil, nil, cfg, logger),
		store:    store,
		content:  content,
		admin:    models.Actor{ID: uuid.New(), Role: models.RoleAdmin},
		officer:  models.Actor{ID: uuid.New(), Role: models.RoleOfficer},
	}
}

// completedComplaint drives one complaint through its whole lifecycle and
// returns it with the evidence hash that was attached.
func (f *fixture) completedComplaint(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	ctx := context.Background()
	citizen := models.Actor{ID: uuid.New(), Role: models.RoleCitizen}

	complaint, err := f.ledger.Register(ctx, &models.RegisterComplaintRequest{
		Title:       "Ransomware demand",
		Description: "Workstation encrypted overnight",
	}, citizen)
	require.NoError(t, err)

	_, err = f.ledger.AssignOfficer(ctx, complaint.ID, f.officer.ID, f.admin)
	require.NoError(t, err)

	evidenceHash := contentstore.HashBytes([]byte("ransom note"))
	_, err = f.ledger.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
		Content: []byte("ransom note"),
	}, f.officer)
	require.NoError(t, err)

	_, err = f.ledger.AttachFIR(ctx, complaint.ID, &models.AttachFIRRequest{
		FIRNumber: "FIR-2026-1100",
		Content:   []byte("filed fir"),
	}, f.officer)
	require.NoError(t, err)

	_, err = f.ledger.MarkCompleted(ctx, complaint.ID, f.admin)
	require.NoError(t, err)

	return complaint.ID, evidenceHash
}

func TestVerifyComplaint_CleanLane(t *testing.T) {
	f := newFixture(t)
	id, _ := f.completedComplaint(t)

	report, err := f.verifier.VerifyComplaint(context.Background(), id)
	require.NoError(t, err)

	assert.True(t, report.ChainValid)
	assert.Nil(t, report.BrokenAtSequence)
	assert.True(t, report.StatusConsistentWithChain)
	assert.True(t, report.HeadHashConsistent)
	require.Len(t, report.EvidenceHashesValid, 2)
	for _, check := range report.EvidenceHashesValid {
		assert.True(t, check.Valid, "evidence %s should round-trip", check.ContentHash)
	}
}

func TestVerifyComplaint_Idempotent(t *testing.T) {
	f := newFixture(t)
	id, _ := f.completedComplaint(t)
	ctx := context.Background()

	first, err := f.verifier.VerifyComplaint(ctx, id)
	require.NoError(t, err)
	second, err := f.verifier.VerifyComplaint(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first.ChainValid, second.ChainValid)
	assert.Equal(t, first.StatusConsistentWithChain, second.StatusConsistentWithChain)
	assert.Equal(t, first.HeadHashConsistent, second.HeadHashConsistent)
	assert.Equal(t, first.EvidenceHashesValid, second.EvidenceHashesValid)
}

func TestVerifyComplaint_DetectsTamperedEntry(t *testing.T) {
	f := newFixture(t)
	id, _ := f.completedComplaint(t)

	f.store.TamperEntry(id, 2, models.ChainPayload{
		Kind:      models.PayloadEvidenceAttached,
		ActorID:   uuid.New(),
		ActorRole: models.RoleOfficer,
		Note:      "payload rewritten after the fact",
		Timestamp: time.Now().UTC(),
	})

	report, err := f.verifier.VerifyComplaint(context.Background(), id)
	require.NoError(t, err)

	assert.False(t, report.ChainValid)
	require.NotNil(t, report.BrokenAtSequence)
	assert.Equal(t, int64(2), *report.BrokenAtSequence)
}

func TestVerifyComplaint_DetectsCorruptedEvidence(t *testing.T) {
	f := newFixture(t)
	id, evidenceHash := f.completedComplaint(t)

	f.content.Corrupt(evidenceHash, []byte("silently replaced"))

	report, err := f.verifier.VerifyComplaint(context.Background(), id)
	require.NoError(t, err)

	assert.True(t, report.ChainValid, "the chain itself is intact")
	invalid := 0
	for _, check := range report.EvidenceHashesValid {
		if !check.Valid {
			invalid++
			assert.Equal(t, evidenceHash, check.ContentHash)
			assert.NotEmpty(t, check.Error)
		}
	}
	assert.Equal(t, 1, invalid)
}

// mapCache is an in-process ReportCache that counts hits.
type mapCache struct {
	entries map[string]*models.VerificationReport
	hits    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]*models.VerificationReport)}
}

func (c *mapCache) Get(ctx context.Context, key string) (*models.VerificationReport, bool) {
	report, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return report, ok
}

func (c *mapCache) Set(ctx context.Context, key string, report *models.VerificationReport) {
	c.entries[key] = report
}

func TestVerifyComplaint_CachedReportServedForIntactLane(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	verifier := New(f.store, f.content, cache, nil, zap.NewNop())
	id, _ := f.completedComplaint(t)
	ctx := context.Background()

	first, err := verifier.VerifyComplaint(ctx, id)
	require.NoError(t, err)
	second, err := verifier.VerifyComplaint(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first.CheckedAt, second.CheckedAt, "second run came from the cache")
}

func TestVerifyComplaint_CacheDoesNotMaskTampering(t *testing.T) {
	f := newFixture(t)
	verifier := New(f.store, f.content, newMapCache(), nil, zap.NewNop())
	id, _ := f.completedComplaint(t)
	ctx := context.Background()

	report, err := verifier.VerifyComplaint(ctx, id)
	require.NoError(t, err)
	require.True(t, report.ChainValid, "lane is clean before tampering")

	// Rewriting a payload in place leaves the stored head hash, and with it
	// the cache key, unchanged.
	f.store.TamperEntry(id, 4, models.ChainPayload{
		Kind:      models.PayloadCompleted,
		ActorID:   uuid.New(),
		ActorRole: models.RoleAdmin,
		Note:      "closed early",
		Timestamp: time.Now().UTC(),
	})

	report, err = verifier.VerifyComplaint(ctx, id)
	require.NoError(t, err)
	assert.False(t, report.ChainValid)
	require.NotNil(t, report.BrokenAtSequence)
	assert.Equal(t, int64(4), *report.BrokenAtSequence)
}

func TestVerifyComplaint_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.verifier.VerifyComplaint(context.Background(), uuid.New())
	assert.True(t, ledger.IsCode(err, ledger.CodeNotFound))
}

func TestVerifyEvidence(t *testing.T) {
	f := newFixture(t)
	complaintID, evidenceHash := f.completedComplaint(t)
	ctx := context.Background()

	t.Run("valid round trip", func(t *testing.T) {
		check, err := f.verifier.VerifyEvidence(ctx, evidenceHash)
		require.NoError(t, err)
		assert.True(t, check.Valid)
		assert.Equal(t, evidenceHash, check.ContentHash)
		assert.Equal(t, complaintID, check.ComplaintID, "a hash check names the complaint it belongs to")
	})

	t.Run("unknown hash", func(t *testing.T) {
		_, err := f.verifier.VerifyEvidence(ctx, contentstore.HashBytes([]byte("never recorded")))
		assert.True(t, ledger.IsCode(err, ledger.CodeNotFound))
	})

	t.Run("malformed hash", func(t *testing.T) {
		_, err := f.verifier.VerifyEvidence(ctx, "zzzz")
		assert.True(t, ledger.IsCode(err, ledger.CodeInvalidArgument))
	})

	t.Run("corrupted blob", func(t *testing.T) {
		f.content.Corrupt(evidenceHash, []byte("swapped"))
		check, err := f.verifier.VerifyEvidence(ctx, evidenceHash)
		require.NoError(t, err)
		assert.False(t, check.Valid)
	})
}
