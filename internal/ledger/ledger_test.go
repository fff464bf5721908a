package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blocksentinel/internal/config"
	"blocksentinel/internal/contentstore"
	"blocksentinel/internal/models"
	"blocksentinel/internal/repository"
)

type fixture struct {
	svc     *Service
	store   *repository.MemoryStore
	content *contentstore.MemoryStore

	admin   models.Actor
	officer models.Actor
	citizen models.Actor
}

func newFixture(t *testing.T, opts ...func(*config.Config)) *fixture {
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
	for _, opt := range opts {
		opt(cfg)
	}

	store := repository.NewMemoryStore()
	content := contentstore.NewMemoryStore()
	return &fixture{
		svc:     New(store, content, nil, nil, cfg, zap.NewNop()),
		store:   store,
		content: content,
		admin:   models.Actor{ID: uuid.New(), Role: models.RoleAdmin},
		officer: models.Actor{ID: uuid.New(), Role: models.RoleOfficer},
		citizen: models.Actor{ID: uuid.New(), Role: models.RoleCitizen},
	}
}

func (f *fixture) register(t *testing.T) *models.Complaint {
	t.Helper()

	complaint, err := f.svc.Register(context.Background(), &models.RegisterComplaintRequest{
		Title:       "Phishing site impersonating a bank",
		Description: "Received a link harvesting credentials",
	}, f.citizen)
	require.NoError(t, err)
	return complaint
}

func (f *fixture) registerAssigned(t *testing.T) *models.Complaint {
	t.Helper()

	complaint := f.register(t)
	_, err := f.svc.AssignOfficer(context.Background(), complaint.ID, f.officer.ID, f.admin)
	require.NoError(t, err)
	return complaint
}

func (f *fixture) laneLen(t *testing.T, id uuid.UUID) int {
	t.Helper()

	lane, err := f.store.Lane(context.Background(), id)
	require.NoError(t, err)
	return len(lane)
}

func TestLedger_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	complaint := f.register(t)
	assert.Equal(t, models.StatusPending, complaint.Status)
	assert.Equal(t, 1, f.laneLen(t, complaint.ID))

	result, err := f.svc.AssignOfficer(ctx, complaint.ID, f.officer.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingEvidence, result.Status)
	assert.Equal(t, int64(1), result.Sequence)
	assert.Equal(t, 2, f.laneLen(t, complaint.ID))

	result, err = f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
		Content: []byte("screenshot of the phishing page"),
	}, f.officer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEvidenceUploaded, result.Status)
	assert.Equal(t, int64(2), result.Sequence)
	assert.Equal(t, 3, f.laneLen(t, complaint.ID))

	result, err = f.svc.AttachFIR(ctx, complaint.ID, &models.AttachFIRRequest{
		FIRNumber: "FIR-2026-0042",
		Content:   []byte("scanned FIR document"),
	}, f.officer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFIRFiled, result.Status)
	assert.Equal(t, 4, f.laneLen(t, complaint.ID))

	result, err = f.svc.MarkCompleted(ctx, complaint.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, int64(4), result.Sequence)
	assert.Equal(t, 5, f.laneLen(t, complaint.ID))

	// The stored head always mirrors the tip of the lane.
	stored, err := f.store.GetComplaint(ctx, complaint.ID)
	require.NoError(t, err)
	assert.Equal(t, result.HeadHash, stored.HeadHash)

	evidence, err := f.store.ListEvidence(ctx, complaint.ID)
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	assert.Equal(t, models.EvidenceKindEvidence, evidence[0].Kind)
	assert.Equal(t, models.EvidenceKindFIR, evidence[1].Kind)
	assert.Equal(t, int64(2), evidence[0].ChainSequence)
	require.NotNil(t, evidence[1].FIRNumber)
	assert.Equal(t, "FIR-2026-0042", *evidence[1].FIRNumber)
}

func TestLedger_AdvanceToFIRPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	complaint := f.registerAssigned(t)
	_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
		Content: []byte("exhibit A"),
	}, f.officer)
	require.NoError(t, err)

	result, err := f.svc.AdvanceToFIRPending(ctx, complaint.ID, f.officer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingFIR, result.Status)

	// AttachFIR is still legal after the explicit advance.
	result, err = f.svc.AttachFIR(ctx, complaint.ID, &models.AttachFIRRequest{
		FIRNumber: "FIR-2026-0007",
		Content:   []byte("fir"),
	}, f.officer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFIRFiled, result.Status)
}

func TestLedger_RequiredEvidenceGatesUpload(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Ledger.RequiredEvidence = 2
	})
	ctx := context.Background()
	complaint := f.registerAssigned(t)

	result, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
		Content: []byte("first exhibit"),
	}, f.officer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingEvidence, result.Status, "one of two attachments keeps the complaint collecting")

	result, err = f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
		Content: []byte("second exhibit"),
	}, f.officer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEvidenceUploaded, result.Status)
}

func TestLedger_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("only admin assigns", func(t *testing.T) {
		complaint := f.register(t)
		_, err := f.svc.AssignOfficer(ctx, complaint.ID, f.officer.ID, f.officer)
		assert.True(t, IsCode(err, CodeUnauthorized))
	})

	t.Run("only the assigned officer attaches evidence", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		stranger := models.Actor{ID: uuid.New(), Role: models.RoleOfficer}
		_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
			Content: []byte("exhibit"),
		}, stranger)
		assert.True(t, IsCode(err, CodeUnauthorized))
		assert.Equal(t, 2, f.laneLen(t, complaint.ID), "rejected transition appends nothing")
	})

	t.Run("citizens cannot attach evidence", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
			Content: []byte("exhibit"),
		}, f.citizen)
		assert.True(t, IsCode(err, CodeUnauthorized))
	})

	t.Run("only admin completes", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.MarkCompleted(ctx, complaint.ID, f.officer)
		assert.True(t, IsCode(err, CodeUnauthorized))
	})
}

func TestLedger_InvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("assign twice", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.AssignOfficer(ctx, complaint.ID, uuid.New(), f.admin)
		assert.True(t, IsCode(err, CodeInvalidTransition))
	})

	t.Run("evidence before assignment", func(t *testing.T) {
		complaint := f.register(t)
		_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
			Content: []byte("exhibit"),
		}, f.officer)
		assert.True(t, IsCode(err, CodeUnauthorized), "no officer is assigned yet")
	})

	t.Run("fir before evidence", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.AttachFIR(ctx, complaint.ID, &models.AttachFIRRequest{
			FIRNumber: "FIR-1",
			Content:   []byte("fir"),
		}, f.officer)
		assert.True(t, IsCode(err, CodeInvalidTransition))
	})

	t.Run("complete before fir", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.MarkCompleted(ctx, complaint.ID, f.admin)
		assert.True(t, IsCode(err, CodeInvalidTransition))
	})

	t.Run("no transitions out of completed", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{Content: []byte("e")}, f.officer)
		require.NoError(t, err)
		_, err = f.svc.AttachFIR(ctx, complaint.ID, &models.AttachFIRRequest{FIRNumber: "FIR-9", Content: []byte("f")}, f.officer)
		require.NoError(t, err)
		_, err = f.svc.MarkCompleted(ctx, complaint.ID, f.admin)
		require.NoError(t, err)

		_, err = f.svc.MarkCompleted(ctx, complaint.ID, f.admin)
		assert.True(t, IsCode(err, CodeInvalidTransition))
	})
}

func TestLedger_ContentVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("claimed hash must match uploaded bytes", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
			Content:     []byte("exhibit"),
			ContentHash: contentstore.HashBytes([]byte("different bytes")),
		}, f.officer)
		assert.True(t, IsCode(err, CodeContentMismatch))
		assert.Equal(t, 2, f.laneLen(t, complaint.ID))
	})

	t.Run("hash-only attach requires stored content", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
			ContentHash: contentstore.HashBytes([]byte("never uploaded")),
		}, f.officer)
		assert.True(t, IsCode(err, CodeContentMismatch))
	})

	t.Run("hash-only attach re-verifies stored bytes", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		data := []byte("pre-staged exhibit")
		hash, err := f.content.Put(ctx, data)
		require.NoError(t, err)

		f.content.Corrupt(hash, []byte("swapped on disk"))

		_, err = f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
			ContentHash: hash,
		}, f.officer)
		assert.True(t, IsCode(err, CodeContentMismatch))
	})

	t.Run("empty request rejected", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{}, f.officer)
		assert.True(t, IsCode(err, CodeInvalidArgument))
	})

	t.Run("malformed hash rejected", func(t *testing.T) {
		complaint := f.registerAssigned(t)
		_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
			ContentHash: "not-a-hash",
		}, f.officer)
		assert.True(t, IsCode(err, CodeInvalidArgument))
	})

	t.Run("oversized content rejected", func(t *testing.T) {
		small := newFixture(t, func(cfg *config.Config) {
			cfg.ContentStore.MaxBlobSize = 8
		})
		complaint := small.registerAssigned(t)
		_, err := small.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{
			Content: []byte("this is longer than eight bytes"),
		}, small.officer)
		assert.True(t, IsCode(err, CodeInvalidArgument))
	})
}

func TestLedger_RecordCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	complaint := f.registerAssigned(t)

	result, err := f.svc.RecordCorrection(ctx, complaint.ID, &models.RecordCorrectionRequest{
		RefSequence: 1,
		Note:        "officer name was misspelled in the assignment note",
	}, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingEvidence, result.Status, "corrections never change status")
	assert.Equal(t, int64(2), result.Sequence)

	t.Run("must reference an existing sequence", func(t *testing.T) {
		_, err := f.svc.RecordCorrection(ctx, complaint.ID, &models.RecordCorrectionRequest{
			RefSequence: 99,
			Note:        "dangling",
		}, f.admin)
		assert.True(t, IsCode(err, CodeInvalidArgument))
	})

	t.Run("admin only", func(t *testing.T) {
		_, err := f.svc.RecordCorrection(ctx, complaint.ID, &models.RecordCorrectionRequest{
			RefSequence: 0,
			Note:        "nope",
		}, f.officer)
		assert.True(t, IsCode(err, CodeUnauthorized))
	})
}

func TestLedger_UnknownComplaint(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AssignOfficer(context.Background(), uuid.New(), f.officer.ID, f.admin)
	assert.True(t, IsCode(err, CodeNotFound))
}

func TestLedger_ConcurrentCompletionSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	complaint := f.registerAssigned(t)
	_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{Content: []byte("e")}, f.officer)
	require.NoError(t, err)
	_, err = f.svc.AttachFIR(ctx, complaint.ID, &models.AttachFIRRequest{FIRNumber: "FIR-77", Content: []byte("f")}, f.officer)
	require.NoError(t, err)

	const racers = 8
	results := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.MarkCompleted(ctx, complaint.ID, f.admin)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		code := CodeOf(err)
		assert.Contains(t, []Code{CodeInvalidTransition, CodeAppendConflict}, code)
	}
	assert.Equal(t, 1, wins, "exactly one completion may land")

	lane, err := f.store.Lane(ctx, complaint.ID)
	require.NoError(t, err)
	assert.Len(t, lane, 5)
}

// conflictStore forces every append to lose the head race, so the retry
// budget is observable.
type conflictStore struct {
	repository.Store
}

func (c *conflictStore) Append(ctx context.Context, params repository.AppendParams) error {
	return repository.ErrHeadConflict
}

func TestLedger_RetryBudgetExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	complaint := f.register(t)

	cfg := &config.Config{
		ContentStore: config.ContentStoreConfig{RequestTimeout: time.Second, MaxBlobSize: 1 << 20},
		Ledger:       config.LedgerConfig{RequiredEvidence: 1, AppendRetryLimit: 3},
	}
	svc := New(&conflictStore{Store: f.store}, f.content, nil, nil, cfg, zap.NewNop())

	_, err := svc.AssignOfficer(ctx, complaint.ID, f.officer.ID, f.admin)
	assert.True(t, IsCode(err, CodeAppendConflict))
}

// interleavedStore lands a competing write between the complaint read and
// the tip read of one transition, so the two reads disagree exactly once.
type interleavedStore struct {
	repository.Store

	once    sync.Once
	compete func()
}

func (s *interleavedStore) Tip(ctx context.Context, complaintID uuid.UUID) (*models.ChainEntry, error) {
	s.once.Do(s.compete)
	return s.Store.Tip(ctx, complaintID)
}

func TestLedger_InterleavedAppendRetriesToSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	complaint := f.registerAssigned(t)
	_, err := f.svc.AttachEvidence(ctx, complaint.ID, &models.AttachEvidenceRequest{Content: []byte("e")}, f.officer)
	require.NoError(t, err)
	_, err = f.svc.AttachFIR(ctx, complaint.ID, &models.AttachFIRRequest{FIRNumber: "FIR-12", Content: []byte("f")}, f.officer)
	require.NoError(t, err)

	wrapped := &interleavedStore{Store: f.store}
	wrapped.compete = func() {
		_, err := f.svc.RecordCorrection(ctx, complaint.ID, &models.RecordCorrectionRequest{
			RefSequence: 1,
			Note:        "assignment note referenced the wrong precinct",
		}, f.admin)
		require.NoError(t, err)
	}

	cfg := &config.Config{
		ContentStore: config.ContentStoreConfig{RequestTimeout: time.Second, MaxBlobSize: 1 << 20},
		Ledger:       config.LedgerConfig{RequiredEvidence: 1, AppendRetryLimit: 3},
	}
	svc := New(wrapped, f.content, nil, nil, cfg, zap.NewNop())

	result, err := svc.MarkCompleted(ctx, complaint.ID, f.admin)
	require.NoError(t, err, "a write landing between the two reads is a lost race, not corruption")
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, int64(5), result.Sequence)
	assert.Equal(t, 6, f.laneLen(t, complaint.ID))
}

// skewedTipStore answers every tip read with the same wrong hash, the
// signature of a head column that no longer mirrors its lane.
type skewedTipStore struct {
	repository.Store
}

func (s *skewedTipStore) Tip(ctx context.Context, complaintID uuid.UUID) (*models.ChainEntry, error) {
	tip, err := s.Store.Tip(ctx, complaintID)
	if err != nil || tip == nil {
		return tip, err
	}
	forged := *tip
	forged.EntryHash = "0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f"
	return &forged, nil
}

func TestLedger_PersistentHeadMismatchIsCorruption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	complaint := f.register(t)

	cfg := &config.Config{
		ContentStore: config.ContentStoreConfig{RequestTimeout: time.Second, MaxBlobSize: 1 << 20},
		Ledger:       config.LedgerConfig{RequiredEvidence: 1, AppendRetryLimit: 3},
	}
	svc := New(&skewedTipStore{Store: f.store}, f.content, nil, nil, cfg, zap.NewNop())

	_, err := svc.AssignOfficer(ctx, complaint.ID, f.officer.ID, f.admin)
	assert.True(t, IsCode(err, CodeChainCorruption), "the same mismatch on a re-read cannot be a race")
	assert.Equal(t, 1, f.laneLen(t, complaint.ID))
}
