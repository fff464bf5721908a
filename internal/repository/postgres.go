package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"blocksentinel/internal/database"
	"blocksentinel/internal/models"
)

// PostgresStore implements Store on top of the shared database wrapper.
type PostgresStore struct {
	db     *database.Database
	logger *zap.Logger
}

// NewPostgresStore creates the Postgres-backed store.
func NewPostgresStore(db *database.Database, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.Named("repository"),
	}
}

const complaintColumns = `id, title, description, complainant_id, status, assigned_officer_id,
	   required_evidence, head_hash, created_at, updated_at`

const entryColumns = `id, complaint_id, sequence, prev_hash, entry_hash, payload, recorded_at`

const evidenceColumns = `id, complaint_id, kind, content_hash, description, fir_number,
	   uploaded_by, uploaded_at, chain_sequence`

func (s *PostgresStore) CreateComplaint(ctx context.Context, complaint *models.Complaint, genesis *models.ChainEntry) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO complaints (id, title, description, complainant_id, status,
				required_evidence, head_hash, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			complaint.ID, complaint.Title, complaint.Description, complaint.ComplainantID,
			complaint.Status, complaint.RequiredEvidence, complaint.HeadHash,
			complaint.CreatedAt, complaint.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, "failed to insert complaint")
		}

		return insertEntry(ctx, tx, genesis)
	})
}

func (s *PostgresStore) GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	var complaint models.Complaint
	query := fmt.Sprintf(`SELECT %s FROM complaints WHERE id = $1`, complaintColumns)

	err := s.db.GetContext(ctx, &complaint, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get complaint")
	}
	return &complaint, nil
}

func (s *PostgresStore) ListComplaints(ctx context.Context, filter *models.ComplaintFilter, paginate *database.Paginate) (*database.PaginatedResult, error) {
	whereConditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 0

	if filter != nil {
		if len(filter.Statuses) > 0 {
			statuses := make([]string, len(filter.Statuses))
			for i, st := range filter.Statuses {
				statuses[i] = string(st)
			}
			argIndex++
			whereConditions = append(whereConditions, fmt.Sprintf("status = ANY($%d)", argIndex))
			args = append(args, pq.StringArray(statuses))
		}
		if filter.ComplainantID != nil {
			argIndex++
			whereConditions = append(whereConditions, fmt.Sprintf("complainant_id = $%d", argIndex))
			args = append(args, *filter.ComplainantID)
		}
		if filter.OfficerID != nil {
			argIndex++
			whereConditions = append(whereConditions, fmt.Sprintf("assigned_officer_id = $%d", argIndex))
			args = append(args, *filter.OfficerID)
		}
	}

	whereClause := strings.Join(whereConditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM complaints WHERE %s", whereClause)
	var total int64
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, errors.Wrap(err, "failed to count complaints")
	}

	dataQuery := fmt.Sprintf(`
		SELECT %s FROM complaints
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		complaintColumns, whereClause, argIndex+1, argIndex+2)
	args = append(args, paginate.Limit, paginate.Offset)

	var complaints []models.Complaint
	if err := s.db.SelectContext(ctx, &complaints, dataQuery, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list complaints")
	}

	return database.NewPaginatedResult(complaints, total, paginate), nil
}

func (s *PostgresStore) Append(ctx context.Context, params AppendParams) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		// The conditional head-hash update is the single-writer gate: a
		// concurrent append to the same lane moved the tip, so zero rows
		// means the caller must re-read and retry.
		var result sql.Result
		var err error
		if params.AssignOfficerID != nil {
			result, err = tx.ExecContext(ctx, `
				UPDATE complaints
				SET status = $1, head_hash = $2, assigned_officer_id = $3, updated_at = NOW()
				WHERE id = $4 AND head_hash = $5`,
				params.NewStatus, params.Entry.EntryHash, *params.AssignOfficerID,
				params.ComplaintID, params.ExpectedHeadHash)
		} else {
			result, err = tx.ExecContext(ctx, `
				UPDATE complaints
				SET status = $1, head_hash = $2, updated_at = NOW()
				WHERE id = $3 AND head_hash = $4`,
				params.NewStatus, params.Entry.EntryHash,
				params.ComplaintID, params.ExpectedHeadHash)
		}
		if err != nil {
			return errors.Wrap(err, "failed to advance complaint head")
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to read rows affected")
		}
		if rows == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists,
				"SELECT EXISTS(SELECT 1 FROM complaints WHERE id = $1)", params.ComplaintID); err != nil {
				return errors.Wrap(err, "failed to check complaint existence")
			}
			if !exists {
				return ErrNotFound
			}
			return ErrHeadConflict
		}

		if err := insertEntry(ctx, tx, params.Entry); err != nil {
			return err
		}

		if params.Evidence != nil {
			ev := params.Evidence
			_, err := tx.ExecContext(ctx, `
				INSERT INTO evidence_items (id, complaint_id, kind, content_hash, description,
					fir_number, uploaded_by, uploaded_at, chain_sequence)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				ev.ID, ev.ComplaintID, ev.Kind, ev.ContentHash, ev.Description,
				ev.FIRNumber, ev.UploadedBy, ev.UploadedAt, ev.ChainSequence)
			if err != nil {
				return errors.Wrap(err, "failed to insert evidence item")
			}
		}

		return nil
	})
}

func insertEntry(ctx context.Context, tx *sqlx.Tx, entry *models.ChainEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chain_entries (id, complaint_id, sequence, prev_hash, entry_hash, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.ComplaintID, entry.Sequence, entry.PrevHash,
		entry.EntryHash, entry.Payload, entry.RecordedAt)
	if err != nil {
		// The (complaint_id, sequence) unique index is the backstop behind
		// the head-hash gate.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrHeadConflict
		}
		return errors.Wrap(err, "failed to insert chain entry")
	}
	return nil
}

func (s *PostgresStore) Lane(ctx context.Context, complaintID uuid.UUID) ([]models.ChainEntry, error) {
	var entries []models.ChainEntry
	query := fmt.Sprintf(`
		SELECT %s FROM chain_entries
		WHERE complaint_id = $1
		ORDER BY sequence ASC`, entryColumns)

	if err := s.db.SelectContext(ctx, &entries, query, complaintID); err != nil {
		return nil, errors.Wrap(err, "failed to load lane")
	}
	return entries, nil
}

func (s *PostgresStore) Tip(ctx context.Context, complaintID uuid.UUID) (*models.ChainEntry, error) {
	var entry models.ChainEntry
	query := fmt.Sprintf(`
		SELECT %s FROM chain_entries
		WHERE complaint_id = $1
		ORDER BY sequence DESC
		LIMIT 1`, entryColumns)

	err := s.db.GetContext(ctx, &entry, query, complaintID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load lane tip")
	}
	return &entry, nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context, complaintID uuid.UUID) ([]models.EvidenceItem, error) {
	var items []models.EvidenceItem
	query := fmt.Sprintf(`
		SELECT %s FROM evidence_items
		WHERE complaint_id = $1
		ORDER BY chain_sequence ASC`, evidenceColumns)

	if err := s.db.SelectContext(ctx, &items, query, complaintID); err != nil {
		return nil, errors.Wrap(err, "failed to list evidence")
	}
	return items, nil
}

func (s *PostgresStore) CountEvidence(ctx context.Context, complaintID uuid.UUID, kind models.EvidenceKind) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM evidence_items WHERE complaint_id = $1 AND kind = $2",
		complaintID, kind)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count evidence")
	}
	return count, nil
}

func (s *PostgresStore) FindEvidenceByContentHash(ctx context.Context, contentHash string) (*models.EvidenceItem, error) {
	var item models.EvidenceItem
	query := fmt.Sprintf(`
		SELECT %s FROM evidence_items
		WHERE content_hash = $1
		ORDER BY uploaded_at ASC
		LIMIT 1`, evidenceColumns)

	err := s.db.GetContext(ctx, &item, query, contentHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find evidence by content hash")
	}
	return &item, nil
}
