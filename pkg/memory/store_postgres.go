package memory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mnemora/mnemora-core/pkg/clients/postgres"
	merr "github.com/mnemora/mnemora-core/pkg/errors"
	"github.com/mnemora/mnemora-core/pkg/models"
)

// memoryColumns is the canonical column list for the memories table, in
// the order scanRecord expects.
const memoryColumns = `id, user_id, session_id, kind, status, text,
	importance, tags, metadata, indexed_at, expires_at, created_at, updated_at`

const (
	sqlInsertMemory = `INSERT INTO memories
		(id, user_id, session_id, kind, status, text, importance, tags,
		 metadata, content_hash, indexed_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	sqlGetMemory = `SELECT ` + memoryColumns + `
		FROM memories WHERE user_id = $1 AND id = $2`

	sqlGetMemoryBatch = `SELECT ` + memoryColumns + `
		FROM memories WHERE user_id = $1 AND id = ANY($2)`

	sqlFindDuplicate = `SELECT id FROM memories
		WHERE user_id = $1 AND content_hash = $2 AND status IN ('pending', 'indexed')
		LIMIT 1`

	sqlSetStatus = `UPDATE memories SET status = $2, indexed_at = $3, updated_at = $4
		WHERE id = $1`

	sqlDeleteMemory = `DELETE FROM memories WHERE user_id = $1 AND id = $2`

	sqlDeleteAllForUser = `DELETE FROM memories WHERE user_id = $1`
)

// PostgresStore implements [RecordStore] on the platform Postgres client.
// Ownership is enforced in SQL: every read and delete is scoped by user_id,
// so a caller can never reach another user's records by guessing IDs.
type PostgresStore struct {
	client *postgres.Client
}

// NewPostgresStore wraps an existing Postgres client. The client may be
// backed by a real pool or, in tests, by pgxmock via postgres.NewFromPool.
func NewPostgresStore(client *postgres.Client) *PostgresStore {
	return &PostgresStore{client: client}
}

// Insert persists a new memory record.
func (s *PostgresStore) Insert(ctx context.Context, rec *models.MemoryRecord) error {
	_, err := s.client.Exec(ctx, sqlInsertMemory,
		rec.ID,
		rec.UserID,
		nullable(rec.SessionID),
		string(rec.Kind),
		string(rec.Status),
		rec.Text,
		rec.Importance,
		rec.Tags,
		rec.Metadata,
		rec.Metadata["content_hash"],
		rec.IndexedAt,
		rec.ExpiresAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return merr.Wrapf(err, merr.CodeInternalDatabase, "memory: insert of %s failed", rec.ID)
	}
	return nil
}

// Get returns the user's record with the given ID.
func (s *PostgresStore) Get(ctx context.Context, userID, memoryID string) (*models.MemoryRecord, error) {
	row := s.client.QueryRow(ctx, sqlGetMemory, userID, memoryID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, merr.Newf(merr.CodeNotFoundResource, "memory: no memory %s for user %s", memoryID, userID)
	}
	if err != nil {
		return nil, merr.Wrapf(err, merr.CodeInternalDatabase, "memory: get of %s failed", memoryID)
	}
	return rec, nil
}

// GetBatch returns the user's records matching ids. Unknown IDs are
// omitted from the result.
func (s *PostgresStore) GetBatch(ctx context.Context, userID string, ids []string) ([]*models.MemoryRecord, error) {
	if len(ids) == 0 {
		return []*models.MemoryRecord{}, nil
	}
	rows, err := s.client.Query(ctx, sqlGetMemoryBatch, userID, ids)
	if err != nil {
		return nil, merr.Wrap(err, merr.CodeInternalDatabase, "memory: batch get failed")
	}
	defer rows.Close()

	records := make([]*models.MemoryRecord, 0, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, merr.Wrap(err, merr.CodeInternalDatabase, "memory: batch scan failed")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, merr.Wrap(err, merr.CodeInternalDatabase, "memory: batch get failed")
	}
	return records, nil
}

// FindDuplicate returns the ID of a live record with the same content
// hash, or "" when the content is new.
func (s *PostgresStore) FindDuplicate(ctx context.Context, userID, contentHash string) (string, error) {
	var id string
	err := s.client.QueryRow(ctx, sqlFindDuplicate, userID, contentHash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", merr.Wrap(err, merr.CodeInternalDatabase, "memory: duplicate lookup failed")
	}
	return id, nil
}

// SetStatus moves a record through its lifecycle. The indexed-at column is
// only populated when the record reaches StatusIndexed.
func (s *PostgresStore) SetStatus(ctx context.Context, memoryID string, status models.MemoryStatus, at time.Time) error {
	var indexedAt *time.Time
	if status == models.MemoryStatusIndexed {
		indexedAt = &at
	}
	tag, err := s.client.Exec(ctx, sqlSetStatus, memoryID, string(status), indexedAt, at)
	if err != nil {
		return merr.Wrapf(err, merr.CodeInternalDatabase, "memory: status update of %s failed", memoryID)
	}
	if tag.RowsAffected() == 0 {
		return merr.Newf(merr.CodeNotFoundResource, "memory: no memory %s", memoryID)
	}
	return nil
}

// Delete removes one record and reports whether it existed.
func (s *PostgresStore) Delete(ctx context.Context, userID, memoryID string) (bool, error) {
	tag, err := s.client.Exec(ctx, sqlDeleteMemory, userID, memoryID)
	if err != nil {
		return false, merr.Wrapf(err, merr.CodeInternalDatabase, "memory: delete of %s failed", memoryID)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAllForUser removes every record the user owns.
func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.client.Exec(ctx, sqlDeleteAllForUser, userID)
	if err != nil {
		return 0, merr.Wrap(err, merr.CodeInternalDatabase, "memory: delete for user failed")
	}
	return tag.RowsAffected(), nil
}

// scanRecord reads one row in memoryColumns order.
func scanRecord(row pgx.Row) (*models.MemoryRecord, error) {
	var (
		rec       models.MemoryRecord
		sessionID *string
		kind      string
		status    string
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&sessionID,
		&kind,
		&status,
		&rec.Text,
		&rec.Importance,
		&rec.Tags,
		&rec.Metadata,
		&rec.IndexedAt,
		&rec.ExpiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		rec.SessionID = *sessionID
	}
	rec.Kind = models.MemoryKind(kind)
	rec.Status = models.MemoryStatus(status)
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	return &rec, nil
}

// nullable maps an empty string to NULL so optional columns stay NULL
// instead of storing empty strings.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
