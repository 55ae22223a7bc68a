package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/qayeq/transferd/internal/storage"
)

type JournalRepository struct {
	db *sql.DB
}

func NewJournalRepository(dbConn *sql.DB) *JournalRepository {
	return &JournalRepository{db: dbConn}
}

// RecordTransfer upserts a record keyed by (session_id, transfer_id), so
// re-recording the same transfer after a status change is harmless.
func (r *JournalRepository) RecordTransfer(ctx context.Context, rec storage.TransferRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfer_history (
			id, session_id, transfer_id, source_url, filename, destination,
			total_bytes, received_bytes, status, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, transfer_id) DO UPDATE SET
			total_bytes = excluded.total_bytes,
			received_bytes = excluded.received_bytes,
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at
	`,
		rec.ID, rec.SessionID, rec.TransferID, rec.SourceURL, rec.Filename, rec.Destination,
		rec.TotalBytes, rec.ReceivedBytes, rec.Status, rec.Error,
		rec.StartedAt.Format(time.RFC3339), rec.FinishedAt.Format(time.RFC3339),
	)

	return err
}

func (r *JournalRepository) GetHistory(ctx context.Context, limit int) ([]storage.TransferRecord, error) {
	query := `
		SELECT id, session_id, transfer_id, source_url, filename, destination,
			total_bytes, received_bytes, status, error, started_at, finished_at
		FROM transfer_history
		ORDER BY finished_at DESC`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT ?", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.TransferRecord

	for rows.Next() {
		var (
			rec                  storage.TransferRecord
			errMsg               sql.NullString
			startedAt, finished  string
		)

		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.TransferID, &rec.SourceURL, &rec.Filename, &rec.Destination,
			&rec.TotalBytes, &rec.ReceivedBytes, &rec.Status, &errMsg, &startedAt, &finished,
		); err != nil {
			return nil, err
		}

		if errMsg.Valid {
			rec.Error = errMsg.String
		}

		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finished)

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *JournalRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM transfer_history WHERE finished_at < ?`,
		cutoff.Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Ensure JournalRepository implements the journal contract.
var _ storage.TransferJournal = (*JournalRepository)(nil)
