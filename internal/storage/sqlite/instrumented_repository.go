package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/qayeq/transferd/internal/storage"
	"github.com/qayeq/transferd/internal/telemetry"
)

// InstrumentedJournalRepository wraps JournalRepository with telemetry.
type InstrumentedJournalRepository struct {
	repo      *JournalRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedJournalRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedJournalRepository {
	return &InstrumentedJournalRepository{
		repo:      NewJournalRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedJournalRepository) RecordTransfer(ctx context.Context, rec storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_transfer", func(ctx context.Context) error {
		return r.repo.RecordTransfer(ctx, rec)
	})
}

func (r *InstrumentedJournalRepository) GetHistory(ctx context.Context, limit int) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_history", func(ctx context.Context) error {
		var opErr error
		result, opErr = r.repo.GetHistory(ctx, limit)

		return opErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedJournalRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64

	err := r.telemetry.InstrumentDBOperation(ctx, "prune_history", func(ctx context.Context) error {
		var opErr error
		count, opErr = r.repo.PruneOlderThan(ctx, cutoff)

		return opErr
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

var _ storage.TransferJournal = (*InstrumentedJournalRepository)(nil)
