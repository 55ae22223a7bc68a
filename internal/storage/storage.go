// Package storage defines the transfer-history journal contract. The
// live transfer table is in-memory only and does not survive a restart;
// the journal records transfers once they reach a terminal status so past
// downloads can still be listed later.
package storage

import (
	"context"
	"time"
)

// TransferRecord is one journaled transfer.
type TransferRecord struct {
	ID            string // journal row id
	SessionID     string // process run that produced the transfer
	TransferID    uint64 // registry id within that session
	SourceURL     string
	Filename      string
	Destination   string
	TotalBytes    int64
	ReceivedBytes int64
	Status        string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// TransferJournal persists terminal transfers.
type TransferJournal interface {
	// RecordTransfer upserts a record keyed by (session id, transfer id).
	RecordTransfer(ctx context.Context, rec TransferRecord) error
	// GetHistory returns up to limit records, most recently finished
	// first. limit <= 0 returns all of them.
	GetHistory(ctx context.Context, limit int) ([]TransferRecord, error)
	// PruneOlderThan deletes records finished before the cutoff and
	// returns how many were removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
