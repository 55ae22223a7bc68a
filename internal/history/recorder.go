// Package history watches the registry and journals every transfer that
// reaches a terminal status, then fans the event out to notification
// consumers. It is the only bridge between the in-memory transfer table
// and the on-disk journal.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/qayeq/transferd/internal/logctx"
	"github.com/qayeq/transferd/internal/registry"
	"github.com/qayeq/transferd/internal/storage"
	"github.com/qayeq/transferd/internal/telemetry"
)

type Recorder struct {
	reg       *registry.Registry
	journal   storage.TransferJournal
	telemetry *telemetry.Telemetry
	sessionID string

	OnCompleted chan registry.Transfer
	OnFailed    chan registry.Transfer

	notifyCh   chan struct{}
	recorded   map[uint64]struct{}
	activeSeen int
}

func NewRecorder(reg *registry.Registry, journal storage.TransferJournal, tel *telemetry.Telemetry) *Recorder {
	return &Recorder{
		reg:       reg,
		journal:   journal,
		telemetry: tel,
		sessionID: uuid.New().String(),

		OnCompleted: make(chan registry.Transfer),
		OnFailed:    make(chan registry.Transfer),

		notifyCh: make(chan struct{}, 1),
		recorded: make(map[uint64]struct{}),
	}
}

// SessionID identifies this process run in the journal.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

func (r *Recorder) Close() {
	close(r.OnCompleted)
	close(r.OnFailed)
}

// Watch subscribes to the registry and processes change notifications
// until the context is cancelled. The registry observer only pokes a
// buffered channel; the actual work happens on the recorder's own
// goroutine, keeping registry mutation paths fast.
func (r *Recorder) Watch(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	subID := r.reg.Subscribe(func() {
		select {
		case r.notifyCh <- struct{}{}:
		default:
		}
	})

	logger.Info("history recorder watching", "session_id", r.sessionID)

	go func() {
		defer r.reg.Unsubscribe(subID)

		for {
			select {
			case <-ctx.Done():
				logger.Info("history recorder shutting down")

				return
			case <-r.notifyCh:
				r.sync(ctx)
			}
		}
	}()
}

func (r *Recorder) sync(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	transfers := r.reg.Recent(0)

	active := 0

	for i := range transfers {
		if transfers[i].IsActive() {
			active++
		}
	}

	for d := active - r.activeSeen; d > 0; d-- {
		r.telemetry.IncrementActiveTransfers()
	}

	for d := r.activeSeen - active; d > 0; d-- {
		r.telemetry.DecrementActiveTransfers()
	}

	r.activeSeen = active

	for _, t := range transfers {
		if !t.Status.Terminal() {
			continue
		}

		if _, done := r.recorded[t.ID]; done {
			continue
		}

		r.recorded[t.ID] = struct{}{}

		if err := r.journal.RecordTransfer(ctx, storage.TransferRecord{
			SessionID:     r.sessionID,
			TransferID:    t.ID,
			SourceURL:     t.SourceURL,
			Filename:      t.Filename,
			Destination:   t.Destination,
			TotalBytes:    t.TotalBytes,
			ReceivedBytes: t.ReceivedBytes,
			Status:        t.Status.String(),
			Error:         t.Error,
			StartedAt:     t.StartedAt,
			FinishedAt:    time.Now(),
		}); err != nil {
			logger.Error("failed to journal transfer", "transfer_id", t.ID, "err", err)
		}

		r.telemetry.RecordTransfer(t.Status.String(), time.Since(t.StartedAt))
		r.telemetry.AddBytesReceived(t.ReceivedBytes)

		switch t.Status {
		case registry.StatusCompleted:
			select {
			case r.OnCompleted <- t:
			case <-ctx.Done():
			}
		case registry.StatusFailed:
			select {
			case r.OnFailed <- t:
			case <-ctx.Done():
			}
		}
	}
}
