// Package registry is the single source of truth for all transfers known
// to the coordinator. It owns the transfer table, the per-transfer
// cancel/resume action tables and the observer fan-out.
//
// Registry operations never fail: unknown ids are benign no-ops, because
// backend events are expected to race with user dismissal. All mutation is
// serialized by one mutex; actions and observers are always invoked
// outside the lock so that backends may call back into the registry.
package registry

import (
	"log/slog"
	"sync"
	"time"
)

type Registry struct {
	mu sync.Mutex

	transfers []*Transfer
	nextID    uint64

	cancellers map[uint64]Canceller
	resumers   map[uint64]Resumer

	observers  map[int]func()
	nextSubID  int
	pendingSas map[string]struct{}
	lastSaveTo string

	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		nextID:     1,
		cancellers: make(map[uint64]Canceller),
		resumers:   make(map[uint64]Resumer),
		observers:  make(map[int]func()),
		pendingSas: make(map[string]struct{}),
		logger:     logger,
	}
}

// Add creates a transfer in InProgress and returns its id. Ids are
// strictly increasing and never reused within the process.
func (r *Registry) Add(sourceURL, filename, destination string) uint64 {
	r.mu.Lock()
	id := r.nextID
	r.nextID++

	r.transfers = append(r.transfers, &Transfer{
		ID:          id,
		SourceURL:   sourceURL,
		Filename:    filename,
		Destination: destination,
		Status:      StatusInProgress,
		StartedAt:   time.Now(),
	})
	r.mu.Unlock()

	r.logger.Info("transfer added", "transfer_id", id, "filename", filename, "destination", destination)
	r.notify()

	return id
}

// UpdateProgress overwrites the byte counters. Unknown ids are ignored.
func (r *Registry) UpdateProgress(id uint64, received, total int64) {
	r.mu.Lock()
	if t := r.find(id); t != nil && !t.Status.Terminal() {
		t.ReceivedBytes = received
		t.TotalBytes = total
	}
	r.mu.Unlock()

	r.notify()
}

// SetStatus overwrites the status field. Transfers already in a terminal
// status are left untouched, which is what lets an intentional
// cancel/pause suppress later backend failure or finish events.
func (r *Registry) SetStatus(id uint64, status Status) {
	r.setStatus(id, status, "")
}

// Fail marks the transfer failed with a reason.
func (r *Registry) Fail(id uint64, reason string) {
	r.setStatus(id, StatusFailed, reason)
}

func (r *Registry) setStatus(id uint64, status Status, reason string) {
	r.mu.Lock()
	if t := r.find(id); t != nil && !t.Status.Terminal() {
		t.Status = status
		t.Error = reason
		r.logger.Info("transfer status", "transfer_id", id, "status", status.String())
	}
	r.mu.Unlock()

	r.notify()
}

// SetSupportsResume records the one-shot range-support discovery flag.
func (r *Registry) SetSupportsResume(id uint64, supports bool) {
	r.mu.Lock()
	if t := r.find(id); t != nil {
		t.SupportsResume = supports
	}
	r.mu.Unlock()
}

// Cancel marks the transfer cancelled and then invokes its canceller. The
// status is written first so that backend failure/finish events fired as a
// side effect of the cancel can recognize it was intentional.
func (r *Registry) Cancel(id uint64) {
	r.SetStatus(id, StatusCancelled)

	if c := r.canceller(id); c != nil {
		c.CancelTransfer()
	}
}

// Pause marks the transfer paused and then invokes its canceller. Pausing
// reuses the cancel mechanism at the backend level; the backend tells the
// two apart by consulting the status the registry has already recorded.
func (r *Registry) Pause(id uint64) {
	r.SetStatus(id, StatusPaused)

	if c := r.canceller(id); c != nil {
		c.CancelTransfer()
	}
}

// Resume invokes the registered resumer. It does not flip the status; the
// resumer transitions the transfer back to InProgress once it actually
// starts transferring again.
func (r *Registry) Resume(id uint64) {
	r.mu.Lock()
	res := r.resumers[id]
	r.mu.Unlock()

	if res != nil {
		res.ResumeTransfer()
	}
}

// Remove deletes the transfer and its registered actions. Idempotent.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	for i, t := range r.transfers {
		if t.ID == id {
			r.transfers = append(r.transfers[:i], r.transfers[i+1:]...)

			break
		}
	}
	delete(r.cancellers, id)
	delete(r.resumers, id)
	r.mu.Unlock()

	r.notify()
}

// ClearCompleted drops every transfer that is no longer active or paused.
func (r *Registry) ClearCompleted() {
	r.mu.Lock()
	kept := r.transfers[:0]

	for _, t := range r.transfers {
		if t.IsActive() || t.IsPaused() {
			kept = append(kept, t)
		} else {
			delete(r.cancellers, t.ID)
			delete(r.resumers, t.ID)
		}
	}
	r.transfers = kept
	r.mu.Unlock()

	r.notify()
}

// Recent returns up to limit transfers, most recently created first.
// A limit <= 0 returns all of them.
func (r *Registry) Recent(limit int) []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.transfers) {
		limit = len(r.transfers)
	}

	out := make([]Transfer, 0, limit)
	for i := len(r.transfers) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *r.transfers[i])
	}

	return out
}

// Get returns a copy of the transfer.
func (r *Registry) Get(id uint64) (Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t := r.find(id); t != nil {
		return *t, true
	}

	return Transfer{}, false
}

// HasActive reports whether any transfer is still in progress.
func (r *Registry) HasActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.transfers {
		if t.IsActive() {
			return true
		}
	}

	return false
}

// HasAny reports whether the registry tracks any transfer at all.
func (r *Registry) HasAny() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.transfers) > 0
}

func (r *Registry) IsPaused(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.find(id)

	return t != nil && t.IsPaused()
}

func (r *Registry) IsActive(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.find(id)

	return t != nil && t.IsActive()
}

// ResumeInfo returns what a resumer needs to pick a paused transfer back
// up: source URL, destination path and the byte offset already received.
// ok is false unless the transfer exists and is paused.
func (r *Registry) ResumeInfo(id uint64) (sourceURL, destination string, received int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.find(id)
	if t == nil || !t.IsPaused() {
		return "", "", 0, false
	}

	return t.SourceURL, t.Destination, t.ReceivedBytes, true
}

// RegisterCanceller installs the canceller for a transfer, replacing any
// previous one. At most one canceller lives per id at a time.
func (r *Registry) RegisterCanceller(id uint64, c Canceller) {
	r.mu.Lock()
	r.cancellers[id] = c
	r.mu.Unlock()
}

func (r *Registry) RemoveCanceller(id uint64) {
	r.mu.Lock()
	delete(r.cancellers, id)
	r.mu.Unlock()
}

// RegisterResumer installs the resumer for a transfer, replacing any
// previous one.
func (r *Registry) RegisterResumer(id uint64, res Resumer) {
	r.mu.Lock()
	r.resumers[id] = res
	r.mu.Unlock()
}

func (r *Registry) RemoveResumer(id uint64) {
	r.mu.Lock()
	delete(r.resumers, id)
	r.mu.Unlock()
}

// MarkSaveAs flags a source URL so that the next engine download for it
// goes through the destination-choice dialog.
func (r *Registry) MarkSaveAs(sourceURL string) {
	r.mu.Lock()
	r.pendingSas[sourceURL] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("marked for save-as", "url", sourceURL)
}

// TakeSaveAs consumes a pending save-as intent for the URL, reporting
// whether one was set.
func (r *Registry) TakeSaveAs(sourceURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.pendingSas[sourceURL]
	delete(r.pendingSas, sourceURL)

	return ok
}

// LastSaveDir returns the directory last confirmed in a save-as dialog.
func (r *Registry) LastSaveDir() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastSaveTo, r.lastSaveTo != ""
}

func (r *Registry) SetLastSaveDir(dir string) {
	r.mu.Lock()
	r.lastSaveTo = dir
	r.mu.Unlock()
}

// Subscribe registers an observer called after every registry mutation.
// It returns a subscription id for Unsubscribe.
func (r *Registry) Subscribe(onChange func()) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSubID
	r.nextSubID++
	r.observers[id] = onChange

	return id
}

func (r *Registry) Unsubscribe(subID int) {
	r.mu.Lock()
	delete(r.observers, subID)
	r.mu.Unlock()
}

func (r *Registry) canceller(id uint64) Canceller {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancellers[id]
}

// find must be called with the lock held.
func (r *Registry) find(id uint64) *Transfer {
	for _, t := range r.transfers {
		if t.ID == id {
			return t
		}
	}

	return nil
}

// notify snapshots the observer set under the lock and invokes it after
// release, so observers can read the registry without deadlocking.
func (r *Registry) notify() {
	r.mu.Lock()
	callbacks := make([]func(), 0, len(r.observers))

	for _, cb := range r.observers {
		callbacks = append(callbacks, cb)
	}
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
