// Package httprange is the transfer backend that speaks plain HTTP. It
// resumes paused transfers with byte-range requests, independent of the
// rendering engine's own download object, and also serves direct fetches
// started through the daemon API. The engine offers no resume primitive,
// so resume is reconstructed from HTTP semantics here; the adapter
// cooperates with the registry's state machine exactly like the native
// backend does.
package httprange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/qayeq/transferd/internal/fsutil"
	"github.com/qayeq/transferd/internal/logctx"
	"github.com/qayeq/transferd/internal/registry"
)

const (
	// chunkSize is how much is read from the response body between
	// cancellation checks.
	chunkSize = 64 * 1024

	requestAttempts = 3
)

type Fetcher struct {
	reg    *registry.Registry
	client *http.Client
}

// NewFetcher creates a range-capable fetcher bound to a registry. A nil
// client gets a default one without a global timeout, since transfers are
// long-lived streams.
func NewFetcher(reg *registry.Registry, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}

	return &Fetcher{reg: reg, client: client}
}

// Start creates a transfer and streams it from byte zero. The returned id
// is usable with the registry's pause/resume/cancel operations right away.
func (f *Fetcher) Start(ctx context.Context, sourceURL, filename, destination string) uint64 {
	id := f.reg.Add(sourceURL, filename, destination)

	f.reg.RegisterResumer(id, registry.ResumeFunc(func() {
		f.Resume(ctx, id)
	}))

	f.launch(ctx, id, sourceURL, destination, 0)

	return id
}

// Resume picks a paused transfer back up from its last received offset.
// Transfers that are not paused are left alone.
func (f *Fetcher) Resume(ctx context.Context, id uint64) {
	logger := logctx.LoggerFromContext(ctx)

	sourceURL, destination, received, ok := f.reg.ResumeInfo(id)
	if !ok {
		return
	}

	// The native backend deletes the partial file on cancel; the .part
	// backup taken at pause time brings it back.
	if err := fsutil.RestorePart(destination); err != nil {
		logger.Error("failed to restore partial file", "transfer_id", id, "err", err)
		f.reg.Fail(id, err.Error())

		return
	}

	// The file may hold a final chunk written after the last progress
	// update. The registry's counter is authoritative, so drop anything
	// past it before appending.
	if received > 0 {
		if err := os.Truncate(destination, received); err != nil {
			logger.Error("failed to trim partial file", "transfer_id", id, "err", err)
			f.reg.Fail(id, err.Error())

			return
		}
	}

	logger.Info("resuming transfer", "transfer_id", id, "offset", received)

	f.launch(ctx, id, sourceURL, destination, received)
}

// launch installs this backend's canceller, flips the transfer to
// InProgress and starts the streaming goroutine. Installing the canceller
// fully supersedes whichever backend held the transfer before, so no two
// backends ever write the same file concurrently.
func (f *Fetcher) launch(ctx context.Context, id uint64, sourceURL, destination string, offset int64) {
	runCtx, cancel := context.WithCancel(ctx)
	logger := logctx.LoggerFromContext(ctx)

	f.reg.RegisterCanceller(id, registry.CancelFunc(func() {
		cancel()

		// Pause keeps the bytes; a true cancel does not need them.
		if f.reg.IsPaused(id) {
			if err := fsutil.BackupPart(destination); err != nil {
				logger.Warn("failed to back up partial transfer", "transfer_id", id, "err", err)
			}
		}
	}))

	f.reg.SetStatus(id, registry.StatusInProgress)

	go f.run(runCtx, id, sourceURL, destination, offset)
}

func (f *Fetcher) run(ctx context.Context, id uint64, sourceURL, destination string, offset int64) {
	logger := logctx.LoggerFromContext(ctx).With("transfer_id", id)

	err := f.fetch(ctx, id, sourceURL, destination, offset)

	// Pause or cancel already recorded the authoritative status; the
	// interrupted stream must not overwrite it.
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		logger.Error("transfer failed", "err", err)

		if f.reg.IsActive(id) {
			f.reg.Fail(id, err.Error())
		}

		return
	}

	if f.reg.IsActive(id) {
		f.reg.SetStatus(id, registry.StatusCompleted)
		f.reg.RemoveCanceller(id)
		f.reg.RemoveResumer(id)

		if err := fsutil.RemovePart(destination); err != nil {
			logger.Warn("failed to remove leftover backup", "err", err)
		}

		logger.Info("transfer completed")
	}
}

func (f *Fetcher) fetch(ctx context.Context, id uint64, sourceURL, destination string, offset int64) error {
	resp, err := f.request(ctx, sourceURL, offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if ar := resp.Header.Get("Accept-Ranges"); ar != "" {
		f.reg.SetSupportsResume(id, !strings.EqualFold(ar, "none"))
	}

	var (
		file     *os.File
		total    int64
		received int64
	)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// The server honors the range: content length covers the
		// remainder only.
		f.reg.SetSupportsResume(id, true)

		if resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}

		received = offset

		file, err = os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open destination for append: %w", err)
		}

	case http.StatusOK:
		// The server ignored the range and is sending the whole entity;
		// rewrite from scratch.
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}

		received = 0
		f.reg.UpdateProgress(id, 0, total)

		file, err = os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open destination: %w", err)
		}

	default:
		return &UnexpectedStatusError{Operation: "fetch", StatusCode: resp.StatusCode}
	}

	defer file.Close()

	buf := make([]byte, chunkSize)

	for {
		// Cooperative cancellation point between chunks.
		if err := ctx.Err(); err != nil {
			return err
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write chunk: %w", werr)
			}

			received += int64(n)
			f.reg.UpdateProgress(id, received, total)
		}

		if rerr == io.EOF {
			return nil
		}

		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("failed to read chunk: %w", rerr)
		}
	}
}

// request issues the GET, retrying transient failures with exponential
// backoff. A nonzero offset carries the Range header.
func (f *Fetcher) request(ctx context.Context, sourceURL string, offset int64) (*http.Response, error) {
	op := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		return f.client.Do(req)
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(requestAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("request failed after retries: %w", err)
	}

	return resp, nil
}
