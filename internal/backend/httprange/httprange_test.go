package httprange_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/qayeq/transferd/internal/backend/httprange"
	"github.com/qayeq/transferd/internal/fsutil"
	"github.com/qayeq/transferd/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 5 * time.Second

func waitForStatus(t *testing.T, reg *registry.Registry, id uint64, want registry.Status) registry.Transfer {
	t.Helper()

	var tr registry.Transfer

	require.Eventually(t, func() bool {
		var ok bool
		tr, ok = reg.Get(id)

		return ok && tr.Status == want
	}, eventually, 10*time.Millisecond, "waiting for status %s", want)

	return tr
}

func TestStartDownloadsToCompletion(t *testing.T) {
	content := strings.Repeat("abcdefghij", 100)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		fmt.Fprint(w, content)
	}))
	defer srv.Close()

	reg := registry.New(nil)
	fetcher := httprange.NewFetcher(reg, nil)
	dest := filepath.Join(t.TempDir(), "file.bin")

	id := fetcher.Start(context.Background(), srv.URL, "file.bin", dest)

	tr := waitForStatus(t, reg, id, registry.StatusCompleted)
	assert.Equal(t, int64(len(content)), tr.ReceivedBytes)
	assert.Equal(t, int64(len(content)), tr.TotalBytes)
	assert.True(t, tr.SupportsResume)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestPauseThenResumeUsesRangeRequest(t *testing.T) {
	content := strings.Repeat("x", 50) + strings.Repeat("y", 50)

	var sawRange string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")

		if rng := r.Header.Get("Range"); rng != "" {
			sawRange = rng
			w.Header().Set("Content-Length", "50")
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, content[50:])

			return
		}

		// First request: stream half the body and then stall until the
		// client gives up, so the test can pause mid-transfer.
		w.Header().Set("Content-Length", "100")
		fmt.Fprint(w, content[:50])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	reg := registry.New(nil)
	fetcher := httprange.NewFetcher(reg, nil)
	dest := filepath.Join(t.TempDir(), "file.bin")

	id := fetcher.Start(context.Background(), srv.URL, "file.bin", dest)

	require.Eventually(t, func() bool {
		tr, ok := reg.Get(id)

		return ok && tr.ReceivedBytes == 50
	}, eventually, 10*time.Millisecond)

	reg.Pause(id)

	tr, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, registry.StatusPaused, tr.Status)

	reg.Resume(id)

	tr = waitForStatus(t, reg, id, registry.StatusCompleted)
	assert.Equal(t, "bytes=50-", sawRange)
	assert.Equal(t, int64(100), tr.ReceivedBytes)
	assert.Equal(t, int64(100), tr.TotalBytes)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	_, err = os.Stat(fsutil.PartPath(dest))
	assert.True(t, os.IsNotExist(err), "completion cleans up the pause backup")
}

func TestResumeRestartsWhenServerIgnoresRange(t *testing.T) {
	content := strings.Repeat("z", 200)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No 206 support: always the whole entity.
		fmt.Fprint(w, content)
	}))
	defer srv.Close()

	reg := registry.New(nil)
	fetcher := httprange.NewFetcher(reg, nil)
	dest := filepath.Join(t.TempDir(), "file.bin")

	// A paused transfer left over with stale partial bytes on disk.
	id := reg.Add(srv.URL, "file.bin", dest)
	require.NoError(t, os.WriteFile(dest, []byte(strings.Repeat("q", 80)), 0o644))
	reg.UpdateProgress(id, 80, 200)
	reg.Pause(id)

	fetcher.Resume(context.Background(), id)

	tr := waitForStatus(t, reg, id, registry.StatusCompleted)
	assert.Equal(t, int64(200), tr.ReceivedBytes)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(got), "a 200 response rewrites the file from scratch")
}

func TestResumeLeavesNonPausedTransfersAlone(t *testing.T) {
	reg := registry.New(nil)
	fetcher := httprange.NewFetcher(reg, nil)

	id := reg.Add("http://unreachable.invalid/", "file.bin", filepath.Join(t.TempDir(), "file.bin"))

	fetcher.Resume(context.Background(), id)

	tr, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, registry.StatusInProgress, tr.Status)
}

func TestUnexpectedStatusFailsTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := registry.New(nil)
	fetcher := httprange.NewFetcher(reg, nil)

	id := fetcher.Start(context.Background(), srv.URL, "file.bin", filepath.Join(t.TempDir(), "file.bin"))

	tr := waitForStatus(t, reg, id, registry.StatusFailed)
	assert.Contains(t, tr.Error, "unexpected status 404")
}

func TestCancelStopsStreamWithoutFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		fmt.Fprint(w, strings.Repeat("x", 50))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	reg := registry.New(nil)
	fetcher := httprange.NewFetcher(reg, nil)
	dest := filepath.Join(t.TempDir(), "file.bin")

	id := fetcher.Start(context.Background(), srv.URL, "file.bin", dest)

	require.Eventually(t, func() bool {
		tr, ok := reg.Get(id)

		return ok && tr.ReceivedBytes == 50
	}, eventually, 10*time.Millisecond)

	reg.Cancel(id)

	// The interrupted stream must not flip the status to failed.
	time.Sleep(100 * time.Millisecond)

	tr, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, registry.StatusCancelled, tr.Status)
	assert.Empty(t, tr.Error)

	_, err := os.Stat(fsutil.PartPath(dest))
	assert.True(t, os.IsNotExist(err), "only a pause backs up partial bytes")
}

func TestPauseBacksUpPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		fmt.Fprint(w, strings.Repeat("x", 50))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	reg := registry.New(nil)
	fetcher := httprange.NewFetcher(reg, nil)
	dest := filepath.Join(t.TempDir(), "file.bin")

	id := fetcher.Start(context.Background(), srv.URL, "file.bin", dest)

	require.Eventually(t, func() bool {
		tr, ok := reg.Get(id)

		return ok && tr.ReceivedBytes == 50
	}, eventually, 10*time.Millisecond)

	reg.Pause(id)

	backup, err := os.ReadFile(fsutil.PartPath(dest))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 50), string(backup))
}
