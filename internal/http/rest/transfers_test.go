package rest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qayeq/transferd/internal/backend/httprange"
	"github.com/qayeq/transferd/internal/http/rest"
	"github.com/qayeq/transferd/internal/registry"
	"github.com/qayeq/transferd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJournal struct {
	records []storage.TransferRecord
	err     error
}

func (f *fakeJournal) RecordTransfer(_ context.Context, rec storage.TransferRecord) error {
	f.records = append(f.records, rec)

	return nil
}

func (f *fakeJournal) GetHistory(_ context.Context, limit int) ([]storage.TransferRecord, error) {
	if f.err != nil {
		return nil, f.err
	}

	if limit > 0 && limit < len(f.records) {
		return f.records[:limit], nil
	}

	return f.records, nil
}

func (f *fakeJournal) PruneOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func newTestHandler(t *testing.T, reg *registry.Registry, journal storage.TransferJournal) http.Handler {
	t.Helper()

	if journal == nil {
		journal = &fakeJournal{}
	}

	fetcher := httprange.NewFetcher(reg, nil)

	return rest.NewTransferHandler(context.Background(), reg, fetcher, journal, t.TempDir()).Routes()
}

func TestListTransfers(t *testing.T) {
	reg := registry.New(nil)
	id := reg.Add("http://example.com/report.pdf", "report.pdf", "/downloads/report.pdf")
	reg.UpdateProgress(id, 250, 1000)

	handler := newTestHandler(t, reg, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transfers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)

	assert.Equal(t, float64(id), out[0]["id"])
	assert.Equal(t, "report.pdf", out[0]["filename"])
	assert.Equal(t, "in_progress", out[0]["status"])
	assert.InDelta(t, 0.25, out[0]["progress"], 1e-9)
}

func TestListTransfersMostRecentFirst(t *testing.T) {
	reg := registry.New(nil)
	reg.Add("http://example.com/a", "a.bin", "/downloads/a.bin")
	reg.Add("http://example.com/b", "b.bin", "/downloads/b.bin")

	handler := newTestHandler(t, reg, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transfers?limit=1", nil))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "b.bin", out[0]["filename"])
}

func TestAddTransferStartsFetch(t *testing.T) {
	content := strings.Repeat("a", 100)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, content)
	}))
	defer srv.Close()

	reg := registry.New(nil)
	handler := newTestHandler(t, reg, nil)

	body := strings.NewReader(`{"url": "` + srv.URL + `", "filename": "data.bin"}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers", body))

	require.Equal(t, http.StatusCreated, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "data.bin", out["filename"])

	id := uint64(out["id"].(float64))

	require.Eventually(t, func() bool {
		tr, ok := reg.Get(id)

		return ok && tr.Status == registry.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAddTransferRequiresURL(t *testing.T) {
	handler := newTestHandler(t, registry.New(nil), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddTransferRejectsBadBody(t *testing.T) {
	handler := newTestHandler(t, registry.New(nil), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader("not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkSaveAs(t *testing.T) {
	reg := registry.New(nil)
	handler := newTestHandler(t, reg, nil)

	body := strings.NewReader(`{"url": "http://example.com/doc.pdf"}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers/save-as", body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, reg.TakeSaveAs("http://example.com/doc.pdf"))
}

func TestPauseUnknownIDIsAccepted(t *testing.T) {
	handler := newTestHandler(t, registry.New(nil), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers/42/pause", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPauseFlipsStatus(t *testing.T) {
	reg := registry.New(nil)
	id := reg.Add("http://example.com/f", "f.bin", "/downloads/f.bin")

	handler := newTestHandler(t, reg, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/transfers/%d/pause", id), nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, reg.IsPaused(id))
}

func TestCancelFlipsStatus(t *testing.T) {
	reg := registry.New(nil)
	id := reg.Add("http://example.com/f", "f.bin", "/downloads/f.bin")

	handler := newTestHandler(t, reg, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/transfers/%d/cancel", id), nil))

	require.Equal(t, http.StatusAccepted, rec.Code)

	tr, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, registry.StatusCancelled, tr.Status)
}

func TestBadTransferID(t *testing.T) {
	handler := newTestHandler(t, registry.New(nil), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers/abc/pause", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveTransfer(t *testing.T) {
	reg := registry.New(nil)
	id := reg.Add("http://example.com/f", "f.bin", "/downloads/f.bin")

	handler := newTestHandler(t, reg, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/transfers/%d", id), nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, reg.HasAny())
}

func TestClearCompleted(t *testing.T) {
	reg := registry.New(nil)
	active := reg.Add("http://example.com/a", "a.bin", "/downloads/a.bin")
	done := reg.Add("http://example.com/b", "b.bin", "/downloads/b.bin")
	reg.SetStatus(done, registry.StatusCompleted)

	handler := newTestHandler(t, reg, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/transfers/completed", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)

	_, ok := reg.Get(active)
	assert.True(t, ok)
	_, ok = reg.Get(done)
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	reg := registry.New(nil)
	handler := newTestHandler(t, reg, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out["active"])
	assert.False(t, out["any"])

	reg.Add("http://example.com/f", "f.bin", "/downloads/f.bin")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out["active"])
	assert.True(t, out["any"])
}

func TestHistory(t *testing.T) {
	finished := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	journal := &fakeJournal{records: []storage.TransferRecord{{
		Filename:      "old.iso",
		SourceURL:     "http://example.com/old.iso",
		Destination:   "/downloads/old.iso",
		TotalBytes:    1000,
		ReceivedBytes: 1000,
		Status:        "completed",
		FinishedAt:    finished,
	}}}

	handler := newTestHandler(t, registry.New(nil), journal)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "old.iso", out[0]["filename"])
	assert.Equal(t, "2025-03-14T09:26:53Z", out[0]["finishedAt"])
}

func TestHistoryFailure(t *testing.T) {
	journal := &fakeJournal{err: fmt.Errorf("db locked")}

	handler := newTestHandler(t, registry.New(nil), journal)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
