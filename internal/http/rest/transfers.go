// Package rest exposes the transfer registry over JSON so browser UI
// processes (download rows, toolbar badges) can drive it.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/qayeq/transferd/internal/backend/httprange"
	"github.com/qayeq/transferd/internal/fsutil"
	"github.com/qayeq/transferd/internal/logctx"
	"github.com/qayeq/transferd/internal/registry"
	"github.com/qayeq/transferd/internal/storage"
)

const defaultListLimit = 50

type TransferHandler struct {
	// baseCtx outlives individual requests; transfers started through
	// the API must not die with the request that created them.
	baseCtx context.Context

	reg          *registry.Registry
	fetcher      *httprange.Fetcher
	journal      storage.TransferJournal
	downloadsDir string
}

func NewTransferHandler(ctx context.Context, reg *registry.Registry, fetcher *httprange.Fetcher, journal storage.TransferJournal, downloadsDir string) *TransferHandler {
	return &TransferHandler{
		baseCtx:      ctx,
		reg:          reg,
		fetcher:      fetcher,
		journal:      journal,
		downloadsDir: downloadsDir,
	}
}

func (h *TransferHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/transfers", h.handleList)
	r.Post("/transfers", h.handleAdd)
	r.Post("/transfers/save-as", h.handleMarkSaveAs)
	r.Delete("/transfers/completed", h.handleClearCompleted)
	r.Post("/transfers/{id}/pause", h.handlePause)
	r.Post("/transfers/{id}/resume", h.handleResume)
	r.Post("/transfers/{id}/cancel", h.handleCancel)
	r.Delete("/transfers/{id}", h.handleRemove)
	r.Get("/status", h.handleStatus)
	r.Get("/history", h.handleHistory)

	return r
}

type transferResponse struct {
	ID             uint64  `json:"id"`
	URL            string  `json:"url"`
	Filename       string  `json:"filename"`
	Destination    string  `json:"destination"`
	TotalBytes     int64   `json:"totalBytes"`
	ReceivedBytes  int64   `json:"receivedBytes"`
	Status         string  `json:"status"`
	Error          string  `json:"error,omitempty"`
	SupportsResume bool    `json:"supportsResume"`
	Progress       float64 `json:"progress"`
	Size           string  `json:"size"`
	Speed          string  `json:"speed,omitempty"`
}

func newTransferResponse(t *registry.Transfer) transferResponse {
	resp := transferResponse{
		ID:             t.ID,
		URL:            t.SourceURL,
		Filename:       t.Filename,
		Destination:    t.Destination,
		TotalBytes:     t.TotalBytes,
		ReceivedBytes:  t.ReceivedBytes,
		Status:         t.Status.String(),
		Error:          t.Error,
		SupportsResume: t.SupportsResume,
		Progress:       t.Progress(),
		Size:           t.SizeString(),
	}

	if t.IsActive() {
		resp.Speed = t.SpeedString()
	}

	return resp
}

func (h *TransferHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	transfers := h.reg.Recent(limit)
	out := make([]transferResponse, 0, len(transfers))

	for i := range transfers {
		out = append(out, newTransferResponse(&transfers[i]))
	}

	writeJSON(w, http.StatusOK, out)
}

type addRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

func (h *TransferHandler) handleAdd(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)

		return
	}

	filename := fsutil.SanitizeFilename(req.Filename)
	if filename == "" || filename == "." {
		filename = fsutil.DetermineFilename(req.URL, http.Header{}, nil)
	}

	destination := fsutil.UniquePath(h.downloadsDir, filename)

	// Started on the base context: the transfer outlives this request.
	id := h.fetcher.Start(h.baseCtx, req.URL, filename, destination)

	logger.Info("transfer started via api", "transfer_id", id, "url", req.URL)

	t, ok := h.reg.Get(id)
	if !ok {
		w.WriteHeader(http.StatusAccepted)

		return
	}

	writeJSON(w, http.StatusCreated, newTransferResponse(&t))
}

type saveAsRequest struct {
	URL string `json:"url"`
}

// handleMarkSaveAs flags a URL so the next engine download for it goes
// through the destination-choice dialog. Driven by the browser's
// context-menu action.
func (h *TransferHandler) handleMarkSaveAs(w http.ResponseWriter, r *http.Request) {
	var req saveAsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)

		return
	}

	h.reg.MarkSaveAs(req.URL)
	w.WriteHeader(http.StatusAccepted)
}

// The mutation handlers below return 202 no matter whether the id is
// known: registry operations on unknown ids are defined as benign no-ops,
// since UI rows race with dismissal.

func (h *TransferHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	h.reg.Pause(id)
	w.WriteHeader(http.StatusAccepted)
}

func (h *TransferHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	h.reg.Resume(id)
	w.WriteHeader(http.StatusAccepted)
}

func (h *TransferHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	h.reg.Cancel(id)
	w.WriteHeader(http.StatusAccepted)
}

func (h *TransferHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	h.reg.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *TransferHandler) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	h.reg.ClearCompleted()
	w.WriteHeader(http.StatusNoContent)
}

func (h *TransferHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"active": h.reg.HasActive(),
		"any":    h.reg.HasAny(),
	})
}

type historyResponse struct {
	Filename      string `json:"filename"`
	URL           string `json:"url"`
	Destination   string `json:"destination"`
	TotalBytes    int64  `json:"totalBytes"`
	ReceivedBytes int64  `json:"receivedBytes"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	FinishedAt    string `json:"finishedAt"`
}

func (h *TransferHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	records, err := h.journal.GetHistory(r.Context(), limit)
	if err != nil {
		logger.Error("failed to read history", "err", err)
		http.Error(w, "failed to read history", http.StatusInternalServerError)

		return
	}

	out := make([]historyResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, historyResponse{
			Filename:      rec.Filename,
			URL:           rec.SourceURL,
			Destination:   rec.Destination,
			TotalBytes:    rec.TotalBytes,
			ReceivedBytes: rec.ReceivedBytes,
			Status:        rec.Status,
			Error:         rec.Error,
			FinishedAt:    rec.FinishedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func transferID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid transfer id", http.StatusBadRequest)

		return 0, false
	}

	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
