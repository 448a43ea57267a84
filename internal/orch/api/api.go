// Package api exposes lib-orch's ticket cache (C9) and local batch
// executor (C10) as a JSON HTTP API, routed with chi. It is the external
// surface the orchestrator binary listens on; every handler here talks to
// the Engine/Executor interfaces directly and never reaches into
// cache/executor internals, so the wire format can evolve independently
// of the storage backend in use.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tracdap/platform-gateway/internal/apperror"
	"github.com/tracdap/platform-gateway/internal/audit"
	"github.com/tracdap/platform-gateway/internal/metrics"
	"github.com/tracdap/platform-gateway/internal/obslog"
	"github.com/tracdap/platform-gateway/internal/orch/cache"
	"github.com/tracdap/platform-gateway/internal/orch/executor"
)

// API wires a cache.Engine and an executor.Executor into chi routes.
type API struct {
	Cache    cache.Engine
	Executor executor.Executor
}

// New builds a chi.Router exposing the ticket and batch endpoints.
func New(a *API) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", handleHealth)

	r.Route("/api/v1/cache/{cacheName}", func(r chi.Router) {
		r.Get("/", a.handleListKeys)
		r.Post("/tickets", a.handleOpenNewTicket)
		r.Post("/tickets/{key}", a.handleOpenTicket)
		r.Get("/entries", a.handleQueryStatus)
		r.Get("/entries/{key}", a.handleGetEntry)
		r.Get("/entries/{key}/ticket", a.handleTicketStatus)
	})

	r.Route("/api/v1/tickets/{ticketID}", func(r chi.Router) {
		r.Delete("/", a.handleCloseTicket)
		r.Post("/entry", a.handleAddEntry)
		r.Put("/entry", a.handleUpdateEntry)
		r.Delete("/entry", a.handleRemoveEntry)
	})

	r.Route("/api/v1/batches", func(r chi.Router) {
		r.Post("/", a.handleCreateBatch)
		r.Route("/{batchID}", func(r chi.Router) {
			r.Post("/volumes/{volumeName}", a.handleCreateVolume)
			r.Put("/volumes/{volumeName}/files/*", a.handleWriteFile)
			r.Get("/volumes/{volumeName}/files/*", a.handleReadFile)
			r.Post("/start", a.handleStartBatch)
			r.Get("/", a.handlePollBatch)
			r.Delete("/", a.handleDestroyBatch)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		obslog.Info("orchestrator request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type openTicketRequest struct {
	TTLSeconds int `json:"ttl_seconds"`
}

func (a *API) handleOpenNewTicket(w http.ResponseWriter, r *http.Request) {
	cacheName := chi.URLParam(r, "cacheName")
	var req struct {
		Key string `json:"key"`
		openTicketRequest
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	ticket, err := a.Cache.OpenNewTicket(r.Context(), cacheName, req.Key, ttl(req.TTLSeconds))
	recordTicketOp(audit.ActionOpenTicket, r, cacheName, req.Key, "", 0, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (a *API) handleOpenTicket(w http.ResponseWriter, r *http.Request) {
	cacheName := chi.URLParam(r, "cacheName")
	key := chi.URLParam(r, "key")
	var req openTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	ticket, err := a.Cache.OpenTicket(r.Context(), cacheName, key, ttl(req.TTLSeconds))
	recordTicketOp(audit.ActionOpenTicket, r, cacheName, key, "", 0, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	start := time.Now()
	err := a.Cache.CloseTicket(r.Context(), ticketID)
	recordTicketOp(audit.ActionCloseTicket, r, "", "", ticketID, 0, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type entryRequest struct {
	Status string `json:"status"`
	Value  []byte `json:"value"`
}

func (a *API) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	entry, err := a.Cache.AddEntry(r.Context(), ticketID, cache.EntryStatus(req.Status), req.Value)
	recordTicketOp(audit.ActionAddEntry, r, "", "", ticketID, revisionOf(entry), start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	entry, err := a.Cache.UpdateEntry(r.Context(), ticketID, cache.EntryStatus(req.Status), req.Value)
	recordTicketOp(audit.ActionUpdateEntry, r, "", "", ticketID, revisionOf(entry), start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketID")
	start := time.Now()
	err := a.Cache.RemoveEntry(r.Context(), ticketID)
	recordTicketOp(audit.ActionRemoveEntry, r, "", "", ticketID, 0, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.Cache.GetEntry(r.Context(), chi.URLParam(r, "cacheName"), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.Cache.ListKeys(r.Context(), chi.URLParam(r, "cacheName"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// handleQueryStatus implements §4.9's queryStatus(statuses, includeOpenTickets)
// -> [Entry] as GET .../entries?status=READY&status=RUNNING&includeOpenTickets=true.
func (a *API) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	raw := query["status"]
	if len(raw) == 0 {
		writeError(w, apperror.New(apperror.CodeInvalidArgument, "at least one status query parameter is required"))
		return
	}
	statuses := make([]cache.EntryStatus, len(raw))
	for i, s := range raw {
		statuses[i] = cache.EntryStatus(s)
	}
	includeOpenTickets := query.Get("includeOpenTickets") == "true"

	entries, err := a.Cache.QueryStatus(r.Context(), chi.URLParam(r, "cacheName"), statuses, includeOpenTickets)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	open, ticketID, err := a.Cache.TicketStatus(r.Context(), chi.URLParam(r, "cacheName"), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"open": open, "ticket_id": ticketID})
}

type createBatchRequest struct {
	JobKey  string   `json:"job_key"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (a *API) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	batch, err := a.Executor.CreateBatch(r.Context(), req.JobKey, req.Command, req.Args)
	recordBatchOp(audit.ActionCreateBatch, r, batchIDOf(batch), start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (a *API) handleCreateVolume(w http.ResponseWriter, r *http.Request) {
	volumeType := executor.VolumeType(r.URL.Query().Get("type"))
	if volumeType == "" {
		volumeType = executor.VolumeConfig
	}

	start := time.Now()
	batchID := chi.URLParam(r, "batchID")
	err := a.Executor.CreateVolume(r.Context(), batchID, chi.URLParam(r, "volumeName"), volumeType)
	recordBatchOpWithMetadata(audit.ActionCreateVolume, r, batchID, start, err, map[string]any{"volume_type": string(volumeType)})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *API) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	data, err := readAll(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = a.Executor.WriteFile(r.Context(), chi.URLParam(r, "batchID"), chi.URLParam(r, "volumeName"), chi.URLParam(r, "*"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReadFile(w http.ResponseWriter, r *http.Request) {
	data, err := a.Executor.ReadFile(r.Context(), chi.URLParam(r, "batchID"), chi.URLParam(r, "volumeName"), chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *API) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	start := time.Now()
	err := a.Executor.StartBatch(r.Context(), batchID)
	recordBatchOp(audit.ActionStartBatch, r, batchID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handlePollBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := a.Executor.PollBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if batch.Status == executor.StatusComplete || batch.Status == executor.StatusFailed {
		metrics.Get().RecordBatch(string(batch.Status), batch.FinishedAt.Sub(batch.StartedAt))
	}
	writeJSON(w, http.StatusOK, batch)
}

func (a *API) handleDestroyBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	start := time.Now()
	err := a.Executor.DestroyBatch(r.Context(), batchID)
	recordBatchOp(audit.ActionDestroyBatch, r, batchID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ttl(seconds int) time.Duration {
	if seconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func revisionOf(e *cache.Entry) int64 {
	if e == nil {
		return 0
	}
	return e.Revision
}

func batchIDOf(b *executor.BatchState) string {
	if b == nil {
		return ""
	}
	return b.ID
}

func recordTicketOp(action audit.Action, r *http.Request, cacheName, key, ticketID string, revision int64, start time.Time, err error) {
	outcome := audit.OutcomeSuccess
	errCode, errMsg := "", ""
	if err != nil {
		outcome = audit.OutcomeFailure
		errCode = string(apperror.Code(err))
		errMsg = err.Error()
	}
	metrics.Get().RecordTicketOp(string(action), err == nil, time.Since(start))
	_ = audit.Log(r.Context(), &audit.Entry{
		Action:       action,
		Outcome:      outcome,
		CacheName:    cacheName,
		Key:          key,
		TicketID:     ticketID,
		Revision:     revision,
		RequestID:    chimw.GetReqID(r.Context()),
		DurationMs:   time.Since(start).Milliseconds(),
		ErrorCode:    errCode,
		ErrorMessage: errMsg,
	})
}

func recordBatchOp(action audit.Action, r *http.Request, batchID string, start time.Time, err error) {
	recordBatchOpWithMetadata(action, r, batchID, start, err, nil)
}

func recordBatchOpWithMetadata(action audit.Action, r *http.Request, batchID string, start time.Time, err error, metadata map[string]any) {
	outcome := audit.OutcomeSuccess
	errCode, errMsg := "", ""
	if err != nil {
		outcome = audit.OutcomeFailure
		errCode = string(apperror.Code(err))
		errMsg = err.Error()
	}
	_ = audit.Log(r.Context(), &audit.Entry{
		Action:       action,
		Outcome:      outcome,
		TicketID:     batchID,
		RequestID:    chimw.GetReqID(r.Context()),
		DurationMs:   time.Since(start).Milliseconds(),
		ErrorCode:    errCode,
		ErrorMessage: errMsg,
		Metadata:     metadata,
	})
}

func decodeJSON(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.Wrap(err, apperror.CodeInvalidArgument, "decode request body")
	}
	return nil
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidArgument, "read request body")
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.New(apperror.CodeInternal, err.Error())
	}
	writeJSON(w, httpStatusOf(appErr.Code), map[string]string{
		"code":    string(appErr.Code),
		"message": appErr.Message,
	})
}

func httpStatusOf(code apperror.ErrorCode) int {
	switch code {
	case apperror.CodeInvalidArgument, apperror.CodeNilInput:
		return http.StatusBadRequest
	case apperror.CodeTicketNotFound, apperror.CodeEntryNotFound, apperror.CodeBatchNotFound, apperror.CodeVolumeNotFound, apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperror.CodePermissionDenied:
		return http.StatusForbidden
	case apperror.CodeTicketClosed, apperror.CodeTicketConflict, apperror.CodeRevisionConflict, apperror.CodeKeyExists, apperror.CodeBatchNotComplete:
		return http.StatusConflict
	case apperror.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperror.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
