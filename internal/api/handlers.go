package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/changelog"
	"github.com/bartek5186/stocksync/internal/reconcile"
	"github.com/bartek5186/stocksync/internal/syncer"
	"github.com/bartek5186/stocksync/internal/upstream"
)

type budgetResponse struct {
	Remaining      int `json:"remaining"`
	ResetInSeconds int `json:"reset_in_seconds"`
}

type statusResponse struct {
	RunActive bool              `json:"run_active"`
	Current   *reconcile.Live   `json:"current,omitempty"`
	Scheduler *syncer.Status    `json:"scheduler,omitempty"`
	LastRun   *reconcile.Result `json:"last_run,omitempty"`
	Budget    *budgetResponse   `json:"budget,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{RunActive: s.runner.Active()}
	if cur, ok := s.runner.Current(); ok {
		resp.Current = &cur
	}
	if s.sched != nil {
		st := s.sched.Status()
		resp.Scheduler = &st
	}
	if last, ok := s.runner.LastResult(r.Context()); ok {
		resp.LastRun = &last
	}
	if remaining, resetIn, ok := s.runner.Budget(); ok {
		resp.Budget = &budgetResponse{Remaining: remaining, ResetInSeconds: int(resetIn.Round(time.Second) / time.Second)}
	}
	writeJSON(w, http.StatusOK, resp)
}

type startedResponse struct {
	Status     string `json:"status"`
	RunID      string `json:"run_id"`
	CategoryID int64  `json:"category_id,omitempty"`
	RequestID  string `json:"request_id"`
}

func (s *Server) syncFull(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, 0)
}

type categoryRequest struct {
	CategoryID int64 `json:"category_id"`
}

func (s *Server) syncCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CategoryID <= 0 {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "category_id must be > 0")
		return
	}
	s.startRun(w, r, req.CategoryID)
}

// startRun – przebieg w tle na kontekście serwera, nie żądania
func (s *Server) startRun(w http.ResponseWriter, r *http.Request, categoryID int64) {
	runID, err := s.runner.Start(s.opts.BaseContext, categoryID)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.log.Info().Str("run_id", runID).Int64("category_id", categoryID).Msg("ręczna synchronizacja – start")
	writeJSON(w, http.StatusAccepted, startedResponse{
		Status:     "started",
		RunID:      runID,
		CategoryID: categoryID,
		RequestID:  RequestIDFromContext(r.Context()),
	})
}

type batchResponse struct {
	reconcile.BatchProgress
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

func (s *Server) syncBatch(w http.ResponseWriter, r *http.Request) {
	var req reconcile.BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Size <= 0 {
		req.Size = s.opts.BatchSize
	}
	p, err := s.runner.RunBatch(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	resp := batchResponse{BatchProgress: p, RetryAfterSeconds: p.RetryAfterSeconds()}
	if resp.Entries == nil {
		resp.Entries = []changelog.Entry{}
	}
	if p.Deferred {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	writeJSON(w, http.StatusOK, resp)
}

type skuRequest struct {
	SKU string `json:"sku"`
}

type skuResponse struct {
	SKU     string           `json:"sku"`
	Changed bool             `json:"changed"`
	Entry   *changelog.Entry `json:"entry,omitempty"`
}

func (s *Server) syncSKU(w http.ResponseWriter, r *http.Request) {
	var req skuRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sku := strings.TrimSpace(req.SKU)
	if sku == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "sku is required")
		return
	}
	e, err := s.runner.RunSingleSKU(r.Context(), sku)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, skuResponse{SKU: sku, Changed: e != nil, Entry: e})
}

type pendingResponse struct {
	Slot  changelog.Slot `json:"slot"`
	Found bool           `json:"found"`
	changelog.PendingRun
}

// GET /api/changes?slot=run|sku&take=true – take zdejmuje wynik z bufora
func (s *Server) pendingChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slot := changelog.Slot(strings.ToLower(strings.TrimSpace(q.Get("slot"))))
	switch slot {
	case "":
		slot = changelog.SlotRun
	case changelog.SlotRun, changelog.SlotSKU:
	default:
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "slot must be run or sku")
		return
	}
	p := s.runner.Pending()
	resp := pendingResponse{Slot: slot}
	if p != nil {
		if take, _ := strconv.ParseBool(q.Get("take")); take {
			resp.PendingRun, resp.Found = p.Take(slot)
		} else {
			resp.PendingRun, resp.Found = p.Get(slot)
		}
	}
	if resp.Entries == nil {
		resp.Entries = []changelog.Entry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type logsResponse struct {
	Entries []changelog.Entry `json:"entries"`
}

// GET /api/logs – ostatnie 7 dni, ?all=true – cały log
func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	var (
		entries []changelog.Entry
		err     error
	)
	if all {
		entries, err = s.changes.All(r.Context())
	} else {
		entries, err = s.changes.Recent(r.Context())
	}
	if err != nil {
		s.log.Error().Err(err).Msg("odczyt logu zmian nieudany")
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	if entries == nil {
		entries = []changelog.Entry{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Entries: entries})
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.changes.Clear(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("czyszczenie logu zmian nieudane")
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	s.log.Info().Msg("log zmian wyczyszczony")
	w.WriteHeader(http.StatusNoContent)
}

// writeRunError – błędy przebiegu → kody HTTP
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reconcile.ErrRunActive):
		WriteJSONError(w, http.StatusConflict, "run_active", err.Error())
	case errors.Is(err, reconcile.ErrInvalidBatch):
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		WriteJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, reconcile.ErrNotLeaf):
		WriteJSONError(w, http.StatusUnprocessableEntity, "not_leaf", err.Error())
	case errors.Is(err, upstream.ErrNotConfigured):
		WriteJSONError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
	case errors.Is(err, reconcile.ErrListing):
		s.log.Error().Err(err).Msg("listing katalogu nieudany")
		WriteJSONError(w, http.StatusBadGateway, "catalog_unavailable", err.Error())
	default:
		s.log.Error().Err(err).Msg("synchronizacja nieudana")
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// decodeBody – pusty body = wartości zerowe
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}
