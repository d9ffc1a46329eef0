package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fuzzmatch/trigramd/internal/apperr"
	"github.com/fuzzmatch/trigramd/internal/executor"
	"github.com/fuzzmatch/trigramd/internal/indexing"
	"github.com/fuzzmatch/trigramd/internal/search"
	"github.com/fuzzmatch/trigramd/internal/store"
)

// Handler holds the API route handlers.
type Handler struct {
	indexer *indexing.Indexer
	engine  *search.Engine
	exec    *executor.Executor
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(ix *indexing.Indexer, eng *search.Engine, exec *executor.Executor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{indexer: ix, engine: eng, exec: exec, logger: logger}
}

// Search handles GET /search/{query}/{limit}. The query path segment is
// base64-encoded UTF-8; limit is constrained to digits by the route.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	raw, err := base64.StdEncoding.DecodeString(chi.URLParam(r, "query"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("query is not valid base64"))
		return
	}
	query := strings.TrimSpace(string(raw))
	limit, _ := strconv.Atoi(chi.URLParam(r, "limit"))

	results, err := h.engine.Search(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("search failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	hits := make([]SearchHit, len(results))
	for i, res := range results {
		hits[i] = SearchHit{
			PK:    res.PK,
			Name:  res.Name,
			Score: strconv.FormatFloat(res.Score, 'f', 4, 64),
		}
	}
	writeJSON(w, http.StatusOK, hits)
}

// CDC handles POST and GET /cdc. Every payload element with a non-null
// after image is indexed; the feed sender always gets 200 "OK" so a bad
// row never stalls the changefeed.
func (h *Handler) CDC(w http.ResponseWriter, r *http.Request) {
	var env CDCEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	for _, ev := range env.Payload {
		if ev.After == nil {
			// Delete/tombstone: nothing to be done here.
			continue
		}
		if err := h.indexer.Index(r.Context(), ev.After.ID, ev.After.Name); err != nil {
			h.logger.Warn("cdc: indexing failed",
				slog.String("id", ev.After.ID),
				slog.String("error", err.Error()))
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// CreateRecord handles POST /records: creates a record under a generated
// UUID and indexes its name.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}

	id := uuid.NewString()
	if err := h.indexer.Create(r.Context(), id, req.Name); err != nil {
		h.logger.Error("create record failed",
			slog.String("name", req.Name),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, RecordResponse{ID: id, Name: req.Name})
}

// GetRecord handles GET /records/{id}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var rec *store.Record
	err := h.exec.Execute(r.Context(), store.ReadCommitted, func(tx store.Tx) error {
		var err error
		rec, err = tx.GetRecord(r.Context(), id)
		return err
	})
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	case err != nil:
		h.logger.Error("get record failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{ID: rec.ID, Name: rec.Name, Grams: rec.GramCount})
}
