// Package handler implements the search service HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/optimizer"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/querycache"
	kierrors "github.com/arvind-kalyan/knowledge-index-platform/pkg/errors"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/logger"
)

// Index is the slice of the index engine the HTTP layer needs.
type Index interface {
	Search(ctx context.Context, query string, limit int) ([]optimizer.SearchResult, error)
	Report(ctx context.Context) (*optimizer.Report, error)
}

// SearchResponse is the /api/v1/search response body.
type SearchResponse struct {
	Query   string                   `json:"query"`
	Total   int                      `json:"total"`
	Results []optimizer.SearchResult `json:"results"`
	TookMs  int64                    `json:"took_ms"`
}

type Handler struct {
	index        Index
	cache        *querycache.Cache
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

func New(index Index, cache *querycache.Cache, defaultLimit, maxResults int) *Handler {
	return &Handler{
		index:        index,
		cache:        cache,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > h.maxResults {
			parsed = h.maxResults
		}
		limit = parsed
	}

	var results []optimizer.SearchResult
	var err error
	if h.cache != nil {
		results, err = h.cache.Search(ctx, query, limit, h.index.Search)
	} else {
		results, err = h.index.Search(ctx, query, limit)
	}
	if err != nil {
		// A query with no indexable terms is an empty result, not a client
		// error the caller has to special-case.
		if errors.Is(err, kierrors.ErrInvalidQuery) {
			h.writeJSON(w, http.StatusOK, SearchResponse{
				Query:   query,
				Results: []optimizer.SearchResult{},
				TookMs:  time.Since(start).Milliseconds(),
			})
			return
		}
		log.Error("search failed", "query", query, "error", err)
		h.writeError(w, kierrors.HTTPStatusCode(err), "search failed")
		return
	}

	log.Info("search completed",
		"query", query,
		"returned", len(results),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	if results == nil {
		results = []optimizer.SearchResult{}
	}
	h.writeJSON(w, http.StatusOK, SearchResponse{
		Query:   query,
		Total:   len(results),
		Results: results,
		TookMs:  time.Since(start).Milliseconds(),
	})
}

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.index.Report(r.Context())
	if err != nil {
		h.logger.Error("report failed", "error", err)
		h.writeError(w, kierrors.HTTPStatusCode(err), "report failed")
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "invalidated",
		"deleted": deleted,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
