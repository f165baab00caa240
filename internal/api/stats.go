package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/docsage/docsage/internal/cache"
)

// StatsStore is the store surface the stats endpoint consumes.
type StatsStore interface {
	Count(ctx context.Context) (int64, error)
	MutationVersion() int64
}

// CacheStats exposes hit/miss counters for one cache tier.
type CacheStats interface {
	Stats() cache.Stats
}

// statsHandler reports corpus size and cache effectiveness.
type statsHandler struct {
	store  StatsStore
	caches map[string]CacheStats
	logger *slog.Logger
}

type statsResponse struct {
	Chunks          int64                  `json:"chunks"`
	MutationVersion int64                  `json:"mutation_version"`
	Caches          map[string]cache.Stats `json:"caches"`
}

func (h *statsHandler) getStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Caches: make(map[string]cache.Stats, len(h.caches))}

	if h.store != nil {
		count, err := h.store.Count(r.Context())
		if err != nil {
			h.logger.Error("counting chunks", "error", err)
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "document store unavailable")
			return
		}
		resp.Chunks = count
		resp.MutationVersion = h.store.MutationVersion()
	}

	for name, c := range h.caches {
		if c == nil {
			continue
		}
		resp.Caches[name] = c.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}
