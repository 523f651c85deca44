package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/payloadbench/apiserver/internal/cache"
	"github.com/payloadbench/apiserver/internal/metrics"
)

// CacheHandler serves the conditional cache resource.
type CacheHandler struct {
	resource *cache.Resource
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewCacheHandler(resource *cache.Resource, m *metrics.Metrics, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{resource: resource, metrics: m, logger: logger}
}

// ServeHTTP answers 200 with the body and ETag, or 304 with no body and no
// Content-Type when If-None-Match carries the current tag.
func (h *CacheHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	decision, err := h.resource.Evaluate(r.Context(), r.Header.Get("If-None-Match"))
	if err != nil {
		h.metrics.CacheResponses.WithLabelValues("error").Inc()
		h.logger.Error("cache resource unavailable", "err", err)
		writeError(w, http.StatusInternalServerError, "resource unavailable")
		return
	}

	header := w.Header()
	header.Set("ETag", decision.ETag)
	header.Set("Cache-Control", "no-cache")
	h.metrics.CacheResponses.WithLabelValues(decision.State.String()).Inc()

	if decision.State == cache.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(decision.Body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(decision.Body)
	}
}
