package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/payloadbench/apiserver/internal/codec"
	"github.com/payloadbench/apiserver/internal/services"
	"github.com/payloadbench/apiserver/internal/store"
	"github.com/payloadbench/apiserver/types"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

// RunHandler serves the served-response history.
type RunHandler struct {
	runService *services.RunService
}

func NewRunHandler(runService *services.RunService) *RunHandler {
	return &RunHandler{runService: runService}
}

// RunRouter registers run routes on the given router.
func RunRouter(r chi.Router, runService *services.RunService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewRunHandler(runService)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}
	r.Get("/", handler.ListRuns)
	r.Get("/summary", handler.Summary)
	r.Get("/{runID}", handler.GetRun)
}

type RunListResponse struct {
	Items []types.Run `json:"items"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
	Total int         `json:"total"`
}

func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if kind != "" && !codec.Kind(kind).Valid() {
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}

	items, total, err := h.runService.List(r.Context(), kind, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, RunListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.runService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *RunHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.runService.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize runs")
		return
	}
	if summaries == nil {
		summaries = []types.RunSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, errors.New("invalid page")
		}
	}

	rawLimit := strings.TrimSpace(r.URL.Query().Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(r.URL.Query().Get("per_page"))
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}
