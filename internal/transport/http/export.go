package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"urldater/internal/domainutil"
	"urldater/internal/export"
	"urldater/internal/orchestrator"
)

// handleExport renders an analysis as a downloadable CSV or zip. A cached
// analysis is reused when fresh; otherwise the pipeline runs first.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := export.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	normalized, err := domainutil.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Exports always run the full module set so every group's CSV can be
	// rendered from one analysis.
	resp, err := h.analysisForExport(ctx, req.URL, cacheKey(normalized, nil))
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}

	file, err := export.Render(kind, resp.Domain, resp.Timeline, resp.GeneratedAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Body)
}

func (h *Handler) analysisForExport(ctx context.Context, rawURL, key string) (*orchestrator.Response, error) {
	if body, ok := h.cachedResponse(ctx, key); ok {
		var resp orchestrator.Response
		if err := json.Unmarshal(body, &resp); err == nil {
			return &resp, nil
		}
		// A corrupt cache entry falls through to a fresh analysis.
	}
	return h.runAnalysis(ctx, rawURL, nil, key)
}
