package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"urldater/internal/collect"
	"urldater/internal/domainutil"
	"urldater/internal/orchestrator"
	"urldater/internal/platform/middleware"
)

type analyzeRequest struct {
	URL string `json:"url"`
	// Modules restricts the analysis to a subset of evidence sources.
	// Empty or absent means all of them.
	Modules []string `json:"modules"`
}

// handleAnalyze runs (or serves from cache) an analysis for one URL over the
// requested module set.
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	modules, err := parseModules(req.Modules)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	normalized, err := domainutil.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := cacheKey(normalized, modules)

	if body, ok := h.cachedResponse(ctx, key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	resp, err := h.runAnalysis(ctx, req.URL, modules, key)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseModules validates client module names and returns them in canonical
// aggregation order, duplicates collapsed. Empty input stays empty, meaning
// all modules.
func parseModules(names []string) ([]collect.Module, error) {
	if len(names) == 0 {
		return nil, nil
	}
	requested := make(map[collect.Module]bool, len(names))
	for _, name := range names {
		m, err := collect.ParseModule(name)
		if err != nil {
			return nil, err
		}
		requested[m] = true
	}
	out := make([]collect.Module, 0, len(requested))
	for _, m := range collect.AllModules() {
		if requested[m] {
			out = append(out, m)
		}
	}
	return out, nil
}

// cacheKey distinguishes cached responses by target and module set so a
// subset analysis never aliases a full one.
func cacheKey(normalizedURL string, modules []collect.Module) string {
	if len(modules) == 0 {
		modules = collect.AllModules()
	}
	parts := make([]string, len(modules))
	for i, m := range modules {
		parts[i] = string(m)
	}
	return normalizedURL + "|" + strings.Join(parts, ",")
}

// runAnalysis executes the pipeline and stores the serialized response under
// key. Cache write failures are logged, never surfaced.
func (h *Handler) runAnalysis(ctx context.Context, rawURL string, modules []collect.Module, key string) (*orchestrator.Response, error) {
	resp, err := h.analyzer.Analyze(ctx, rawURL, modules)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		body, merr := json.Marshal(resp)
		if merr == nil {
			if cerr := h.cache.Set(ctx, key, body, h.cfg.CacheTTL); cerr != nil {
				h.logger.Warn("cache write failed",
					"request_id", middleware.GetRequestID(ctx), "error", cerr)
			}
		}
	}
	return resp, nil
}

func (h *Handler) cachedResponse(ctx context.Context, key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	body, ok, err := h.cache.Get(ctx, key)
	if err != nil {
		h.logger.Warn("cache read failed",
			"request_id", middleware.GetRequestID(ctx), "error", err)
		h.metrics.IncrementCacheLookup("miss")
		return nil, false
	}
	if !ok {
		h.metrics.IncrementCacheLookup("miss")
		return nil, false
	}
	h.metrics.IncrementCacheLookup("hit")
	return body, true
}

func (h *Handler) writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "analysis did not finish in time")
		return
	}
	if strings.Contains(err.Error(), "invalid target") || strings.Contains(err.Error(), "invalid module set") {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("analysis failed",
		"request_id", middleware.GetRequestID(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, "analysis failed")
}
