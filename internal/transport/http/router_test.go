package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urldater/internal/cache"
	"urldater/internal/collect"
	"urldater/internal/orchestrator"
	"urldater/internal/timeline"
	"urldater/pkg/testutil"
)

type stubAnalyzer struct {
	calls       int
	lastModules []collect.Module
	err         error
}

func (s *stubAnalyzer) Analyze(_ context.Context, _ string, modules []collect.Module) (*orchestrator.Response, error) {
	s.calls++
	s.lastModules = modules
	if s.err != nil {
		return nil, s.err
	}

	statuses := make(map[collect.Module]collect.Status)
	requested := modules
	if len(requested) == 0 {
		requested = collect.AllModules()
	}
	for _, m := range requested {
		statuses[m] = collect.StatusSuccess
	}

	return &orchestrator.Response{
		URL:    "https://example.com",
		Domain: "example.com",
		Timeline: timeline.Timeline{{
			Group:     timeline.GroupRegistration,
			Type:      collect.KindRegistered,
			URL:       "https://rdap.org/domain/example.com",
			Timestamp: time.Date(1995, 8, 14, 0, 0, 0, 0, time.UTC),
			Display:   "14-08-1995 00:00:00 UTC",
		}},
		Statuses:    statuses,
		GeneratedAt: time.Date(2024, 8, 14, 15, 30, 0, 0, time.UTC),
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter(t *testing.T, analyzer Analyzer, c cache.Cache) http.Handler {
	t.Helper()
	h := New(analyzer, c, Config{}, testLogger(), nil)
	return h.Router()
}

type analyzeResponse struct {
	Domain   string `json:"domain"`
	Timeline []struct {
		Group       string `json:"group"`
		Type        string `json:"type"`
		DisplayTime string `json:"display_time"`
	} `json:"timeline"`
	Statuses map[string]string `json:"statuses"`
}

func TestAnalyzeReturnsTimeline(t *testing.T) {
	router := newTestRouter(t, &stubAnalyzer{}, nil)

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": "example.com"}))
	testutil.AssertStatus(t, rec, http.StatusOK)

	resp := testutil.UnmarshalResponse[analyzeResponse](t, rec)
	assert.Equal(t, "example.com", resp.Domain)
	require.Len(t, resp.Timeline, 1)
	assert.Equal(t, "Registration", resp.Timeline[0].Group)
	assert.Equal(t, "14-08-1995 00:00:00 UTC", resp.Timeline[0].DisplayTime)
}

func TestAnalyzeModuleSubsetReachesAnalyzer(t *testing.T) {
	analyzer := &stubAnalyzer{}
	router := newTestRouter(t, analyzer, nil)

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]any{"url": "example.com", "modules": []string{"certificate", "registration", "registration"}}))
	testutil.AssertStatus(t, rec, http.StatusOK)

	assert.Equal(t, []collect.Module{collect.ModuleRegistration, collect.ModuleCertificate},
		analyzer.lastModules, "modules must be validated, deduplicated, and canonically ordered")

	resp := testutil.UnmarshalResponse[analyzeResponse](t, rec)
	require.Len(t, resp.Statuses, 2)
	assert.NotContains(t, resp.Statuses, string(collect.ModuleHeaders))
}

func TestAnalyzeRejectsUnknownModule(t *testing.T) {
	router := newTestRouter(t, &stubAnalyzer{}, nil)

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]any{"url": "example.com", "modules": []string{"whois"}}))
	testutil.AssertStatus(t, rec, http.StatusBadRequest)
	testutil.AssertErrorEnvelope(t, rec)
}

func TestAnalyzeValidation(t *testing.T) {
	router := newTestRouter(t, &stubAnalyzer{}, nil)

	rec := testutil.DoRequest(router,
		testutil.NewRequestWithBody(t, http.MethodPost, "/api/analyze", `not json`))
	testutil.AssertStatus(t, rec, http.StatusBadRequest)

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": ""}))
	testutil.AssertStatus(t, rec, http.StatusBadRequest)

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": "ftp://example.com"}))
	testutil.AssertStatus(t, rec, http.StatusBadRequest)
	testutil.AssertErrorEnvelope(t, rec)
}

func TestAnalyzeRejectsNonJSONContentType(t *testing.T) {
	router := newTestRouter(t, &stubAnalyzer{}, nil)

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/api/analyze", `{"url":"example.com"}`)
	req.Header.Set("Content-Type", "text/plain")
	rec := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rec, http.StatusUnsupportedMediaType)
}

func TestAnalyzeServedFromCacheOnRepeat(t *testing.T) {
	analyzer := &stubAnalyzer{}
	router := newTestRouter(t, analyzer, cache.NewMemory())

	first := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": "example.com"}))
	testutil.AssertStatus(t, first, http.StatusOK)
	assert.Empty(t, first.Header().Get("X-Cache"))

	second := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": "example.com"}))
	testutil.AssertStatus(t, second, http.StatusOK)
	assert.Equal(t, "hit", second.Header().Get("X-Cache"))
	assert.Equal(t, 1, analyzer.calls, "second request must not re-run the pipeline")
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestAnalyzeCacheDoesNotAliasModuleSubsets(t *testing.T) {
	analyzer := &stubAnalyzer{}
	router := newTestRouter(t, analyzer, cache.NewMemory())

	full := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": "example.com"}))
	testutil.AssertStatus(t, full, http.StatusOK)

	subset := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]any{"url": "example.com", "modules": []string{"registration"}}))
	testutil.AssertStatus(t, subset, http.StatusOK)

	assert.Empty(t, subset.Header().Get("X-Cache"), "a subset must never be served the full-set response")
	assert.Equal(t, 2, analyzer.calls)
}

func TestAnalyzeErrorMapping(t *testing.T) {
	router := newTestRouter(t, &stubAnalyzer{err: fmt.Errorf("invalid target: host required")}, nil)
	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": "https://example.com"}))
	testutil.AssertStatus(t, rec, http.StatusBadRequest)

	router = newTestRouter(t, &stubAnalyzer{err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded)}, nil)
	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": "https://example.com"}))
	testutil.AssertStatus(t, rec, http.StatusGatewayTimeout)

	router = newTestRouter(t, &stubAnalyzer{err: fmt.Errorf("boom")}, nil)
	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": "https://example.com"}))
	testutil.AssertStatus(t, rec, http.StatusInternalServerError)
}

func TestExportRegistrationCSV(t *testing.T) {
	router := newTestRouter(t, &stubAnalyzer{}, nil)

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/export/registration",
		map[string]string{"url": "example.com"}))
	testutil.AssertStatus(t, rec, http.StatusOK)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="example_com_14082024_registration.csv"`,
		rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "Registered")
}

func TestExportAllIsZip(t *testing.T) {
	router := newTestRouter(t, &stubAnalyzer{}, nil)

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/export/all",
		map[string]string{"url": "example.com"}))
	testutil.AssertStatus(t, rec, http.StatusOK)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".zip")
}

func TestExportUnknownKind(t *testing.T) {
	router := newTestRouter(t, &stubAnalyzer{}, nil)

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/export/everything",
		map[string]string{"url": "example.com"}))
	testutil.AssertStatus(t, rec, http.StatusBadRequest)
	testutil.AssertErrorEnvelope(t, rec)
}

func TestExportReusesCachedAnalysis(t *testing.T) {
	analyzer := &stubAnalyzer{}
	router := newTestRouter(t, analyzer, cache.NewMemory())

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/analyze",
		map[string]string{"url": "example.com"}))
	testutil.AssertStatus(t, rec, http.StatusOK)

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/api/export/headers",
		map[string]string{"url": "example.com"}))
	testutil.AssertStatus(t, rec, http.StatusOK)

	assert.Equal(t, 1, analyzer.calls, "export must reuse the cached full analysis")
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, &stubAnalyzer{}, nil)

	rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatus(t, rec, http.StatusOK)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
