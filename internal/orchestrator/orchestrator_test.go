package orchestrator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urldater/internal/collect"
	"urldater/internal/timeline"
)

type stubCollector struct {
	module collect.Module
	result collect.Result
	delay  time.Duration
	panics bool
	calls  int
}

func (s *stubCollector) Module() collect.Module { return s.module }

func (s *stubCollector) Collect(ctx context.Context, _ collect.Target) collect.Result {
	s.calls++
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return collect.Failure(collect.NewError(collect.ErrorUpstreamTimeout,
				s.module, "cancelled", ctx.Err()))
		}
	}
	return s.result
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func instant(s string) *time.Time {
	t, err := time.Parse(collect.LayoutDateTime, s)
	if err != nil {
		panic(err)
	}
	t = t.UTC()
	return &t
}

func registeredItem() collect.RawItem {
	return collect.RawItem{
		Kind:        collect.KindRegistered,
		URL:         "https://rdap.org/domain/example.com",
		DisplayTime: "14-08-1995 00:00:00 UTC",
		Instant:     instant("14-08-1995 00:00:00"),
	}
}

func certificateItem() collect.RawItem {
	return collect.RawItem{
		Kind:        collect.KindCertificate,
		URL:         "https://crt.sh/?id=42",
		DisplayTime: "02-03-2014",
		Instant:     instant("02-03-2014 00:00:00"),
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, collectors ...collect.Collector) *Orchestrator {
	t.Helper()
	o, err := New(collectors, cfg, testLogger(), nil)
	require.NoError(t, err)
	return o
}

func TestNewRequiresCollectors(t *testing.T) {
	_, err := New(nil, Config{}, testLogger(), nil)
	assert.Error(t, err)
}

func TestNewRejectsDuplicateModules(t *testing.T) {
	_, err := New([]collect.Collector{
		&stubCollector{module: collect.ModuleHeaders},
		&stubCollector{module: collect.ModuleHeaders},
	}, Config{}, testLogger(), nil)
	assert.ErrorContains(t, err, "duplicate collector")
}

func TestAnalyzeFusesAllCollectors(t *testing.T) {
	o := newTestOrchestrator(t, Config{},
		&stubCollector{
			module: collect.ModuleRegistration,
			result: collect.Success(collect.ModuleRegistration, []collect.RawItem{registeredItem()}),
		},
		&stubCollector{
			module: collect.ModuleCertificate,
			result: collect.Success(collect.ModuleCertificate, []collect.RawItem{certificateItem()}),
		},
		&stubCollector{
			module: collect.ModuleHeaders,
			result: collect.NoticeOf(collect.ModuleHeaders, "No images or icons were found on the page."),
		},
	)

	resp, err := o.Analyze(context.Background(), "example.com", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com", resp.URL)
	assert.Equal(t, "example.com", resp.Domain)
	require.Len(t, resp.Timeline, 2)
	assert.Equal(t, timeline.GroupRegistration, resp.Timeline[0].Group)
	assert.Equal(t, timeline.GroupCertificate, resp.Timeline[1].Group)

	assert.Equal(t, collect.StatusSuccess, resp.Statuses[collect.ModuleRegistration])
	assert.Equal(t, collect.StatusNotice, resp.Statuses[collect.ModuleHeaders])
	assert.Contains(t, resp.Notices[collect.ModuleHeaders], "No images")
	assert.False(t, resp.GeneratedAt.IsZero())
}

func TestAnalyzeModuleSubsetSkipsUnrequestedCollectors(t *testing.T) {
	registration := &stubCollector{
		module: collect.ModuleRegistration,
		result: collect.Success(collect.ModuleRegistration, []collect.RawItem{registeredItem()}),
	}
	certificate := &stubCollector{
		module: collect.ModuleCertificate,
		result: collect.Success(collect.ModuleCertificate, []collect.RawItem{certificateItem()}),
	}
	headers := &stubCollector{
		module: collect.ModuleHeaders,
		result: collect.Success(collect.ModuleHeaders, nil),
	}
	o := newTestOrchestrator(t, Config{}, registration, certificate, headers)

	resp, err := o.Analyze(context.Background(), "https://example.com",
		[]collect.Module{collect.ModuleRegistration})
	require.NoError(t, err)

	assert.Equal(t, 1, registration.calls)
	assert.Zero(t, certificate.calls, "unrequested collectors must not run")
	assert.Zero(t, headers.calls, "unrequested collectors must not run")

	require.Len(t, resp.Statuses, 1)
	assert.Equal(t, collect.StatusSuccess, resp.Statuses[collect.ModuleRegistration])
	require.Len(t, resp.Timeline, 1)
	assert.Equal(t, timeline.GroupRegistration, resp.Timeline[0].Group)
	assert.NotContains(t, resp.Notices, collect.ModuleCertificate,
		"unrequested modules get no slot, no notice")
}

func TestAnalyzeRejectsUnknownModule(t *testing.T) {
	o := newTestOrchestrator(t, Config{},
		&stubCollector{module: collect.ModuleRegistration},
	)

	_, err := o.Analyze(context.Background(), "https://example.com",
		[]collect.Module{collect.Module("whois")})
	assert.ErrorContains(t, err, "invalid module set")
}

func TestAnalyzeRejectsModuleWithoutCollector(t *testing.T) {
	o := newTestOrchestrator(t, Config{},
		&stubCollector{module: collect.ModuleRegistration},
	)

	_, err := o.Analyze(context.Background(), "https://example.com",
		[]collect.Module{collect.ModuleHeaders})
	assert.ErrorContains(t, err, "invalid module set")
}

func TestAnalyzeRejectsUnusableTarget(t *testing.T) {
	o := newTestOrchestrator(t, Config{},
		&stubCollector{module: collect.ModuleRegistration},
	)

	_, err := o.Analyze(context.Background(), "ftp://example.com", nil)
	assert.ErrorContains(t, err, "invalid target")
}

func TestAnalyzeMasterDeadlineDegradesPendingSlot(t *testing.T) {
	o := newTestOrchestrator(t, Config{MasterDeadline: 200 * time.Millisecond},
		&stubCollector{
			module: collect.ModuleRegistration,
			result: collect.Success(collect.ModuleRegistration, []collect.RawItem{registeredItem()}),
		},
		&stubCollector{
			module: collect.ModuleHeaders,
			result: collect.Success(collect.ModuleHeaders, nil),
			delay:  10 * time.Second,
		},
	)

	start := time.Now()
	resp, err := o.Analyze(context.Background(), "https://example.com", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	// The fast slot is kept intact; only the straggler degrades.
	assert.Equal(t, collect.StatusSuccess, resp.Statuses[collect.ModuleRegistration])
	require.Len(t, resp.Timeline, 1)
	assert.Equal(t, collect.StatusError, resp.Statuses[collect.ModuleHeaders])
	assert.Contains(t, resp.Notices[collect.ModuleHeaders], "Timeout")
}

func TestAnalyzePanickingCollectorDegradesOwnSlotOnly(t *testing.T) {
	o := newTestOrchestrator(t, Config{},
		&stubCollector{module: collect.ModuleRegistration, panics: true},
		&stubCollector{
			module: collect.ModuleCertificate,
			result: collect.Success(collect.ModuleCertificate, []collect.RawItem{certificateItem()}),
		},
	)

	resp, err := o.Analyze(context.Background(), "https://example.com", nil)
	require.NoError(t, err)

	assert.Equal(t, collect.StatusError, resp.Statuses[collect.ModuleRegistration])
	assert.Equal(t, collect.StatusSuccess, resp.Statuses[collect.ModuleCertificate])
	require.Len(t, resp.Timeline, 1)
	assert.Equal(t, timeline.GroupCertificate, resp.Timeline[0].Group)
}

func TestAnalyzeErrorSlotBecomesNotice(t *testing.T) {
	o := newTestOrchestrator(t, Config{},
		&stubCollector{
			module: collect.ModuleCertificate,
			result: collect.Failure(collect.NewError(collect.ErrorUpstreamUnavailable,
				collect.ModuleCertificate,
				"Unable to connect to crt.sh to retrieve certificate history.", nil)),
		},
		&stubCollector{
			module: collect.ModuleRegistration,
			result: collect.Success(collect.ModuleRegistration, []collect.RawItem{registeredItem()}),
		},
	)

	resp, err := o.Analyze(context.Background(), "https://example.com", nil)
	require.NoError(t, err)

	assert.Contains(t, resp.Notices[collect.ModuleCertificate], "Service Unavailable")
	require.Len(t, resp.Timeline, 1, "the failed source contributes a notice, not events")
}
