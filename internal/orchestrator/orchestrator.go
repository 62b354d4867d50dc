// Package orchestrator fans a target out to every evidence collector in
// parallel, enforces the master deadline, and fuses the settled results into
// a canonical timeline. One slow or crashing collector never takes the
// analysis down: its slot degrades to a structured error instead.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"urldater/internal/collect"
	"urldater/internal/domainutil"
	"urldater/internal/platform/metrics"
	"urldater/internal/timeline"
)

// Config controls orchestration.
type Config struct {
	// MasterDeadline bounds the whole fan-out. Collectors still pending when
	// it expires settle as timeout errors; finished slots are kept as-is.
	MasterDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.MasterDeadline <= 0 {
		c.MasterDeadline = 60 * time.Second
	}
	return c
}

// Response is the complete analysis outcome for one target.
type Response struct {
	// URL is the normalized target URL.
	URL string `json:"url"`
	// Domain is the registrable domain evidence was gathered for.
	Domain string `json:"domain"`
	// Timeline holds every fused event in canonical order.
	Timeline timeline.Timeline `json:"timeline"`
	// Notices carries per-module guidance for slots that produced no events.
	Notices map[collect.Module]string `json:"notices,omitempty"`
	// Statuses reports each module's terminal status.
	Statuses map[collect.Module]collect.Status `json:"statuses"`
	// GeneratedAt is when the analysis finished, UTC.
	GeneratedAt time.Time `json:"generated_at"`
}

// Orchestrator runs analyses. Construct with New.
type Orchestrator struct {
	cfg        Config
	collectors []collect.Collector
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New wires the orchestrator. Collectors run in the order given; their
// modules must be distinct.
func New(collectors []collect.Collector, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if len(collectors) == 0 {
		return nil, fmt.Errorf("orchestrator: at least one collector is required")
	}
	seen := make(map[collect.Module]bool, len(collectors))
	for _, c := range collectors {
		if seen[c.Module()] {
			return nil, fmt.Errorf("orchestrator: duplicate collector for module %q", c.Module())
		}
		seen[c.Module()] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		collectors: collectors,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Analyze normalizes the raw URL, fans out to the requested collectors
// bounded by the master deadline, and fuses whatever settled into a
// timeline. An empty module set means all collectors. It returns an error
// only when the target or the module set is unusable.
func (o *Orchestrator) Analyze(ctx context.Context, rawURL string, modules []collect.Module) (*Response, error) {
	target, err := resolveTarget(rawURL)
	if err != nil {
		return nil, err
	}
	selected, err := o.selectCollectors(modules)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	bundle := o.gather(ctx, target, selected)
	tl, notices := timeline.Normalize(bundle)
	o.metrics.ObserveAnalyze(time.Since(start))

	statuses := make(map[collect.Module]collect.Status, len(bundle.Results))
	for m, r := range bundle.Results {
		statuses[m] = r.Status
	}

	o.logger.Info("analysis finished",
		"url", target.URL,
		"domain", target.Domain,
		"events", len(tl),
		"duration", time.Since(start))

	return &Response{
		URL:         target.URL,
		Domain:      target.Domain,
		Timeline:    tl,
		Notices:     notices,
		Statuses:    statuses,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func resolveTarget(rawURL string) (collect.Target, error) {
	normalized, err := domainutil.NormalizeURL(rawURL)
	if err != nil {
		return collect.Target{}, fmt.Errorf("invalid target: %w", err)
	}
	domain, err := domainutil.Registrable(normalized)
	if err != nil {
		return collect.Target{}, fmt.Errorf("invalid target: %w", err)
	}
	return collect.Target{URL: normalized, Domain: domain}, nil
}

// selectCollectors resolves the requested module set to collectors in
// registration order. Empty means everything; duplicates collapse.
func (o *Orchestrator) selectCollectors(modules []collect.Module) ([]collect.Collector, error) {
	if len(modules) == 0 {
		return o.collectors, nil
	}

	requested := make(map[collect.Module]bool, len(modules))
	for _, m := range modules {
		if _, err := collect.ParseModule(string(m)); err != nil {
			return nil, fmt.Errorf("invalid module set: %w", err)
		}
		requested[m] = true
	}

	selected := make([]collect.Collector, 0, len(o.collectors))
	for _, c := range o.collectors {
		if requested[c.Module()] {
			selected = append(selected, c)
			delete(requested, c.Module())
		}
	}
	for m := range requested {
		return nil, fmt.Errorf("invalid module set: no collector for module %q", m)
	}
	return selected, nil
}

// gather runs the selected collectors concurrently and settles the bundle
// when all finish or the master deadline expires, whichever comes first.
// Completed slots are never discarded by the deadline.
func (o *Orchestrator) gather(ctx context.Context, target collect.Target, collectors []collect.Collector) *collect.Bundle {
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.MasterDeadline)
	defer cancel()

	modules := make([]collect.Module, 0, len(collectors))
	for _, c := range collectors {
		modules = append(modules, c.Module())
	}
	bundle := collect.NewBundle(target, modules)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range collectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := o.runCollector(runCtx, c, target)
			mu.Lock()
			bundle.Results[c.Module()] = result
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		// Give collectors a moment to observe cancellation and settle with
		// their own degradation; then mark whatever is still pending.
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	snapshot := &collect.Bundle{
		Target:    bundle.Target,
		Requested: bundle.Requested,
		Results:   make(map[collect.Module]collect.Result, len(modules)),
	}
	for m, r := range bundle.Results {
		snapshot.Results[m] = r
	}
	for _, m := range modules {
		if _, ok := snapshot.Results[m]; !ok {
			o.logger.Warn("collector missed the master deadline", "module", m)
			snapshot.Results[m] = collect.Failure(collect.NewError(
				collect.ErrorUpstreamTimeout, m,
				"The source did not respond before the analysis deadline.", runCtx.Err()))
		}
	}
	return snapshot
}

// runCollector shields the fan-out from a crashing collector: a panic
// degrades that slot to an internal error instead of killing the request.
func (o *Orchestrator) runCollector(ctx context.Context, c collect.Collector, target collect.Target) (result collect.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("collector panicked", "module", c.Module(), "panic", r)
			result = collect.Failure(collect.NewError(collect.ErrorInternal, c.Module(),
				"The collector failed unexpectedly.", fmt.Errorf("panic: %v", r)))
		}
		o.metrics.ObserveCollector(string(c.Module()), string(result.Status), time.Since(start))
	}()

	result = c.Collect(ctx, target)

	o.logger.Debug("collector settled",
		"module", c.Module(),
		"status", result.Status,
		"items", len(result.Items),
		"duration", time.Since(start))
	return result
}
