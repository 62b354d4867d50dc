// Package headers harvests Last-Modified timestamps from the media resources
// of a rendered page. Discovery runs in a headless browser session so
// script-injected images are seen; a static-HTML fallback covers the case
// where no session can be had. Resources without a usable header are
// silently excluded: absence is expected, not an error.
package headers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"urldater/internal/browser"
	"urldater/internal/collect"
	"urldater/internal/platform/metrics"
)

// Session is the slice of a browser session the harvester needs.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	MediaResources(ctx context.Context) ([]browser.Resource, error)
	Close()
}

// SessionSource hands out browser sessions.
type SessionSource interface {
	Acquire(ctx context.Context) (Session, error)
}

// PoolSource adapts the concrete browser pool to the SessionSource seam.
type PoolSource struct {
	Pool *browser.Pool
}

func (p PoolSource) Acquire(ctx context.Context) (Session, error) {
	return p.Pool.Acquire(ctx)
}

// Config controls harvesting behavior.
type Config struct {
	// NavigateTimeout bounds the page load inside the browser.
	NavigateTimeout time.Duration
	// FetchTimeout bounds each per-resource header probe.
	FetchTimeout time.Duration
	// HarvestDeadline bounds the whole harvest; resources still pending when
	// it expires are abandoned, results gathered so far are kept.
	HarvestDeadline time.Duration
	// Parallelism bounds concurrent header probes.
	Parallelism int
}

func (c Config) withDefaults() Config {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 15 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.HarvestDeadline <= 0 {
		c.HarvestDeadline = 30 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 8
	}
	return c
}

// Collector implements collect.Collector for the headers module.
type Collector struct {
	cfg      Config
	sessions SessionSource
	client   *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option customizes the collector.
type Option func(*Collector)

// WithHTTPClient swaps the client used for probes and static discovery.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Collector) {
		c.client = client
	}
}

// WithMetrics enables resource-count instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// New creates a header harvester. sessions may be nil, in which case only
// the static discovery path runs.
func New(sessions SessionSource, cfg Config, logger *slog.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		client: &http.Client{
			Timeout: cfg.withDefaults().FetchTimeout,
		},
		logger: logger.With("collector", collect.ModuleHeaders),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) Module() collect.Module {
	return collect.ModuleHeaders
}

// Collect renders the target page, enumerates its media resources and probes
// each for a Last-Modified header.
func (c *Collector) Collect(ctx context.Context, target collect.Target) collect.Result {
	harvestCtx, cancel := context.WithTimeout(ctx, c.cfg.HarvestDeadline)
	defer cancel()

	found, err := c.discover(harvestCtx, target.URL)
	if err != nil {
		return c.degrade(harvestCtx, target, err)
	}

	resources := prepareResources(target.URL, found)
	if len(resources) == 0 {
		return collect.NoticeOf(collect.ModuleHeaders,
			"No images or icons were found on the page to check for modification dates.")
	}

	items := c.fetchAll(harvestCtx, resources)
	c.metrics.AddResourceCounts(len(resources), len(items))
	c.logger.Info("harvest finished",
		"url", target.URL,
		"discovered", len(resources),
		"reported", len(items))

	if len(items) == 0 {
		return collect.NoticeOf(collect.ModuleHeaders, fmt.Sprintf(
			"Checked %d resources but none reported a Last-Modified header.", len(resources)))
	}
	return collect.Success(collect.ModuleHeaders, items)
}

// discover returns the raw resource list for the page. The browser path is
// preferred; acquisition or navigation trouble degrades to static parsing
// before giving up.
func (c *Collector) discover(ctx context.Context, pageURL string) ([]browser.Resource, error) {
	if c.sessions == nil {
		return discoverStatic(ctx, c.client, pageURL)
	}

	session, err := c.sessions.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("browser session unavailable, falling back to static discovery", "error", err)
		return discoverStatic(ctx, c.client, pageURL)
	}
	defer session.Close()

	if err := session.Navigate(ctx, pageURL, c.cfg.NavigateTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("navigation failed, falling back to static discovery",
			"url", pageURL, "error", err)
		if found, ferr := discoverStatic(ctx, c.client, pageURL); ferr == nil {
			return found, nil
		}
		return nil, err
	}

	return session.MediaResources(ctx)
}

// fetchAll probes resources with bounded parallelism and keeps whatever
// settled before ctx expired. Order of results is deterministic: favicons
// first, then by URL.
func (c *Collector) fetchAll(ctx context.Context, resources []browser.Resource) []collect.RawItem {
	var (
		mu    sync.Mutex
		items []collect.RawItem
	)

	g := &errgroup.Group{}
	g.SetLimit(c.cfg.Parallelism)

	for _, r := range resources {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			ts := probe(ctx, c.client, r.URL, c.cfg.FetchTimeout)
			if ts == nil {
				return nil
			}
			item := collect.RawItem{
				Kind:        itemKind(r.Role),
				URL:         r.URL,
				DisplayTime: collect.FormatInstant(*ts),
				Instant:     ts,
			}
			mu.Lock()
			items = append(items, item)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Kind != items[j].Kind {
			return items[i].Kind == collect.KindFavicon
		}
		return items[i].URL < items[j].URL
	})
	return items
}

func itemKind(role browser.Role) collect.ItemKind {
	if role == browser.RoleFavicon {
		return collect.KindFavicon
	}
	return collect.KindImage
}

func (c *Collector) degrade(ctx context.Context, target collect.Target, err error) collect.Result {
	c.logger.Warn("harvest failed", "url", target.URL, "error", err)

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return collect.Failure(collect.NewError(collect.ErrorUpstreamTimeout, collect.ModuleHeaders,
			"The page took too long to load.", err))
	}
	return collect.Failure(collect.NewError(collect.ErrorNavigationFailure, collect.ModuleHeaders,
		fmt.Sprintf("Unable to load %s to inspect its resources.", target.URL), err))
}
