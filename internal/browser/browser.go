// Package browser manages headless Chrome sessions as scarce, scoped
// resources. One allocator backs the whole process; each analysis request
// acquires its own isolated session (fresh browser context, no shared
// cookies or history) and must release it on every exit path.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

// Role tags a discovered media resource by element role. Favicons are
// semantically distinct evidence: they change far less often than content
// images.
type Role string

const (
	RoleFavicon Role = "favicon"
	RoleImage   Role = "image"
)

// Resource is one media element discovered on a rendered page.
type Resource struct {
	URL  string `json:"url"`
	Role Role   `json:"role"`
}

// Config controls the shared allocator and session gating.
type Config struct {
	// MaxSessions bounds concurrently open browser contexts.
	MaxSessions int
	// ChromePath overrides the browser binary location; empty means lookup.
	ChromePath string
	UserAgent  string
}

// Pool owns the exec allocator and gates session acquisition.
type Pool struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	sem         *semaphore.Weighted
}

// NewPool creates the allocator with the same Chrome flags the service has
// always run headless with.
func NewPool(cfg Config) *Pool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 2
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Pool{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		sem:         semaphore.NewWeighted(int64(cfg.MaxSessions)),
	}
}

// Acquire blocks until a session slot frees up or ctx is done. The returned
// session is exclusively owned by the caller until Close.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(p.allocCtx)
	return &Session{
		ctx:    tabCtx,
		cancel: tabCancel,
		release: func() {
			p.sem.Release(1)
		},
	}, nil
}

// Close tears down the allocator and any remaining browser processes.
func (p *Pool) Close() {
	p.allocCancel()
}

// Session is one isolated browser context, good for exactly one navigation
// plus resource enumeration.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

// Navigate loads the URL and waits for the document body, bounded by
// timeout. Cancelling ctx aborts the load early.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// mediaResourcesJS enumerates rendered images and favicon links, tagged by
// element role rather than content sniffing.
const mediaResourcesJS = `(() => {
	const out = [];
	for (const img of Array.from(document.images)) {
		if (img.src) out.push({url: img.src, role: "image"});
	}
	for (const link of Array.from(document.querySelectorAll("link[rel*='icon']"))) {
		if (link.href) out.push({url: link.href, role: "favicon"});
	}
	return out;
})()`

// MediaResources enumerates the rendered page's image and favicon URLs.
func (s *Session) MediaResources(ctx context.Context) ([]Resource, error) {
	runCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var resources []Resource
	if err := chromedp.Run(runCtx, chromedp.Evaluate(mediaResourcesJS, &resources)); err != nil {
		return nil, err
	}
	return resources, nil
}

// Close releases the session on every exit path; safe to call twice.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.release()
	})
}
