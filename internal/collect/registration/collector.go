// Package registration collects domain lifecycle evidence over RDAP, the
// structured successor to WHOIS. The registration authority for the TLD is
// resolved through the IANA bootstrap registry.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openrdap/rdap"

	"urldater/internal/collect"
)

const (
	actionRegistered  = "registration"
	actionLastChanged = "last changed"
)

// Client is the seam over the RDAP wire so tests can fake responses.
type Client interface {
	QueryDomain(ctx context.Context, domain string) (*rdap.Domain, error)
}

type rdapClient struct {
	inner *rdap.Client
}

func (c rdapClient) QueryDomain(ctx context.Context, domain string) (*rdap.Domain, error) {
	req := &rdap.Request{
		Type:  rdap.DomainRequest,
		Query: domain,
	}

	resp, err := c.inner.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	d, ok := resp.Object.(*rdap.Domain)
	if !ok {
		return nil, errors.New("rdap response is not a domain object")
	}
	return d, nil
}

// Collector queries the domain's registration authority for lifecycle
// events and keeps at most the first-registration and last-update ones.
type Collector struct {
	client  Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithClient replaces the RDAP client, used by tests.
func WithClient(c Client) Option {
	return func(col *Collector) {
		col.client = c
	}
}

// New constructs the registration collector.
func New(timeout time.Duration, logger *slog.Logger, opts ...Option) *Collector {
	col := &Collector{
		client:  rdapClient{inner: &rdap.Client{}},
		timeout: timeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(col)
	}
	return col
}

func (c *Collector) Module() collect.Module {
	return collect.ModuleRegistration
}

// Collect queries RDAP for the target's registrable domain. Unsupported
// TLDs, unreachable authorities, and timeouts all degrade into a structured
// result; partial responses still yield whatever events parse.
func (c *Collector) Collect(ctx context.Context, target collect.Target) collect.Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	domain, err := c.client.QueryDomain(ctx, target.Domain)
	if err != nil {
		return c.degrade(ctx, target.Domain, err)
	}

	sourceURL := rdapSourceURL(domain, target.Domain)
	items := lifecycleItems(domain, sourceURL)

	c.logger.DebugContext(ctx, "rdap lookup complete",
		"domain", target.Domain,
		"events", len(domain.Events),
		"items", len(items),
	)
	return collect.Success(collect.ModuleRegistration, items)
}

func (c *Collector) degrade(ctx context.Context, domain string, err error) collect.Result {
	kind := classify(ctx, err)

	if kind == collect.ErrorNoDataFound {
		return collect.NoticeOf(collect.ModuleRegistration,
			fmt.Sprintf("No registration record exists for %s.", domain))
	}

	c.logger.WarnContext(ctx, "rdap lookup failed",
		"domain", domain,
		"kind", string(kind),
		"error", err.Error(),
	)

	var message string
	switch kind {
	case collect.ErrorUnsupportedRegistry:
		message = fmt.Sprintf("No registration authority is known for the %q top-level domain.", tld(domain))
	case collect.ErrorUpstreamTimeout:
		message = "The registration authority did not respond in time."
	default:
		message = "Unable to reach the registration authority for this domain."
	}
	return collect.Failure(collect.NewError(kind, collect.ModuleRegistration, message, err))
}

// classify maps RDAP client failures onto the collector taxonomy. The
// openrdap client reports bootstrap and lookup failures as text, so the
// mapping keys off well-known fragments.
func classify(ctx context.Context, err error) collect.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return collect.ErrorUpstreamTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no rdap servers"), strings.Contains(msg, "bootstrap"):
		return collect.ErrorUnsupportedRegistry
	case strings.Contains(msg, "object does not exist"), strings.Contains(msg, "404"):
		return collect.ErrorNoDataFound
	default:
		return collect.ErrorUpstreamUnavailable
	}
}

// lifecycleItems extracts at most one Registered and one Updated item from
// the authority's event list. Events with unparseable dates are skipped so a
// partially malformed response still yields its usable events.
func lifecycleItems(domain *rdap.Domain, sourceURL string) []collect.RawItem {
	var items []collect.RawItem
	haveRegistered := false
	haveUpdated := false

	for _, event := range domain.Events {
		if event.Action == "" || event.Date == "" {
			continue
		}

		var kind collect.ItemKind
		switch event.Action {
		case actionRegistered:
			if haveRegistered {
				continue
			}
			kind = collect.KindRegistered
		case actionLastChanged:
			if haveUpdated {
				continue
			}
			kind = collect.KindUpdated
		default:
			continue
		}

		instant, ok := parseEventDate(event.Date)
		if !ok {
			continue
		}

		items = append(items, collect.RawItem{
			Kind:        kind,
			URL:         sourceURL,
			DisplayTime: collect.FormatInstant(instant),
			Instant:     &instant,
		})

		switch kind {
		case collect.KindRegistered:
			haveRegistered = true
		case collect.KindUpdated:
			haveUpdated = true
		}
	}

	return items
}

// parseEventDate accepts the RFC 3339 shapes registries actually emit,
// including fractional seconds and missing zone designators.
func parseEventDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		if t, err := time.Parse(time.RFC3339, s[:i]+"Z"); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// rdapSourceURL prefers the authority's own related-link deep link, falling
// back to the rdap.org aggregator.
func rdapSourceURL(domain *rdap.Domain, name string) string {
	for _, link := range domain.Links {
		if link.Rel == "related" && link.Type == "application/rdap+json" {
			if link.Value != "" {
				return link.Value
			}
			if link.Href != "" {
				return link.Href
			}
		}
	}
	return "https://rdap.org/domain/" + name
}

func tld(domain string) string {
	if i := strings.LastIndexByte(domain, '.'); i >= 0 {
		return domain[i+1:]
	}
	return domain
}
