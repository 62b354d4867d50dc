// Package certificate collects first-issuance evidence from the crt.sh
// certificate transparency aggregator. Some domains have tens of thousands
// of logged certificates, so entries are stream-scanned under a hard cap
// instead of materialized.
package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"urldater/internal/collect"
)

const unavailableMessage = "Unable to connect to crt.sh to retrieve certificate history. The site may be offline."

// Detail keys carried on certificate items. They double as export column
// headers, so the capitalization is part of the output contract.
const (
	DetailCommonName = "Common Name"
	DetailFirstSeen  = "First Seen"
	DetailValidFrom  = "Valid From"
	DetailSource     = "Source"
)

// logEntry mirrors one element of the crt.sh JSON array.
type logEntry struct {
	ID         int64  `json:"id"`
	LoggedAt   string `json:"entry_timestamp"`
	NotBefore  string `json:"not_before"`
	CommonName string `json:"common_name"`
}

// Config bounds the collector. Zero values are replaced with defaults.
type Config struct {
	// Timeout bounds a single query attempt.
	Timeout time.Duration
	// RetryWait is the pause before the single retry.
	RetryWait time.Duration
	// MaxEntries caps how many log entries one query scans.
	MaxEntries int
	// RatePerSec throttles queries across requests; crt.sh bans aggressive
	// clients.
	RatePerSec float64
	// BaseURL overrides the crt.sh endpoint, used by tests.
	BaseURL string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 2 * time.Second
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 5000
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://crt.sh"
	}
	return c
}

// Collector queries the certificate transparency aggregator for the
// earliest certificate logged for a domain and its subdomains.
type Collector struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New constructs the certificate collector.
func New(cfg Config, logger *slog.Logger) *Collector {
	cfg = cfg.withDefaults()
	return &Collector{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		logger:  logger,
	}
}

func (c *Collector) Module() collect.Module {
	return collect.ModuleCertificate
}

// Collect runs one bounded attempt plus a single retry with a short
// backoff. Continued upstream failure degrades to a Service Unavailable
// error rather than blocking the whole request.
func (c *Collector) Collect(ctx context.Context, target collect.Target) collect.Result {
	if err := c.limiter.Wait(ctx); err != nil {
		return collect.Failure(collect.NewError(collect.ErrorUpstreamTimeout, collect.ModuleCertificate,
			"The certificate log query was cancelled before it could run.", err))
	}

	var item *collect.RawItem
	op := func() error {
		found, err := c.query(ctx, target.Domain)
		if err != nil {
			return err
		}
		item = found
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryWait), 1)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return c.degrade(ctx, target.Domain, err)
	}

	if item == nil {
		return collect.Success(collect.ModuleCertificate, nil)
	}
	return collect.Success(collect.ModuleCertificate, []collect.RawItem{*item})
}

// query scans the crt.sh JSON stream for the minimum parseable not_before
// timestamp, visiting at most MaxEntries entries.
func (c *Collector) query(ctx context.Context, domain string) (*collect.RawItem, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	queryURL := fmt.Sprintf("%s/?q=%s&output=json", c.cfg.BaseURL, url.QueryEscape(domain))
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(errNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("crt.sh returned %s", resp.Status)
	default:
		return nil, backoff.Permanent(fmt.Errorf("crt.sh returned %s", resp.Status))
	}

	dec := json.NewDecoder(resp.Body)
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("malformed crt.sh response: %w", err)
	}

	var (
		earliest    time.Time
		earliestHit *logEntry
		scanned     int
	)
	for dec.More() && scanned < c.cfg.MaxEntries {
		var entry logEntry
		if err := dec.Decode(&entry); err != nil {
			// A truncated stream still yields whatever we saw before it.
			c.logger.WarnContext(ctx, "crt.sh stream decode stopped early",
				"domain", domain, "scanned", scanned, "error", err.Error())
			break
		}
		scanned++

		notBefore, ok := parseLogTime(entry.NotBefore)
		if !ok {
			continue
		}
		if earliestHit == nil || notBefore.Before(earliest) {
			earliest = notBefore
			hit := entry
			earliestHit = &hit
		}
	}

	if earliestHit == nil {
		return nil, nil
	}

	c.logger.DebugContext(ctx, "certificate scan complete",
		"domain", domain, "scanned", scanned, "first_issuance", earliest)

	item := itemFromEntry(*earliestHit, earliest)
	return &item, nil
}

var errNotFound = errors.New("no certificates logged")

func (c *Collector) degrade(ctx context.Context, domain string, err error) collect.Result {
	if errors.Is(err, errNotFound) {
		return collect.Success(collect.ModuleCertificate, nil)
	}

	kind := collect.ErrorUpstreamUnavailable
	message := unavailableMessage
	if errors.Is(err, context.DeadlineExceeded) {
		kind = collect.ErrorUpstreamTimeout
		message = "Unable to retrieve certificate data. The crt.sh website is responding too slowly."
	}

	c.logger.WarnContext(ctx, "certificate lookup failed",
		"domain", domain, "kind", string(kind), "error", err.Error())
	return collect.Failure(collect.NewError(kind, collect.ModuleCertificate, message, err))
}

func itemFromEntry(entry logEntry, notBefore time.Time) collect.RawItem {
	detail := map[string]string{
		DetailCommonName: entry.CommonName,
		DetailValidFrom:  collect.FormatDate(notBefore),
		DetailSource:     fmt.Sprintf("https://crt.sh/?id=%d", entry.ID),
	}
	if loggedAt, ok := parseLogTime(entry.LoggedAt); ok {
		detail[DetailFirstSeen] = collect.FormatDate(loggedAt)
	}

	return collect.RawItem{
		Kind:        collect.KindCertificate,
		URL:         detail[DetailSource],
		DisplayTime: collect.FormatDate(notBefore),
		Instant:     &notBefore,
		Detail:      detail,
	}
}

// parseLogTime handles the timestamp shapes crt.sh emits, with or without
// fractional seconds or a zone marker.
func parseLogTime(s string) (time.Time, bool) {
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		time.RFC3339,
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
