package headers

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// probe asks a single resource for its Last-Modified timestamp. HEAD goes
// first; some origins strip caching headers from HEAD responses, so a
// one-byte ranged GET follows before giving up. A nil result means the
// resource carries no usable timestamp, which is expected and not an error.
func probe(ctx context.Context, client *http.Client, resource string, timeout time.Duration) *time.Time {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if ts := probeOnce(fetchCtx, client, http.MethodHead, resource); ts != nil {
		return ts
	}
	return probeOnce(fetchCtx, client, http.MethodGet, resource)
}

func probeOnce(ctx context.Context, client *http.Client, method, resource string) *time.Time {
	req, err := http.NewRequestWithContext(ctx, method, resource, nil)
	if err != nil {
		return nil
	}
	if method == http.MethodGet {
		// Headers are all we want; never pull the body down.
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil
	}
	// An HTML answer for an image URL is an error page or a soft 404.
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/html") {
		return nil
	}

	value := resp.Header.Get("Last-Modified")
	if value == "" {
		value = resp.Header.Get("X-Last-Modified")
	}
	if value == "" {
		return nil
	}
	ts, err := http.ParseTime(value)
	if err != nil {
		return nil
	}
	ts = ts.UTC()
	return &ts
}
