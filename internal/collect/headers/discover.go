package headers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"urldater/internal/browser"
)

// imageExtensions are the only resource suffixes worth probing. Anything
// else on the page (scripts, stylesheets, fonts) rarely carries a meaningful
// Last-Modified and inflates the fetch pool for nothing.
var imageExtensions = map[string]struct{}{
	".ico":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".svg":  {},
	".webp": {},
	".bmp":  {},
}

// prepareResources resolves, filters and dedupes raw discoveries against the
// page URL. Favicon role wins when the same URL appears under both roles.
// The well-known /favicon.ico location is always probed even when the page
// does not declare an icon link.
func prepareResources(pageURL string, found []browser.Resource) []browser.Resource {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	hasFavicon := false
	for _, r := range found {
		if r.Role == browser.RoleFavicon {
			hasFavicon = true
			break
		}
	}
	if !hasFavicon {
		found = append(found, browser.Resource{
			URL:  base.ResolveReference(&url.URL{Path: "/favicon.ico"}).String(),
			Role: browser.RoleFavicon,
		})
	}

	seen := make(map[string]int)
	out := make([]browser.Resource, 0, len(found))
	for _, r := range found {
		abs, ok := resolveResource(base, r.URL)
		if !ok {
			continue
		}
		if r.Role != browser.RoleFavicon && !hasImageExtension(abs) {
			continue
		}
		if i, dup := seen[abs]; dup {
			// Favicon tagging wins over image for the same URL.
			if r.Role == browser.RoleFavicon {
				out[i].Role = browser.RoleFavicon
			}
			continue
		}
		seen[abs] = len(out)
		out = append(out, browser.Resource{URL: abs, Role: r.Role})
	}
	return out
}

func resolveResource(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	// Inline data URLs have no server-side headers to probe.
	if strings.HasPrefix(raw, "data:") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

func hasImageExtension(resource string) bool {
	u, err := url.Parse(resource)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, ok := imageExtensions[ext]
	return ok
}

// discoverStatic is the degraded discovery path used when no browser session
// is available: a plain GET plus static HTML parsing. It misses resources
// injected by scripts but still finds declared icons and images.
func discoverStatic(ctx context.Context, client *http.Client, pageURL string) ([]browser.Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building page request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetching page: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}

	var found []browser.Resource
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			found = append(found, browser.Resource{URL: src, Role: browser.RoleImage})
		}
	})
	doc.Find("link[rel*='icon']").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			found = append(found, browser.Resource{URL: href, Role: browser.RoleFavicon})
		}
	})
	return found, nil
}
