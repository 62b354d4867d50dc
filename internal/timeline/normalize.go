package timeline

import (
	"fmt"
	"strings"
	"time"

	"urldater/internal/collect"
)

// Default guidance shown when a module legitimately finds nothing, so
// consumers can tell "nothing found" from "silently broken".
var emptyGuidance = map[collect.Module]string{
	collect.ModuleRegistration: "No registration events were found for this domain.",
	collect.ModuleCertificate:  "No certificate transparency records were found for this domain.",
	collect.ModuleHeaders:      "No images or icons with Last-Modified headers were found on the page.",
}

// Normalize builds the canonical Timeline from a bundle of raw collector
// results. It is pure and deterministic: identical input produces an
// identical timeline, item by item. Items whose timestamp cannot be parsed
// are dropped individually; a requested module that contributes no valid
// event gets an explanatory notice instead of silence.
func Normalize(bundle *collect.Bundle) (Timeline, map[collect.Module]string) {
	tl := make(Timeline, 0)
	notices := make(map[collect.Module]string, len(bundle.Requested))

	for _, module := range bundle.Requested {
		result, ok := bundle.Results[module]
		if !ok {
			notices[module] = emptyGuidance[module]
			continue
		}

		switch result.Status {
		case collect.StatusSuccess:
			added := 0
			for _, item := range result.Items {
				ev, ok := eventFromItem(module, item)
				if !ok {
					continue
				}
				tl = append(tl, ev)
				added++
			}
			if added == 0 {
				notices[module] = emptyGuidance[module]
			}

		case collect.StatusNotice:
			notices[module] = result.Notice

		case collect.StatusError:
			notices[module] = fmt.Sprintf("%s: %s", collect.StatusText(result.Err.Kind), result.Err.Message)
		}
	}

	tl.sort()
	return dedupe(tl), notices
}

func eventFromItem(module collect.Module, item collect.RawItem) (Event, bool) {
	var instant time.Time
	switch {
	case item.Instant != nil:
		instant = item.Instant.UTC()
	default:
		parsed, ok := ParseDisplay(item.DisplayTime)
		if !ok {
			return Event{}, false
		}
		instant = parsed
	}

	display := item.DisplayTime
	if display == "" {
		display = collect.FormatInstant(instant)
	}

	return Event{
		Group:     GroupFor(module),
		Type:      item.Kind,
		URL:       item.URL,
		Timestamp: instant,
		Display:   display,
		Detail:    copyDetail(item.Detail),
	}, true
}

// ParseDisplay parses the known display timestamp shapes: DD-MM-YYYY and
// DD-MM-YYYY HH:MM:SS, each with an optional trailing UTC or Z marker. Any
// other shape is rejected.
func ParseDisplay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, " UTC")
	s = strings.TrimSuffix(s, " Z")
	s = strings.TrimSuffix(s, "Z")

	for _, layout := range []string{collect.LayoutDateTime, collect.LayoutDate} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dedupe removes events identical in group, type, URL, and instant. Input
// must already be sorted so the first occurrence kept is deterministic.
func dedupe(tl Timeline) Timeline {
	seen := make(map[string]struct{}, len(tl))
	out := make(Timeline, 0, len(tl))
	for _, ev := range tl {
		key := fmt.Sprintf("%s|%s|%s|%d", ev.Group, ev.Type, ev.URL, ev.Timestamp.UnixNano())
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}

func copyDetail(detail map[string]string) map[string]string {
	if len(detail) == 0 {
		return nil
	}
	out := make(map[string]string, len(detail))
	for k, v := range detail {
		out[k] = v
	}
	return out
}
