// Package timeline holds the canonical event model: the UTC-ordered,
// deduplicated Timeline value that every consumer of an analysis reads, and
// the pure normalizer that builds it from raw collector output.
package timeline

import (
	"sort"
	"time"

	"urldater/internal/collect"
)

// Group classifies events by evidence source.
type Group string

const (
	GroupRegistration Group = "Registration"
	GroupCertificate  Group = "Certificate"
	GroupHeader       Group = "Header"
)

// precedence orders groups for timestamp ties: registration evidence sorts
// before certificate evidence, which sorts before header evidence.
func (g Group) precedence() int {
	switch g {
	case GroupRegistration:
		return 0
	case GroupCertificate:
		return 1
	case GroupHeader:
		return 2
	default:
		return 3
	}
}

// GroupFor maps a collector module to its event group.
func GroupFor(m collect.Module) Group {
	switch m {
	case collect.ModuleRegistration:
		return GroupRegistration
	case collect.ModuleCertificate:
		return GroupCertificate
	case collect.ModuleHeaders:
		return GroupHeader
	default:
		return ""
	}
}

// Event is the normalized, UTC-timestamped unit merged into the Timeline.
// Every event carries a valid instant; items whose timestamp cannot be
// parsed never become events.
type Event struct {
	Group     Group             `json:"group"`
	Type      collect.ItemKind  `json:"type"`
	URL       string            `json:"url,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Display   string            `json:"display_time"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Timeline is an ordered, deduplicated sequence of events, ascending by
// timestamp with ties broken by group precedence then URL. It is a pure
// value: rebuilding it from the same inputs yields identical output.
type Timeline []Event

// Filter returns the events whose group is visible. It is a non-mutating
// projection; the receiver is never modified.
func (tl Timeline) Filter(visible map[Group]bool) Timeline {
	out := make(Timeline, 0, len(tl))
	for _, ev := range tl {
		if visible[ev.Group] {
			out = append(out, ev)
		}
	}
	return out
}

func (tl Timeline) sort() {
	sort.SliceStable(tl, func(i, j int) bool {
		a, b := tl[i], tl[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Group != b.Group {
			return a.Group.precedence() < b.Group.precedence()
		}
		return a.URL < b.URL
	})
}
