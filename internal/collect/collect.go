// Package collect defines the contract shared by all evidence collectors:
// the module identifiers, the raw evidence items they emit, and the tagged
// Result union that keeps upstream failures structured instead of raising
// them past the collector boundary.
package collect

import (
	"context"
	"fmt"
	"time"
)

// Module identifies one evidence source.
type Module string

const (
	ModuleRegistration Module = "registration"
	ModuleCertificate  Module = "certificate"
	ModuleHeaders      Module = "headers"
)

// AllModules returns every module in aggregation order.
func AllModules() []Module {
	return []Module{ModuleRegistration, ModuleCertificate, ModuleHeaders}
}

// ParseModule validates a client-supplied module name.
func ParseModule(s string) (Module, error) {
	switch Module(s) {
	case ModuleRegistration, ModuleCertificate, ModuleHeaders:
		return Module(s), nil
	}
	return "", fmt.Errorf("unknown module %q", s)
}

// ItemKind is the public event-type string for one raw item. The values are
// part of the wire format consumed by exports and must not change.
type ItemKind string

const (
	KindRegistered  ItemKind = "Registered"
	KindUpdated     ItemKind = "Updated"
	KindCertificate ItemKind = "SSL Certificate"
	KindFavicon     ItemKind = "favicon"
	KindImage       ItemKind = "image"
)

// Display timestamp layouts shared between collectors and the normalizer.
// Date-time values additionally carry a trailing " UTC" marker.
const (
	LayoutDate     = "02-01-2006"
	LayoutDateTime = "02-01-2006 15:04:05"
)

// FormatInstant renders a UTC instant in the canonical date-time display
// shape, e.g. "14-08-1995 00:00:00 UTC".
func FormatInstant(t time.Time) string {
	return t.UTC().Format(LayoutDateTime) + " UTC"
}

// FormatDate renders date-only evidence, e.g. "14-08-1995".
func FormatDate(t time.Time) string {
	return t.UTC().Format(LayoutDate)
}

// RawItem is one source-specific fact. Instant is set when the collector
// already holds a parsed timestamp; otherwise the normalizer parses
// DisplayTime and drops the item if it cannot.
type RawItem struct {
	Kind        ItemKind
	URL         string
	DisplayTime string
	Instant     *time.Time
	Detail      map[string]string
}

// Status tags a collector Result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNotice  Status = "notice"
	StatusError   Status = "error"
)

// Result is the tagged union every collector settles with. Exactly one of
// Items, Notice, or Err is meaningful depending on Status; the constructors
// below keep the union consistent.
type Result struct {
	Module Module
	Status Status
	Items  []RawItem
	Notice string
	Err    *Error
}

// Success wraps collected items. An empty item slice is a valid success; the
// normalizer turns it into a notice downstream.
func Success(m Module, items []RawItem) Result {
	return Result{Module: m, Status: StatusSuccess, Items: items}
}

// NoticeOf reports a benign nothing-found outcome.
func NoticeOf(m Module, message string) Result {
	return Result{Module: m, Status: StatusNotice, Notice: message}
}

// Failure wraps a structured collector error.
func Failure(err *Error) Result {
	return Result{Module: err.Module, Status: StatusError, Err: err}
}

// Target is the per-request input shared by all collectors.
type Target struct {
	// URL is the full target as submitted, with scheme.
	URL string
	// Domain is the registrable domain extracted from URL.
	Domain string
}

// Collector is the interface the orchestrator fans out over.
type Collector interface {
	Module() Module
	// Collect never returns a raw error; all failure modes degrade into the
	// Result union.
	Collect(ctx context.Context, target Target) Result
}
