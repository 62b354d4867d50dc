// Package export renders analysis timelines as downloadable CSV files, one
// per evidence group, plus a zip archive bundling all of them. Column sets
// differ per group because the evidence shapes differ; the row order is the
// timeline's canonical order.
package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"urldater/internal/collect/certificate"
	"urldater/internal/timeline"
)

// Kind names one export flavor.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindCertificate  Kind = "certificate"
	KindHeaders      Kind = "headers"
	KindAll          Kind = "all"
)

// ParseKind validates a client-supplied export kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindRegistration, KindCertificate, KindHeaders, KindAll:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown export kind %q", s)
}

// File is one rendered export artifact.
type File struct {
	Name        string
	ContentType string
	Body        []byte
}

// Render produces the artifact for kind from a finished analysis. The single
// CSV kinds render even when the group has no events; the header row alone
// documents the empty result.
func Render(kind Kind, domain string, tl timeline.Timeline, generatedAt time.Time) (*File, error) {
	switch kind {
	case KindRegistration, KindCertificate, KindHeaders:
		body, err := renderCSV(kind, tl)
		if err != nil {
			return nil, err
		}
		return &File{
			Name:        fileName(domain, generatedAt, kind) + ".csv",
			ContentType: "text/csv",
			Body:        body,
		}, nil
	case KindAll:
		body, err := renderZip(domain, tl, generatedAt)
		if err != nil {
			return nil, err
		}
		return &File{
			Name:        fileName(domain, generatedAt, KindAll) + ".zip",
			ContentType: "application/zip",
			Body:        body,
		}, nil
	}
	return nil, fmt.Errorf("unknown export kind %q", kind)
}

var groupForKind = map[Kind]timeline.Group{
	KindRegistration: timeline.GroupRegistration,
	KindCertificate:  timeline.GroupCertificate,
	KindHeaders:      timeline.GroupHeader,
}

func renderCSV(kind Kind, tl timeline.Timeline) ([]byte, error) {
	events := tl.Filter(map[timeline.Group]bool{groupForKind[kind]: true})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(columns(kind)); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	for _, ev := range events {
		if err := w.Write(row(kind, ev)); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Certificate columns are the collector's detail keys verbatim; the other
// groups share the generic {type, url, time} shape.
func columns(kind Kind) []string {
	switch kind {
	case KindCertificate:
		return []string{"type", certificate.DetailCommonName, certificate.DetailFirstSeen,
			certificate.DetailValidFrom, certificate.DetailSource}
	case KindHeaders:
		return []string{"type", "url", "last_modified"}
	default:
		return []string{"type", "url", "time"}
	}
}

func row(kind Kind, ev timeline.Event) []string {
	switch kind {
	case KindCertificate:
		source := ev.Detail[certificate.DetailSource]
		if source == "" {
			source = ev.URL
		}
		return []string{
			string(ev.Type),
			ev.Detail[certificate.DetailCommonName],
			ev.Detail[certificate.DetailFirstSeen],
			ev.Detail[certificate.DetailValidFrom],
			source,
		}
	case KindHeaders:
		return []string{string(ev.Type), ev.URL, ev.Display}
	default:
		return []string{string(ev.Type), ev.URL, ev.Display}
	}
}

func renderZip(domain string, tl timeline.Timeline, generatedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, kind := range []Kind{KindRegistration, KindCertificate, KindHeaders} {
		body, err := renderCSV(kind, tl)
		if err != nil {
			zw.Close()
			return nil, err
		}
		f, err := zw.Create(fileName(domain, generatedAt, kind) + ".csv")
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("adding %s to archive: %w", kind, err)
		}
		if _, err := f.Write(body); err != nil {
			zw.Close()
			return nil, fmt.Errorf("writing %s to archive: %w", kind, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return buf.Bytes(), nil
}

// fileName builds "<domain_with_underscores>_<DDMMYYYY>_<kind>",
// e.g. "example_com_14082024_certificate".
func fileName(domain string, generatedAt time.Time, kind Kind) string {
	flat := strings.ReplaceAll(domain, ".", "_")
	return fmt.Sprintf("%s_%s_%s", flat, generatedAt.UTC().Format("02012006"), kind)
}
