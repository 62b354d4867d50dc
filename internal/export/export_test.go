package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urldater/internal/collect"
	"urldater/internal/collect/certificate"
	"urldater/internal/timeline"
)

func sampleTimeline() timeline.Timeline {
	return timeline.Timeline{
		{
			Group:     timeline.GroupRegistration,
			Type:      collect.KindRegistered,
			URL:       "https://rdap.org/domain/example.com",
			Timestamp: time.Date(1995, 8, 14, 0, 0, 0, 0, time.UTC),
			Display:   "14-08-1995 00:00:00 UTC",
		},
		{
			Group:     timeline.GroupCertificate,
			Type:      collect.KindCertificate,
			URL:       "https://crt.sh/?id=42",
			Timestamp: time.Date(2014, 3, 2, 0, 0, 0, 0, time.UTC),
			Display:   "02-03-2014",
			Detail: map[string]string{
				"Common Name": "example.com",
				"First Seen":  "02-03-2014",
				"Valid From":  "02-03-2014",
			},
		},
		{
			Group:     timeline.GroupHeader,
			Type:      collect.KindFavicon,
			URL:       "https://example.com/favicon.ico",
			Timestamp: time.Date(2020, 1, 6, 10, 0, 0, 0, time.UTC),
			Display:   "06-01-2020 10:00:00 UTC",
		},
	}
}

func parseCSV(t *testing.T, body []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	return records
}

var exportedAt = time.Date(2024, 8, 14, 15, 30, 0, 0, time.UTC)

func TestParseKind(t *testing.T) {
	for _, valid := range []string{"registration", "certificate", "headers", "all"} {
		kind, err := ParseKind(valid)
		require.NoError(t, err)
		assert.Equal(t, Kind(valid), kind)
	}
	_, err := ParseKind("everything")
	assert.Error(t, err)
}

func TestRenderRegistrationCSV(t *testing.T) {
	file, err := Render(KindRegistration, "example.com", sampleTimeline(), exportedAt)
	require.NoError(t, err)

	assert.Equal(t, "example_com_14082024_registration.csv", file.Name)
	assert.Equal(t, "text/csv", file.ContentType)

	records := parseCSV(t, file.Body)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"type", "url", "time"}, records[0])
	assert.Equal(t, []string{"Registered", "https://rdap.org/domain/example.com", "14-08-1995 00:00:00 UTC"}, records[1])
}

func TestRenderCertificateCSVCarriesDetailColumns(t *testing.T) {
	file, err := Render(KindCertificate, "example.com", sampleTimeline(), exportedAt)
	require.NoError(t, err)

	records := parseCSV(t, file.Body)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"type", "Common Name", "First Seen", "Valid From", "Source"}, records[0])
	assert.Equal(t, []string{"SSL Certificate", "example.com", "02-03-2014", "02-03-2014", "https://crt.sh/?id=42"}, records[1])
}

func TestRenderCertificateHeaderRowMatchesDetailKeys(t *testing.T) {
	file, err := Render(KindCertificate, "example.com", timeline.Timeline{}, exportedAt)
	require.NoError(t, err)

	records := parseCSV(t, file.Body)
	require.Len(t, records, 1)
	assert.Equal(t, []string{
		"type",
		certificate.DetailCommonName,
		certificate.DetailFirstSeen,
		certificate.DetailValidFrom,
		certificate.DetailSource,
	}, records[0])
}

func TestRenderHeadersCSV(t *testing.T) {
	file, err := Render(KindHeaders, "example.com", sampleTimeline(), exportedAt)
	require.NoError(t, err)

	records := parseCSV(t, file.Body)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"favicon", "https://example.com/favicon.ico", "06-01-2020 10:00:00 UTC"}, records[1])
}

func TestRenderEmptyGroupStillHasHeaderRow(t *testing.T) {
	file, err := Render(KindCertificate, "example.com", timeline.Timeline{}, exportedAt)
	require.NoError(t, err)

	records := parseCSV(t, file.Body)
	require.Len(t, records, 1, "header row only")
}

func TestRenderAllProducesZipOfThreeCSVs(t *testing.T) {
	file, err := Render(KindAll, "example.com", sampleTimeline(), exportedAt)
	require.NoError(t, err)

	assert.Equal(t, "example_com_14082024_all.zip", file.Name)
	assert.Equal(t, "application/zip", file.ContentType)

	zr, err := zip.NewReader(bytes.NewReader(file.Body), int64(len(file.Body)))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)

	names := make([]string, 0, 3)
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "example_com_14082024_registration.csv")
	assert.Contains(t, names, "example_com_14082024_certificate.csv")
	assert.Contains(t, names, "example_com_14082024_headers.csv")

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.NotEmpty(t, parseCSV(t, buf.Bytes()))
}
