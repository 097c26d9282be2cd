package hipslist

import (
	"strings"
	"testing"
)

func TestParseMultipleRecords(t *testing.T) {
	doc := `
hips_service_url = https://example.org/survey1
hips_release_date = 2020-01-01T00:00Z

hips_service_url = https://example.org/survey2

# a comment, and a record with no service url, dropped
obs_title = orphan record
`
	records, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(records), records)
	}
	if records[0].ServiceURL != "https://example.org/survey1" {
		t.Errorf("unexpected first service url: %q", records[0].ServiceURL)
	}
	if records[0].ReleaseDate != "2020-01-01T00:00Z" {
		t.Errorf("unexpected release date: %q", records[0].ReleaseDate)
	}
	if records[1].ServiceURL != "https://example.org/survey2" {
		t.Errorf("unexpected second service url: %q", records[1].ServiceURL)
	}
}

func TestParseDropsRecordsWithoutServiceURL(t *testing.T) {
	doc := "obs_title = nothing useful\n"
	records, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}
