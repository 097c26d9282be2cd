// Package mjd parses the HiPS "hips_release_date" property into a
// Modified Julian Date (days since 1858-11-17 UTC). Any parse failure
// yields 0, meaning "unknown release date; no cache-busting".
package mjd

import "time"

// epoch is the MJD reference epoch.
var epoch = time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC)

// layouts accepted for "YYYY-MM-DDTHH:MMZ", most specific first.
var layouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04Z",
	"2006-01-02",
}

// Parse converts a HiPS release-date string to MJD days. Returns 0 on
// any parse failure.
func Parse(s string) float64 {
	if s == "" {
		return 0
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.Sub(epoch).Hours() / 24
		}
	}
	return 0
}

// AsQueryInt renders a parsed date the way survey URLs cache-bust with
// it: as an integer (whole days truncated), used for the "?v=" query
// parameter in tile and all-sky URLs. A release date of 0 (unknown)
// means the caller should omit the query parameter entirely.
func AsQueryInt(days float64) int64 {
	return int64(days)
}
