package mjd

import (
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"epoch itself", "1858-11-17T00:00Z", 0},
		{"known date", "2000-01-01T00:00Z", 51544},
		{"malformed", "not-a-date", 0},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
