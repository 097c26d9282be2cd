package healpix

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestAncestorFallbackUVComposition covers tile (5, 42) unloaded,
// (3, 2) loaded (42/4/4 == 2). The walk visits quadrants 42%4=2, then
// (42/4)%4=10%4=2.
func TestAncestorFallbackUVComposition(t *testing.T) {
	m := Identity
	m = m.Mul(ChildUV(42 % 4))
	m = m.Mul(ChildUV((42 / 4) % 4))

	corner := UnitQuadSky.Transform(m)

	// The sub-rectangle should be [0.0,0.25] x [0.75,1.0].
	for _, c := range corner {
		if c[0] < -1e-9 || c[0] > 0.25+1e-9 {
			t.Fatalf("u out of expected [0,0.25] range: %v", c)
		}
		if c[1] < 0.75-1e-9 || c[1] > 1.0+1e-9 {
			t.Fatalf("v out of expected [0.75,1.0] range: %v", c)
		}
	}
}

func TestUVCompositionOrderIndependence(t *testing.T) {
	// Composing incrementally (apply step 1, then step 2 as a whole)
	// must match building the full matrix product up front.
	step1 := ChildUV(2)
	step2 := ChildUV(3)

	built := Identity.Mul(step1).Mul(step2)

	incremental := Identity
	incremental = incremental.Mul(step1)
	incremental = incremental.Mul(step2)

	for i := range built {
		if !almostEqual(built[i], incremental[i]) {
			t.Fatalf("composition mismatch at %d: %v vs %v", i, built, incremental)
		}
	}
}

func TestChildUVQuadrantLayout(t *testing.T) {
	cases := []struct {
		i     int64
		wantX float64
		wantY float64
	}{
		{0, 0, 0},
		{1, 0.5, 0},
		{2, 0, 0.5},
		{3, 0.5, 0.5},
	}
	for _, c := range cases {
		m := ChildUV(c.i)
		x, y := m.Apply(0, 0)
		if !almostEqual(x, c.wantX) || !almostEqual(y, c.wantY) {
			t.Fatalf("ChildUV(%d) origin = (%v,%v), want (%v,%v)", c.i, x, y, c.wantX, c.wantY)
		}
	}
}

func TestNSideAndTileCount(t *testing.T) {
	if NSide(0) != 1 || NSide(3) != 8 {
		t.Fatalf("unexpected nside values")
	}
	if TileCount(-1) != 12 {
		t.Fatalf("all-sky tile count must be 12")
	}
	if TileCount(0) != 12 {
		t.Fatalf("order 0 tile count must be 12")
	}
	if TileCount(3) != 12*64 {
		t.Fatalf("order 3 tile count must be 768, got %d", TileCount(3))
	}
}
