package geometry

import (
	"math"
	"testing"
)

func testGeometry() Geometry {
	return Geometry{BoardWidthMM: 1150, MotorOffsetYMM: 60, CarriageOffsetMM: 29}
}

func TestLengthsForXYKnownPoint(t *testing.T) {
	g := testGeometry()
	l1, l2 := g.LengthsForXY(575, 400)
	if l1 <= 0 || l2 <= 0 {
		t.Fatalf("expected positive cable lengths, got l1=%v l2=%v", l1, l2)
	}
	// Board center is equidistant from both motors when motor offsets are symmetric.
	if math.Abs(l1-l2) > 1e-9 {
		t.Fatalf("expected symmetric lengths at board center, got l1=%v l2=%v", l1, l2)
	}
}

func TestXYFromLengthsRoundTrip(t *testing.T) {
	g := testGeometry()
	cases := []struct{ x, y float64 }{
		{0, 0}, {575, 400}, {1150, 0}, {200, 900}, {950, 50},
	}
	for _, c := range cases {
		l1, l2 := g.LengthsForXY(c.x, c.y)
		x, y, ok := g.XYFromLengths(l1, l2)
		if !ok {
			t.Fatalf("expected solvable intersection for (%v,%v)", c.x, c.y)
		}
		if math.Abs(x-c.x) > 1e-6 || math.Abs(y-c.y) > 1e-6 {
			t.Fatalf("round trip mismatch: want (%v,%v) got (%v,%v)", c.x, c.y, x, y)
		}
	}
}

func TestXYFromLengthsUnsolvable(t *testing.T) {
	g := testGeometry()
	if _, _, ok := g.XYFromLengths(1, 10000); ok {
		t.Fatalf("expected unsolvable lengths to report ok=false")
	}
}

func TestXYFromLengthsDegenerateMotors(t *testing.T) {
	g := Geometry{BoardWidthMM: 0, MotorOffsetYMM: 0, CarriageOffsetMM: 0}
	if _, _, ok := g.XYFromLengths(5, 5); ok {
		t.Fatalf("expected degenerate motor placement to report ok=false")
	}
}
