// Package geometry converts between board coordinates and the two cable
// lengths a polargraph controller drives its motors by.
package geometry

import "math"

// Geometry holds the fixed calibration of a two-motor wall plotter: the
// distance between motors, how far below the motor baseline the working
// surface begins, and the horizontal offset of each of the pen carriage's
// two cable attachment points from the pen (half the distance between them).
type Geometry struct {
	BoardWidthMM    float64
	MotorOffsetYMM  float64
	CarriageOffsetMM float64
}

// LengthsForXY converts a board point into (l1, l2) cable lengths from the
// left and right motors respectively.
func (g Geometry) LengthsForXY(x, y float64) (l1, l2 float64) {
	dxLeft := x - g.CarriageOffsetMM
	dxRight := g.BoardWidthMM - (x + g.CarriageOffsetMM)
	yRel := y + g.MotorOffsetYMM
	l1 = math.Hypot(dxLeft, yRel)
	l2 = math.Hypot(dxRight, yRel)
	return l1, l2
}

// XYFromLengths recovers the board point that produced the given cable
// lengths, for diagnostics and tests. It solves the intersection of two
// circles centered at the (carriage-offset-adjusted) motor anchors and
// returns the physically reachable solution: the one with the larger y,
// since the carriage hangs below the motor baseline.
func (g Geometry) XYFromLengths(l1, l2 float64) (x, y float64, ok bool) {
	x0, y0 := g.CarriageOffsetMM, -g.MotorOffsetYMM
	x1, y1 := g.BoardWidthMM-g.CarriageOffsetMM, -g.MotorOffsetYMM

	dx := x1 - x0
	dy := y1 - y0
	d := math.Hypot(dx, dy)
	if d == 0 {
		return 0, 0, false
	}

	if l1+l2 < d-1e-9 || math.Abs(l1-l2) > d+1e-9 {
		return 0, 0, false
	}

	a := (l1*l1 - l2*l2 + d*d) / (2 * d)
	hSq := l1*l1 - a*a
	if hSq < 0 {
		hSq = 0
	}
	h := math.Sqrt(hSq)

	xm := x0 + a*dx/d
	ym := y0 + a*dy/d

	rx := -dy * (h / d)
	ry := dx * (h / d)

	xi1, yi1 := xm+rx, ym+ry
	xi2, yi2 := xm-rx, ym-ry

	if yi1 >= yi2 {
		return xi1, yi1, true
	}
	return xi2, yi2, true
}
