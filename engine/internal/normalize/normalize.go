// Package normalize coerces caller-supplied path points into the canonical
// form the coordinator operates on, rejecting malformed input eagerly
// before any job is created.
package normalize

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is wrapped into every rejection this package returns.
var ErrInvalidInput = errors.New("invalid input")

// Point is the canonical board-coordinate point accepted by the coordinator.
type Point struct {
	X       float64
	Y       float64
	PenDown bool
}

// Points normalizes a heterogeneous slice of raw points (objects with
// x/y/penDown keys, [x,y,penDown] triples, or [x,y] pairs) into canonical
// Points. It fails fast on the first structurally invalid or non-finite
// element.
func Points(raw []any) ([]Point, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: points must not be empty", ErrInvalidInput)
	}
	out := make([]Point, 0, len(raw))
	for i, item := range raw {
		p, err := one(item)
		if err != nil {
			return nil, fmt.Errorf("%w: point %d: %v", ErrInvalidInput, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func one(item any) (Point, error) {
	switch v := item.(type) {
	case map[string]any:
		return fromMap(v)
	case []any:
		return fromSlice(v)
	default:
		return Point{}, fmt.Errorf("unrecognized point shape %T", item)
	}
}

func fromMap(v map[string]any) (Point, error) {
	xRaw, xOK := v["x"]
	yRaw, yOK := v["y"]
	if !xOK || !yOK {
		return Point{}, errors.New("object points must include x and y keys")
	}
	x, err := toFloat(xRaw)
	if err != nil {
		return Point{}, fmt.Errorf("x: %w", err)
	}
	y, err := toFloat(yRaw)
	if err != nil {
		return Point{}, fmt.Errorf("y: %w", err)
	}
	penDown, _ := v["penDown"].(bool)
	return Point{X: x, Y: y, PenDown: penDown}, nil
}

func fromSlice(v []any) (Point, error) {
	if len(v) < 2 {
		return Point{}, errors.New("array points must have at least x and y")
	}
	x, err := toFloat(v[0])
	if err != nil {
		return Point{}, fmt.Errorf("x: %w", err)
	}
	y, err := toFloat(v[1])
	if err != nil {
		return Point{}, fmt.Errorf("y: %w", err)
	}
	penDown := false
	if len(v) >= 3 {
		if b, ok := v[2].(bool); ok {
			penDown = b
		}
	}
	return Point{X: x, Y: y, PenDown: penDown}, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("must be finite")
	}
	return f, nil
}
