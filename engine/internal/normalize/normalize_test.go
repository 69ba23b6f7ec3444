package normalize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointsFromObjects(t *testing.T) {
	raw := []any{
		map[string]any{"x": 1.0, "y": 2.0, "penDown": true},
		map[string]any{"x": 3, "y": 4},
	}
	pts, err := Points(raw)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, Point{X: 1, Y: 2, PenDown: true}, pts[0])
	assert.Equal(t, Point{X: 3, Y: 4}, pts[1])
}

func TestPointsFromTriples(t *testing.T) {
	raw := []any{[]any{1.5, 2.5, true}, []any{0.0, 0.0}}
	pts, err := Points(raw)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.True(t, pts[0].PenDown)
	assert.False(t, pts[1].PenDown)
}

func TestPointsRejectsEmpty(t *testing.T) {
	_, err := Points(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPointsRejectsMissingCoordinate(t *testing.T) {
	raw := []any{map[string]any{"x": 1.0}}
	_, err := Points(raw)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPointsRejectsNonFinite(t *testing.T) {
	raw := []any{map[string]any{"x": math.NaN(), "y": 1.0}}
	_, err := Points(raw)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPointsRejectsUnrecognizedShape(t *testing.T) {
	raw := []any{42}
	_, err := Points(raw)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
