package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

func TestLogTransform(t *testing.T) {
	P := mat.NewDense(2, 3, []float64{
		0.5, 0.5, 0,
		1.2, 1e-300, 0.25,
	})

	L := LogTransform(P, DefaultEpsilon)

	assert.InDelta(t, math.Log(0.5), L.At(0, 0), 1e-15)
	assert.Equal(t, math.Log(DefaultEpsilon), L.At(0, 2), "zero must be floored")
	assert.Equal(t, 0.0, L.At(1, 0), "values above one must be clipped")
	assert.Equal(t, math.Log(DefaultEpsilon), L.At(1, 1))
	assert.InDelta(t, math.Log(0.25), L.At(1, 2), 1e-15)

	// non-positive epsilon falls back to the default floor
	L = LogTransform(mat.NewDense(1, 2, []float64{0, 1}), 0)
	assert.Equal(t, math.Log(DefaultEpsilon), L.At(0, 0))
}

func TestExpandBinary(t *testing.T) {
	p := mat.NewDense(3, 1, []float64{0, 0.25, 1})
	got := ExpandBinary(p)

	want := mat.NewDense(3, 2, []float64{
		1, 0,
		0.75, 0.25,
		0, 1,
	})
	assert.True(t, mat.Equal(want, got), "got %v", mat.Formatted(got))
}

func TestCheckProbabilities(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{"valid", 0.3, false},
		{"zero", 0, false},
		{"nan", math.NaN(), true},
		{"inf", math.Inf(1), true},
		{"negative", -0.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			P := mat.NewDense(1, 2, []float64{tt.value, 0.5})
			err := checkProbabilities("test", P)
			if tt.wantErr {
				assert.True(t, scierrors.IsConfigurationError(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
