package calibration

import (
	"math"

	"gonum.org/v1/gonum/mat"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

// DefaultEpsilon is the floor substituted for zero probabilities before
// taking logs. It equals the float64 machine epsilon.
const DefaultEpsilon = 2.220446049250313e-16

// LogTransform returns the element-wise log(clip(p, eps, 1)) of P.
// The result is always finite for finite input.
func LogTransform(P mat.Matrix, eps float64) *mat.Dense {
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	r, c := P.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		for j := 0; j < c; j++ {
			v := P.At(i, j)
			if v > 1 {
				v = 1
			}
			row[j] = scierrors.StabilizeLog(v, eps)
		}
	}
	return out
}

// ExpandBinary turns an n×1 column of P(class=1) into the n×2 matrix
// [1-p, p].
func ExpandBinary(p mat.Matrix) *mat.Dense {
	n, _ := p.Dims()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		v := p.At(i, 0)
		out.Set(i, 0, 1-v)
		out.Set(i, 1, v)
	}
	return out
}

// checkProbabilities rejects non-finite or negative entries.
func checkProbabilities(op string, P mat.Matrix) error {
	r, c := P.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := P.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return scierrors.NewValidationError(op, "probabilities must be finite", v)
			}
			if v < 0 {
				return scierrors.NewValidationError(op, "probabilities must be non-negative", v)
			}
		}
	}
	return nil
}
