package calibration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/dircal/core/parallel"
	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

// predictParallelThreshold is the row count above which rows are
// calibrated concurrently.
const predictParallelThreshold = 4096

// PredictLogProba returns the calibrated log-probabilities of P.
func PredictLogProba(state *FittedState, P mat.Matrix) (*mat.Dense, error) {
	return calibrate(state, P, "calibration.PredictLogProba", true)
}

// PredictProba returns calibrated probabilities. Every output row is
// non-negative and sums to one.
func PredictProba(state *FittedState, P mat.Matrix) (*mat.Dense, error) {
	return calibrate(state, P, "calibration.PredictProba", false)
}

// Predict returns the arg-max class of each calibrated row. The first
// maximum wins on ties.
func Predict(state *FittedState, P mat.Matrix) ([]int, error) {
	proba, err := calibrate(state, P, "calibration.Predict", false)
	if err != nil {
		return nil, err
	}
	n, _ := proba.Dims()
	labels := make([]int, n)
	for i := range labels {
		labels[i] = floats.MaxIdx(proba.RawRowView(i))
	}
	return labels, nil
}

func calibrate(state *FittedState, P mat.Matrix, op string, logSpace bool) (*mat.Dense, error) {
	if state == nil {
		return nil, scierrors.NewNotFittedError(ModelName, op)
	}
	n, k := P.Dims()
	if k != state.NumClasses() {
		return nil, scierrors.NewDimensionError(op, state.NumClasses(), k, 1)
	}
	if n == 0 {
		return nil, scierrors.Wrap(scierrors.ErrEmptyData, op)
	}
	if err := checkProbabilities(op, P); err != nil {
		return nil, err
	}

	logp := LogTransform(P, state.epsilon)
	out := mat.NewDense(n, k, nil)
	w, b := state.w, state.b

	parallel.ParallelizeWithThreshold(n, predictParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			l := logp.RawRowView(i)
			z := out.RawRowView(i)
			for j := 0; j < k; j++ {
				z[j] = floats.Dot(w.RawRowView(j), l) + b[j]
			}
			lse, _ := scierrors.LogSumExp(z)
			for j := range z {
				z[j] -= lse
				if !logSpace {
					z[j] = math.Exp(z[j])
				}
			}
		}
	})
	if err := scierrors.CheckMatrix(op, out, n, k, 0); err != nil {
		return nil, err
	}
	return out, nil
}
