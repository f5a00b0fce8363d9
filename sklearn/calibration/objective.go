package calibration

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/dircal/core/parallel"
	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

const (
	// objectiveChunkRows is the number of rows per partial sum.
	objectiveChunkRows = 512
	// objectiveParallelThreshold is the row count above which chunks are
	// evaluated concurrently.
	objectiveParallelThreshold = 4096
)

// objective is the penalized multinomial log-loss of a parameterization on
// fixed log-probabilities and targets. Func and Grad match the signatures
// of optimize.Problem.
type objective struct {
	param  Parameterization
	logp   *mat.Dense // n×k log-probabilities
	target *mat.Dense // n×k target rows (one-hot or soft)
	mass   []float64  // row sums of target
	n, k   int

	// penaltyCoef is l2 times the optional 1/n scale.
	penaltyCoef float64
}

func newObjective(param Parameterization, logp, target *mat.Dense, l2 float64, policy RegularizationPolicy) *objective {
	n, k := logp.Dims()
	mass := make([]float64, n)
	for i := range mass {
		mass[i] = floats.Sum(target.RawRowView(i))
	}
	coef := l2
	if policy.ScaleWithSamples && n > 0 {
		coef /= float64(n)
	}
	return &objective{
		param:       param,
		logp:        logp,
		target:      target,
		mass:        mass,
		n:           n,
		k:           k,
		penaltyCoef: coef,
	}
}

// partial holds the per-chunk sums of the cross-entropy and its gradient.
type partial struct {
	loss float64
	dW   []float64 // k×k row-major
	db   []float64
}

// crossEntropy returns the mean cross-entropy of softmax(L·Wᵀ + b) against
// the targets. When withGrad is set it also returns dW and db.
func (o *objective) crossEntropy(w *mat.Dense, b []float64, withGrad bool) (float64, *mat.Dense, []float64) {
	k := o.k
	parts := make([]partial, parallel.NumChunks(o.n, objectiveChunkRows))

	parallel.ForEachChunk(o.n, objectiveChunkRows, objectiveParallelThreshold, func(c, start, end int) {
		part := partial{}
		if withGrad {
			part.dW = make([]float64, k*k)
			part.db = make([]float64, k)
		}
		z := make([]float64, k)
		for i := start; i < end; i++ {
			l := o.logp.RawRowView(i)
			t := o.target.RawRowView(i)
			for j := 0; j < k; j++ {
				z[j] = floats.Dot(w.RawRowView(j), l) + b[j]
			}
			lse, _ := scierrors.LogSumExp(z)
			for j := 0; j < k; j++ {
				if t[j] != 0 {
					part.loss -= t[j] * (z[j] - lse)
				}
			}
			if !withGrad {
				continue
			}
			for j := 0; j < k; j++ {
				g := o.mass[i]*math.Exp(z[j]-lse) - t[j]
				part.db[j] += g
				floats.AddScaled(part.dW[j*k:(j+1)*k], g, l)
			}
		}
		parts[c] = part
	})

	invN := 1 / float64(o.n)
	loss := 0.0
	for _, part := range parts {
		loss += part.loss
	}
	if !withGrad {
		return loss * invN, nil, nil
	}

	dW := make([]float64, k*k)
	db := make([]float64, k)
	for _, part := range parts {
		floats.Add(dW, part.dW)
		floats.Add(db, part.db)
	}
	floats.Scale(invN, dW)
	floats.Scale(invN, db)
	return loss * invN, mat.NewDense(k, k, dW), db
}

// Func returns the penalized loss at params.
func (o *objective) Func(params []float64) float64 {
	w, b := o.param.Unpack(params)
	ce, _, _ := o.crossEntropy(w, b, false)
	if o.penaltyCoef == 0 {
		return ce
	}
	return ce + o.penaltyCoef*o.param.Penalty(params, nil)
}

// Grad writes the gradient of Func at params into grad.
func (o *objective) Grad(grad, params []float64) {
	w, b := o.param.Unpack(params)
	_, dW, db := o.crossEntropy(w, b, true)
	o.param.Chain(dW, db, grad)
	if o.penaltyCoef == 0 {
		return
	}
	pg := make([]float64, len(params))
	o.param.Penalty(params, pg)
	floats.AddScaled(grad, o.penaltyCoef, pg)
}

// Loss returns the unpenalized cross-entropy at params, the quantity used
// for validation and model selection.
func (o *objective) Loss(params []float64) float64 {
	w, b := o.param.Unpack(params)
	ce, _, _ := o.crossEntropy(w, b, false)
	return ce
}
