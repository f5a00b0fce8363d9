package calibration

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// softmaxRow writes softmax(scale*z) into dst.
func softmaxRow(dst, z []float64, scale float64) {
	maxZ := floats.Max(z)
	sum := 0.0
	for j, v := range z {
		dst[j] = math.Exp(scale * (v - maxZ))
		sum += dst[j]
	}
	floats.Scale(1/sum, dst)
}

// sampleClass draws a class index from the distribution p.
func sampleClass(rng *rand.Rand, p []float64) int {
	u := rng.Float64()
	acc := 0.0
	for j, v := range p {
		acc += v
		if u < acc {
			return j
		}
	}
	return len(p) - 1
}

// overconfidentData draws latent logits z ~ N(0, I), labels from
// softmax(z) and scores from softmax(temperature*z). temperature > 1 makes
// the scores overconfident.
func overconfidentData(seed int64, n, k int, temperature float64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, k, nil)
	y := mat.NewDense(n, 1, nil)
	z := make([]float64, k)
	p := make([]float64, k)
	for i := 0; i < n; i++ {
		for j := range z {
			z[j] = rng.NormFloat64()
		}
		softmaxRow(p, z, 1)
		y.Set(i, 0, float64(sampleClass(rng, p)))
		softmaxRow(X.RawRowView(i), z, temperature)
	}
	return X, y
}

// calibratedData draws scores from softmax(1.5*z) and labels from the
// scores themselves, so the scores are calibrated by construction.
func calibratedData(seed int64, n, k int) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, k, nil)
	y := mat.NewDense(n, 1, nil)
	z := make([]float64, k)
	for i := 0; i < n; i++ {
		for j := range z {
			z[j] = rng.NormFloat64()
		}
		row := X.RawRowView(i)
		softmaxRow(row, z, 1.5)
		y.Set(i, 0, float64(sampleClass(rng, row)))
	}
	return X, y
}

// crossEntropy is a plain reference implementation of the mean log-loss.
func crossEntropy(P mat.Matrix, y mat.Matrix) float64 {
	n, _ := P.Dims()
	loss := 0.0
	for i := 0; i < n; i++ {
		loss -= math.Log(math.Max(P.At(i, int(y.At(i, 0))), 1e-300))
	}
	return loss / float64(n)
}

func identityState(k int) *FittedState {
	w := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		w.Set(i, i, 1)
	}
	return &FittedState{
		matrixType: Full,
		w:          w,
		b:          make([]float64, k),
		epsilon:    DefaultEpsilon,
	}
}

func testConfig(mt MatrixType, l2 ...float64) Config {
	cfg := DefaultConfig()
	cfg.MatrixType = mt
	if len(l2) > 0 {
		cfg.L2 = l2
	}
	cfg.RandomState = 42
	return cfg
}
