package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/dircal/metrics"
	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
	"github.com/YuminosukeSato/dircal/pkg/log"
)

// selectionData returns three distinct score rows, each bumped toward one
// class. Training labels follow the bump 70% of the time, hit the next
// class 20% and the remaining class 10%. Validation labels always hit the
// remaining class, so a fit that trusts the training frequencies is
// punished on validation.
func selectionData() (X, y, Xv, yv *mat.Dense) {
	row := func(c int) []float64 {
		p := []float64{0.25, 0.25, 0.25}
		p[c] = 0.5
		return p
	}

	X = mat.NewDense(30, 3, nil)
	y = mat.NewDense(30, 1, nil)
	for c := 0; c < 3; c++ {
		for r := 0; r < 10; r++ {
			i := c*10 + r
			X.SetRow(i, row(c))
			label := c
			switch {
			case r >= 9:
				label = (c + 2) % 3
			case r >= 7:
				label = (c + 1) % 3
			}
			y.Set(i, 0, float64(label))
		}
	}

	Xv = mat.NewDense(9, 3, nil)
	yv = mat.NewDense(9, 1, nil)
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			i := c*3 + r
			Xv.SetRow(i, row(c))
			yv.Set(i, 0, float64((c+2)%3))
		}
	}
	return X, y, Xv, yv
}

func TestFitSelectsLowestValidationLoss(t *testing.T) {
	X, y, Xv, yv := selectionData()
	cfg := testConfig(Full, 0, 1e-2, 1)

	st, err := Fit(X, y, cfg, WithValidation(Xv, yv))
	require.NoError(t, err)

	cands := st.Candidates()
	require.Len(t, cands, 3)
	best := 0
	for i, c := range cands {
		assert.Equal(t, cfg.L2[i], c.L2, "candidates keep grid order")
		assert.False(t, math.IsNaN(c.ValidationLoss))
		if c.ValidationLoss < cands[best].ValidationLoss {
			best = i
		}
	}

	assert.Equal(t, cands[best].L2, st.SelectedL2())
	assert.NotEqual(t, 0.0, st.SelectedL2(), "unregularized fit overfits the training frequencies")
	assert.Greater(t, cands[0].ValidationLoss, cands[best].ValidationLoss)
	// the unregularized fit has the lowest training loss
	assert.Less(t, cands[0].TrainLoss, cands[2].TrainLoss)
}

func TestFitGridWithoutValidationUsesTrainingData(t *testing.T) {
	X, y, _, _ := selectionData()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	cfg := testConfig(Full, 1, 0)
	cfg.Logger = logger

	st, err := Fit(X, y, cfg)
	require.NoError(t, err)

	assert.True(t, logger.ContainsMessage("No validation data"))
	assert.True(t, logger.ContainsMessage("Calibration fit completed"))
	// on training rows the unregularized fit wins
	assert.Equal(t, 0.0, st.SelectedL2())
}

func TestFitSingleL2WithoutValidation(t *testing.T) {
	X, y := overconfidentData(20, 300, 3, 2)
	st, err := Fit(X, y, testConfig(Diagonal, 0.01))
	require.NoError(t, err)

	assert.Equal(t, 0.01, st.SelectedL2())
	assert.True(t, math.IsNaN(st.Candidates()[0].ValidationLoss))
	assert.Equal(t, StateConverged, st.Report().State)
	assert.Equal(t, Diagonal, st.MatrixType())
	assert.Equal(t, InitIdentity, st.Initializer())

	coef := st.Coef()
	r, c := coef.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, st.Intercept(), mat.Col(nil, 3, coef))

	// diagonal family keeps W diagonal
	w := st.Weights()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i != j {
				assert.Equal(t, 0.0, w.At(i, j))
			}
		}
	}
}

func TestFitSkewedScenario(t *testing.T) {
	// scores lean hard on class 0 while labels are uniform
	X := mat.NewDense(6, 3, nil)
	for i := 0; i < 6; i++ {
		X.SetRow(i, []float64{0.8, 0.1, 0.1})
	}
	y := mat.NewDense(6, 1, []float64{0, 1, 2, 0, 1, 2})

	st, err := Fit(X, y, testConfig(Full, 1e-3))
	require.NoError(t, err)

	held := mat.NewDense(3, 3, []float64{
		0.8, 0.1, 0.1,
		0.75, 0.15, 0.1,
		0.85, 0.08, 0.07,
	})
	heldLabels := mat.NewDense(3, 1, []float64{0, 1, 2})

	proba, err := PredictProba(st, held)
	require.NoError(t, err)

	assert.Less(t, crossEntropy(proba, heldLabels), crossEntropy(held, heldLabels))
	for i := 0; i < 3; i++ {
		assert.Less(t, floats.Max(proba.RawRowView(i)), floats.Max(held.RawRowView(i)),
			"row %d should move toward uniform", i)
	}
}

func TestFitLargeL2IsIdentity(t *testing.T) {
	X, y := overconfidentData(21, 500, 3, 3)

	for _, mt := range []MatrixType{Full, Diagonal, FixedDiagonal} {
		t.Run(mt.String(), func(t *testing.T) {
			st, err := Fit(X, y, testConfig(mt, 1e6))
			require.NoError(t, err)

			proba, err := PredictProba(st, X)
			require.NoError(t, err)
			n, k := X.Dims()
			for i := 0; i < n; i++ {
				for j := 0; j < k; j++ {
					require.InDelta(t, X.At(i, j), proba.At(i, j), 1e-3)
				}
			}
		})
	}
}

func TestFitIdempotentOnCalibratedScores(t *testing.T) {
	X, y := calibratedData(22, 10000, 3)

	st, err := Fit(X, y, testConfig(Full, 0))
	require.NoError(t, err)

	proba, err := PredictProba(st, X)
	require.NoError(t, err)

	diff := mat.NewDense(10000, 3, nil)
	diff.Sub(proba, X)
	meanAbs := 0.0
	for _, v := range diff.RawMatrix().Data {
		meanAbs += math.Abs(v)
	}
	meanAbs /= 30000
	assert.Less(t, meanAbs, 0.02)
}

func TestFitImprovesOverconfidentScores(t *testing.T) {
	X, y := overconfidentData(23, 2000, 4, 3)
	Xt, yt := overconfidentData(24, 1000, 4, 3)

	for _, mt := range []MatrixType{Full, Diagonal, FixedDiagonal} {
		t.Run(mt.String(), func(t *testing.T) {
			st, err := Fit(X, y, testConfig(mt, 1e-3))
			require.NoError(t, err)

			proba, err := PredictProba(st, Xt)
			require.NoError(t, err)
			assert.Less(t, crossEntropy(proba, yt), crossEntropy(Xt, yt))

			before, err := metrics.ExpectedCalibrationError(yt, Xt, 15)
			require.NoError(t, err)
			after, err := metrics.ExpectedCalibrationError(yt, proba, 15)
			require.NoError(t, err)
			assert.Less(t, after, before)
		})
	}
}

func TestFitDeterministic(t *testing.T) {
	X, y := overconfidentData(25, 6000, 3, 2)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"identity", testConfig(Full, 1e-2)},
		{"random seeded", func() Config {
			cfg := testConfig(Diagonal, 1e-2)
			cfg.Initializer = InitRandom
			cfg.RandomState = 9
			return cfg
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Fit(X, y, tt.cfg)
			require.NoError(t, err)
			b, err := Fit(X, y, tt.cfg)
			require.NoError(t, err)

			assert.Equal(t, a.Weights().RawMatrix().Data, b.Weights().RawMatrix().Data)
			assert.Equal(t, a.Intercept(), b.Intercept())
		})
	}
}

func TestFitEarlyStopping(t *testing.T) {
	X, y, Xv, yv := selectionData()

	full, err := Fit(X, y, testConfig(Full, 0), WithValidation(Xv, yv))
	require.NoError(t, err)

	cfg := testConfig(Full, 0)
	cfg.Solver.EarlyStopping = true
	cfg.Solver.ValidationInterval = 1
	cfg.Solver.Patience = 1
	early, err := Fit(X, y, cfg, WithValidation(Xv, yv))
	require.NoError(t, err)

	rep := early.Report()
	assert.True(t, rep.EarlyStopped)
	assert.Equal(t, StateConverged, rep.State)
	assert.Less(t, rep.Iterations, full.Report().Iterations)
	assert.LessOrEqual(t, rep.ValidationLoss, full.Report().ValidationLoss)
}

func TestFitSoftTargets(t *testing.T) {
	X, y := overconfidentData(26, 200, 3, 2)
	hard := oneHot(y, 3)

	a, err := Fit(X, y, testConfig(Full, 0.1))
	require.NoError(t, err)
	b, err := Fit(X, hard, testConfig(Full, 0.1))
	require.NoError(t, err)

	assert.Equal(t, a.Weights().RawMatrix().Data, b.Weights().RawMatrix().Data)
}

func TestFitConfigurationErrors(t *testing.T) {
	X, y := overconfidentData(27, 20, 3, 2)
	Xv, yv := overconfidentData(28, 10, 3, 2)

	tests := []struct {
		name string
		run  func() error
	}{
		{"negative l2", func() error {
			_, err := Fit(X, y, testConfig(Full, -1))
			return err
		}},
		{"empty l2", func() error {
			cfg := testConfig(Full)
			cfg.L2 = nil
			_, err := Fit(X, y, cfg)
			return err
		}},
		{"unknown matrix type", func() error {
			_, err := Fit(X, y, testConfig(MatrixType(5)))
			return err
		}},
		{"bad solver", func() error {
			cfg := testConfig(Full)
			cfg.Solver.Method = "newton"
			_, err := Fit(X, y, cfg)
			return err
		}},
		{"label out of range", func() error {
			bad := mat.DenseCopyOf(y)
			bad.Set(3, 0, 3)
			_, err := Fit(X, bad, testConfig(Full))
			return err
		}},
		{"fractional label", func() error {
			bad := mat.DenseCopyOf(y)
			bad.Set(3, 0, 0.5)
			_, err := Fit(X, bad, testConfig(Full))
			return err
		}},
		{"label rows", func() error {
			_, err := Fit(X, mat.NewDense(19, 1, nil), testConfig(Full))
			return err
		}},
		{"label columns", func() error {
			_, err := Fit(X, mat.NewDense(20, 2, nil), testConfig(Full))
			return err
		}},
		{"single class", func() error {
			_, err := Fit(mat.NewDense(2, 1, []float64{1, 1}), mat.NewDense(2, 1, nil), testConfig(Full))
			return err
		}},
		{"validation k mismatch", func() error {
			_, err := Fit(X, y, testConfig(Full), WithValidation(mat.NewDense(10, 4, nil), yv))
			return err
		}},
		{"validation labels missing", func() error {
			_, err := Fit(X, y, testConfig(Full), WithValidation(Xv, nil))
			return err
		}},
		{"negative probability", func() error {
			bad := mat.DenseCopyOf(X)
			bad.Set(0, 0, -0.2)
			_, err := Fit(bad, y, testConfig(Full))
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.True(t, scierrors.IsConfigurationError(err), "got %v", err)
			assert.False(t, scierrors.IsOptimizationError(err))
		})
	}
}
