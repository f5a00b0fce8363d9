package calibration

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/dircal/core/model"
	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

// ModelName identifies Dirichlet calibrators in logs and exported weights.
const ModelName = "DirichletCalibrator"

// CandidateResult is the outcome of one grid value.
type CandidateResult struct {
	L2             float64   `json:"l2"`
	TrainLoss      float64   `json:"train_loss"`
	ValidationLoss float64   `json:"validation_loss"`
	Report         FitReport `json:"report"`
}

// FittedState is the immutable result of a fit. Accessors return copies.
type FittedState struct {
	matrixType  MatrixType
	w           *mat.Dense
	b           []float64
	l2          float64
	initializer Initializer
	policy      RegularizationPolicy
	epsilon     float64
	report      FitReport
	candidates  []CandidateResult
}

// MatrixType returns the family of W.
func (s *FittedState) MatrixType() MatrixType { return s.matrixType }

// NumClasses returns k.
func (s *FittedState) NumClasses() int { return len(s.b) }

// Weights returns a copy of the k×k matrix W.
func (s *FittedState) Weights() *mat.Dense { return mat.DenseCopyOf(s.w) }

// Intercept returns a copy of b.
func (s *FittedState) Intercept() []float64 { return append([]float64(nil), s.b...) }

// SelectedL2 returns the regularization strength of the kept fit.
func (s *FittedState) SelectedL2() float64 { return s.l2 }

// Initializer returns the initializer used for the fit.
func (s *FittedState) Initializer() Initializer { return s.initializer }

// Policy returns the regularization policy used for the fit.
func (s *FittedState) Policy() RegularizationPolicy { return s.policy }

// Epsilon returns the log floor applied at prediction time.
func (s *FittedState) Epsilon() float64 { return s.epsilon }

// Report returns the optimizer report of the kept fit.
func (s *FittedState) Report() FitReport { return s.report }

// Candidates returns the per-l2 results in grid order.
func (s *FittedState) Candidates() []CandidateResult {
	return append([]CandidateResult(nil), s.candidates...)
}

// Coef returns the k×(k+1) matrix [W|b].
func (s *FittedState) Coef() *mat.Dense {
	k := s.NumClasses()
	coef := mat.NewDense(k, k+1, nil)
	coef.Slice(0, k, 0, k).(*mat.Dense).Copy(s.w)
	for i, v := range s.b {
		coef.Set(i, k, v)
	}
	return coef
}

// ExportWeights converts the state to its serializable form.
func (s *FittedState) ExportWeights() *model.CalibratorWeights {
	k := s.NumClasses()
	rows := make([][]float64, k)
	for i := range rows {
		rows[i] = mat.Row(nil, i, s.w)
	}

	metrics := map[string]float64{
		"iterations": float64(s.report.Iterations),
	}
	for name, v := range map[string]float64{
		"train_loss":      s.report.TrainLoss,
		"validation_loss": s.report.ValidationLoss,
	} {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			metrics[name] = v
		}
	}

	return &model.CalibratorWeights{
		ModelType:   ModelName,
		Version:     model.WeightsFormatVersion,
		MatrixType:  s.matrixType.String(),
		Weights:     rows,
		Intercept:   s.Intercept(),
		SelectedL2:  s.l2,
		Initializer: s.initializer.String(),
		Hyperparameters: map[string]string{
			"epsilon":              strconv.FormatFloat(s.epsilon, 'g', -1, 64),
			"comp_l2":              strconv.FormatBool(s.policy.CompL2),
			"comp_l2_all_families": strconv.FormatBool(s.policy.CompL2AllFamilies),
			"scale_with_samples":   strconv.FormatBool(s.policy.ScaleWithSamples),
			"reference_row":        strconv.FormatBool(s.policy.ReferenceRow),
		},
		Metrics: metrics,
	}
}

// FromWeights rebuilds a FittedState from exported weights. Weights,
// intercept, matrix type and selected l2 are restored bit for bit.
func FromWeights(cw *model.CalibratorWeights) (*FittedState, error) {
	if cw == nil {
		return nil, scierrors.NewValueError("calibration.FromWeights", "weights are nil")
	}
	if err := cw.Validate(); err != nil {
		return nil, scierrors.NewConfigurationError("weights", err.Error(), cw.ModelType)
	}
	if cw.ModelType != ModelName {
		return nil, scierrors.NewConfigurationError("model_type", "expected "+ModelName, cw.ModelType)
	}
	mt, err := ParseMatrixType(cw.MatrixType)
	if err != nil {
		return nil, err
	}
	init, err := ParseInitializer(cw.Initializer)
	if err != nil {
		return nil, err
	}

	k := cw.NumClasses()
	w := mat.NewDense(k, k, nil)
	for i, row := range cw.Weights {
		w.SetRow(i, row)
	}
	if err := checkStructure(mt, w); err != nil {
		return nil, err
	}

	s := &FittedState{
		matrixType:  mt,
		w:           w,
		b:           append([]float64(nil), cw.Intercept...),
		l2:          cw.SelectedL2,
		initializer: init,
		epsilon:     DefaultEpsilon,
		report:      FitReport{State: StateConverged, ValidationLoss: math.NaN()},
	}
	hp := cw.Hyperparameters
	if v, ok := hp["epsilon"]; ok {
		eps, err := strconv.ParseFloat(v, 64)
		if err != nil || !(eps > 0 && eps < 1) {
			return nil, scierrors.NewConfigurationError("epsilon", "must be a number in (0, 1)", v)
		}
		s.epsilon = eps
	}
	s.policy.CompL2, _ = strconv.ParseBool(hp["comp_l2"])
	s.policy.CompL2AllFamilies, _ = strconv.ParseBool(hp["comp_l2_all_families"])
	s.policy.ScaleWithSamples, _ = strconv.ParseBool(hp["scale_with_samples"])
	s.policy.ReferenceRow, _ = strconv.ParseBool(hp["reference_row"])
	if v, ok := cw.Metrics["train_loss"]; ok {
		s.report.TrainLoss = v
	}
	if v, ok := cw.Metrics["validation_loss"]; ok {
		s.report.ValidationLoss = v
	}
	s.report.Iterations = int(cw.Metrics["iterations"])
	return s, nil
}

// checkStructure verifies that w belongs to the family mt.
func checkStructure(mt MatrixType, w *mat.Dense) error {
	k, _ := w.Dims()
	switch mt {
	case Diagonal:
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				if i != j && w.At(i, j) != 0 {
					return scierrors.NewConfigurationError("weights",
						"diagonal calibrator has a non-zero off-diagonal entry", w.At(i, j))
				}
			}
		}
	case FixedDiagonal:
		alpha, beta := w.At(0, 0), w.At(0, 1)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				want := beta
				if i == j {
					want = alpha
				}
				if w.At(i, j) != want {
					return scierrors.NewConfigurationError("weights",
						"fixed_diagonal calibrator must share its diagonal and off-diagonal values", w.At(i, j))
				}
			}
		}
	}
	return nil
}
