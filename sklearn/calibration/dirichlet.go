package calibration

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/dircal/core/model"
	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
	"github.com/YuminosukeSato/dircal/pkg/log"
)

// DirichletCalibrator is a multiclass probability calibrator.
// Compatible with the fit/predict_proba convention of scikit-learn calibrators.
//
// A successful Fit replaces the fitted state atomically; a failed Fit leaves
// the previous state in place. Predictions may run concurrently with each
// other and with Fit.
type DirichletCalibrator struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	matrixType  string
	l2          []float64
	initializer string
	policy      RegularizationPolicy
	solver      SolverConfig
	epsilon     float64
	randomState int64
	logger      log.Logger

	// Fitted parameters, guarded by state
	fitted *FittedState
}

// Option is a functional option for DirichletCalibrator.
type Option func(*DirichletCalibrator)

// WithMatrixType sets the family: "full", "diagonal" or "fixed_diagonal".
func WithMatrixType(matrixType string) Option {
	return func(d *DirichletCalibrator) {
		d.matrixType = matrixType
	}
}

// WithL2 sets a single regularization strength.
func WithL2(l2 float64) Option {
	return func(d *DirichletCalibrator) {
		d.l2 = []float64{l2}
	}
}

// WithL2Grid sets the candidate regularization strengths.
func WithL2Grid(grid []float64) Option {
	return func(d *DirichletCalibrator) {
		d.l2 = append([]float64(nil), grid...)
	}
}

// WithCompL2 toggles the off-diagonal-and-intercept penalty.
func WithCompL2(compL2 bool) Option {
	return func(d *DirichletCalibrator) {
		d.policy.CompL2 = compL2
	}
}

// WithRegularization sets the whole regularization policy.
func WithRegularization(policy RegularizationPolicy) Option {
	return func(d *DirichletCalibrator) {
		d.policy = policy
	}
}

// WithInitializer sets the initializer: "identity" or "random".
func WithInitializer(initializer string) Option {
	return func(d *DirichletCalibrator) {
		d.initializer = initializer
	}
}

// WithRandomState sets the seed of the random initializer.
func WithRandomState(seed int64) Option {
	return func(d *DirichletCalibrator) {
		d.randomState = seed
	}
}

// WithSolver sets the optimizer configuration.
func WithSolver(solver SolverConfig) Option {
	return func(d *DirichletCalibrator) {
		d.solver = solver
	}
}

// WithEpsilon sets the probability floor used before taking logs.
func WithEpsilon(eps float64) Option {
	return func(d *DirichletCalibrator) {
		d.epsilon = eps
	}
}

// WithLogger sets the logger used during fitting.
func WithLogger(logger log.Logger) Option {
	return func(d *DirichletCalibrator) {
		d.logger = logger
	}
}

// NewDirichletCalibrator creates a calibrator. It returns a
// ConfigurationError when the options do not describe a valid calibrator.
func NewDirichletCalibrator(opts ...Option) (*DirichletCalibrator, error) {
	defaults := DefaultConfig()
	d := &DirichletCalibrator{
		state:       model.NewStateManager(),
		matrixType:  defaults.MatrixType.String(),
		l2:          defaults.L2,
		initializer: defaults.Initializer.String(),
		solver:      defaults.Solver,
		epsilon:     defaults.Epsilon,
		randomState: defaults.RandomState,
	}
	for _, opt := range opts {
		opt(d)
	}
	if _, err := d.config(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DirichletCalibrator) config() (Config, error) {
	mt, err := ParseMatrixType(d.matrixType)
	if err != nil {
		return Config{}, err
	}
	init, err := ParseInitializer(d.initializer)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		MatrixType:     mt,
		L2:             d.l2,
		Initializer:    init,
		Regularization: d.policy,
		Solver:         d.solver,
		Epsilon:        d.epsilon,
		RandomState:    d.randomState,
		Logger:         d.logger,
	}
	return cfg, cfg.Validate()
}

// Fit trains the calibrator. An n×1 X is read as P(class=1) and expanded
// to [1-p, p].
func (d *DirichletCalibrator) Fit(X, y mat.Matrix) error {
	return d.fit(X, y, nil, nil)
}

// FitWithValidation trains the calibrator and selects l2 on (XVal, yVal).
func (d *DirichletCalibrator) FitWithValidation(X, y, XVal, yVal mat.Matrix) error {
	if XVal == nil || yVal == nil {
		return scierrors.NewConfigurationError("validation", "both X and y are required", nil)
	}
	return d.fit(X, y, XVal, yVal)
}

func (d *DirichletCalibrator) fit(X, y, XVal, yVal mat.Matrix) error {
	var cfg Config
	err := d.state.WithState(func() error {
		var err error
		cfg, err = d.config()
		return err
	})
	if err != nil {
		return err
	}
	var opts []FitOption
	if XVal != nil {
		opts = append(opts, WithValidation(expandIfBinary(XVal), yVal))
	}
	st, err := Fit(expandIfBinary(X), y, cfg, opts...)
	if err != nil {
		return err
	}
	n, _ := X.Dims()
	return d.state.Publish(st.NumClasses(), n, func() error {
		d.fitted = st
		return nil
	})
}

func expandIfBinary(X mat.Matrix) mat.Matrix {
	if _, c := X.Dims(); c == 1 {
		return ExpandBinary(X)
	}
	return X
}

// current returns the fitted state or a NotFittedError.
func (d *DirichletCalibrator) current(method string) (*FittedState, error) {
	if err := d.state.RequireFitted(ModelName, method); err != nil {
		return nil, err
	}
	var st *FittedState
	_ = d.state.WithState(func() error {
		st = d.fitted
		return nil
	})
	return st, nil
}

// Dimensions returns the number of classes and training rows of the last
// fit. Imported weights report the row count recorded at export, or 0.
func (d *DirichletCalibrator) Dimensions() (nClasses, nSamples int, err error) {
	if err := d.state.RequireFitted(ModelName, "Dimensions"); err != nil {
		return 0, 0, err
	}
	nClasses, nSamples = d.state.GetDimensions()
	return nClasses, nSamples, nil
}

// PredictProba returns calibrated probabilities. For an n×1 input the
// n×1 calibrated P(class=1) is returned.
func (d *DirichletCalibrator) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	st, err := d.current("PredictProba")
	if err != nil {
		return nil, err
	}
	if _, c := X.Dims(); c == 1 {
		proba, err := PredictProba(st, ExpandBinary(X))
		if err != nil {
			return nil, err
		}
		n, _ := proba.Dims()
		return mat.NewDense(n, 1, mat.Col(nil, 1, proba)), nil
	}
	return PredictProba(st, X)
}

// Predict returns the n×1 arg-max class of each calibrated row.
func (d *DirichletCalibrator) Predict(X mat.Matrix) (mat.Matrix, error) {
	st, err := d.current("Predict")
	if err != nil {
		return nil, err
	}
	labels, err := Predict(st, expandIfBinary(X))
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(labels), 1, nil)
	for i, l := range labels {
		out.Set(i, 0, float64(l))
	}
	return out, nil
}

// State returns the current fitted state.
func (d *DirichletCalibrator) State() (*FittedState, error) {
	return d.current("State")
}

// Weights returns a copy of W.
func (d *DirichletCalibrator) Weights() (*mat.Dense, error) {
	st, err := d.current("Weights")
	if err != nil {
		return nil, err
	}
	return st.Weights(), nil
}

// Coef returns the k×(k+1) matrix [W|b].
func (d *DirichletCalibrator) Coef() (*mat.Dense, error) {
	st, err := d.current("Coef")
	if err != nil {
		return nil, err
	}
	return st.Coef(), nil
}

// Intercept returns a copy of b.
func (d *DirichletCalibrator) Intercept() ([]float64, error) {
	st, err := d.current("Intercept")
	if err != nil {
		return nil, err
	}
	return st.Intercept(), nil
}

// L2 returns the selected regularization strength.
func (d *DirichletCalibrator) L2() (float64, error) {
	st, err := d.current("L2")
	if err != nil {
		return 0, err
	}
	return st.SelectedL2(), nil
}

// GetParams returns the hyperparameters.
func (d *DirichletCalibrator) GetParams() map[string]interface{} {
	var params map[string]interface{}
	_ = d.state.WithState(func() error {
		params = d.params()
		return nil
	})
	return params
}

func (d *DirichletCalibrator) params() map[string]interface{} {
	return map[string]interface{}{
		"matrix_type":          d.matrixType,
		"l2":                   append([]float64(nil), d.l2...),
		"initializer":          d.initializer,
		"comp_l2":              d.policy.CompL2,
		"comp_l2_all_families": d.policy.CompL2AllFamilies,
		"scale_with_samples":   d.policy.ScaleWithSamples,
		"reference_row":        d.policy.ReferenceRow,
		"solver":               d.solver.Method,
		"max_iter":             d.solver.MaxIter,
		"epsilon":              d.epsilon,
		"random_state":         d.randomState,
	}
}

// samplesMetric records the training row count in exported weights.
const samplesMetric = "n_samples"

// ExportWeights implements model.WeightExporter.
func (d *DirichletCalibrator) ExportWeights() (*model.CalibratorWeights, error) {
	st, err := d.current("ExportWeights")
	if err != nil {
		return nil, err
	}
	cw := st.ExportWeights()
	if fs := d.state.GetState(); fs.NSamples > 0 {
		cw.Metrics[samplesMetric] = float64(fs.NSamples)
	}
	return cw, nil
}

// ImportWeights implements model.WeightExporter. The imported matrix type,
// initializer, epsilon and regularization policy replace the current
// hyperparameters.
func (d *DirichletCalibrator) ImportWeights(weights *model.CalibratorWeights) error {
	st, err := FromWeights(weights)
	if err != nil {
		return err
	}
	nSamples := int(weights.Metrics[samplesMetric])
	return d.state.Publish(st.NumClasses(), nSamples, func() error {
		d.fitted = st
		d.matrixType = st.MatrixType().String()
		d.l2 = []float64{st.SelectedL2()}
		d.initializer = st.Initializer().String()
		d.policy = st.Policy()
		d.epsilon = st.Epsilon()
		return nil
	})
}

// SaveWeights writes the fitted weights as JSON.
func (d *DirichletCalibrator) SaveWeights(w io.Writer) error {
	cw, err := d.ExportWeights()
	if err != nil {
		return err
	}
	data, err := cw.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// LoadDirichletCalibrator reads weights written by SaveWeights.
func LoadDirichletCalibrator(r io.Reader) (*DirichletCalibrator, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	var cw model.CalibratorWeights
	if err := cw.FromJSON(data); err != nil {
		return nil, scierrors.NewConfigurationError("weights", err.Error(), nil)
	}
	d, err := NewDirichletCalibrator()
	if err != nil {
		return nil, err
	}
	if err := d.ImportWeights(&cw); err != nil {
		return nil, err
	}
	return d, nil
}

var (
	_ model.ProbaCalibrator = (*DirichletCalibrator)(nil)
	_ model.WeightExporter  = (*DirichletCalibrator)(nil)
)
