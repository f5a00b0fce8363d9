package calibration

import (
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
	"github.com/YuminosukeSato/dircal/pkg/log"
)

// FitOption configures a single Fit call.
type FitOption func(*fitOptions)

type fitOptions struct {
	xVal, yVal mat.Matrix
}

// WithValidation supplies held-out data for l2 selection and early stopping.
func WithValidation(X, y mat.Matrix) FitOption {
	return func(o *fitOptions) {
		o.xVal = X
		o.yVal = y
	}
}

// Fit learns a calibration map from the n×k probability matrix X and labels
// y. y is either an n×1 column of class indices in [0, k) or an n×k matrix
// of target distributions.
//
// Every value of cfg.L2 is fitted independently from the same starting
// point. The fit with the lowest validation cross-entropy is returned, the
// first one on ties. Without validation data and with more than one l2
// value, the training data is used for the selection.
//
// Fit returns a ConfigurationError-class error for invalid settings or
// shapes and an OptimizationError when the solver fails.
func Fit(X, y mat.Matrix, cfg Config, opts ...FitOption) (*FittedState, error) {
	const op = "calibration.Fit"

	var o fitOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n, k := X.Dims()
	if n == 0 {
		return nil, scierrors.Wrap(scierrors.ErrEmptyData, op)
	}
	if k < 2 {
		return nil, scierrors.NewConfigurationError("n_classes", "at least 2 classes are required", k)
	}
	if err := checkProbabilities(op, X); err != nil {
		return nil, err
	}
	target, err := targetMatrix(op, y, n, k)
	if err != nil {
		return nil, err
	}

	param, err := NewParameterization(cfg.MatrixType, k, cfg.Regularization)
	if err != nil {
		return nil, err
	}
	logp := LogTransform(X, cfg.Epsilon)

	var val *objective
	if (o.xVal == nil) != (o.yVal == nil) {
		return nil, scierrors.NewConfigurationError("validation", "both X and y are required", nil)
	}
	if o.xVal != nil {
		nv, kv := o.xVal.Dims()
		if kv != k {
			return nil, scierrors.NewDimensionError(op+" validation", k, kv, 1)
		}
		if nv == 0 {
			return nil, scierrors.Wrap(scierrors.ErrEmptyData, op+" validation")
		}
		if err := checkProbabilities(op, o.xVal); err != nil {
			return nil, err
		}
		vt, err := targetMatrix(op+" validation", o.yVal, nv, k)
		if err != nil {
			return nil, err
		}
		val = newObjective(param, LogTransform(o.xVal, cfg.Epsilon), vt, 0, cfg.Regularization)
	}

	logger := cfg.logger().With(
		log.ModelNameKey, ModelName,
		log.MatrixTypeKey, cfg.MatrixType.String(),
	)

	// selection scores the candidates; without validation data it falls
	// back to the training rows.
	selection := val
	if selection == nil && len(cfg.L2) > 1 {
		logger.Warn("No validation data for l2 selection, using training data",
			log.L2GridKey, cfg.L2,
			log.SuggestionKey, "pass validation data to select l2 on held-out rows",
		)
		selection = newObjective(param, logp, target, 0, cfg.Regularization)
	}

	seed := cfg.RandomState
	if seed < 0 {
		seed = rand.Int63()
	}
	x0 := param.InitialParams(cfg.Initializer, rand.New(rand.NewSource(seed)))

	logger.Info("Calibration fit started",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		log.ClassesKey, k,
		log.ParamsKey, param.NumParams(),
		log.L2GridKey, cfg.L2,
		log.InitializerKey, cfg.Initializer.String(),
		log.SolverKey, cfg.Solver.Method,
	)
	start := time.Now()

	type fitted struct {
		params []float64
		result CandidateResult
	}
	fits := make([]fitted, 0, len(cfg.L2))
	best := -1
	for _, l2 := range cfg.L2 {
		obj := newObjective(param, logp, target, l2, cfg.Regularization)
		d := newDriver(cfg.Solver, logger.With(log.L2Key, l2))
		x, report, err := d.run(obj, val, x0)
		if err != nil {
			logger.Error("Calibration fit failed", err,
				log.L2Key, l2,
				log.StateKey, report.State.String(),
				log.IterationKey, report.Iterations,
			)
			return nil, err
		}

		cand := CandidateResult{
			L2:             l2,
			TrainLoss:      obj.Loss(x),
			ValidationLoss: math.NaN(),
			Report:         report,
		}
		if selection != nil {
			cand.ValidationLoss = selection.Loss(x)
		}
		logger.Debug("Candidate fitted",
			log.OperationKey, log.OperationSelect,
			log.L2Key, l2,
			log.LossKey, cand.TrainLoss,
			log.ValidationLossKey, cand.ValidationLoss,
			log.StateKey, report.State.String(),
			log.IterationKey, report.Iterations,
		)

		fits = append(fits, fitted{params: x, result: cand})
		if best < 0 || cand.ValidationLoss < fits[best].result.ValidationLoss {
			best = len(fits) - 1
		}
	}

	chosen := fits[best]
	w, b := param.Unpack(chosen.params)
	candidates := make([]CandidateResult, len(fits))
	for i, f := range fits {
		candidates[i] = f.result
	}
	state := &FittedState{
		matrixType:  cfg.MatrixType,
		w:           w,
		b:           b,
		l2:          chosen.result.L2,
		initializer: cfg.Initializer,
		policy:      cfg.Regularization,
		epsilon:     cfg.Epsilon,
		report:      chosen.result.Report,
		candidates:  candidates,
	}

	logger.Info("Calibration fit completed",
		log.OperationKey, log.OperationFit,
		log.L2Key, state.l2,
		log.StateKey, state.report.State.String(),
		log.IterationKey, state.report.Iterations,
		log.LossKey, state.report.TrainLoss,
		log.ValidationLossKey, chosen.result.ValidationLoss,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return state, nil
}

// targetMatrix converts labels to n×k target rows.
func targetMatrix(op string, y mat.Matrix, n, k int) (*mat.Dense, error) {
	if y == nil {
		return nil, scierrors.NewConfigurationError("y", "labels are required", nil)
	}
	yr, yc := y.Dims()
	if yr != n {
		return nil, scierrors.NewDimensionError(op, n, yr, 0)
	}

	target := mat.NewDense(n, k, nil)
	switch yc {
	case 1:
		for i := 0; i < n; i++ {
			v := y.At(i, 0)
			c := int(v)
			if float64(c) != v || c < 0 || c >= k {
				return nil, scierrors.NewValidationError("y", "labels must be class indices in [0, n_classes)", v)
			}
			target.Set(i, c, 1)
		}
	case k:
		for i := 0; i < n; i++ {
			for j := 0; j < k; j++ {
				v := y.At(i, j)
				if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, scierrors.NewValidationError("y", "target distributions must be finite and non-negative", v)
				}
				target.Set(i, j, v)
			}
		}
	default:
		return nil, scierrors.NewDimensionError(op, k, yc, 1)
	}
	return target, nil
}
