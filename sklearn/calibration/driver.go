package calibration

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
	"github.com/YuminosukeSato/dircal/pkg/log"
)

// State is the terminal or current state of an optimizer run.
type State int

const (
	StateInitialized State = iota
	StateIterating
	StateConverged
	StateMaxIterReached
	StateFailed
)

// String returns the state name used in logs and reports.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateMaxIterReached:
		return "max_iter_reached"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SolverConfig configures the quasi-Newton optimizer.
type SolverConfig struct {
	// Method is "lbfgs" or "bfgs".
	Method string `json:"method" yaml:"method"`

	// MaxIter bounds the number of major iterations.
	MaxIter int `json:"max_iter" yaml:"max_iter"`

	// GradTol stops when the gradient infinity norm falls below it.
	GradTol float64 `json:"grad_tol" yaml:"grad_tol"`

	// FuncTol stops when the loss improves by less than FuncTol over
	// FuncTolIterations major iterations.
	FuncTol           float64 `json:"func_tol" yaml:"func_tol"`
	FuncTolIterations int     `json:"func_tol_iterations" yaml:"func_tol_iterations"`

	// StallGradTol accepts a solver that stopped on a line-search failure
	// if the gradient norm is already below it.
	StallGradTol float64 `json:"stall_grad_tol" yaml:"stall_grad_tol"`

	// EarlyStopping checks the validation loss every ValidationInterval
	// major iterations and stops after Patience checks without improvement.
	// It needs validation data and is ignored otherwise.
	EarlyStopping      bool `json:"early_stopping" yaml:"early_stopping"`
	ValidationInterval int  `json:"validation_interval" yaml:"validation_interval"`
	Patience           int  `json:"patience" yaml:"patience"`
}

// DefaultSolverConfig returns the default L-BFGS settings.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Method:             "lbfgs",
		MaxIter:            500,
		GradTol:            1e-6,
		FuncTol:            1e-10,
		FuncTolIterations:  20,
		StallGradTol:       1e-4,
		ValidationInterval: 5,
		Patience:           5,
	}
}

// Validate checks the solver settings.
func (c SolverConfig) Validate() error {
	switch strings.ToLower(c.Method) {
	case "lbfgs", "bfgs":
	default:
		return scierrors.NewConfigurationError("solver.method", "must be lbfgs or bfgs", c.Method)
	}
	if c.MaxIter <= 0 {
		return scierrors.NewConfigurationError("solver.max_iter", "must be positive", c.MaxIter)
	}
	if !(c.GradTol > 0) {
		return scierrors.NewConfigurationError("solver.grad_tol", "must be positive", c.GradTol)
	}
	if c.FuncTol < 0 || math.IsNaN(c.FuncTol) {
		return scierrors.NewConfigurationError("solver.func_tol", "must be non-negative", c.FuncTol)
	}
	if c.FuncTolIterations <= 0 {
		return scierrors.NewConfigurationError("solver.func_tol_iterations", "must be positive", c.FuncTolIterations)
	}
	if c.StallGradTol < 0 || math.IsNaN(c.StallGradTol) {
		return scierrors.NewConfigurationError("solver.stall_grad_tol", "must be non-negative", c.StallGradTol)
	}
	if c.EarlyStopping {
		if c.ValidationInterval <= 0 {
			return scierrors.NewConfigurationError("solver.validation_interval", "must be positive", c.ValidationInterval)
		}
		if c.Patience <= 0 {
			return scierrors.NewConfigurationError("solver.patience", "must be positive", c.Patience)
		}
	}
	return nil
}

func (c SolverConfig) method() optimize.Method {
	if strings.EqualFold(c.Method, "bfgs") {
		return &optimize.BFGS{}
	}
	return &optimize.LBFGS{}
}

// FitReport describes one optimizer run.
type FitReport struct {
	State           State         `json:"state"`
	Status          string        `json:"status"`
	Iterations      int           `json:"iterations"`
	FuncEvaluations int           `json:"func_evaluations"`
	TrainLoss       float64       `json:"train_loss"`
	ValidationLoss  float64       `json:"validation_loss"`
	GradNorm        float64       `json:"grad_norm"`
	EarlyStopped    bool          `json:"early_stopped"`
	Duration        time.Duration `json:"duration"`
}

var errEarlyStop = scierrors.New("validation loss stopped improving")

// driverOp names the driver in numerical and panic errors.
const driverOp = "calibration.driver"

// driver runs one optimization from a fixed starting point.
type driver struct {
	cfg    SolverConfig
	logger log.Logger
	state  State
}

func newDriver(cfg SolverConfig, logger log.Logger) *driver {
	return &driver{cfg: cfg, logger: logger, state: StateInitialized}
}

// checkpointRecorder logs progress and implements early stopping on the
// validation loss.
type checkpointRecorder struct {
	cfg    SolverConfig
	val    *objective
	logger log.Logger

	major    int
	bestLoss float64
	bestX    []float64
	bad      int
}

func (r *checkpointRecorder) Init() error {
	r.major = 0
	r.bestLoss = math.Inf(1)
	r.bestX = nil
	r.bad = 0
	return nil
}

func (r *checkpointRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	r.major++
	if r.logger.Enabled(context.Background(), log.LevelDebug) {
		gradNorm := math.NaN()
		if loc.Gradient != nil {
			gradNorm = floats.Norm(loc.Gradient, math.Inf(1))
		}
		r.logger.Debug("Optimizer iteration",
			log.IterationKey, stats.MajorIterations,
			log.LossKey, loc.F,
			log.GradNormKey, gradNorm,
		)
	}
	if r.val == nil || r.major%r.cfg.ValidationInterval != 0 {
		return nil
	}

	vloss := r.val.Loss(loc.X)
	r.logger.Debug("Validation checkpoint",
		log.IterationKey, stats.MajorIterations,
		log.ValidationLossKey, vloss,
	)
	if vloss < r.bestLoss {
		r.bestLoss = vloss
		r.bestX = append(r.bestX[:0], loc.X...)
		r.bad = 0
		return nil
	}
	r.bad++
	if r.bad >= r.cfg.Patience {
		return errEarlyStop
	}
	return nil
}

// run minimizes obj from x0. val, when non-nil, is only used for early
// stopping and the reported validation loss.
func (d *driver) run(obj, val *objective, x0 []float64) ([]float64, FitReport, error) {
	start := time.Now()
	report := FitReport{ValidationLoss: math.NaN()}
	algorithm := strings.ToLower(d.cfg.Method)

	rec := &checkpointRecorder{cfg: d.cfg, logger: d.logger, bestLoss: math.Inf(1)}
	if d.cfg.EarlyStopping && val != nil {
		rec.val = val
	}

	settings := &optimize.Settings{
		GradientThreshold: d.cfg.GradTol,
		MajorIterations:   d.cfg.MaxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   d.cfg.FuncTol,
			Iterations: d.cfg.FuncTolIterations,
		},
		Recorder: rec,
	}
	problem := optimize.Problem{Func: obj.Func, Grad: obj.Grad}

	fail := func(status string, iterations int, cause error) ([]float64, FitReport, error) {
		d.state = StateFailed
		report.State = d.state
		report.Status = status
		report.Iterations = iterations
		report.Duration = time.Since(start)
		return nil, report, scierrors.NewOptimizationError(algorithm, status, iterations, cause)
	}

	f0 := obj.Func(x0)
	g0 := make([]float64, len(x0))
	obj.Grad(g0, x0)
	if err := scierrors.CheckScalar(driverOp, f0, 0); err != nil {
		return fail("non_finite_start", 0, err)
	}
	if err := scierrors.CheckNumericalStability(driverOp, g0, 0); err != nil {
		return fail("non_finite_start", 0, err)
	}

	d.state = StateIterating
	var result *optimize.Result
	err := scierrors.SafeExecute(driverOp, func() error {
		var minErr error
		result, minErr = optimize.Minimize(problem, append([]float64(nil), x0...), settings, d.cfg.method())
		return minErr
	})

	var panicErr *scierrors.PanicError
	if scierrors.As(err, &panicErr) {
		return fail("panic", 0, err)
	}
	if result == nil {
		return fail("no_result", 0, err)
	}

	x := result.X
	report.Status = result.Status.String()
	report.Iterations = result.Stats.MajorIterations
	report.FuncEvaluations = result.Stats.FuncEvaluations

	switch {
	case err != nil && scierrors.Is(err, errEarlyStop):
		if rec.bestX != nil {
			x = rec.bestX
		}
		report.EarlyStopped = true
		report.Status = "early_stopping"
		d.state = StateConverged
	case err != nil:
		d.state = StateFailed
	default:
		switch result.Status {
		case optimize.GradientThreshold, optimize.FunctionConvergence,
			optimize.StepConvergence, optimize.MethodConverge, optimize.Success:
			d.state = StateConverged
		case optimize.IterationLimit, optimize.FunctionEvaluationLimit,
			optimize.GradientEvaluationLimit, optimize.RuntimeLimit:
			d.state = StateMaxIterReached
		default:
			d.state = StateFailed
		}
	}

	if err := scierrors.CheckNumericalStability(driverOp, x, report.Iterations); err != nil {
		return fail(report.Status, report.Iterations, err)
	}

	grad := make([]float64, len(x))
	obj.Grad(grad, x)
	report.TrainLoss = obj.Func(x)
	report.GradNorm = floats.Norm(grad, math.Inf(1))
	if err := scierrors.CheckScalar(driverOp, report.TrainLoss, report.Iterations); err != nil {
		return fail(report.Status, report.Iterations, err)
	}
	if err := scierrors.CheckNumericalStability(driverOp, grad, report.Iterations); err != nil {
		return fail(report.Status, report.Iterations, err)
	}

	// A line search that cannot make progress at a near-stationary point
	// is a successful fit.
	if d.state == StateFailed && report.GradNorm <= d.cfg.StallGradTol {
		d.state = StateConverged
	}
	if d.state == StateFailed {
		cause := err
		if cause == nil {
			cause = solverStopError(report.Status, report.GradNorm)
		}
		return fail(report.Status, report.Iterations, cause)
	}

	if d.state == StateMaxIterReached {
		scierrors.Warn(scierrors.NewConvergenceWarning(algorithm, report.Iterations,
			fmt.Sprintf("stopped with status %s, gradient norm %g; consider increasing max_iter or l2", report.Status, report.GradNorm)))
	}
	if val != nil {
		report.ValidationLoss = val.Loss(x)
	}
	report.State = d.state
	report.Duration = time.Since(start)
	return append([]float64(nil), x...), report, nil
}

// solverStopError describes a solver that stopped short of convergence
// without returning an error of its own.
func solverStopError(status string, gradNorm float64) error {
	return scierrors.Newf("solver stopped with status %s, gradient norm %g", status, gradNorm)
}
