package calibration

import (
	"math"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
	"github.com/YuminosukeSato/dircal/pkg/log"
)

// Config holds every setting of a calibration fit. There is no package-level
// solver state; each Fit call receives its own Config.
type Config struct {
	// MatrixType selects the family of W.
	MatrixType MatrixType

	// L2 is the grid of regularization strengths. Each value is fitted
	// independently; with more than one value the lowest validation loss
	// wins.
	L2 []float64

	// Initializer selects the optimizer starting point.
	Initializer Initializer

	// Regularization selects the penalty convention.
	Regularization RegularizationPolicy

	// Solver configures the optimizer driver.
	Solver SolverConfig

	// Epsilon is the floor applied to probabilities before taking logs.
	Epsilon float64

	// RandomState seeds the random initializer. A negative value draws a
	// seed from the global source.
	RandomState int64

	// Logger receives fit progress. nil uses the package provider.
	Logger log.Logger
}

// DefaultConfig returns an unregularized Full calibrator started from the
// identity.
func DefaultConfig() Config {
	return Config{
		MatrixType:  Full,
		L2:          []float64{0},
		Initializer: InitIdentity,
		Solver:      DefaultSolverConfig(),
		Epsilon:     DefaultEpsilon,
		RandomState: -1,
	}
}

// Validate returns a ConfigurationError for the first invalid setting.
func (c Config) Validate() error {
	if !c.MatrixType.valid() {
		return scierrors.NewConfigurationError("matrix_type",
			"must be one of full, diagonal, fixed_diagonal", int(c.MatrixType))
	}
	if len(c.L2) == 0 {
		return scierrors.NewConfigurationError("l2", "at least one value is required", c.L2)
	}
	for _, v := range c.L2 {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return scierrors.NewConfigurationError("l2", "values must be finite and non-negative", v)
		}
	}
	if c.Initializer != InitIdentity && c.Initializer != InitRandom {
		return scierrors.NewConfigurationError("initializer", "must be identity or random", int(c.Initializer))
	}
	if !(c.Epsilon > 0 && c.Epsilon < 1) {
		return scierrors.NewConfigurationError("epsilon", "must be in (0, 1)", c.Epsilon)
	}
	return c.Solver.Validate()
}

func (c Config) logger() log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.GetLoggerWithName("calibration")
}
