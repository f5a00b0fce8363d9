// Package log defines standard attribute keys for calibration operations.
//
// Keys follow a hierarchical naming convention ("data.samples",
// "hyperparams.l2") so that records from different components can be
// filtered the same way.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the calibrator type, e.g. "DirichletCalibrator".
	ModelNameKey = "model.name"

	// ModelHashKey is the SHA-256 fingerprint of exported weights.
	ModelHashKey = "model.hash"

	// MatrixTypeKey identifies the parameterization family:
	// "full", "diagonal" or "fixed_diagonal".
	MatrixTypeKey = "model.matrix_type"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which component emits the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase: "training", "validation", "inference".
	PhaseKey = "ml.phase"
)

// Data Shape
const (
	// SamplesKey is the number of instances (rows).
	SamplesKey = "data.samples"

	// ClassesKey is the number of classes (columns of the probability matrix).
	ClassesKey = "data.classes"

	// ValidationSamplesKey is the number of held-out validation instances.
	ValidationSamplesKey = "data.validation_samples"

	// ParamsKey is the number of free parameters being optimised.
	ParamsKey = "data.free_params"
)

// Optimisation and Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records the penalised training objective.
	LossKey = "metrics.loss"

	// ValidationLossKey records the unpenalised validation cross-entropy.
	ValidationLossKey = "metrics.validation_loss"

	// GradNormKey records the max-norm of the gradient.
	GradNormKey = "metrics.grad_norm"

	// IterationKey records the current major iteration of the solver.
	IterationKey = "training.iteration"

	// SolverKey records the quasi-Newton method in use ("lbfgs", "bfgs").
	SolverKey = "training.solver"

	// StateKey records the terminal state of the optimizer driver.
	StateKey = "training.state"
)

// Hyperparameters and Configuration
const (
	// L2Key records the regularization strength of a single fit.
	L2Key = "hyperparams.l2"

	// L2GridKey records the candidate grid for model selection.
	L2GridKey = "hyperparams.l2_grid"

	// InitializerKey records the initializer ("identity", "random").
	InitializerKey = "hyperparams.initializer"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Error and Warning Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// SuggestionKey provides a hint for resolving the issue.
	SuggestionKey = "error.suggestion"
)

// Standard attribute values.
const (
	OperationFit         = "fit"
	OperationPredict     = "predict"
	OperationPredictProb = "predict_proba"
	OperationSelect      = "select_l2"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseInference  = "inference"
)
