// Package dircal provides Dirichlet calibration of multiclass probability
// outputs for Go services.
//
// A classifier's scores are mapped through a learned linear transform of
// their logarithms followed by a softmax. Three families of transforms are
// supported, from most to least expressive:
//
//   - full: an unrestricted k×k matrix plus intercepts
//   - diagonal: per-class scaling plus intercepts (vector scaling)
//   - fixed_diagonal: one shared diagonal value, one shared off-diagonal
//     value, plus intercepts
//
// Parameters are fitted by regularized maximum likelihood with gonum's
// quasi-Newton optimizers. An l2 grid can be searched against a held-out
// validation set.
//
// # Quick Start
//
//	cal, err := calibration.NewDirichletCalibrator(
//	    calibration.WithMatrixType("full"),
//	    calibration.WithL2Grid([]float64{0, 1e-3, 1e-2}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cal.FitWithValidation(P, y, PVal, yVal); err != nil {
//	    log.Fatal(err)
//	}
//	calibrated, err := cal.PredictProba(PTest)
//
// # Packages
//
//   - sklearn/calibration: calibrators, parameterizations, fitting, prediction
//   - metrics: log-loss, Brier score, accuracy, ECE and reliability curves
//   - core/model: calibrator interfaces, state management, weight export
//   - core/parallel: chunked parallel loops used by the objective and predictor
//   - pkg/errors: error types built on cockroachdb/errors
//   - pkg/log: structured logging over zerolog or log/slog
//   - cmd/dircal: command line tool for fitting and applying calibrators
//
// # License
//
// dircal is released under the MIT License.
package dircal
