// Package calibration implements Dirichlet-style multiclass probability
// calibration.
//
// A calibrator learns an affine map in log-probability space,
//
//	calibrated = softmax(W · log p + b)
//
// where W is a k×k matrix and b a length-k intercept. Three families
// restrict the shape of W:
//
//   - Full: W is unconstrained (k² weights).
//   - Diagonal: W is diagonal, one scale per class.
//   - FixedDiagonal: one scalar on the diagonal and one shared by every
//     off-diagonal entry.
//
// Parameters are fitted by regularized maximum likelihood with a
// quasi-Newton solver from gonum/optimize. When several l2 strengths are
// given, each one is fitted independently and the fit with the lowest
// validation cross-entropy is kept.
//
// The engine functions (Fit, PredictProba, Predict) operate on an immutable
// FittedState. DirichletCalibrator wraps them with functional options,
// binary-input handling and atomic state replacement.
//
// Example:
//
//	cal, err := calibration.NewDirichletCalibrator(
//	    calibration.WithMatrixType("diagonal"),
//	    calibration.WithL2Grid([]float64{0, 1e-2, 1}),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := cal.FitWithValidation(XTrain, yTrain, XVal, yVal); err != nil {
//	    return err
//	}
//	proba, err := cal.PredictProba(XTest)
package calibration
