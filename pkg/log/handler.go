package log

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

// ErrFmtHandler is a slog handler that enriches records carrying an error
// attribute. It adds the stacktrace recorded by cockroachdb/errors and, for
// calibrator failures, the error kind and solver status.
type ErrFmtHandler struct {
	handler slog.Handler
}

// WrapByErrFmtHandler wraps handler with stacktrace extraction.
func WrapByErrFmtHandler(handler slog.Handler) slog.Handler {
	return &ErrFmtHandler{
		handler: handler,
	}
}

func (eh *ErrFmtHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return eh.handler.Enabled(ctx, l)
}

func (eh *ErrFmtHandler) Handle(ctx context.Context, r slog.Record) error {
	var logged error
	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key == ErrAttrKey {
			logged, _ = attr.Value.Any().(error)
			return false
		}
		return true
	})
	if logged == nil {
		return eh.handler.Handle(ctx, r)
	}
	if stacktrace := extractStacktrace(logged); stacktrace != "" {
		r.AddAttrs(slog.String(StacktraceAttrKey, stacktrace))
	}
	r.AddAttrs(calibratorErrorAttrs(logged)...)
	return eh.handler.Handle(ctx, r)
}

func (eh *ErrFmtHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithAttrs(attrs)}
}

func (eh *ErrFmtHandler) WithGroup(g string) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithGroup(g)}
}

func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}

// calibratorErrorAttrs classifies err by the first calibrator error type
// found in its chain.
func calibratorErrorAttrs(err error) []slog.Attr {
	var optErr *scierrors.OptimizationError
	if scierrors.As(err, &optErr) {
		return []slog.Attr{
			slog.String(ErrorKindAttrKey, "optimization"),
			slog.String(SolverStatusAttrKey, optErr.Status),
			slog.Int(IterationKey, optErr.Iterations),
		}
	}
	var numErr *scierrors.NumericalInstabilityError
	if scierrors.As(err, &numErr) {
		return []slog.Attr{
			slog.String(ErrorKindAttrKey, "numerical"),
			slog.String(OperationKey, numErr.Operation),
		}
	}
	var notFitted *scierrors.NotFittedError
	if scierrors.As(err, &notFitted) {
		return []slog.Attr{slog.String(ErrorKindAttrKey, "not_fitted")}
	}
	var dimErr *scierrors.DimensionError
	if scierrors.As(err, &dimErr) {
		return []slog.Attr{slog.String(ErrorKindAttrKey, "dimension")}
	}
	var cfgErr *scierrors.ConfigurationError
	if scierrors.As(err, &cfgErr) {
		return []slog.Attr{slog.String(ErrorKindAttrKey, "configuration")}
	}
	return nil
}
