package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/rs/zerolog"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

var (
	providerMu sync.RWMutex
	provider   LoggerProvider = NewZerologProvider(os.Stderr, LevelInfo)
)

// SetProvider replaces the package-wide provider. Loggers obtained earlier
// keep writing to their original backend.
func SetProvider(p LoggerProvider) {
	if p == nil {
		return
	}
	providerMu.Lock()
	defer providerMu.Unlock()
	provider = p
}

// GetProvider returns the package-wide provider.
func GetProvider() LoggerProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider
}

// GetLogger returns the default logger of the current provider.
func GetLogger() Logger {
	return GetProvider().GetLogger()
}

// GetLoggerWithName returns a logger tagged with ComponentKey=name.
func GetLoggerWithName(name string) Logger {
	return GetProvider().GetLoggerWithName(name)
}

// InstallWarningHook routes errors.Warn through the current provider.
// Warnings implementing zerolog.LogObjectMarshaler keep their structured
// fields when the provider is zerolog-backed.
func InstallWarningHook() {
	p := GetProvider()
	if zp, ok := p.(*ZerologProvider); ok {
		scierrors.SetZerologWarnFunc(zp.warn)
		return
	}
	logger := p.GetLoggerWithName("warnings")
	scierrors.SetZerologWarnFunc(func(w error) {
		logger.Warn(w.Error())
	})
}

// ===========================================================================
// zerolog backend
// ===========================================================================

// ZerologProvider is the default provider. It writes JSON lines through zerolog.
type ZerologProvider struct {
	mu   sync.RWMutex
	base zerolog.Logger
}

// NewZerologProvider creates a provider writing to w at the given level.
func NewZerologProvider(w io.Writer, level Level) *ZerologProvider {
	return &ZerologProvider{
		base: zerolog.New(w).With().Timestamp().Logger().Level(toZerologLevel(level)),
	}
}

// NewConsoleProvider creates a zerolog provider with human-readable output,
// used by the command line tool.
func NewConsoleProvider(w io.Writer, level Level) *ZerologProvider {
	return &ZerologProvider{
		base: zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger().Level(toZerologLevel(level)),
	}
}

func (p *ZerologProvider) logger() zerolog.Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.base
}

// GetLogger implements LoggerProvider.
func (p *ZerologProvider) GetLogger() Logger {
	return &zerologLogger{zl: p.logger()}
}

// GetLoggerWithName implements LoggerProvider.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{zl: p.logger().With().Str(ComponentKey, name).Logger()}
}

// SetLevel implements LoggerProvider.
func (p *ZerologProvider) SetLevel(level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = p.base.Level(toZerologLevel(level))
}

func (p *ZerologProvider) warn(w error) {
	zl := p.logger()
	e := zl.Warn()
	if obj, ok := w.(zerolog.LogObjectMarshaler); ok {
		e = e.EmbedObject(obj)
	}
	e.Msg(w.Error())
}

// NewZerologLogger returns a standalone zerolog-backed Logger.
func NewZerologLogger(w io.Writer, level Level) Logger {
	return NewZerologProvider(w, level).GetLogger()
}

type zerologLogger struct {
	zl zerolog.Logger
}

func (l *zerologLogger) Debug(msg string, fields ...any) { emit(l.zl.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { emit(l.zl.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { emit(l.zl.Warn(), msg, fields) }
func (l *zerologLogger) Error(msg string, fields ...any) { emit(l.zl.Error(), msg, fields) }

func (l *zerologLogger) With(fields ...any) Logger {
	return &zerologLogger{zl: l.zl.With().Fields(fields).Logger()}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return toZerologLevel(level) >= l.zl.GetLevel()
}

func emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			e = e.Err(err)
			fields = fields[1:]
		}
	}
	e.Fields(fields).Msg(msg)
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// ===========================================================================
// slog backend
// ===========================================================================

// SlogProvider adapts a *slog.Logger to LoggerProvider.
type SlogProvider struct {
	mu     sync.RWMutex
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewSlogProvider wraps logger. Records below level are dropped by the
// provider even if the handler would accept them.
func NewSlogProvider(logger *slog.Logger, level Level) *SlogProvider {
	lv := &slog.LevelVar{}
	lv.Set(slog.Level(level))
	return &SlogProvider{logger: logger, level: lv}
}

// GetLogger implements LoggerProvider.
func (p *SlogProvider) GetLogger() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &slogLogger{l: p.logger, level: p.level}
}

// GetLoggerWithName implements LoggerProvider.
func (p *SlogProvider) GetLoggerWithName(name string) Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &slogLogger{l: p.logger.With(ComponentKey, name), level: p.level}
}

// SetLevel implements LoggerProvider.
func (p *SlogProvider) SetLevel(level Level) {
	p.level.Set(slog.Level(level))
}

type slogLogger struct {
	l     *slog.Logger
	level *slog.LevelVar
}

func (l *slogLogger) log(level slog.Level, msg string, fields []any) {
	if level < l.level.Level() {
		return
	}
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			fields = append([]any{ErrAttr(err)}, fields[1:]...)
		}
	}
	l.l.Log(context.Background(), level, msg, fields...)
}

func (l *slogLogger) Debug(msg string, fields ...any) { l.log(slog.LevelDebug, msg, fields) }
func (l *slogLogger) Info(msg string, fields ...any)  { l.log(slog.LevelInfo, msg, fields) }
func (l *slogLogger) Warn(msg string, fields ...any)  { l.log(slog.LevelWarn, msg, fields) }
func (l *slogLogger) Error(msg string, fields ...any) { l.log(slog.LevelError, msg, fields) }

func (l *slogLogger) With(fields ...any) Logger {
	return &slogLogger{l: l.l.With(fields...), level: l.level}
}

func (l *slogLogger) Enabled(ctx context.Context, level Level) bool {
	return slog.Level(level) >= l.level.Level() && l.l.Enabled(ctx, slog.Level(level))
}
