package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace sits below slog's debug level and carries pion trace output.
const LevelTrace = slog.LevelDebug - 4

// PionFactory routes pion's internal loggers (ICE, DTLS, SCTP) into slog.
type PionFactory struct {
	Logger *slog.Logger
}

// NewPionFactory returns a factory writing to logger, or slog.Default when nil.
func NewPionFactory(logger *slog.Logger) *PionFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &PionFactory{Logger: logger}
}

// NewLogger implements logging.LoggerFactory.
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{log: f.Logger.With("component", "pion", "scope", scope)}
}

var _ logging.LoggerFactory = (*PionFactory)(nil)

type pionLogger struct {
	log *slog.Logger
}

func (l *pionLogger) emit(level slog.Level, msg string) {
	l.log.Log(context.Background(), level, msg)
}

func (l *pionLogger) emitf(level slog.Level, format string, args ...any) {
	if !l.log.Enabled(context.Background(), level) {
		return
	}
	l.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *pionLogger) Trace(msg string) {
	l.emit(LevelTrace, msg)
}

func (l *pionLogger) Tracef(format string, args ...any) {
	l.emitf(LevelTrace, format, args...)
}

func (l *pionLogger) Debug(msg string) {
	l.emit(slog.LevelDebug, msg)
}

func (l *pionLogger) Debugf(format string, args ...any) {
	l.emitf(slog.LevelDebug, format, args...)
}

func (l *pionLogger) Info(msg string) {
	l.emit(slog.LevelInfo, msg)
}

func (l *pionLogger) Infof(format string, args ...any) {
	l.emitf(slog.LevelInfo, format, args...)
}

func (l *pionLogger) Warn(msg string) {
	l.emit(slog.LevelWarn, msg)
}

func (l *pionLogger) Warnf(format string, args ...any) {
	l.emitf(slog.LevelWarn, format, args...)
}

func (l *pionLogger) Error(msg string) {
	l.emit(slog.LevelError, msg)
}

func (l *pionLogger) Errorf(format string, args ...any) {
	l.emitf(slog.LevelError, format, args...)
}
