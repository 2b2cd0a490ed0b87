package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/clouddeck/buildgate/pkg/api/logger/color"
)

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

type Logger interface {
	Error(ctx context.Context, format string, a ...any)
	Warn(ctx context.Context, format string, a ...any)
	Info(ctx context.Context, format string, a ...any)
	Debug(ctx context.Context, format string, a ...any)

	// SetLogLevel returns a derived context carrying the desired verbosity.
	SetLogLevel(ctx context.Context, level LogLevel) context.Context
}

type levelKey struct{}

type logger struct {
	stdout io.Writer
	stderr io.Writer
}

func New() Logger {
	return &logger{stdout: os.Stdout, stderr: os.Stderr}
}

// NewWithWriters is meant for tests that need to capture output.
func NewWithWriters(stdout, stderr io.Writer) Logger {
	return &logger{stdout: stdout, stderr: stderr}
}

func (l *logger) SetLogLevel(ctx context.Context, level LogLevel) context.Context {
	return context.WithValue(ctx, levelKey{}, level)
}

func levelOf(ctx context.Context) LogLevel {
	if ctx == nil {
		return LogLevelInfo
	}
	if lvl, ok := ctx.Value(levelKey{}).(LogLevel); ok {
		return lvl
	}
	return LogLevelInfo
}

func (l *logger) Error(ctx context.Context, format string, a ...any) {
	_, _ = fmt.Fprintln(l.stderr, color.RedFmt("ERROR: "+format, a...))
}

func (l *logger) Warn(ctx context.Context, format string, a ...any) {
	if levelOf(ctx) < LogLevelWarn {
		return
	}
	_, _ = fmt.Fprintln(l.stderr, color.YellowFmt("WARN: "+format, a...))
}

func (l *logger) Info(ctx context.Context, format string, a ...any) {
	if levelOf(ctx) < LogLevelInfo {
		return
	}
	_, _ = fmt.Fprintln(l.stdout, fmt.Sprintf(format, a...))
}

func (l *logger) Debug(ctx context.Context, format string, a ...any) {
	if levelOf(ctx) < LogLevelDebug {
		return
	}
	_, _ = fmt.Fprintln(l.stdout, color.GrayFmt("DEBUG: "+format, a...))
}
