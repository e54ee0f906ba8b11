// Package logging provides the structured logging convention used across
// the core, a thin wrapper around logrus matching the logger.Ctx{...}
// call-site style.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx is a set of structured fields attached to a log line.
type Ctx map[string]any

var std = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}()

// SetLevel adjusts the minimum level logged, accepting the usual logrus
// level names ("debug", "info", "warn", "error").
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(lvl)
	return nil
}

func fields(ctx Ctx) logrus.Fields {
	if ctx == nil {
		return nil
	}
	return logrus.Fields(ctx)
}

// Debug logs a debug-level message with optional structured context.
func Debug(msg string, ctx ...Ctx) {
	entry(ctx).Debug(msg)
}

// Info logs an info-level message with optional structured context.
func Info(msg string, ctx ...Ctx) {
	entry(ctx).Info(msg)
}

// Warn logs a warn-level message with optional structured context.
func Warn(msg string, ctx ...Ctx) {
	entry(ctx).Warn(msg)
}

// Error logs an error-level message with optional structured context.
func Error(msg string, ctx ...Ctx) {
	entry(ctx).Error(msg)
}

func entry(ctx []Ctx) *logrus.Entry {
	if len(ctx) == 0 || ctx[0] == nil {
		return logrus.NewEntry(std)
	}
	return std.WithFields(fields(ctx[0]))
}
