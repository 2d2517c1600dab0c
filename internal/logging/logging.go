// Package logging configures logrus and carries request-scoped entries on
// contexts.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

type contextKey struct{}

// Setup configures the standard logger: JSON lines to stdout and, when the
// directory is writable, to logFile as well so the log shipper can tail it.
func Setup(level, logFile string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	var out io.Writer = os.Stdout
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err == nil {
				out = io.MultiWriter(os.Stdout, f)
			}
		}
	}
	logrus.SetOutput(out)
}

// WithLogger stores entry on ctx.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	if entry == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, entry)
}

// FromContext returns the entry stored on ctx, or one on the standard logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(contextKey{}).(*logrus.Entry); ok && entry != nil {
			return entry
		}
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
