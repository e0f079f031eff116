// Package logger builds the slog loggers used across warden: a colorized
// console handler for terminals, JSON for log files, text otherwise.
package logger

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level     slog.Level
	pretty    bool
	json      bool
	source    bool
	component string
	writers   []io.Writer
}

// New builds a logger. Without options it writes Info and above as text
// to os.Stdout.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(c)
	}

	l := slog.New(c.handler(c.output()))
	if c.component != "" {
		l = l.With("component", c.component)
	}
	return l
}

func (c *config) output() io.Writer {
	switch len(c.writers) {
	case 0:
		return os.Stdout
	case 1:
		return c.writers[0]
	default:
		return io.MultiWriter(c.writers...)
	}
}

func (c *config) handler(w io.Writer) slog.Handler {
	if c.pretty {
		return charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(c.level),
			ReportTimestamp: true,
			ReportCaller:    c.source,
		})
	}

	opts := &slog.HandlerOptions{Level: c.level, AddSource: c.source}
	if c.json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Turn scopes l to one agent turn so every record carries the turn and
// user ids.
func Turn(l *slog.Logger, turnID, userID string) *slog.Logger {
	return l.With("turn_id", turnID, "user_id", userID)
}
