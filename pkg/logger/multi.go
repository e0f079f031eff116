package logger

import (
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
)

// Multi fans each record out to every logger's handler. warden serve uses
// it to log to the console and to warden.log at once.
func Multi(loggers ...*slog.Logger) *slog.Logger {
	handlers := make([]slog.Handler, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			handlers = append(handlers, l.Handler())
		}
	}
	return slog.New(slogmulti.Fanout(handlers...))
}
