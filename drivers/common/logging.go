package common

import (
	"context"
	"log/slog"
)

// discardHandler drops every record. (slog.DiscardHandler only arrived in Go
// 1.24.)
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

// LoggerOrDiscard returns `logger`, or a logger that throws everything away if
// it's nil.
func LoggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(discardHandler{})
	}
	return logger
}
