package logger

import (
	"log/slog"
	"os"
)

// New returns the structured JSON logger used across the service.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// NewAuditFallback returns the secondary channel that receives audit append
// failures. It writes to stderr so a broken audit store still leaves a trace
// somewhere operators watch.
func NewAuditFallback() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("channel", "audit_fallback")
}
