// Package logger provides structured logging for snapstream.
//
// It wraps log/slog with a process-wide dynamic level, JSON or text output
// and automatic redaction of secrets:
//
//   - logger.go: construction, level control, package-level helpers
//   - context.go: logger and transaction id propagation through contexts
//   - redact.go: attribute redaction
//
// Engine components take a plain *slog.Logger; use Slog to obtain one from a
// configured Logger.
package logger
