// Package logger builds the application-wide slog.Logger. Production
// environments get JSON output, everything else gets human-readable text.
package logger
