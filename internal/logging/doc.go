// Package logging wraps log/slog with the handlers and attribute helpers
// shared by the daemon, workers, and CLI. The console handler renders compact
// key=value lines; the JSON handler is intended for log shippers.
package logging
