// Package logging provides opt-in file-based logging with rotation for agentsdb.
// When debug logging is enabled, comprehensive logs are written to
// ~/.agentsdb/logs/ for diagnostics; writer-path refusals, format validation
// failures, and embedder backend errors all flow through this package via
// log/slog's structured attribute API.
//
// By default, logging is minimal and goes to stderr only.
package logging
