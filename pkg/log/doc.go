// Package log provides structured logging for the orchestrator.
//
// Components receive a Logger tagged with their component name and emit
// events as a message plus typed Fields:
//
//	logger.Info("lease extended",
//		log.Str("message_id", id),
//		log.Dur("remaining", remaining),
//	)
//
// Output format (text or json) and minimum level are picked once at
// process start via Config/ApplyConfig; the actual encoding is handled
// by log/slog handlers underneath. Loggers are immutable: With and
// WithComponent return derived loggers, SetLevel adjusts the shared
// level for a logger tree.
package log
