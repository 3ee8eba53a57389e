// Package logging configures structured slog output for relindex.
//
// Batch commands (filter, rebuild, optimize) log JSON lines to
// ~/.relindex/logs/relindex.log with size-based rotation. Stderr mirroring
// is on by default so scheduled runs still surface errors in cron mail.
package logging
