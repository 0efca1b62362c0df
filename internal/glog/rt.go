package glog

import "log/slog"

// RT returns a copy of log that includes fields for the given round and term numbers.
func RT(log *slog.Logger, round, term uint64) *slog.Logger {
	return log.With("round", round, "term", term)
}

// RTE is like [RT] but also attaches the given error.
func RTE(log *slog.Logger, round, term uint64, e error) *slog.Logger {
	return log.With("round", round, "term", term, "err", e)
}
