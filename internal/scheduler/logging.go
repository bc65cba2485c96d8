package scheduler

import "log/slog"

const logModule = "scheduler"

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
