package canbus

import "log/slog"

func linkLogger(name string, attrs ...any) *slog.Logger {
	logger := slog.With("component", "canbus", "link", name)
	if len(attrs) == 0 {
		return logger
	}

	return logger.With(attrs...)
}
