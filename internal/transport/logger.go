package transport

import "log/slog"

func transportLogger(name string, attrs ...any) *slog.Logger {
	base := []any{"component", "transport", "transport", name}

	return slog.Default().With(append(base, attrs...)...)
}
