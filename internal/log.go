package internal

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"strings"
)

type loggerKey struct{}

// WithLogger stores lg in ctx for GetLogger.
func WithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, lg)
}

// GetLogger returns the logger stored by WithLogger, or the default logger.
func GetLogger(ctx context.Context) *slog.Logger {
	if lg, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && lg != nil {
		return lg
	}

	return slog.Default()
}

func GetRequestLogger(base *slog.Logger, r *http.Request) *slog.Logger {
	return base.With(
		"host", r.Host,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"origin", r.Header.Get("Origin"),
		"x-forwarded-for", r.Header.Get("X-Forwarded-For"),
		"x-real-ip", r.Header.Get("X-Real-Ip"),
	)
}

// ErrorLogFilter drops http.Server error log lines that only mean a client
// went away.
type ErrorLogFilter struct {
	Unwrap *log.Logger
}

var suppressedErrorLogs = []string{
	"context canceled",
	"http: TLS handshake error",
	"broken pipe",
	"connection reset by peer",
}

func (elf *ErrorLogFilter) Write(p []byte) (n int, err error) {
	logMessage := string(p)
	for _, s := range suppressedErrorLogs {
		if strings.Contains(logMessage, s) {
			return len(p), nil
		}
	}

	if elf.Unwrap != nil {
		err := elf.Unwrap.Output(2, strings.TrimSuffix(logMessage, "\n"))
		return len(p), err
	}

	return len(p), nil
}
