// Package logging builds the process-wide slog handler from flags and the
// logging block of the config file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mavryk-network/mavryk-faucet-backend/lib/config"
	"github.com/mavryk-network/mavryk-faucet-backend/lib/logging/expressions"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel falls back to info, with a note on stderr, when level is junk.
func ParseLevel(level string) slog.Level {
	var programLevel slog.Level
	if err := (&programLevel).UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v, using info\n", level, err)
		programLevel = slog.LevelInfo
	}

	return programLevel
}

func Init(w io.Writer, level slog.Level) slog.Handler {
	leveler := &slog.LevelVar{}
	leveler.Set(level)

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     leveler,
	})
	return h
}

// Sink opens where cfg says logs go. The returned Closer flushes and closes
// file sinks and is a no-op for stdio.
func Sink(cfg *config.Logging) (io.Writer, io.Closer) {
	if cfg == nil || cfg.Sink != config.LogSinkFile || cfg.Parameters == nil {
		return os.Stderr, nopCloser{}
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.Parameters.Filename,
		MaxSize:    cfg.Parameters.MaxSizeMegabytes(),
		MaxBackups: cfg.Parameters.MaxBackups,
		MaxAge:     cfg.Parameters.MaxAge,
		Compress:   cfg.Parameters.Compress,
		LocalTime:  cfg.Parameters.UseLocalTime,
	}

	return lj, lj
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup builds the handler for cfg. The config file level wins over
// flagLevel when set. Filters are compiled here, so a broken expression
// stops startup.
func Setup(cfg *config.Logging, flagLevel string) (slog.Handler, io.Closer, error) {
	level := ParseLevel(flagLevel)
	if cfg != nil && cfg.Level != nil {
		level = *cfg.Level
	}

	w, closer := Sink(cfg)
	h := Init(w, level)

	if cfg == nil || len(cfg.Filters) == 0 {
		return h, closer, nil
	}

	lg := slog.New(h)
	filters := make([]Filterer, 0, len(cfg.Filters))

	for _, lf := range cfg.Filters {
		f, err := expressions.NewFilter(lg, lf.Name, lf.Expression.String())
		if err != nil {
			closer.Close()
			return nil, nil, fmt.Errorf("log filter %q: %w", lf.Name, err)
		}
		filters = append(filters, f)
	}

	return NewFilterHandler(h, filters...), closer, nil
}
