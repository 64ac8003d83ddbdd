package logging

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"time"
)

// handlerWriter is an io.Writer that calls a Handler.
// It is used to link a log.Logger, such as http.Server.ErrorLog, to slog.
//
// Adapted from https://cs.opensource.google/go/go/+/refs/tags/go1.24.5:src/log/slog/logger.go;l=62
type handlerWriter struct {
	h     slog.Handler
	level slog.Leveler
}

func (w *handlerWriter) Write(buf []byte) (int, error) {
	level := w.level.Level()
	if !w.h.Enabled(context.Background(), level) {
		return 0, nil
	}

	// Remove final newline.
	origLen := len(buf) // Report that the entire buf was written.
	buf = bytes.TrimSuffix(buf, []byte{'\n'})
	r := slog.NewRecord(time.Now(), level, string(buf), 0)
	return origLen, w.h.Handle(context.Background(), r)
}

// StdlibLogger returns a log.Logger whose lines become records of level on
// next, tagged with attrs. The line carries no timestamp prefix, the record
// has one.
func StdlibLogger(next slog.Handler, level slog.Level, attrs ...slog.Attr) *log.Logger {
	if len(attrs) != 0 {
		next = next.WithAttrs(attrs)
	}

	return log.New(&handlerWriter{h: next, level: level}, "", 0)
}
