package internal

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestErrorLogFilter(t *testing.T) {
	var buf bytes.Buffer
	destLogger := log.New(&buf, "", 0)
	errorFilterWriter := &ErrorLogFilter{Unwrap: destLogger}
	testErrorLogger := log.New(errorFilterWriter, "", 0)

	// Test Case 1: Suppressed message
	suppressedMessage := "http: proxy error: context canceled"
	testErrorLogger.Println(suppressedMessage)

	if buf.Len() != 0 {
		t.Errorf("Suppressed message was written to output. Output: %q", buf.String())
	}
	buf.Reset()

	// Test Case 2: Allowed message
	allowedMessage := "http: another error occurred"
	testErrorLogger.Println(allowedMessage)

	output := buf.String()
	if !strings.Contains(output, allowedMessage) {
		t.Errorf("Allowed message was not written to output. Output: %q", output)
	}
	if !strings.HasSuffix(output, "\n") {
		t.Errorf("Allowed message output is missing newline. Output: %q", output)
	}
	buf.Reset()

	// Test Case 3: TLS noise from scanners
	testErrorLogger.Println("http: TLS handshake error from 192.0.2.1:1234: EOF")

	if buf.Len() != 0 {
		t.Errorf("TLS handshake noise was written to output. Output: %q", buf.String())
	}
}

func TestGetRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	req := httptest.NewRequest("POST", "http://faucet.example/verify", nil)
	req.RemoteAddr = "192.0.2.1:4321"

	GetRequestLogger(base, req).Info("hi")

	for _, want := range []string{`"path":"/verify"`, `"method":"POST"`, `"remote_addr":"192.0.2.1:4321"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log line %q is missing %s", buf.String(), want)
		}
	}
}

func TestGetLogger(t *testing.T) {
	if GetLogger(context.Background()) != slog.Default() {
		t.Error("empty context did not fall back to the default logger")
	}

	lg := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if GetLogger(WithLogger(context.Background(), lg)) != lg {
		t.Error("stored logger was not returned")
	}
}
