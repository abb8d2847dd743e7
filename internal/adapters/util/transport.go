package util

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// maxLoggedBody truncates logged bodies; shelf responses can be large.
const maxLoggedBody = 4096

var redactedHeaders = []string{"Authorization", "Cookie", "Set-Cookie"}

// LoggingTransport is an http.RoundTripper that logs outbound requests and
// responses at debug level. Credential headers are always redacted.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger *zap.Logger
	// SensitiveBodies suppresses body logging, for endpoints that exchange
	// secrets or tokens.
	SensitiveBodies bool
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	if t.Logger == nil || !t.Logger.Core().Enabled(zapcore.DebugLevel) {
		return base.RoundTrip(req)
	}

	var reqBody []byte
	if req.Body != nil && !t.SensitiveBodies {
		reqBody, _ = io.ReadAll(req.Body)
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewBuffer(reqBody))
	}

	t.Logger.Debug("outbound request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Any("headers", RedactHeaders(req.Header)),
		zap.String("body", truncate(reqBody)),
	)

	resp, err := base.RoundTrip(req)
	if err != nil {
		t.Logger.Debug("outbound request failed", zap.String("url", req.URL.String()), zap.Error(err))
		return resp, err
	}

	var respBody []byte
	if !t.SensitiveBodies {
		respBody, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewBuffer(respBody))
	}

	t.Logger.Debug("outbound response",
		zap.Int("status", resp.StatusCode),
		zap.String("url", req.URL.String()),
		zap.String("body", truncate(respBody)),
	)

	return resp, nil
}

// RedactHeaders returns a copy of h with credential values masked.
func RedactHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range redactedHeaders {
		if out.Get(name) != "" {
			out.Set(name, "[redacted]")
		}
	}
	return out
}

func truncate(b []byte) string {
	if len(b) <= maxLoggedBody {
		return string(b)
	}
	return strings.ToValidUTF8(string(b[:maxLoggedBody]), "") + "...(truncated)"
}
