package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format string
		want   string
	}{
		{format: "json", want: `"msg":"auth.login.ok"`},
		{format: "", want: `"msg":"auth.login.ok"`},
		{format: "text", want: "msg=auth.login.ok"},
		{format: "pretty", want: "msg=auth.login.ok"},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		log := newLogger(&buf, "info", tc.format, false)
		log.Debug("hidden")
		log.Info("auth.login.ok", "user_id", "u1")

		out := buf.String()
		if !strings.Contains(out, tc.want) {
			t.Fatalf("format=%q: output %q does not contain %q", tc.format, out, tc.want)
		}
		if strings.Contains(out, "hidden") {
			t.Fatalf("format=%q: debug line leaked at info level", tc.format)
		}
	}
}
