package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.With("request_id", "r1").WithGroup("http").Warn("http.request",
		"method", "post",
		"path", "/api/v1/auth/login",
		"status", 401,
		"duration_ms", int64(12),
		"user_agent", "curl test",
	)

	line := buf.String()
	for _, want := range []string{
		"lvl=[WARN]",
		"msg=http.request",
		"request_id=r1",
		"http.method=POST",
		"http.path=/api/v1/auth/login",
		"http.status=401",
		"http.duration_ms=12ms",
		`http.user_agent="curl test"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("uncolored handler emitted escapes: %q", line)
	}
}

func TestPrettyHandler_ColorizesKnownKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("boom", "status", 503, "result", "server_error")

	line := buf.String()
	if !strings.Contains(line, ansiRed+"503"+ansiReset) {
		t.Fatalf("status not colored red: %q", line)
	}
	if !strings.Contains(stripANSI(line), "lvl=[ERROR] msg=boom") {
		t.Fatalf("unexpected line: %q", stripANSI(line))
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&bytes.Buffer{}, nil, false)
	if h.Enabled(t.Context(), slog.LevelDebug) {
		t.Fatalf("debug must be disabled by default")
	}
	if !h.Enabled(t.Context(), slog.LevelInfo) {
		t.Fatalf("info must be enabled by default")
	}
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	cases := []struct {
		v    slog.Value
		want int64
		ok   bool
	}{
		{slog.Int64Value(5), 5, true},
		{slog.Uint64Value(6), 6, true},
		{slog.Float64Value(7.9), 7, true},
		{slog.StringValue(" 8 "), 8, true},
		{slog.StringValue("x"), 0, false},
		{slog.BoolValue(true), 0, false},
	}
	for _, tc := range cases {
		got, ok := valueToInt64(tc.v)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("valueToInt64(%v)=%d,%v want %d,%v", tc.v, got, ok, tc.want, tc.ok)
		}
	}
}
