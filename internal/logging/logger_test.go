// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.input); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("service", "market-data").Msg("tick complete")

	out := buf.String()
	if !strings.Contains(out, `"service":"market-data"`) {
		t.Errorf("expected structured field in output, got %q", out)
	}
	if !strings.Contains(out, `"message":"tick complete"`) {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Msg("suppressed")
	Warn().Msg("emitted")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("info message should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "emitted") {
		t.Errorf("warn message missing: %q", out)
	}
}

func TestSlogAdapter(t *testing.T) {
	t.Run("records land in zerolog output", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Config{Level: "debug", Format: "json", Output: &buf})
		defer Init(DefaultConfig())

		slogger := NewSlogLogger()
		slogger.Info("supervisor event", slog.String("service", "wallet-rake"), slog.Int("restarts", 2))

		out := buf.String()
		if !strings.Contains(out, `"service":"wallet-rake"`) {
			t.Errorf("expected string attr, got %q", out)
		}
		if !strings.Contains(out, `"restarts":2`) {
			t.Errorf("expected int attr, got %q", out)
		}
	})

	t.Run("groups prefix attribute keys", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Config{Level: "debug", Format: "json", Output: &buf})
		defer Init(DefaultConfig())

		slogger := NewSlogLogger().WithGroup("suture")
		slogger.Warn("backoff", slog.String("state", "open"))

		if !strings.Contains(buf.String(), `"suture.state":"open"`) {
			t.Errorf("expected group-prefixed key, got %q", buf.String())
		}
	})
}

func TestNewTestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewTestLogger(&buf)
	l.Info().Msg("captured")
	if !strings.Contains(buf.String(), "captured") {
		t.Errorf("test logger did not write to buffer: %q", buf.String())
	}
}
