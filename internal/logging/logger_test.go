package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		env  string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"chatty", log.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("PYDIS_LOG_LEVEL", tt.env)
			if got := Level(); got != tt.want {
				t.Errorf("Level() = %v, want %v", got, tt.want)
			}
			if IsDebug() != (tt.want == log.DebugLevel) {
				t.Errorf("IsDebug() = %v", IsDebug())
			}
		})
	}
}

func TestLoggerWithWriter(t *testing.T) {
	t.Setenv("PYDIS_LOG_LEVEL", "debug")
	t.Setenv("PYDIS_LOG_PREFIX", "")

	var buf bytes.Buffer
	lc := NewLoggerWithWriter(&buf)
	lc.Debug("disassembling", "code", "f")
	out := buf.String()
	if !strings.Contains(out, "pydis") || !strings.Contains(out, "disassembling") || !strings.Contains(out, "code=f") {
		t.Errorf("log output = %q", out)
	}
	if err := lc.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestInfoLevelHidesDebug(t *testing.T) {
	t.Setenv("PYDIS_LOG_LEVEL", "")
	t.Setenv("PYDIS_LOG_PREFIX", "test ")

	var buf bytes.Buffer
	lc := NewLoggerWithWriter(&buf)
	lc.Debug("hidden")
	lc.Info("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "test") {
		t.Errorf("log output = %q", out)
	}
}
