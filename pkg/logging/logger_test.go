package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		enable  slog.Level
		disable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"warn level", "warn", slog.LevelWarn, slog.LevelInfo},
		{"error level", "error", slog.LevelError, slog.LevelWarn},
		{"default info", "", slog.LevelInfo, slog.LevelDebug},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
			if logger.Enabled(ctx, tt.disable) {
				t.Fatalf("expected level %s to be disabled", tt.disable)
			}
		})
	}
}

func TestWithClinicAndCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).WithClinic("clinic-1").WithCaller("5511999990000")
	logger.Info("turn handled", "step", "idle")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["clinic_id"] != "clinic-1" {
		t.Fatalf("expected clinic_id attribute, got %v", rec["clinic_id"])
	}
	if rec["caller"] != "****0000" {
		t.Fatalf("expected masked caller, got %v", rec["caller"])
	}
}

func TestMaskPhone(t *testing.T) {
	if got := MaskPhone("123"); got != "****" {
		t.Fatalf("short phone should be fully masked, got %q", got)
	}
	if got := MaskPhone("+5511988887777"); got != "****7777" {
		t.Fatalf("unexpected mask %q", got)
	}
}
