package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
)

func TestHandler_ForwardsToWrapped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	logger.With("profile", "facebook").WithGroup("pass").Info("account synced", "account", 3)
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "account synced") || !strings.Contains(out, "profile=facebook") || !strings.Contains(out, "pass.account=3") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug record passed the info level")
	}
}

func TestConvert_FlattensGroups(t *testing.T) {
	kvs := convert("pass", slog.Group("acct", slog.Int("id", 7), slog.Bool("busy", true)))
	if len(kvs) != 2 {
		t.Fatalf("got %d attributes, want 2", len(kvs))
	}
	if kvs[0].Key != "pass.acct.id" || kvs[0].Value.AsInt64() != 7 {
		t.Errorf("first = %v", kvs[0])
	}
	if kvs[1].Key != "pass.acct.busy" || !kvs[1].Value.AsBool() {
		t.Errorf("second = %v", kvs[1])
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSetup_NilConfigIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), nil, "dev")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
