package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestBuildAuditLoggerRequiresPath(t *testing.T) {
	if _, err := buildAuditLogger(AuditConfig{Enabled: true}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestBuildAuditLoggerWritesThroughRotation(t *testing.T) {
	dir := t.TempDir()
	audit, err := buildAuditLogger(AuditConfig{Enabled: true, Path: dir + "/audit/flowpay.log"})
	if err != nil {
		t.Fatalf("build audit logger: %v", err)
	}
	audit.Info("invocation committed", slog.String("operation", "create_job"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestLFallsBackToDefaults(t *testing.T) {
	if L() == nil || Audit() == nil || Named("escrow") == nil {
		t.Fatalf("expected usable default loggers")
	}
}

func TestRedactMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: Redact}))
	log.Info("backends",
		slog.String("dsn", "flowpay:s3cret@tcp(db:3306)/flowpay"),
		slog.String("events_url", "amqp://guest:hunter2@mq:5672/"),
		slog.String("redis_url", "redis://cache:6379/0"),
		slog.String("signer", "0x00000000000000000000000000000000000a11ce"),
	)
	out := buf.String()
	for _, leaked := range []string{"s3cret", "hunter2"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("secret %q leaked: %s", leaked, out)
		}
	}
	for _, kept := range []string{"mq:5672", "redis://cache:6379/0", "0x00000000000000000000000000000000000a11ce"} {
		if !strings.Contains(out, kept) {
			t.Fatalf("expected %q in %s", kept, out)
		}
	}
}
