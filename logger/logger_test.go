package logger_test

import (
	"testing"

	"github.com/evdnx/goguard/logger"
	"github.com/evdnx/goguard/testutils"
)

func TestMockLogger(t *testing.T) {
	l := testutils.NewMockLogger()
	l.Info("hello", logger.String("k", "v"))
	if got := l.LastMessage(); got != "hello" {
		t.Fatalf("expected last message 'hello', got %q", got)
	}
	l.Warn("careful", logger.Int("n", 1))
	if !l.HasMessage("warn", "careful") || l.HasMessage("info", "careful") {
		t.Fatal("level filtering broken")
	}
}

func TestNewZapLogger(t *testing.T) {
	l, err := logger.NewZapLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Info("zap_ok", logger.Float64("x", 1.5), logger.Bool("b", true))

	if _, err := logger.NewZapLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
