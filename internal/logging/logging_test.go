package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_DevelopmentEnablesDebug(t *testing.T) {
	logger, err := New("development")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be enabled in development")
	}
}

func TestNew_ProductionSkipsDebug(t *testing.T) {
	logger, err := New("production")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be disabled in production")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info level to be enabled in production")
	}
}
