package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger("debug")
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}

	logger = NewLogger("invalid")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}
}

func TestComponentTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(zerolog.New(&buf), "datamux")
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"component":"datamux"`) {
		t.Fatalf("component tag missing: %s", buf.String())
	}
}
