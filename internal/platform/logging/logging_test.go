package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":       zapcore.InfoLevel,
		"debug":  zapcore.DebugLevel,
		" WARN ": zapcore.WarnLevel,
		"bogus":  zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestForService_DebugEnabledInDevelopment(t *testing.T) {
	log, err := ForService("progress", "debug", "development")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug enabled")
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	log, err := New("error")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if log.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("expected warn disabled at error level")
	}
}
