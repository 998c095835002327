package log

import (
	"log/slog"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(5 * time.Second)
	base := time.Unix(1000, 0)

	if ok, _ := l.Allow(base); !ok {
		t.Fatal("first event should be allowed")
	}
	for i := 1; i <= 3; i++ {
		if ok, _ := l.Allow(base.Add(time.Duration(i) * time.Second)); ok {
			t.Fatalf("event %d within interval should be suppressed", i)
		}
	}

	ok, suppressed := l.Allow(base.Add(5 * time.Second))
	if !ok {
		t.Fatal("event after interval should be allowed")
	}
	if suppressed != 3 {
		t.Errorf("suppressed = %d, want 3", suppressed)
	}
}

func TestComponentLogger(t *testing.T) {
	if Component("test") == nil {
		t.Fatal("Component returned nil")
	}
}
