package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		err  bool
	}{
		{"", zap.InfoLevel, false},
		{"debug", zap.DebugLevel, false},
		{"WARN", zap.WarnLevel, false},
		{"error", zap.ErrorLevel, false},
		{"trace", zap.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.err {
				t.Fatalf("ParseLevel(%q) err=%v, wantErr=%v", tt.in, err, tt.err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q)=%v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	if err := Init("info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestSetLoggerIsReturned(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	defer SetLogger(nil)

	Logger().Infof("hello %d", 1)
	if logs.Len() != 1 {
		t.Fatalf("expected 1 captured entry, got %d", logs.Len())
	}
	if got := logs.All()[0].Message; got != "hello 1" {
		t.Errorf("message=%q", got)
	}
}
