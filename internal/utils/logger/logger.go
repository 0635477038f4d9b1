// Package logger owns the process-wide zap logger.
package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported encodings.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	mu     sync.Mutex
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
	sugar  *zap.SugaredLogger
	format = FormatConsole
)

// Logger returns the shared sugared logger, building a console logger at info
// level on first use.
func Logger() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if sugar == nil {
		sugar = build(format).Sugar()
	}
	return sugar
}

// Init sets the level and encoding of the shared logger. Loggers handed out
// earlier keep their encoding but follow the new level.
func Init(lvl, enc string) error {
	parsed, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	enc = strings.ToLower(strings.TrimSpace(enc))
	if enc == "" {
		enc = FormatConsole
	}
	if enc != FormatConsole && enc != FormatJSON {
		return fmt.Errorf("unsupported log format %q (supported: console, json)", enc)
	}

	mu.Lock()
	defer mu.Unlock()
	level.SetLevel(parsed)
	if enc != format || sugar == nil {
		format = enc
		sugar = build(format).Sugar()
	}
	return nil
}

// SetLogger replaces the shared logger. Tests use it to silence or capture
// output.
func SetLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	sugar = l
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(lvl string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "", "info":
		return zap.InfoLevel, nil
	case "debug":
		return zap.DebugLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unsupported log level %q (supported: debug, info, warn, error)", lvl)
	}
}

func build(enc string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = enc
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if enc == FormatConsole {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
