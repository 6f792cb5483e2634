// Package logging configures the process-wide standard logger and adds
// verbosity-gated helpers on top of it.
//
// Log output always goes to stderr. When a log file is configured it is
// additionally written through a size-rotated lumberjack.Logger.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"

	"github.com/scpi-bridge/internal/config"
)

var (
	mu      sync.RWMutex
	verbose bool
)

// Setup points the standard logger at stderr and, if cfg.File is set, a
// rotating log file. The returned closer releases the file; it is a no-op
// when no file is configured.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	SetVerbose(cfg.Verbose)

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  true,
	}

	// Fail early on an unwritable path instead of on the first log line.
	if _, err := rotator.Write(nil); err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
	}

	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator, nil
}

// SetVerbose enables or disables debug and trace output.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose reports whether debug output is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// Debugf logs only in verbose mode.
func Debugf(format string, args ...any) {
	if IsVerbose() {
		log.Output(2, "[DEBUG] "+fmt.Sprintf(format, args...))
	}
}

// Tracef logs protocol traffic in verbose mode.
func Tracef(format string, args ...any) {
	if IsVerbose() {
		log.Output(2, "[TRACE] "+fmt.Sprintf(format, args...))
	}
}

// Warnf always logs.
func Warnf(format string, args ...any) {
	log.Output(2, "[WARN] "+fmt.Sprintf(format, args...))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
