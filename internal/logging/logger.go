// Package logging wraps hclog into the process-wide default logger the
// rest of the engine calls through (Default/SetDefault), the same shape
// as the teacher's internal/logging package but backed by hclog's
// leveled, structured Logger instead of a hand-rolled wrapper around
// the standard library's log.Logger.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// LogLevel mirrors hclog's levels under the teacher's naming.
type LogLevel = hclog.Level

const (
	LevelTrace = hclog.Trace
	LevelDebug = hclog.Debug
	LevelInfo  = hclog.Info
	LevelWarn  = hclog.Warn
	LevelError = hclog.Error
)

// Config holds logging configuration, mirroring the teacher's Config
// shape (Level/Output) plus the JSON-vs-text toggle hclog exposes.
type Config struct {
	Level  LogLevel
	Output io.Writer
	JSON   bool
	Name   string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Output: os.Stderr, Name: "portals4"}
}

// Logger is a thin alias so callers depend on this package, not hclog,
// keeping the ambient-logging swap point in one place.
type Logger = hclog.Logger

// NewLogger constructs an hclog.Logger from cfg (nil uses defaults).
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       cfg.Name,
		Level:      cfg.Level,
		Output:     output,
		JSONFormat: cfg.JSON,
	})
}

var (
	mu            sync.RWMutex
	defaultLogger Logger
)

// Default returns the process-wide default logger, creating it with
// DefaultConfig on first use.
func Default() Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// WithNI returns a sub-logger carrying the owning NI index, used by
// per-NI components (dispatch, connmgr, transport) so every line they
// emit is attributable to its network interface.
func WithNI(l Logger, niIndex uint16) Logger {
	return l.With("ni", niIndex)
}

// WithPeer returns a sub-logger carrying a connection's peer id, used
// by internal/connmgr.
func WithPeer(l Logger, peerID uint64) Logger {
	return l.With("peer", peerID)
}

// WithXact returns a sub-logger carrying a transaction handle, used by
// the initiator/target state machines to trace one operation end to end.
func WithXact(l Logger, handle uint64) Logger {
	return l.With("xact", handle)
}
