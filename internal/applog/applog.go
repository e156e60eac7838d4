// Package applog initialises the global slog logger for the core. Call
// Init once at startup; every other package uses log/slog directly.
package applog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

var debugMode atomic.Bool
var logFile *os.File

// Sink lets the surrounding repository (out of scope for the core, see
// spec §6.4) redirect poller diagnostics into its own UI log panel instead
// of stdout.
type Sink interface {
	io.Writer
}

// Init sets up the global slog logger. It writes structured text logs to
// stdout (or sink, if non-nil) and a per-PID temp file. If debug is true
// the minimum log level is Debug, otherwise Info.
func Init(debug bool, sink Sink) {
	debugMode.Store(debug)

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	if sink != nil {
		out = sink
	}

	writers := []io.Writer{out}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if f, err := os.OpenFile(tempLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		logFile = f
		writers = append(writers, f)
	}

	opts := &slog.HandlerOptions{Level: level}
	h := slog.NewTextHandler(io.MultiWriter(writers...), opts)
	slog.SetDefault(slog.New(h))
}

// IsDebug reports whether debug mode is active, as set by the last Init
// call. No core component currently reads it.
func IsDebug() bool {
	return debugMode.Load()
}

// IsTerminal reports whether stdout is an interactive terminal. No code in
// this module calls it.
func IsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

func tempLogPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("memscan-core-%d.log", os.Getpid()))
}
