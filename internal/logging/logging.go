// Package logging configures the process-wide zerolog logger.
//
// CLI invocations get a console writer on stderr; long-running mode (inbox
// watcher, plugin host) writes JSON to a rotated file under the vault's
// artifacts directory.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupCLI configures pretty console logging for interactive use.
func SetupCLI(verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
}

// SetupDaemon configures JSON logging with rotation for long-running mode.
// Logs land in <vault>/artifacts/kira.log; returns a closer for the sink.
func SetupDaemon(vaultPath string, verbose bool) io.Closer {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	sink := &lumberjack.Logger{
		Filename:   filepath.Join(vaultPath, "artifacts", "kira.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(sink).Level(level).With().Timestamp().Str("service", "kira").Logger()
	return sink
}
