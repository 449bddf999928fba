// Package util provides logging, host and network helpers for the lobby link host.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string
	Directory  string
	MaxBackups int
	Console    bool
	Output     io.Writer // console destination, stdout when nil
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with file and console output.
// It returns the opened log file path.
func InitLogger(cfg LogConfig) (string, error) {
	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure time format
	zerolog.TimeFieldFormat = time.RFC3339

	// Create log directory
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	// Create log file with date-based name
	logFileName := fmt.Sprintf("lobbylink_%s.log", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(cfg.Directory, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	// JSON to the file, human-readable to the console
	writers := []io.Writer{logFile}
	if cfg.Console {
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		})
	}
	multi := zerolog.MultiLevelWriter(writers...)

	// Set global logger
	log.Logger = zerolog.New(multi).
		With().
		Timestamp().
		Str("app", "lobbylink").
		Caller().
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	// Clean up old log files
	go cleanOldLogs(cfg.Directory, cfg.MaxBackups)

	return logFilePath, nil
}

// cleanOldLogs removes log files older than the retention limit.
func cleanOldLogs(directory string, maxBackups int) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	// Names carry the date, so lexical order is oldest first.
	var logFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "lobbylink_") && filepath.Ext(entry.Name()) == ".log" {
			logFiles = append(logFiles, entry.Name())
		}
	}
	sort.Strings(logFiles)

	for i := 0; i < len(logFiles)-maxBackups; i++ {
		path := filepath.Join(directory, logFiles[i])
		os.Remove(path)
		log.Debug().Str("file", path).Msg("removed old log file")
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
