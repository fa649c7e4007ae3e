package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LoggingConfig controls the production logger output.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // "json" or "text"
	Output     string `json:"output" yaml:"output"` // "stdout" or "stderr"
	TimeFormat string `json:"time_format" yaml:"time_format"`
}

// DefaultLoggingConfig returns production defaults: structured JSON to stdout.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// ProductionLogger emits one JSON object per line with a fixed envelope
// (timestamp, level, service, message) plus caller-supplied fields.
type ProductionLogger struct {
	mu      sync.Mutex
	out     io.Writer
	config  LoggingConfig
	service string
	minRank int
}

// NewProductionLogger creates a logger for the named service.
func NewProductionLogger(config LoggingConfig, service string) *ProductionLogger {
	if config.TimeFormat == "" {
		config.TimeFormat = DefaultLoggingConfig().TimeFormat
	}
	out := io.Writer(os.Stdout)
	if config.Output == "stderr" {
		out = os.Stderr
	}
	rank, ok := levelRank[config.Level]
	if !ok {
		rank = levelRank["info"]
	}
	return &ProductionLogger{
		out:     out,
		config:  config,
		service: service,
		minRank: rank,
	}
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	if levelRank[level] < l.minRank {
		return
	}
	entry := make(map[string]interface{}, len(fields)+4)
	entry["timestamp"] = time.Now().UTC().Format(l.config.TimeFormat)
	entry["level"] = level
	entry["service"] = l.service
	entry["message"] = msg
	for k, v := range fields {
		entry[k] = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.config.Format == "text" {
		fmt.Fprintf(l.out, "%s [%s] %s: %s %v\n", entry["timestamp"], level, l.service, msg, fields)
		return
	}
	_ = json.NewEncoder(l.out).Encode(entry)
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{})  { l.log("info", msg, fields) }
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{})  { l.log("warn", msg, fields) }
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) { l.log("error", msg, fields) }
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) { l.log("debug", msg, fields) }
