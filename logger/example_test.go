package logger_test

import (
	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/logger"
)

// Example_withContext demonstrates using logger with context fields
func Example_withContext() {
	log := logger.NewLogger(&config.LoggerConfig{Level: config.LogLevelInfo})

	// Create a logger with context for a specific component
	engineLog := log.With("component", "deleter")
	engineLog.Info("Deletion started")

	// Add more context
	batchLog := engineLog.With("batch", 5)
	batchLog.Info("Batch submitted")

	// Use WithFields for multiple context values at once
	scanLog := log.WithFields(map[string]interface{}{
		"component": "catalog",
		"root":      "/Photos",
		"files":     1000,
	})
	scanLog.Info("Scan completed")
}

// Example_injection shows how to inject logger into a struct
func Example_injection() {
	log := logger.NewLogger(&config.LoggerConfig{
		Level:      config.LogLevelDebug,
		TimeFormat: "15:04:05",
	})

	type Service struct {
		logger logger.Logger
	}

	svc := &Service{
		logger: log.With("service", "example"),
	}

	svc.logger.Info("Service initialized")
	svc.logger.Debug("Configuration loaded")
}
