package main

import (
	"fmt"
	"sync"
	"time"

	"planarar/board"
	"planarar/calibration"
	"planarar/capture"
	"planarar/overlay"
	"planarar/smoothing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Global debug logger shared by all packages
var globalDebugLogger *DebugLogger

// debugMsg is the global convenience function for unified debug logging
func debugMsg(component, message string) {
	if globalDebugLogger != nil {
		globalDebugLogger.debugMsg(component, message)
	} else {
		// Fallback if logger not initialized
		fmt.Printf("[%s][%s] %s\n", time.Now().Format("15:04:05.000"), component, message)
	}
}

// DebugMessage is one logged line handed to subscribers
type DebugMessage struct {
	Timestamp time.Time
	Component string
	Message   string
}

// DebugLogger sends component-tagged messages to zap and fans them out to
// subscribers such as the HUD
type DebugLogger struct {
	logger    *zap.Logger
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(DebugMessage)
}

// NewDebugLogger builds a zap production logger, at debug level when
// verbose. Output goes to stderr and, if set, to file.
func NewDebugLogger(verbose bool, file string) (*DebugLogger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if file != "" {
		config.OutputPaths = append(config.OutputPaths, file)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return newDebugLoggerWith(logger), nil
}

func newDebugLoggerWith(logger *zap.Logger) *DebugLogger {
	return &DebugLogger{logger: logger, listeners: make(map[int]func(DebugMessage))}
}

func (dl *DebugLogger) debugMsg(component, message string) {
	switch component {
	case "ERROR":
		dl.logger.Error(message, zap.String("component", component))
	case "WARN", "RECOVERY":
		dl.logger.Warn(message, zap.String("component", component))
	case "STATS", "CALIBRATION":
		dl.logger.Info(message, zap.String("component", component))
	default:
		dl.logger.Debug(message, zap.String("component", component))
	}

	dl.mu.Lock()
	listeners := make([]func(DebugMessage), 0, len(dl.listeners))
	for _, fn := range dl.listeners {
		listeners = append(listeners, fn)
	}
	dl.mu.Unlock()

	msg := DebugMessage{Timestamp: time.Now(), Component: component, Message: message}
	for _, fn := range listeners {
		fn(msg)
	}
}

// Subscribe registers fn to receive every message after it is logged. The
// returned function removes the subscription.
func (dl *DebugLogger) Subscribe(fn func(DebugMessage)) (unsubscribe func()) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	id := dl.nextID
	dl.nextID++
	dl.listeners[id] = fn
	return func() {
		dl.mu.Lock()
		defer dl.mu.Unlock()
		delete(dl.listeners, id)
	}
}

// alerting reports whether a component is worth showing to the operator
func alerting(component string) bool {
	switch component {
	case "ERROR", "WARN", "RECOVERY":
		return true
	}
	return false
}

// Close flushes the logger
func (dl *DebugLogger) Close() {
	_ = dl.logger.Sync()
}

// installDebugLogger makes dl the target of every package debug hook
func installDebugLogger(dl *DebugLogger) {
	globalDebugLogger = dl
	board.SetDebugFunction(debugMsg)       // Provide debug function to board package
	calibration.SetDebugFunction(debugMsg) // Provide debug function to calibration package
	overlay.SetDebugFunction(debugMsg)     // Provide debug function to overlay package
	capture.SetDebugFunction(debugMsg)     // Provide debug function to capture package
	smoothing.SetDebugFunction(debugMsg)   // Provide debug function to smoothing package
}
