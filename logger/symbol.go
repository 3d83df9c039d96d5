package logger

import (
	"github.com/teranos/yume/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// These functions log with the symbol as a structured field, not in the message.
//
// Usage:
//
//	// Instead of:
//	logger.Infow(sym.Pulse + " Job started", "job_id", id)
//
//	// Use:
//	logger.PulseInfow("Job started", "job_id", id)
//
// This makes logs queryable by symbol and keeps messages clean.

// PulseInfow logs an info message with the Pulse symbol (꩜)
func PulseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Pulse}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// PulseDebugw logs a debug message with the Pulse symbol (꩜)
func PulseDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Pulse}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// PulseWarnw logs a warning message with the Pulse symbol (꩜)
func PulseWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Pulse}, keysAndValues...)
		Logger.Warnw(msg, fields...)
	}
}

// PulseErrorw logs an error message with the Pulse symbol (꩜)
func PulseErrorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Pulse}, keysAndValues...)
		Logger.Errorw(msg, fields...)
	}
}

// PulseOpenInfow logs an info message with the PulseOpen symbol (✿)
// Used for graceful startup operations
func PulseOpenInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.PulseOpen}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// PulseCloseInfow logs an info message with the PulseClose symbol (❀)
// Used for graceful shutdown operations
func PulseCloseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.PulseClose}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// DreamInfow logs an info message with the Dream symbol (☾)
// Used by the dream controller and its tick loop
func DreamInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Dream}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// DreamDebugw logs a debug message with the Dream symbol (☾)
func DreamDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Dream}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// WSInfow logs an info message with the WS symbol (⇅)
// Used for session connect/disconnect and hub events
func WSInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.WS}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// WSDebugw logs a debug message with the WS symbol (⇅)
func WSDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.WS}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// StoreInfow logs an info message with the Store symbol (⊔)
// Used for file-ref and output blob operations
func StoreInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Store}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// StoreDebugw logs a debug message with the Store symbol (⊔)
func StoreDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Store}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// ModeInfow logs an info message with the Mode symbol (≡)
// Used for mode registry and configuration changes
func ModeInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Mode}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// RenderInfow logs an info message with the Render symbol (✦)
// Used for worker load/unload and render activity
func RenderInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Render}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// RenderDebugw logs a debug message with the Render symbol (✦)
func RenderDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Render}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// RenderWarnw logs a warning message with the Render symbol (✦)
func RenderWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Render}, keysAndValues...)
		Logger.Warnw(msg, fields...)
	}
}

// WithSymbol returns a logger with the given symbol as a field.
// For ad-hoc symbol usage not covered by the helpers above.
//
// Example:
//
//	symbolLogger := logger.WithSymbol(sym.Render)
//	symbolLogger.Infow("Rendering", "seed", seed)
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}
