package types

import "fmt"

// Logger defines the interface for logging across the sync client.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// Debug logs a debug message (no-op).
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info logs an info message (no-op).
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn logs a warning message (no-op).
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error logs an error message (no-op).
func (n *NoOpLogger) Error(msg string, args ...any) {}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// ConsoleLogger prints to stdout with a level tag and prefix.
type ConsoleLogger struct {
	prefix string
}

func (cl *ConsoleLogger) print(level, msg string, args []any) {
	fmt.Printf("[%s] %s: %s", level, cl.prefix, msg)
	if len(args) > 0 {
		fmt.Printf(" %v", args)
	}
	fmt.Println()
}

// Debug logs a debug message to console.
func (cl *ConsoleLogger) Debug(msg string, args ...any) { cl.print("DEBUG", msg, args) }

// Info logs an info message to console.
func (cl *ConsoleLogger) Info(msg string, args ...any) { cl.print("INFO", msg, args) }

// Warn logs a warning message to console.
func (cl *ConsoleLogger) Warn(msg string, args ...any) { cl.print("WARN", msg, args) }

// Error logs an error message to console.
func (cl *ConsoleLogger) Error(msg string, args ...any) { cl.print("ERROR", msg, args) }

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(prefix string) Logger {
	return &ConsoleLogger{prefix: prefix}
}
