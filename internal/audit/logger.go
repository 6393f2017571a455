package audit

import (
	"context"
	"fmt"
	"time"
)

// Logger records audit events. Logging must never block or fail a
// request; implementations absorb backpressure by dropping the oldest
// buffered events.
type Logger interface {
	LogDecision(ctx context.Context, event *DecisionEvent)
	LogTicket(ctx context.Context, event *TicketEvent)
	LogSyncRun(ctx context.Context, event *SyncEvent)

	Flush() error
	Close() error
}

// Config for the audit logger
type Config struct {
	Enabled bool

	// Output type: stdout or file
	Type string

	// File output settings
	FilePath       string
	FileMaxSize    int // MB
	FileMaxAge     int // days
	FileMaxBackups int

	BufferSize    int
	FlushInterval time.Duration
}

// DefaultConfig returns the default audit configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

// Validate checks the configuration and fills defaults
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Type != "stdout" && c.Type != "file" {
		return fmt.Errorf("invalid audit type: %s (must be stdout or file)", c.Type)
	}
	if c.Type == "file" && c.FilePath == "" {
		return fmt.Errorf("file path is required for file output")
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return nil
}

// NewLogger creates an audit logger from configuration
func NewLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		defaults := DefaultConfig()
		cfg = &defaults
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audit config: %w", err)
	}
	if !cfg.Enabled {
		return &noopLogger{}, nil
	}

	var writer Writer
	var err error
	switch cfg.Type {
	case "stdout":
		writer = NewStdoutWriter()
	case "file":
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("failed to create file writer: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported audit type: %s", cfg.Type)
	}

	return newAsyncLogger(writer, *cfg), nil
}

// noopLogger is used when audit logging is disabled
type noopLogger struct{}

func (n *noopLogger) LogDecision(ctx context.Context, event *DecisionEvent) {}
func (n *noopLogger) LogTicket(ctx context.Context, event *TicketEvent)     {}
func (n *noopLogger) LogSyncRun(ctx context.Context, event *SyncEvent)      {}
func (n *noopLogger) Flush() error                                          { return nil }
func (n *noopLogger) Close() error                                          { return nil }

// NewNoOpLogger returns a logger that discards everything
func NewNoOpLogger() Logger {
	return &noopLogger{}
}
