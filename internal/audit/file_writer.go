package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// fileWriter appends JSON-lines audit events to a rotating file. Startup
// and shutdown markers bracket each process lifetime in the log, so gaps
// between them indicate a crash.
type fileWriter struct {
	out *lumberjack.Logger
	mu  sync.Mutex
}

// NewFileWriter creates a file writer with size/age based rotation
func NewFileWriter(filename string, maxSizeMB, maxAgeDays, maxBackups int) (Writer, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	w := &fileWriter{
		out: &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    maxSizeMB,
			MaxAge:     maxAgeDays,
			MaxBackups: maxBackups,
			LocalTime:  true,
			Compress:   true,
		},
	}

	if err := w.writeMarker(EventTypeSystemStartup); err != nil {
		return nil, fmt.Errorf("failed to write startup event: %w", err)
	}
	return w, nil
}

func (w *fileWriter) Write(event interface{}) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(line)
	return err
}

func (w *fileWriter) writeMarker(kind EventType) error {
	return w.Write(Event{
		Timestamp: time.Now(),
		EventType: kind,
		EventID:   generateEventID(),
	})
}

func (w *fileWriter) Close() error {
	// Best effort: the file should close even if the marker write fails
	_ = w.writeMarker(EventTypeSystemShutdown)
	return w.out.Close()
}
