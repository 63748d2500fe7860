package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/skyhook-dev/skyhook/internal/domain"
)

// Writer appends progress entries to a trace's JSON-lines file. One writer
// exists per trace; readers tail the same file concurrently.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewWriter opens (creating if needed) the progress file for a trace.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &Writer{path: path, file: file}, nil
}

// Path returns the underlying file path.
func (w *Writer) Path() string {
	return w.path
}

// Write appends one structured entry as a JSON line.
func (w *Writer) Write(entry domain.ProgressEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal progress entry: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("trace writer closed")
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append progress entry: %w", err)
	}
	return nil
}

// Progress appends a progress-typed entry.
func (w *Writer) Progress(message string) error {
	return w.Write(domain.ProgressEntry{Type: domain.ProgressTypeProgress, Message: message})
}

// Logs appends a logs-typed entry.
func (w *Writer) Logs(message string) error {
	return w.Write(domain.ProgressEntry{Type: domain.ProgressTypeLogs, Message: message})
}

// End appends the terminal entry (error when err is non-nil, complete
// otherwise) and closes the file.
func (w *Writer) End(err error) error {
	entry := domain.ProgressEntry{Type: domain.ProgressTypeComplete}
	if err != nil {
		entry = domain.ProgressEntry{Type: domain.ProgressTypeError, Message: err.Error()}
	}
	writeErr := w.Write(entry)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		if closeErr := w.file.Close(); writeErr == nil {
			writeErr = closeErr
		}
		w.file = nil
	}
	return writeErr
}
