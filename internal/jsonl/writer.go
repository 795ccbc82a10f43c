package jsonl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Writer appends newline-delimited JSON records to a file, one full line per
// Write call so tailers never see a partial record.
//
// Safe for concurrent use. A nil *Writer discards everything, which lets
// callers treat "no log configured" as a regular writer.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// New returns a writer that appends to path, or nil when path is blank.
func New(path string) *Writer {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Writer{path: path}
}

// Path returns the file path the writer appends to.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Write marshals v and appends it as one line. The file (and its directory)
// is created on first use.
func (w *Writer) Write(v any) error {
	if w == nil {
		return nil
	}
	if v == nil {
		return fmt.Errorf("jsonl: nil record")
	}

	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w.file = f
	}

	_, err = w.file.Write(line)
	return err
}

// Close closes the underlying file. Further writes reopen it.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
