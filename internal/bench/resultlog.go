package bench

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/basekick-labs/lakebench/pkg/models"
)

// ResultLog appends query results to a CSV file. The header is written when
// the file is new or empty, so successive runs share one log.
type ResultLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// OpenResultLog opens (or creates) the results log at path.
func OpenResultLog(path string) (*ResultLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat results log: %w", err)
	}

	l := &ResultLog{path: path, file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := l.writeRecord(models.ResultColumns); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Path returns the file the log writes to.
func (l *ResultLog) Path() string {
	return l.path
}

// Write appends one result and flushes it to disk.
func (l *ResultLog) Write(r models.QueryResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeRecord(r.Record())
}

func (l *ResultLog) writeRecord(record []string) error {
	if err := l.w.Write(record); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("failed to flush results log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *ResultLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return l.file.Close()
}
