package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// RowWriter receives formatted rows.
type RowWriter interface {
	WriteRow(fields []string) error
}

// CSVWriter appends rows to a CSV file, flushing after each one. The file is
// guarded by an advisory lock on "<path>.lock" for as long as it is open.
type CSVWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
	lock *flock.Flock
}

// OpenCSV truncates path, writes header and returns a writer for it. It
// fails if another process holds the file's lock.
func OpenCSV(path string, header []string) (*CSVWriter, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("output file %s is locked by another process", path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	c := &CSVWriter{path: path, file: f, w: csv.NewWriter(f), lock: lock}
	if err := c.WriteRow(header); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Path returns the file being written.
func (c *CSVWriter) Path() string { return c.path }

// WriteRow writes and flushes one record. It is safe for concurrent use.
func (c *CSVWriter) WriteRow(fields []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return fmt.Errorf("write %s: writer is closed", c.path)
	}
	if err := c.w.Write(fields); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", c.path, err)
	}
	return nil
}

// Close flushes, closes the file and releases the lock. It is idempotent.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	c.w.Flush()
	flushErr := c.w.Error()
	closeErr := c.file.Close()
	c.file = nil
	unlockErr := c.lock.Unlock()

	switch {
	case flushErr != nil:
		return fmt.Errorf("flush %s: %w", c.path, flushErr)
	case closeErr != nil:
		return fmt.Errorf("close %s: %w", c.path, closeErr)
	case unlockErr != nil:
		return fmt.Errorf("unlock %s: %w", c.path, unlockErr)
	}
	return nil
}
