package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileWriter appends JSON log lines to a file, buffered, with size-based
// rotation. Safe for concurrent use.
type FileWriter struct {
	path       string
	maxSize    int64
	maxBackups int

	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	written int64

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// RotationPolicy bounds the log file on disk.
type RotationPolicy struct {
	MaxSize    int64 // bytes; 0 disables rotation
	MaxBackups int   // rotated files to keep; 0 keeps 5
}

const (
	bufferSize    = 8192
	flushInterval = 3 * time.Second
)

// NewFileWriter opens (or creates) the log file and starts the periodic
// flush. Call Close on shutdown to stop the flusher and sync the buffer.
func NewFileWriter(path string, policy RotationPolicy) (*FileWriter, error) {
	if policy.MaxBackups <= 0 {
		policy.MaxBackups = 5
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	fw := &FileWriter{
		path:       path,
		maxSize:    policy.MaxSize,
		maxBackups: policy.MaxBackups,
		file:       file,
		writer:     bufio.NewWriterSize(file, bufferSize),
		written:    info.Size(),
		ticker:     time.NewTicker(flushInterval),
		done:       make(chan struct{}),
	}

	fw.wg.Add(1)
	go fw.flushLoop()
	return fw, nil
}

// WriteRecord appends one slog record as a JSON line.
func (fw *FileWriter) WriteRecord(r slog.Record) error {
	entry := map[string]any{
		"time":    r.Time.Format(time.RFC3339Nano),
		"level":   r.Level.String(),
		"message": r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		entry[a.Key] = a.Value.Any()
		return true
	})

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	data = append(data, '\n')

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.maxSize > 0 && fw.written+int64(len(data)) > fw.maxSize {
		if err := fw.rotate(); err != nil {
			return err
		}
	}

	n, err := fw.writer.Write(data)
	fw.written += int64(n)
	return err
}

// rotate renames the current file to a timestamped backup and reopens.
// Caller holds fw.mu.
func (fw *FileWriter) rotate() error {
	if err := fw.writer.Flush(); err != nil {
		return err
	}
	if err := fw.file.Close(); err != nil {
		return err
	}

	backup := fmt.Sprintf("%s.%s", fw.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(fw.path, backup); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}

	file, err := os.OpenFile(fw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen log file: %w", err)
	}
	fw.file = file
	fw.writer = bufio.NewWriterSize(file, bufferSize)
	fw.written = 0

	fw.pruneBackups()
	return nil
}

// pruneBackups deletes the oldest rotated files beyond maxBackups.
func (fw *FileWriter) pruneBackups() {
	backups, err := filepath.Glob(fw.path + ".*")
	if err != nil || len(backups) <= fw.maxBackups {
		return
	}
	sort.Strings(backups) // timestamp suffix sorts chronologically
	for _, old := range backups[:len(backups)-fw.maxBackups] {
		os.Remove(old)
	}
}

// Flush syncs the buffer to disk.
func (fw *FileWriter) Flush() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.writer.Flush()
}

// Close stops the flusher and closes the file.
func (fw *FileWriter) Close() error {
	fw.ticker.Stop()
	close(fw.done)
	fw.wg.Wait()

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.writer.Flush(); err != nil {
		return err
	}
	return fw.file.Close()
}

func (fw *FileWriter) flushLoop() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.ticker.C:
			if err := fw.Flush(); err != nil {
				fmt.Fprintf(os.Stderr, "log flush failed: %v\n", err)
			}
		case <-fw.done:
			return
		}
	}
}
