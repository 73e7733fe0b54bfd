package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures a RotatingWriter.
type RotationConfig struct {
	Filename string
	MaxBytes int64
	MaxAge   int // days; 0 keeps rotated files forever
	Compress bool
}

// RotatingWriter is an append-only log file that is renamed aside once it reaches MaxBytes.
type RotatingWriter struct {
	cfg RotationConfig

	mu   sync.Mutex
	file *os.File
	size int64

	now func() time.Time
}

// NewRotatingWriter opens cfg.Filename, creating its directory, and prunes expired rotations.
func NewRotatingWriter(cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log file name is required")
	}
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("max size must be positive")
	}

	file, err := openAppend(cfg.Filename)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	w := &RotatingWriter{
		cfg:  cfg,
		file: file,
		size: info.Size(),
		now:  time.Now,
	}
	w.prune()

	return w, nil
}

func openAppend(filename string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Write appends p, rotating first if p would push the file past MaxBytes.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.size > 0 && w.size+int64(len(p)) > w.cfg.MaxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current log file
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate must be called with mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%s", w.cfg.Filename, w.now().Format("20060102-150405.000"))
	if err := os.Rename(w.cfg.Filename, rotated); err != nil {
		return err
	}

	file, err := openAppend(w.cfg.Filename)
	if err != nil {
		return err
	}
	w.file = file
	w.size = 0

	if w.cfg.Compress {
		go compressFile(rotated)
	}
	go w.prune()

	return nil
}

func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(filename)
}

// prune removes rotated files older than MaxAge days.
func (w *RotatingWriter) prune() {
	if w.cfg.MaxAge <= 0 {
		return
	}

	rotated, err := filepath.Glob(w.cfg.Filename + ".*")
	if err != nil {
		return
	}

	cutoff := w.now().AddDate(0, 0, -w.cfg.MaxAge)
	for _, path := range rotated {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		os.Remove(path)
		if !strings.HasSuffix(path, ".gz") {
			os.Remove(path + ".gz")
		}
	}
}
