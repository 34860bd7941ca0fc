package ticklog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const dayLayout = "2006-01-02"

// RotationConfig controls how tick files are rotated and retained.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
	Daily      bool
}

// Writer appends newline-terminated records to a lumberjack-managed file.
// Besides lumberjack's size-based rotation it rotates on every UTC day
// change when Daily is set.
type Writer struct {
	mu    sync.Mutex
	lj    *lumberjack.Logger
	daily bool
	day   string
	now   func() time.Time
}

// NewWriter opens (creating directories as needed) the file at path.
func NewWriter(path string, cfg RotationConfig) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ticklog: create dir for %s: %w", path, err)
	}
	w := &Writer{
		lj: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
			LocalTime:  false,
		},
		daily: cfg.Daily,
		now:   func() time.Time { return time.Now().UTC() },
	}
	// A file left by an earlier run belongs to the day it was last written.
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		w.day = info.ModTime().UTC().Format(dayLayout)
	}
	return w, nil
}

// WriteLine appends line followed by a newline.
func (w *Writer) WriteLine(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.daily {
		day := w.now().Format(dayLayout)
		if w.day != "" && day != w.day {
			if err := w.lj.Rotate(); err != nil {
				return fmt.Errorf("ticklog: rotate %s: %w", w.lj.Filename, err)
			}
		}
		w.day = day
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := w.lj.Write(buf); err != nil {
		return fmt.Errorf("ticklog: write %s: %w", w.lj.Filename, err)
	}
	return nil
}

// Path returns the active file path.
func (w *Writer) Path() string { return w.lj.Filename }

// Close closes the active file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lj.Close()
}
