package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// RotatingWriter appends to a dated log file and starts a new one each UTC
// day or once MaxBytes would be exceeded.
//
// For a base path of logs/relay.log the files are logs/relay-2026-10-18.log,
// logs/relay-2026-10-18-2.log and so on. The base path itself is kept as a
// symlink to the active file.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	mu    sync.Mutex
	day   string
	index int
	file  *os.File
	size  int64
	now   func() time.Time
}

// NewRotatingWriter opens the current file for basePath. A basePath of "-"
// discards everything.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return discardCloser{}, nil
	}
	rw := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, now: time.Now}
	if err := rw.rotate(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

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

func (w *RotatingWriter) rotate(incoming int64) error {
	today := w.now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil && w.day == today:
		// reopened after Close on the same day
		return w.open()
	case w.file == nil || w.day != today:
		w.day = today
		w.index = 1
		return w.open()
	case w.MaxBytes > 0 && w.size > 0 && w.size+incoming > w.MaxBytes:
		w.index++
		return w.open()
	}
	return nil
}

// Path returns the file currently written to.
func (w *RotatingWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentPath()
}

func (w *RotatingWriter) currentPath() string {
	dir, name := filepath.Split(w.BasePath)
	if dir == "" {
		dir = "."
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	filename := fmt.Sprintf("%s-%s%s", base, w.day, ext)
	if w.index > 1 {
		filename = fmt.Sprintf("%s-%s-%d%s", base, w.day, w.index, ext)
	}
	return filepath.Join(dir, filename)
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	path := w.currentPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "logging: create log dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "logging: open log file")
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.size = size
	w.link(path)
	return nil
}

func (w *RotatingWriter) link(target string) {
	base := strings.TrimSpace(w.BasePath)
	if base == "" {
		return
	}
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			// a regular file at the base path is left alone
			return
		}
		if dest, err := os.Readlink(base); err == nil && dest == filepath.Base(target) {
			return
		}
		_ = os.Remove(base)
	}
	_ = os.Symlink(filepath.Base(target), base)
}

type discardCloser struct{}

func (discardCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardCloser) Close() error                { return nil }
