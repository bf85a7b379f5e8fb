package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

const maxLogSize = 2 * 1024 * 1024 // 2MB

type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Setup builds the process logger. Output goes to stdout and, when logPath is
// writable, to a size-capped log file. The returned writer is nil when the
// file could not be opened; logging to stdout still works in that case.
func Setup(logPath, level string) (*logrus.Logger, *RotatingWriter, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(ParseLevel(level))
	logger.SetOutput(os.Stdout)

	rw, err := NewRotatingWriter(logPath, maxLogSize)
	if err != nil {
		return logger, nil, err
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rw))
	return logger, rw, nil
}

// ParseLevel maps a config string to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func NewRotatingWriter(logPath string, maxSize int64) (*RotatingWriter, error) {
	// Truncate if too large on startup
	if info, err := os.Stat(logPath); err == nil && info.Size() > maxSize {
		os.Truncate(logPath, 0)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, _ := f.Stat()
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	return &RotatingWriter{
		file:    f,
		path:    logPath,
		size:    size,
		maxSize: maxSize,
	}, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

func (w *RotatingWriter) rotate() {
	w.file.Close()

	// Keep one backup
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
