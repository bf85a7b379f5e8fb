package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestRotatingWriterKeepsOneBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	w, err := NewRotatingWriter(path, 16)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte(strings.Repeat("a", 20))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected backup file after rotation: %v", err)
	}

	if _, err := w.Write([]byte("b")); err != nil {
		t.Fatalf("write after rotate: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "b" {
		t.Fatalf("expected fresh log to contain only the new line, got %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != logrus.DebugLevel {
		t.Fatalf("expected debug level")
	}
	if ParseLevel("nonsense") != logrus.InfoLevel {
		t.Fatalf("expected info fallback")
	}
}
