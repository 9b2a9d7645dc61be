package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDisabledLoggingIsNoOp(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(Options{Debug: false, Dir: dir}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Engine("this should go nowhere: %d", 42)
	Get(CategoryParser).Error("also nowhere")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("disabled logging created files: %v", entries)
	}
}

func TestDebugLoggingWritesCategoryFiles(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(Options{Debug: true, Dir: dir, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		Initialize(Options{})
	}()

	Engine("round %d done", 3)
	History("run %s persisted", "abc")
	CloseAll()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var engineFile string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_engine.log") {
			engineFile = filepath.Join(dir, e.Name())
		}
	}
	if engineFile == "" {
		t.Fatalf("no engine log file in %v", entries)
	}
	data, err := os.ReadFile(engineFile)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "round 3 done") {
		t.Errorf("engine log missing entry: %q", string(data))
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(Options{Debug: true, Dir: dir, Level: "warn"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		Initialize(Options{})
	}()

	l := Get(CategoryAPI)
	l.Info("filtered out")
	l.Warn("kept")
	CloseAll()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want one api log", entries)
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Error("info entry survived warn level")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("warn entry missing")
	}
}
