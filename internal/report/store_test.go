// File path: internal/report/store_test.go
package report

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/comexa/docverifier/internal/compare"
)

func testWorkflow() *Workflow {
	comparison := &compare.Report{TotalChecks: 4, Passed: 3, Failed: 1, Details: []compare.Detail{}}
	return &Workflow{
		Timestamp:          "2026-01-02T15:04:05Z",
		DocumentsProcessed: []string{"bl", "invoice"},
		Comparison:         comparison,
		Summary:            BuildSummary(comparison),
	}
}

func TestSaveAndOpen(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	meta, err := store.Save(testWorkflow())
	if err != nil {
		t.Fatalf("save report: %v", err)
	}
	if !strings.HasPrefix(meta.Filename, "report_") || !strings.HasSuffix(meta.Filename, ".json") {
		t.Fatalf("unexpected report name %q", meta.Filename)
	}
	if meta.Size == 0 {
		t.Fatal("saved report has zero size")
	}

	data, err := store.Open(meta.Filename)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if wf.Summary.SuccessRate != "75.0%" {
		t.Fatalf("success rate = %q", wf.Summary.SuccessRate)
	}
}

func TestSaveNamesNeverCollide(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	fixed := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	first, err := store.Save(testWorkflow())
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := store.Save(testWorkflow())
	if err != nil {
		t.Fatalf("save second: %v", err)
	}
	if first.Filename == second.Filename {
		t.Fatalf("same-second saves collided on %q", first.Filename)
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	older, err := store.Save(testWorkflow())
	if err != nil {
		t.Fatalf("save older: %v", err)
	}
	newer, err := store.Save(testWorkflow())
	if err != nil {
		t.Fatalf("save newer: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, older.Filename), past, past); err != nil {
		t.Fatalf("age older report: %v", err)
	}

	reports, err := store.List()
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Filename != newer.Filename || reports[1].Filename != older.Filename {
		t.Fatalf("wrong order: %q then %q", reports[0].Filename, reports[1].Filename)
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "archive.json"), 0o755); err != nil {
		t.Fatalf("make stray dir: %v", err)
	}

	reports, err := store.List()
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("expected no reports, got %+v", reports)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, name := range []string{"../secrets.json", "a/b.json", "..", "report.txt", ""} {
		if _, err := store.Open(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Open(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestOpenMissingReport(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Open("report_20260101_000000_deadbeef.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}
