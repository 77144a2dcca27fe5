package quarantine

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestQuarantineWritesRecord(t *testing.T) {
	s := New(t.TempDir())

	path, err := s.Quarantine("task", map[string]any{"title": "Bad Task!"},
		[]string{"missing required field \"status\""}, "validation_failed")
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if !strings.HasSuffix(path, ".json") || !strings.Contains(path, "task_") {
		t.Errorf("unexpected record path: %s", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("record is not valid JSON: %v", err)
	}
	if rec.Kind != "task" || rec.Reason != "validation_failed" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if len(rec.Errors) != 1 {
		t.Errorf("errors not persisted: %v", rec.Errors)
	}
	if !strings.HasSuffix(rec.Timestamp, "+00:00") {
		t.Errorf("timestamp not UTC ISO-8601: %s", rec.Timestamp)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.Quarantine("task", map[string]any{"title": "a"}, nil, "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Quarantine("note", map[string]any{"title": "b"}, nil, "r2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Quarantine("task", map[string]any{"title": "c"}, nil, "r3"); err != nil {
		t.Fatal(err)
	}

	all, err := s.List("", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	tasks, err := s.List("task", 0)
	if err != nil {
		t.Fatalf("List task: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("expected 2 task records, got %d", len(tasks))
	}

	limited, err := s.List("", 1)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit not applied: %d", len(limited))
	}
}

func TestListEmptyVault(t *testing.T) {
	s := New(t.TempDir())
	records, err := s.List("", 0)
	if err != nil {
		t.Fatalf("List on missing dir: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil, got %v", records)
	}
}

func TestCleanupKeepsFreshRecords(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Quarantine("task", map[string]any{"title": "fresh"}, nil, "r"); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.Cleanup(30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 0 {
		t.Errorf("fresh record deleted")
	}

	records, _ := s.List("", 0)
	if len(records) != 1 {
		t.Errorf("record lost during cleanup")
	}
}
