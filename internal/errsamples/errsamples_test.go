package errsamples

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSink_WriteAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}

	sink.Write("scheduler", errors.New("boom"), map[string]any{"dispatchId": "d-1"})
	sink.Write("scheduler", errors.New("boom again"), nil)

	f, err := os.Open(filepath.Join(dir, "scheduler.jsonl"))
	if err != nil {
		t.Fatalf("sample file missing: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		if record["version"] != float64(FormatVersion) {
			t.Errorf("line %d missing version: %v", lines, record)
		}
		if record["component"] != "scheduler" {
			t.Errorf("line %d component = %v", lines, record["component"])
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 sample lines, got %d", lines)
	}
}

func TestSink_NilSafe(t *testing.T) {
	var sink *Sink
	sink.Write("x", errors.New("y"), nil) // must not panic

	inert, err := NewSink("")
	if err != nil {
		t.Fatalf("NewSink(\"\") failed: %v", err)
	}
	inert.Write("x", errors.New("y"), nil)
	inert.Write("x", nil, nil)
}
