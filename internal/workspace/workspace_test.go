package workspace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fingerworks/finger/internal/types"
)

func TestEnsureOrchestratorRootSession_Idempotent(t *testing.T) {
	m := NewManager(t.TempDir())

	first := m.EnsureOrchestratorRootSession()
	second := m.EnsureOrchestratorRootSession()

	if first.ID != second.ID {
		t.Errorf("Expected same root session, got %s and %s", first.ID, second.ID)
	}
	if first.Kind != KindRoot {
		t.Errorf("Kind = %s, want root", first.Kind)
	}
}

func TestEnsureRuntimeChildSession_MatchedByParentAndAgent(t *testing.T) {
	m := NewManager(t.TempDir())
	root := m.EnsureOrchestratorRootSession()

	child := m.EnsureRuntimeChildSession(root, "executor")
	again := m.EnsureRuntimeChildSession(root, "executor")
	other := m.EnsureRuntimeChildSession(root, "reviewer")

	if child.ID != again.ID {
		t.Error("Expected same child for same parent+agent")
	}
	if child.ID == other.ID {
		t.Error("Different agents must get distinct child sessions")
	}
	if child.ID == root.ID {
		t.Error("Child must not reuse the root id")
	}
	if !m.IsRuntimeChildSession(child.ID) {
		t.Error("IsRuntimeChildSession(child) = false")
	}
	if m.IsRuntimeChildSession(root.ID) {
		t.Error("IsRuntimeChildSession(root) = true")
	}
}

func TestSessionForRole(t *testing.T) {
	m := NewManager(t.TempDir())

	orch := m.SessionForRole(types.RoleOrchestrator, "orchestrator")
	exec := m.SessionForRole(types.RoleExecutor, "executor")

	if orch.Kind != KindRoot {
		t.Errorf("orchestrator session kind = %s, want root", orch.Kind)
	}
	if exec.Kind != KindChild {
		t.Errorf("executor session kind = %s, want child", exec.Kind)
	}
	if exec.ParentID != orch.ID {
		t.Error("executor child must descend from the root")
	}
}

func TestMessages(t *testing.T) {
	m := NewManager(t.TempDir())
	root := m.EnsureOrchestratorRootSession()

	if err := m.AppendMessage(root.ID, Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := m.AppendMessage("missing", Message{Role: "user", Content: "x"}); err == nil {
		t.Error("Expected error for unknown session")
	}

	msgs, ok := m.Messages(root.ID)
	if !ok || len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("Messages = %v, %v", msgs, ok)
	}
}

func TestAppendDiagnostic(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	root := m.EnsureOrchestratorRootSession()

	if err := m.AppendDiagnostic(root.ID, "executor", map[string]any{"phase": "started"}); err != nil {
		t.Fatalf("AppendDiagnostic failed: %v", err)
	}
	if err := m.AppendDiagnostic(root.ID, "executor", map[string]any{"phase": "completed"}); err != nil {
		t.Fatalf("AppendDiagnostic failed: %v", err)
	}

	path := filepath.Join(dir, root.ID, "diagnostics", "executor.loop.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("diagnostics log missing: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines, err)
		}
		if record["version"] != float64(DiagnosticsFormatVersion) {
			t.Errorf("line %d missing format version: %v", lines, record)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("Expected 2 diagnostic lines, got %d", lines)
	}
}
