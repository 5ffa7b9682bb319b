package runner

import (
	"context"
	"testing"
)

func TestMockRunner_InterruptSession(t *testing.T) {
	m := NewMockRunner()

	ctx1, end1 := m.BeginTurn(context.Background(), "s1", "")
	defer end1()
	ctx2, end2 := m.BeginTurn(context.Background(), "s1", "")
	defer end2()
	ctx3, end3 := m.BeginTurn(context.Background(), "s2", "")
	defer end3()

	if m.ActiveTurns("s1") != 2 {
		t.Fatalf("ActiveTurns(s1) = %d, want 2", m.ActiveTurns("s1"))
	}

	result, err := m.InterruptSession("s1", "")
	if err != nil {
		t.Fatalf("InterruptSession failed: %v", err)
	}
	if result.InterruptedCount != 2 {
		t.Errorf("InterruptedCount = %d, want 2", result.InterruptedCount)
	}
	if len(result.Sessions) != 1 || result.Sessions[0] != "s1" {
		t.Errorf("Sessions = %v", result.Sessions)
	}

	if ctx1.Err() == nil || ctx2.Err() == nil {
		t.Error("s1 turns not cancelled")
	}
	if ctx3.Err() != nil {
		t.Error("s2 turn cancelled by s1 interrupt")
	}
	if m.ActiveTurns("s1") != 0 {
		t.Errorf("ActiveTurns(s1) after interrupt = %d", m.ActiveTurns("s1"))
	}
}

func TestMockRunner_InterruptAllSessions(t *testing.T) {
	m := NewMockRunner()

	_, end1 := m.BeginTurn(context.Background(), "s1", "")
	defer end1()
	_, end2 := m.BeginTurn(context.Background(), "s2", "")
	defer end2()

	result, err := m.InterruptSession("", "")
	if err != nil {
		t.Fatalf("InterruptSession failed: %v", err)
	}
	if result.InterruptedCount != 2 || len(result.Sessions) != 2 {
		t.Errorf("result = %+v", result)
	}
}

func TestMockRunner_ProviderFilter(t *testing.T) {
	m := NewMockRunner()

	ctxA, endA := m.BeginTurn(context.Background(), "s1", "openai")
	defer endA()
	ctxB, endB := m.BeginTurn(context.Background(), "s1", "iflow")
	defer endB()

	result, _ := m.InterruptSession("s1", "openai")
	if result.InterruptedCount != 1 {
		t.Errorf("InterruptedCount = %d, want 1", result.InterruptedCount)
	}
	if ctxA.Err() == nil {
		t.Error("openai turn not cancelled")
	}
	if ctxB.Err() != nil {
		t.Error("iflow turn cancelled by openai interrupt")
	}
}

func TestMockRunner_EndClearsTurn(t *testing.T) {
	m := NewMockRunner()

	_, end := m.BeginTurn(context.Background(), "s1", "")
	end()

	if m.ActiveTurns("s1") != 0 {
		t.Errorf("ActiveTurns after end = %d", m.ActiveTurns("s1"))
	}
	if states := m.SessionStates(); len(states) != 0 {
		t.Errorf("SessionStates = %v", states)
	}
}
