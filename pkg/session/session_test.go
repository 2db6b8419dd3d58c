package session

import "testing"

func TestEnsureIDStable(t *testing.T) {
	s := NewState()
	first := s.EnsureID()
	if first == "" {
		t.Fatal("EnsureID() returned empty")
	}
	if second := s.EnsureID(); second != first {
		t.Errorf("EnsureID() changed: %s != %s", second, first)
	}
}

func TestApplyReplacesWholesale(t *testing.T) {
	s := NewState()
	s.Apply(Snapshot{
		SessionID: "s1",
		Messages:  []Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}},
		Mode:      ModeUnattended,
		MaxTurns:  10,
		TurnsUsed: 2,
	})

	s.Apply(Snapshot{SessionID: "s1", Messages: []Message{{Role: "user", Content: "only"}}})
	snap := s.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "only" {
		t.Errorf("Apply() did not replace wholesale: %+v", snap.Messages)
	}
	if snap.Mode != "" || snap.MaxTurns != 0 {
		t.Errorf("Apply() kept stale fields: %+v", snap)
	}
}

func TestApplyKeepsEstablishedID(t *testing.T) {
	s := NewState()
	s.Apply(Snapshot{SessionID: "s1"})
	s.Apply(Snapshot{Messages: []Message{{Role: "user", Content: "x"}}})
	if got := s.ID(); got != "s1" {
		t.Errorf("ID() = %s, want s1", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewState()
	s.Apply(Snapshot{SessionID: "s1", Messages: []Message{{Role: "user", Content: "a"}}})

	snap := s.Snapshot()
	snap.Messages[0].Content = "mutated"

	if got := s.Snapshot().Messages[0].Content; got != "a" {
		t.Errorf("snapshot mutation leaked into state: %s", got)
	}
}

func TestSetModeUnattendedBudget(t *testing.T) {
	s := NewState()
	s.SetMode(ModeUnattended, 7)
	snap := s.Snapshot()
	if snap.Mode != ModeUnattended || snap.MaxTurns != 7 {
		t.Errorf("SetMode() = %+v", snap)
	}

	// Budgets are ignored outside unattended mode.
	s.SetMode(ModePlanOnly, 99)
	snap = s.Snapshot()
	if snap.Mode != ModePlanOnly {
		t.Errorf("Mode = %s", snap.Mode)
	}
	if snap.MaxTurns != 7 {
		t.Errorf("MaxTurns = %d, want 7", snap.MaxTurns)
	}
}

func TestClear(t *testing.T) {
	s := NewState()
	s.Apply(Snapshot{SessionID: "s1", Mode: ModeAutoEdit})
	s.Clear()
	if s.ID() != "" {
		t.Error("Clear() kept the session id")
	}
	if snap := s.Snapshot(); snap.Mode != "" || len(snap.Messages) != 0 {
		t.Errorf("Clear() left state: %+v", snap)
	}
}
