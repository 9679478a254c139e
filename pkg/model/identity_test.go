package model

import (
	"strings"
	"testing"
)

func TestWorkItemID_Deterministic(t *testing.T) {
	s := DataSlice{Key: "probe-7", Start: at(10, 0), End: at(11, 0)}
	a := WorkItemID("rtt", 1, s, 4)
	b := WorkItemID("rtt", 1, s, 4)
	if a != b {
		t.Fatalf("same inputs gave %s and %s", a, b)
	}
	if !strings.HasPrefix(a, "wi_") || len(a) != len("wi_")+32 {
		t.Errorf("unexpected ID shape %q", a)
	}

	variants := []string{
		WorkItemID("rtt2", 1, s, 4),
		WorkItemID("rtt", 2, s, 4),
		WorkItemID("rtt", 1, DataSlice{Start: s.Start, End: s.End}, 4),
		WorkItemID("rtt", 1, DataSlice{Key: "probe-7", Start: at(11, 0), End: at(12, 0)}, 4),
		WorkItemID("rtt", 1, s, 5),
	}
	for i, v := range variants {
		if v == a {
			t.Errorf("variant %d collides with base ID", i)
		}
	}
}

func TestResultID(t *testing.T) {
	base := ResultID("wi_1", 1, "worker-a")
	if base != ResultID("wi_1", 1, "worker-a") {
		t.Error("ResultID is not deterministic")
	}
	if base == ResultID("wi_1", 2, "worker-a") {
		t.Error("attempt should change the ID")
	}
	if base == ResultID("wi_1", 1, "worker-b") {
		t.Error("producer should change the ID")
	}
	if !strings.HasPrefix(base, "res_") {
		t.Errorf("ResultID = %q, want res_ prefix", base)
	}
}

func TestConflictID_Ordered(t *testing.T) {
	if ConflictID("res_a", "res_b") == ConflictID("res_b", "res_a") {
		t.Error("kept and rejected roles should be distinguishable")
	}
	if !strings.HasPrefix(ConflictID("res_a", "res_b"), "cfl_") {
		t.Error("missing cfl_ prefix")
	}
}

func TestHashFields_Separated(t *testing.T) {
	if hashFields("d", "ab", "c") == hashFields("d", "a", "bc") {
		t.Error("field boundaries must affect the hash")
	}
}
