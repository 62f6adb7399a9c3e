package billing

import (
	"fmt"
	"testing"
)

func TestRecentEventSetSeen(t *testing.T) {
	r := NewRecentEventSet(10)

	if r.Seen("evt_1") {
		t.Fatalf("unseen id reported as seen")
	}
	r.Add("evt_1")
	if !r.Seen("evt_1") {
		t.Fatalf("added id not reported as seen")
	}

	// Empty ids are never tracked.
	r.Add("")
	if r.Len() != 1 {
		t.Fatalf("empty id should not be tracked, len = %d", r.Len())
	}
}

func TestRecentEventSetEvictsOldestFirst(t *testing.T) {
	r := NewRecentEventSet(3)

	for i := 1; i <= 4; i++ {
		r.Add(fmt.Sprintf("evt_%d", i))
	}

	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	if r.Seen("evt_1") {
		t.Fatalf("oldest entry should have been evicted")
	}
	for i := 2; i <= 4; i++ {
		if !r.Seen(fmt.Sprintf("evt_%d", i)) {
			t.Fatalf("entry evt_%d should still be present", i)
		}
	}
}

func TestRecentEventSetDuplicateAddIsNoop(t *testing.T) {
	r := NewRecentEventSet(3)
	r.Add("evt_1")
	r.Add("evt_1")
	r.Add("evt_1")

	if r.Len() != 1 {
		t.Fatalf("duplicate adds should not grow the set, len = %d", r.Len())
	}
}

func TestRecentEventSetDefaultCapacity(t *testing.T) {
	r := NewRecentEventSet(0)
	if r.capacity != defaultRecentEventCapacity {
		t.Fatalf("capacity = %d, want %d", r.capacity, defaultRecentEventCapacity)
	}
}
