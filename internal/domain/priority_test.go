package domain

import "testing"

func TestPriorityRank(t *testing.T) {
	cases := []struct {
		p    Priority
		want int
	}{
		{PriorityUrgent, 1},
		{PriorityHigh, 2},
		{PriorityMedium, 3},
		{PriorityLow, 4},
		{Priority("Someday"), 3},
		{Priority(""), 3},
	}
	for _, c := range cases {
		if got := c.p.Rank(); got != c.want {
			t.Fatalf("rank(%q) = %d, want %d", c.p, got, c.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	if p, ok := ParsePriority("Urgent"); !ok || p != PriorityUrgent {
		t.Fatalf("expected URGENT, got %q %v", p, ok)
	}
	if p, ok := ParsePriority(" low "); !ok || p != PriorityLow {
		t.Fatalf("expected LOW, got %q %v", p, ok)
	}
	if p, ok := ParsePriority(""); !ok || p != DefaultPriority {
		t.Fatalf("expected default, got %q %v", p, ok)
	}
	if _, ok := ParsePriority("critical"); ok {
		t.Fatalf("expected critical to be rejected")
	}
}

func TestTaskAssignedTo(t *testing.T) {
	task := Task{AssigneeIDs: []int64{3, 7}}
	if !task.AssignedTo(7) {
		t.Fatalf("expected worker 7 assigned")
	}
	if task.AssignedTo(4) {
		t.Fatalf("worker 4 should not be assigned")
	}
}
