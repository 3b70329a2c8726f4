package leads

import "testing"

func TestHopper_FIFOAndDedup(t *testing.T) {
	h := NewHopper(1)
	n := h.Add(Lead{Ref: "a"}, Lead{Ref: "b"}, Lead{Ref: "a"}, Lead{Ref: " "})
	if n != 2 || h.Len() != 2 {
		t.Fatalf("expected 2 accepted, got n=%d len=%d", n, h.Len())
	}
	l, ok := h.Next()
	if !ok || l.Ref != "a" || l.Attempts != 1 {
		t.Fatalf("unexpected first lead %+v", l)
	}
	l, _ = h.Next()
	if l.Ref != "b" {
		t.Fatalf("unexpected second lead %+v", l)
	}
	if _, ok := h.Next(); ok {
		t.Fatalf("expected empty hopper")
	}
}

func TestHopper_RequeueRespectsAttempts(t *testing.T) {
	h := NewHopper(2)
	h.Add(Lead{Ref: "a"})
	l, _ := h.Next()
	if !h.Requeue(l) {
		t.Fatalf("expected requeue after first attempt")
	}
	l, _ = h.Next()
	if l.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", l.Attempts)
	}
	if h.Requeue(l) {
		t.Fatalf("expected requeue to refuse an exhausted lead")
	}
}

func TestHopper_BlockRemovesAndRejects(t *testing.T) {
	h := NewHopper(3)
	h.Add(Lead{Ref: "a"}, Lead{Ref: "b"})
	h.Block("a")
	if h.Len() != 1 {
		t.Fatalf("expected blocked lead removed, len=%d", h.Len())
	}
	if h.Add(Lead{Ref: "a"}) != 0 {
		t.Fatalf("blocked lead must not be re-added")
	}
	if h.Requeue(Lead{Ref: "a"}) {
		t.Fatalf("blocked lead must not be requeued")
	}
}
