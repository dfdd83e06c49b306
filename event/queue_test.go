package event

import (
	"fmt"
	"testing"
)

// --- Unit Tests ---

func TestPriorityQueue_PopEmpty(t *testing.T) {
	q := newPriorityQueue()
	if e := q.pop(); e != nil {
		t.Errorf("pop on empty queue = %v, want nil", e)
	}
	if q.len() != 0 {
		t.Errorf("len = %d, want 0", q.len())
	}
}

func TestPriorityQueue_PriorityOrder(t *testing.T) {
	q := newPriorityQueue()
	q.push(New(TypeHeartbeat, WithPriority(PriorityLow), WithContent("low")))
	q.push(New(TypeViral, WithPriority(PriorityCritical), WithContent("critical")))
	q.push(New(TypeTrending, WithPriority(PriorityNormal), WithContent("normal")))
	q.push(New(TypeMention, WithPriority(PriorityHigh), WithContent("high")))

	want := []string{"critical", "high", "normal", "low"}
	for i, expected := range want {
		e := q.pop()
		if e == nil {
			t.Fatalf("pop %d = nil, want %q", i, expected)
		}
		if e.Content != expected {
			t.Errorf("pop %d = %q, want %q", i, e.Content, expected)
		}
	}
}

func TestPriorityQueue_FIFOWithinPriority(t *testing.T) {
	q := newPriorityQueue()
	for i := 0; i < 10; i++ {
		q.push(New(TypeMention,
			WithPriority(PriorityHigh),
			WithContent(fmt.Sprintf("m%d", i))))
	}

	for i := 0; i < 10; i++ {
		e := q.pop()
		want := fmt.Sprintf("m%d", i)
		if e.Content != want {
			t.Errorf("pop %d = %q, want %q (insertion order)", i, e.Content, want)
		}
	}
}

func TestPriorityQueue_InterleavedTies(t *testing.T) {
	q := newPriorityQueue()
	q.push(New(TypeMention, WithPriority(PriorityHigh), WithContent("h1")))
	q.push(New(TypeHeartbeat, WithPriority(PriorityLow), WithContent("l1")))
	q.push(New(TypeMention, WithPriority(PriorityHigh), WithContent("h2")))
	q.push(New(TypeHeartbeat, WithPriority(PriorityLow), WithContent("l2")))

	want := []string{"h1", "h2", "l1", "l2"}
	for i, expected := range want {
		if got := q.pop().Content; got != expected {
			t.Errorf("pop %d = %q, want %q", i, got, expected)
		}
	}
}

func TestPriorityQueue_Wake(t *testing.T) {
	q := newPriorityQueue()
	q.push(New(TypeMention))

	select {
	case <-q.wake():
	default:
		t.Error("expected wake signal after push")
	}
}
