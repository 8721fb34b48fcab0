package queue

import (
	"errors"
	"testing"

	"github.com/vigil/modbot/internal/abuse"
	"github.com/vigil/modbot/internal/protocol"
	"github.com/vigil/modbot/internal/report"
)

func record(id string, specific abuse.SpecificType, multiplier, indicators int) *report.Record {
	rec := report.NewRecord(protocol.User{ID: id, Name: "reporter-" + id})
	rec.SpecificType = specific
	rec.BroadType = abuse.BroadOf(specific)
	rec.Multiplier = multiplier
	for i := 0; i < indicators; i++ {
		rec.Indicators = append(rec.Indicators, "indicator")
	}
	rec.State = report.StateComplete
	return rec
}

func TestDequeueEmpty(t *testing.T) {
	q := New()

	if _, err := q.Dequeue(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestDequeueHighestSeverityFirst(t *testing.T) {
	q := New()

	low := record("1", abuse.HateSpeech, 1, 0)           // severity 2
	mid := record("2", abuse.Bullying, 1, 0)             // severity 3
	high := record("3", abuse.TerroristPropaganda, 2, 0) // severity 10

	q.Enqueue(low)
	q.Enqueue(high)
	q.Enqueue(mid)

	for i, want := range []*report.Record{high, mid, low} {
		got, err := q.Dequeue()
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if got != want {
			t.Errorf("dequeue %d: got severity %d, want %d", i, got.Severity(), want.Severity())
		}
	}

	if _, err := q.Dequeue(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty after draining, got %v", err)
	}
}

func TestFIFOTieBreak(t *testing.T) {
	q := New()

	// All severity 3; must come back in insertion order.
	first := record("1", abuse.Scam, 1, 0)
	second := record("2", abuse.Bullying, 1, 0)
	third := record("3", abuse.Impersonation, 1, 0)

	q.Enqueue(first)
	q.Enqueue(second)
	q.Enqueue(third)

	for i, want := range []*report.Record{first, second, third} {
		got, err := q.Dequeue()
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if got != want {
			t.Errorf("dequeue %d: got reporter %s, want %s", i, got.Author.ID, want.Author.ID)
		}
	}
}

func TestPeekAllDoesNotMutate(t *testing.T) {
	q := New()

	q.Enqueue(record("1", abuse.HateSpeech, 1, 0)) // severity 2
	q.Enqueue(record("2", abuse.Violence, 1, 0))   // severity 4
	q.Enqueue(record("3", abuse.Bullying, 1, 0))   // severity 3

	peeked := q.PeekAll()
	if len(peeked) != 3 {
		t.Fatalf("expected 3 records, got %d", len(peeked))
	}
	for i := 1; i < len(peeked); i++ {
		if peeked[i-1].Severity() < peeked[i].Severity() {
			t.Errorf("peek order not descending at index %d: %d < %d", i, peeked[i-1].Severity(), peeked[i].Severity())
		}
	}

	if q.Size() != 3 {
		t.Fatalf("PeekAll mutated the queue: size %d, want 3", q.Size())
	}

	// Dequeue order must match what PeekAll showed.
	for i := range peeked {
		got, err := q.Dequeue()
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if got != peeked[i] {
			t.Errorf("dequeue %d does not match peek order", i)
		}
	}
}

func TestSize(t *testing.T) {
	q := New()

	if q.Size() != 0 {
		t.Fatalf("expected empty queue, size %d", q.Size())
	}
	q.Enqueue(record("1", abuse.Scam, 1, 0))
	q.Enqueue(record("2", abuse.Scam, 1, 0))
	if q.Size() != 2 {
		t.Fatalf("expected size 2, got %d", q.Size())
	}
	if _, err := q.Dequeue(); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 1 {
		t.Fatalf("expected size 1 after dequeue, got %d", q.Size())
	}
}
