package ledger

import (
	"fmt"
	"testing"
)

func TestPopLastReturnsNewestFirst(t *testing.T) {
	l := New()
	first := "old contents"
	l.RecordWrite("proj", "a.txt", &first)
	l.RecordWrite("proj", "b.txt", nil)

	rec, ok := l.PopLast("proj")
	if !ok {
		t.Fatal("PopLast returned no record")
	}
	if rec.File != "b.txt" {
		t.Fatalf("PopLast returned %s, want b.txt", rec.File)
	}
	if rec.PreviousContent != nil {
		t.Fatal("created-file record should have nil PreviousContent")
	}

	rec, ok = l.PopLast("proj")
	if !ok {
		t.Fatal("second PopLast returned no record")
	}
	if rec.File != "a.txt" || rec.PreviousContent == nil || *rec.PreviousContent != first {
		t.Fatalf("unexpected record %+v", rec)
	}

	if _, ok := l.PopLast("proj"); ok {
		t.Fatal("PopLast on empty ledger returned a record")
	}
}

func TestCapEvictsOldest(t *testing.T) {
	l := New()
	for i := 0; i < MaxRecords+5; i++ {
		l.RecordWrite("proj", fmt.Sprintf("f%d.txt", i), nil)
	}
	if got := l.Len("proj"); got != MaxRecords {
		t.Fatalf("Len = %d, want %d", got, MaxRecords)
	}
	// The newest record must still be on top.
	rec, ok := l.PopLast("proj")
	if !ok || rec.File != fmt.Sprintf("f%d.txt", MaxRecords+4) {
		t.Fatalf("PopLast after eviction returned %+v", rec)
	}
	// Drain; the oldest surviving record is the one written right after
	// the evicted batch.
	var last Record
	for {
		r, ok := l.PopLast("proj")
		if !ok {
			break
		}
		last = r
	}
	if last.File != "f5.txt" {
		t.Fatalf("oldest surviving record is %s, want f5.txt", last.File)
	}
}

func TestProjectsAreIsolated(t *testing.T) {
	l := New()
	l.RecordWrite("a", "x.txt", nil)
	l.RecordWrite("b", "y.txt", nil)
	l.Clear("a")
	if l.Len("a") != 0 {
		t.Fatal("Clear left records behind")
	}
	if l.Len("b") != 1 {
		t.Fatal("Clear touched another project's records")
	}
}
