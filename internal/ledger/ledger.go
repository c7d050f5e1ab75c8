package ledger

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// MaxRecords bounds the per-project history. Older records fall off in
// FIFO order once the cap is reached.
const MaxRecords = 10

// Record describes one write made by the agent. PreviousContent is nil
// when the write created the file, so undoing it deletes the file.
type Record struct {
	File            string    `json:"file"`
	Timestamp       time.Time `json:"timestamp"`
	PreviousContent *string   `json:"-"`
}

// Ledger tracks recent file writes per project so the most recent one can
// be undone. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	records map[string][]Record
}

func New() *Ledger {
	return &Ledger{records: make(map[string][]Record)}
}

// RecordWrite appends a record for projectID, evicting the oldest once the
// cap is reached.
func (l *Ledger) RecordWrite(projectID, file string, previous *string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := append(l.records[projectID], Record{
		File:            file,
		Timestamp:       time.Now(),
		PreviousContent: previous,
	})
	if len(recs) > MaxRecords {
		recs = recs[len(recs)-MaxRecords:]
	}
	l.records[projectID] = recs
}

// PopLast removes and returns the most recent record for projectID.
func (l *Ledger) PopLast(projectID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := l.records[projectID]
	if len(recs) == 0 {
		return Record{}, false
	}
	last := recs[len(recs)-1]
	l.records[projectID] = recs[:len(recs)-1]
	return last, true
}

// Len reports how many undoable writes projectID currently has.
func (l *Ledger) Len(projectID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records[projectID])
}

// Clear drops all records for projectID.
func (l *Ledger) Clear(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, projectID)
}

// ClearAll drops every project's records.
func (l *Ledger) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string][]Record)
}

// Summary renders the undo state for inclusion in the model's system
// instruction, newest change last.
func (l *Ledger) Summary(projectID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := l.records[projectID]
	if len(recs) == 0 {
		return "No recent file changes are recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d recent file change(s) recorded:", len(recs))
	for _, rec := range recs {
		fmt.Fprintf(&b, "\n- %s (%s)", rec.File, rec.Timestamp.Format("15:04:05"))
	}
	return b.String()
}
