// Package rollback keeps the pre-batch snapshot used to undo the last applied plan.
package rollback

import (
	"sync"

	"github.com/mapcal/mapcal/internal/calendar"
)

// Snapshot is the state captured before a plan was applied.
type Snapshot struct {
	Document   calendar.Document
	FocusIndex int
}

// Ledger holds at most one snapshot per calendar id.
// It is safe for concurrent use.
type Ledger struct {
	mu    sync.Mutex
	slots map[string]Snapshot
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{slots: make(map[string]Snapshot)}
}

// Capture stores a copy of doc for id, overwriting any previous snapshot.
func (l *Ledger) Capture(id string, doc calendar.Document, focusIndex int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.slots[id] = Snapshot{Document: doc.Clone(), FocusIndex: focusIndex}
}

// Consume returns and clears the snapshot for id.
func (l *Ledger) Consume(id string) (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, ok := l.slots[id]
	if !ok {
		return Snapshot{}, false
	}
	delete(l.slots, id)

	// Return a copy to prevent mutation
	snap.Document = snap.Document.Clone()
	return snap, true
}

// Has reports whether a snapshot is held for id.
func (l *Ledger) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.slots[id]
	return ok
}

// Forget discards the snapshot for id.
func (l *Ledger) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.slots, id)
}
