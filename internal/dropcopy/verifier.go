package dropcopy

import (
	"fmt"
	"sync"

	"github.com/bossim/venue/internal/fixml"
)

// Verifier accumulates execution events from the drop-copy feed and
// checks per-order invariants over the observed window: exactly one
// acknowledgement per order, at most one fill, no fill without an
// acknowledgement, and no duplicate exec ids.
type Verifier struct {
	mu         sync.Mutex
	events     int64
	ackCounts  map[string]int
	fillCounts map[string]int
	execIDs    map[string]int
}

// NewVerifier creates an empty verifier
func NewVerifier() *Verifier {
	return &Verifier{
		ackCounts:  make(map[string]int),
		fillCounts: make(map[string]int),
		execIDs:    make(map[string]int),
	}
}

// Observe records one execution event
func (v *Verifier) Observe(event ExecutionEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.events++
	v.execIDs[event.ExecID]++
	switch event.ExecType {
	case fixml.ExecTypeNew:
		v.ackCounts[event.OrderID]++
	case fixml.ExecTypeTransaction:
		v.fillCounts[event.OrderID]++
	}
}

// Violations returns one message per invariant breach
func (v *Verifier) Violations() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var violations []string
	for orderID, n := range v.ackCounts {
		if n != 1 {
			violations = append(violations,
				fmt.Sprintf("order %s has %d acknowledgements", orderID, n))
		}
	}
	for orderID, n := range v.fillCounts {
		if v.ackCounts[orderID] == 0 {
			violations = append(violations,
				fmt.Sprintf("order %s filled without acknowledgement", orderID))
		}
		if n > 1 {
			violations = append(violations,
				fmt.Sprintf("order %s filled %d times", orderID, n))
		}
	}
	for execID, n := range v.execIDs {
		if n > 1 {
			violations = append(violations,
				fmt.Sprintf("exec id %s seen %d times", execID, n))
		}
	}
	return violations
}

// Stats returns the observed event count and distinct acked and
// filled order counts
func (v *Verifier) Stats() (events int64, acked int, filled int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.events, len(v.ackCounts), len(v.fillCounts)
}
