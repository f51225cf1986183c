// Package batchlog holds the ordered, append-only record of accepted batches.
package batchlog

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Batch is one accepted payload. It is never mutated after Append returns it.
type Batch struct {
	ID         string          `json:"id"`
	Seq        int             `json:"seq"`
	ReceivedAt time.Time       `json:"received_at"`
	Bytes      int             `json:"bytes"`
	Items      json.RawMessage `json:"items"`
}

// Log is safe for concurrent use. The zero value is an empty log.
type Log struct {
	mu      sync.RWMutex
	batches []Batch
	now     func() time.Time
}

func New() *Log {
	return &Log{now: time.Now}
}

// Append records items and returns the stored batch together with the log
// length that includes it. rawBytes is the size of the body as received.
func (l *Log) Append(items json.RawMessage, rawBytes int) (Batch, int) {
	now := time.Now
	if l.now != nil {
		now = l.now
	}

	b := Batch{
		ID:         uuid.NewString(),
		ReceivedAt: now().UTC(),
		Bytes:      rawBytes,
		Items:      append(json.RawMessage(nil), items...),
	}

	l.mu.Lock()
	b.Seq = len(l.batches) + 1
	l.batches = append(l.batches, b)
	total := len(l.batches)
	l.mu.Unlock()

	return b, total
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.batches)
}

// Since returns a copy of every batch whose Seq is greater than seq.
// Since(0) returns the whole log.
func (l *Log) Since(seq int) []Batch {
	_, out := l.Snapshot(seq)
	return out
}

// Snapshot returns the log length and a copy of every batch whose Seq is
// greater than seq, both read under the same lock.
func (l *Log) Snapshot(seq int) (int, []Batch) {
	if seq < 0 {
		seq = 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := len(l.batches)
	if seq >= total {
		return total, []Batch{}
	}
	out := make([]Batch, total-seq)
	copy(out, l.batches[seq:])
	return total, out
}

// Latest returns the most recent batch, if any.
func (l *Log) Latest() (Batch, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.batches) == 0 {
		return Batch{}, false
	}
	return l.batches[len(l.batches)-1], true
}
