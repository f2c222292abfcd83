// Package archive keeps a bounded history of exported flow records for
// the introspection API and monitor to query, independent of the live
// set-associative cache those records were evicted from (§C). It
// replaces the teacher's internal/store/flowstore.go hybrid
// TopK+LRU+FIFO eviction with a plain FIFO ring buffer: the live cache
// already does eviction, so the archive only needs to remember the
// last N exports, not decide which ones matter most.
package archive

import (
	"sync"
	"time"

	"ipfixflow/internal/flow"
)

// Snapshot is an immutable copy of an exported flow.Record, safe to read
// after the live record has been released back to the cache's pool.
type Snapshot struct {
	Key       flow.Key
	SrcAddr   string
	DstAddr   string
	SrcPort   uint16
	DstPort   uint16
	Protocol  uint8
	Packets   uint64
	Bytes     uint64
	TCPFlags  uint8
	FirstSeen time.Time
	LastSeen  time.Time
	ID        uint64
	ParentID  uint64
}

// FromRecord copies the fields of a live flow.Record into a Snapshot.
func FromRecord(r *flow.Record) Snapshot {
	return Snapshot{
		Key:       r.Key,
		SrcAddr:   r.SrcAddr.String(),
		DstAddr:   r.DstAddr.String(),
		SrcPort:   r.SrcPort,
		DstPort:   r.DstPort,
		Protocol:  r.Protocol,
		Packets:   r.Packets,
		Bytes:     r.Bytes,
		TCPFlags:  r.TCPFlags,
		FirstSeen: r.FirstSeen,
		LastSeen:  r.LastSeen,
		ID:        r.ID,
		ParentID:  r.ParentID,
	}
}

// Archive is a fixed-capacity FIFO ring buffer of Snapshots.
type Archive struct {
	mu       sync.RWMutex
	buf      []Snapshot
	cap      int
	next     int
	size     int
	total    uint64 // total ever appended, including overwritten entries
}

// New creates an Archive holding at most capacity snapshots.
func New(capacity int) *Archive {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Archive{buf: make([]Snapshot, capacity), cap: capacity}
}

// Append records a new snapshot, overwriting the oldest entry once the
// archive is full.
func (a *Archive) Append(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf[a.next] = s
	a.next = (a.next + 1) % a.cap
	if a.size < a.cap {
		a.size++
	}
	a.total++
}

// Snapshot returns a copy of the archive's current contents, oldest
// first, for querying.
func (a *Archive) Snapshot() []Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Snapshot, a.size)
	start := (a.next - a.size + a.cap) % a.cap
	for i := 0; i < a.size; i++ {
		out[i] = a.buf[(start+i)%a.cap]
	}
	return out
}

// Len returns the number of snapshots currently held.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// Total returns the number of snapshots ever appended, including ones
// since overwritten.
func (a *Archive) Total() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total
}
