package flow

import (
	"net"
	"time"
)

// MaxExtensions bounds how many plugins may attach per-flow scratch state
// to a single record (§4.3: "one scratch slot per registered plugin").
const MaxExtensions = 16

// Record is one cached flow's accumulated state: the teacher's flat
// pkg/types.Flow generalized with a cache-internal id/parent-id pair (for
// the recursive tunnel-remainder records §4.2 describes) and a dense
// plugin-extension slice in place of a map, so a busy cache line never
// pays map overhead per packet.
type Record struct {
	Key Key

	SrcAddr net.IP
	DstAddr net.IP
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcPort uint16
	DstPort uint16

	Protocol uint8
	ToS      uint8
	TTL      uint8
	TCPFlags uint8 // OR-accumulated across every packet seen (§3)

	Packets uint64
	Bytes   uint64

	FirstSeen time.Time
	LastSeen  time.Time

	// ID is the flow key's hash at creation (set by cache.AddPacket);
	// ParentID is the parentID passed to cache.AddPacket (§4.2), which is
	// 0 on every path in this repository, the conflict recursion included.
	ID       uint64
	ParentID uint64

	extensions [MaxExtensions]any
}

// Extension returns the scratch value a plugin previously stored at id,
// or nil if none has been set.
func (r *Record) Extension(id int) any {
	if id < 0 || id >= MaxExtensions {
		return nil
	}
	return r.extensions[id]
}

// SetExtension stores a plugin's scratch value at id, overwriting any
// previous value.
func (r *Record) SetExtension(id int, v any) {
	if id < 0 || id >= MaxExtensions {
		return
	}
	r.extensions[id] = v
}

// Reset clears a record so it can be reused for a new flow by the cache's
// free list, without reallocating the backing extensions array.
func (r *Record) Reset() {
	*r = Record{extensions: r.extensions}
	for i := range r.extensions {
		r.extensions[i] = nil
	}
}

// Age returns how long this flow has been idle relative to now.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.LastSeen)
}

// Duration returns the flow's observed lifetime so far.
func (r *Record) Duration() time.Duration {
	return r.LastSeen.Sub(r.FirstSeen)
}

// Observe folds one packet's worth of counters into the record: the
// generalized form of the teacher's ad hoc Flow field updates in
// internal/parser (this system updates Bytes/Packets/TCPFlags/TTL/ToS
// identically regardless of which layer produced the packet).
func (r *Record) Observe(byteLen int, tcpFlags, tos, ttl uint8, at time.Time) {
	r.Packets++
	r.Bytes += uint64(byteLen)
	r.TCPFlags |= tcpFlags
	r.ToS = tos
	r.TTL = ttl
	if r.FirstSeen.IsZero() {
		r.FirstSeen = at
	}
	r.LastSeen = at
}
