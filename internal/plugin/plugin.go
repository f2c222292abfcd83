// Package plugin defines the per-flow L7 extension contract (§4.3): a
// plugin observes every packet of a flow and may attach a small, plugin-
// owned extension value, returning an ActionFlags that tells the cache
// whether to keep accumulating, flush, or export-without-reinsert.
package plugin

import "ipfixflow/internal/flow"

// ActionFlags mirrors §4.3's bitset: FLUSH exports the flow then restarts
// packet handling so the next packet creates a fresh record; Export
// exports without reinserting; zero value (Continue) does neither.
type ActionFlags uint8

const (
	Continue ActionFlags = 0
	Flush    ActionFlags = 1 << iota
	Export
)

// Plugin is the per-protocol extension a FlowCache drives. ID is the
// plugin's dense extension id (§4.3: "each plugin owns a dense integer
// extension id"), used as the index into flow.Record's extension slots.
type Plugin interface {
	ID() int
	Name() string
	PostCreate(f *flow.Record, payload []byte) ActionFlags
	PreUpdate(f *flow.Record, payload []byte) ActionFlags
}

// Closer is implemented by plugins that hold resources needing explicit
// teardown (§4.2 export path: "invoking per-plugin destructors").
type Closer interface {
	Close(f *flow.Record) error
}
