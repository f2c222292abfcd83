// Package cache implements the set-associative, per-line LRU FlowCache of
// §4.2: it keys flows by a hash of their FlowKey, maintains per-flow
// counters, enforces active/inactive timeouts, and drives plugin
// lifecycle callbacks, handing completed flows to an Exporter.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"ipfixflow/internal/archive"
	"ipfixflow/internal/exporter"
	"ipfixflow/internal/flow"
	"ipfixflow/internal/parser"
	"ipfixflow/internal/plugin"
)

// ErrInvalidConfig reports a cache_size/line_size that violates §4.2's
// "cache_size must be a power of two; line_size must be a power of two
// dividing cache_size" rule.
var ErrInvalidConfig = errors.New("cache: cache_size/line_size must be powers of two, line_size dividing cache_size")

// Config bounds a FlowCache's capacity and timeouts. Logger follows the
// pack's "nil disables logging" convention: if nil, New substitutes a
// no-op zerolog.Logger so call sites never need a nil check.
type Config struct {
	CacheSize       int
	LineSize        int
	ActiveTimeout   time.Duration
	InactiveTimeout time.Duration
	Logger          *zerolog.Logger
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

func (c Config) validate() error {
	if !isPowerOfTwo(c.CacheSize) || !isPowerOfTwo(c.LineSize) {
		return ErrInvalidConfig
	}
	if c.LineSize > c.CacheSize || c.CacheSize%c.LineSize != 0 {
		return ErrInvalidConfig
	}
	return nil
}

// slot is CacheRecord: a hash plus the FlowRecord it owns. hash==0 means
// empty (§3).
type slot struct {
	hash uint64
	rec  *flow.Record
}

// Cache is the FlowCache. One instance is meant to be owned by a single
// capture worker (§5: "no state is shared between workers").
type Cache struct {
	cfg Config

	slots    []slot
	pool     []flow.Record
	freeList []*flow.Record

	exp     exporter.Exporter
	plugins []plugin.Plugin
	log     *zerolog.Logger
	arc     *archive.Archive

	cacheMask uint64
	lineMask  uint64

	flowsCurrent  int
	nextFlowID    uint64
	lastScanSec   int64
	exportCount   uint64
	evictionCount uint64

	tmpl exporter.TemplateHandle
}

// bootstrapFields is §6's template bootstrap: the fixed field set every
// template emits before any per-protocol fields. flow id and parent id
// have no standard IPFIX information element, so they're carried under
// a private enterprise number.
const bootstrapEnterpriseNumber = 55000

func bootstrapFields() []exporter.FieldDescriptor {
	return []exporter.FieldDescriptor{
		{ElementID: 10, Length: 2},                                       // ingressInterface
		{ElementID: 152, Length: 8},                                      // flowStartMilliseconds
		{ElementID: 153, Length: 8},                                      // flowEndMilliseconds
		{EnterpriseNumber: bootstrapEnterpriseNumber, ElementID: 1, Length: 8}, // flow id
		{EnterpriseNumber: bootstrapEnterpriseNumber, ElementID: 2, Length: 8}, // parent id
	}
}

// SetArchive attaches an archive.Archive that receives a Snapshot of
// every flow this cache exports, for §C's introspection API/monitor to
// query independently of the live cache.
func (c *Cache) SetArchive(a *archive.Archive) { c.arc = a }

// New allocates a FlowCache per §4.2's init operation.
func New(cfg Config, exp exporter.Exporter, plugins []plugin.Plugin) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	c := &Cache{
		cfg:       cfg,
		slots:     make([]slot, cfg.CacheSize),
		pool:      make([]flow.Record, cfg.CacheSize+1),
		freeList:  make([]*flow.Record, 0, cfg.CacheSize+1),
		exp:       exp,
		plugins:   plugins,
		log:       logger,
		cacheMask: uint64(cfg.CacheSize - 1),
		lineMask:  uint64(cfg.LineSize - 1),
	}
	for i := range c.pool {
		c.freeList = append(c.freeList, &c.pool[i])
	}

	if exp != nil {
		handle, err := exp.CreateTemplate(bootstrapFields())
		if err != nil {
			return nil, fmt.Errorf("cache: creating export template: %w", err)
		}
		if err := exp.SendTemplates(); err != nil {
			return nil, fmt.Errorf("cache: sending templates: %w", err)
		}
		c.tmpl = handle
	}

	return c, nil
}

// lineStart returns the index of the first slot in hash's line, per §3:
// `hash & (cache_size-1) & ~(line_size-1)`.
func (c *Cache) lineStart(hash uint64) int {
	return int(hash & c.cacheMask &^ c.lineMask)
}

func (c *Cache) allocRecord() (*flow.Record, error) {
	n := len(c.freeList)
	if n == 0 {
		panic("cache: free list exhausted (invariant violation)")
	}
	r := c.freeList[n-1]
	c.freeList = c.freeList[:n-1]
	r.Reset()
	return r, nil
}

func (c *Cache) releaseRecord(r *flow.Record) {
	c.freeList = append(c.freeList, r)
}

// AddPacket is add_packet (§4.2): the main per-packet ingestion entry.
// raw is the full packet payload bytes (used by plugins); parentID becomes
// a new record's ParentID. Top-level callers pass 0, and the conflict
// recursion passes 0 as well: it restarts at the conflicting header, and
// the headers before the conflict do not form a flow.
func (c *Cache) AddPacket(headers []*parser.HeaderDescriptor, ts time.Time, parentID uint64, raw []byte) error {
	scratch, err := c.allocRecord()
	if err != nil {
		return err
	}

	res, conf, ok := fill(headers)
	if !ok {
		c.releaseRecord(scratch)
		if conf != nil {
			return c.AddPacket(headers[conf.at:], ts, 0, raw)
		}
		return nil
	}

	hash := res.key.Hash()
	s, idx, found := c.findOrInsert(hash)

	var payload []byte
	if res.payloadOffset >= 0 && res.payloadOffset <= len(raw) {
		payload = raw[res.payloadOffset:]
	}

	if !found {
		s.hash = hash
		s.rec = scratch
		s.rec.Key = res.key
		s.rec.SrcAddr = cloneIP(res.srcAddr)
		s.rec.DstAddr = cloneIP(res.dstAddr)
		s.rec.SrcMAC = cloneMAC(res.srcMAC)
		s.rec.DstMAC = cloneMAC(res.dstMAC)
		s.rec.SrcPort = res.srcPort
		s.rec.DstPort = res.dstPort
		s.rec.Protocol = res.protocol
		s.rec.FirstSeen = ts
		s.rec.ID = hash
		s.rec.ParentID = parentID
		s.rec.Observe(len(raw), res.tcpFlags, res.tos, res.ttl, ts)
		c.flowsCurrent++

		for _, pl := range c.plugins {
			if act := pl.PostCreate(s.rec, payload); act&plugin.Flush != 0 {
				c.exportSlot(idx)
				return nil
			}
		}
	} else {
		c.releaseRecord(scratch)
		flushed := false
		for _, pl := range c.plugins {
			act := pl.PreUpdate(s.rec, payload)
			if act&plugin.Flush != 0 {
				c.exportSlot(idx)
				flushed = true
				break
			}
			if act&plugin.Export != 0 {
				c.exportSlot(idx)
				return nil
			}
		}
		if flushed {
			return c.AddPacket(headers, ts, parentID, raw)
		}
		s.rec.Observe(len(raw), res.tcpFlags, res.tos, res.ttl, ts)
	}

	if ts.Sub(s.rec.FirstSeen) >= c.cfg.ActiveTimeout {
		c.exportSlot(idx)
	}

	if ts.Unix()-c.lastScanSec > 5 {
		c.ExportExpired(ts)
		c.lastScanSec = ts.Unix()
	}

	return nil
}

// findOrInsert implements §4.2 step 5: locate or create a slot for hash
// within its line, applying MRU-on-access promotion and the line-full
// insert-at-middle eviction policy.
func (c *Cache) findOrInsert(hash uint64) (*slot, int, bool) {
	start := c.lineStart(hash)
	lineSize := int(c.lineMask) + 1

	for i := 0; i < lineSize; i++ {
		idx := start + i
		if c.slots[idx].hash == hash && c.slots[idx].hash != 0 {
			c.promote(start, i)
			return &c.slots[start], start, true
		}
	}

	for i := 0; i < lineSize; i++ {
		idx := start + i
		if c.slots[idx].hash == 0 {
			return &c.slots[idx], idx, false
		}
	}

	// Line full: evict the tail by exporting it, then reinsert the
	// evicted slot's storage at line_size/2 and shift intervening slots.
	tail := start + lineSize - 1
	c.evictionCount++
	c.exportSlot(tail)
	mid := start + lineSize/2
	for i := tail; i > mid; i-- {
		c.slots[i] = c.slots[i-1]
	}
	c.slots[mid] = slot{}
	return &c.slots[mid], mid, false
}

// promote moves the slot at line-relative index i to the front of its
// line (index 0), shifting earlier entries right by one, per §4.2's
// MRU-on-access rule.
func (c *Cache) promote(start, i int) {
	if i == 0 {
		return
	}
	moved := c.slots[start+i]
	for j := i; j > 0; j-- {
		c.slots[start+j] = c.slots[start+j-1]
	}
	c.slots[start] = moved
}

// exportSlot implements export_flow (§4.2 export path) for the slot at
// idx. A no-op if the slot is already empty.
func (c *Cache) exportSlot(idx int) {
	s := &c.slots[idx]
	if s.hash == 0 || s.rec == nil {
		return
	}

	if c.exp != nil {
		if err := c.exp.ExportFlow(c.tmpl, s.rec); err != nil {
			c.log.Error().Err(err).Uint64("flow_id", s.rec.ID).Msg("export failed")
		}
	}
	if c.arc != nil {
		c.arc.Append(archive.FromRecord(s.rec))
	}
	c.exportCount++

	var errs error
	for _, pl := range c.plugins {
		if closer, ok := pl.(plugin.Closer); ok {
			if err := closer.Close(s.rec); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	if errs != nil {
		c.log.Warn().Err(errs).Uint64("flow_id", s.rec.ID).Msg("plugin teardown errors")
	}

	rec := s.rec
	c.releaseRecord(rec)
	*s = slot{}
	c.flowsCurrent--
}

// ExportExpired scans every non-empty slot and exports those idle for at
// least InactiveTimeout, per §4.2.
func (c *Cache) ExportExpired(now time.Time) {
	for idx := range c.slots {
		s := &c.slots[idx]
		if s.hash == 0 || s.rec == nil {
			continue
		}
		if now.Sub(s.rec.LastSeen) >= c.cfg.InactiveTimeout {
			c.exportSlot(idx)
		}
	}
	if c.exp != nil {
		_ = c.exp.Flush()
	}
}

// ExportAll drains every non-empty slot unconditionally. Idempotent: a
// second call with nothing left to export is a no-op (§8).
func (c *Cache) ExportAll() {
	for idx := range c.slots {
		c.exportSlot(idx)
	}
	if c.exp != nil {
		_ = c.exp.Flush()
	}
}

// Clear releases all allocations and invokes plugin teardown, per §4.2's
// clear operation and §5's shutdown sequence (export_all, then clear).
func (c *Cache) Clear() error {
	c.ExportAll()
	var errs error
	for _, pl := range c.plugins {
		if closer, ok := pl.(interface{ CloseAll() error }); ok {
			if err := closer.CloseAll(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// FlowsCurrent returns the number of live (non-empty) slots.
func (c *Cache) FlowsCurrent() int { return c.flowsCurrent }

// FreeCount returns the number of records currently on the free list, for
// asserting the §8 invariant `|free_list| + |live_flows| == cache_size+1`.
func (c *Cache) FreeCount() int { return len(c.freeList) }

// ExportCount returns the total number of flows exported over this
// cache's lifetime (timeouts, flushes, and evictions combined).
func (c *Cache) ExportCount() uint64 { return c.exportCount }

// EvictionCount returns the number of exports forced by a full cache
// line, a subset of ExportCount, for §C's stats endpoint.
func (c *Cache) EvictionCount() uint64 { return c.evictionCount }

func cloneIP(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneMAC(b []byte) []byte {
	return cloneIP(b)
}
