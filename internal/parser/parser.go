// Package parser implements the layered packet parser of §4.1: a bounded
// state machine that walks an arbitrary stack of link/tunnel/transport
// headers and produces an ordered HeaderDescriptor chain plus a payload
// offset, or fails with a typed ParseError. The parser is pure: it holds
// no state across calls beyond its preallocated descriptor/header-value
// pools, which are reset at the start of every Parse.
package parser

import (
	"ipfixflow/internal/bitreader"
	"ipfixflow/internal/wire"
)

// Config bounds the parser's per-call pools (§3: "default 5 per type, 40
// total links").
type Config struct {
	PerTypeCap int
	MaxLinks   int
	// MaxTransitions bounds the state-machine step count so a pathological
	// loop (e.g. a crafted MPLS label stack) cannot run forever; it is the
	// realization of the "bounded loop counter" design note in §9.
	MaxTransitions int
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{PerTypeCap: 5, MaxLinks: 40, MaxTransitions: 256}
}

// pools bundles one typedPool per header-value type plus the descriptor
// pool itself, so Parser.reset() can clear all of them uniformly.
type pools struct {
	descriptors *typedPool[HeaderDescriptor]

	ethernet *typedPool[wire.Ethernet]
	vlan     *typedPool[wire.VLAN]
	mpls     *typedPool[wire.MPLSLabel]
	pppoe    *typedPool[wire.PPPoESession]
	ipv4     *typedPool[wire.IPv4]
	ipv6     *typedPool[wire.IPv6]
	ipv6ext  *typedPool[wire.IPv6ExtHeader]
	gre      *typedPool[wire.GRE]
	l2tp     *typedPool[wire.L2TP]
	vxlan    *typedPool[wire.VXLAN]
	geneve   *typedPool[wire.Geneve]
	gtp      *typedPool[wire.GTP]
	teredo   *typedPool[wire.Teredo]
	tcp      *typedPool[wire.TCP]
	udp      *typedPool[wire.UDP]
	icmp     *typedPool[wire.ICMP]
	icmpv6   *typedPool[wire.ICMPv6]
}

func newPools(cfg Config) *pools {
	return &pools{
		descriptors: newTypedPool[HeaderDescriptor](cfg.MaxLinks),
		ethernet:    newTypedPool[wire.Ethernet](cfg.PerTypeCap),
		vlan:        newTypedPool[wire.VLAN](cfg.PerTypeCap),
		mpls:        newTypedPool[wire.MPLSLabel](cfg.PerTypeCap),
		pppoe:       newTypedPool[wire.PPPoESession](cfg.PerTypeCap),
		ipv4:        newTypedPool[wire.IPv4](cfg.PerTypeCap),
		ipv6:        newTypedPool[wire.IPv6](cfg.PerTypeCap),
		ipv6ext:     newTypedPool[wire.IPv6ExtHeader](cfg.PerTypeCap),
		gre:         newTypedPool[wire.GRE](cfg.PerTypeCap),
		l2tp:        newTypedPool[wire.L2TP](cfg.PerTypeCap),
		vxlan:       newTypedPool[wire.VXLAN](cfg.PerTypeCap),
		geneve:      newTypedPool[wire.Geneve](cfg.PerTypeCap),
		gtp:         newTypedPool[wire.GTP](cfg.PerTypeCap),
		teredo:      newTypedPool[wire.Teredo](cfg.PerTypeCap),
		tcp:         newTypedPool[wire.TCP](cfg.PerTypeCap),
		udp:         newTypedPool[wire.UDP](cfg.PerTypeCap),
		icmp:        newTypedPool[wire.ICMP](cfg.PerTypeCap),
		icmpv6:      newTypedPool[wire.ICMPv6](cfg.PerTypeCap),
	}
}

func (p *pools) reset() {
	p.descriptors.reset()
	p.ethernet.reset()
	p.vlan.reset()
	p.mpls.reset()
	p.pppoe.reset()
	p.ipv4.reset()
	p.ipv6.reset()
	p.ipv6ext.reset()
	p.gre.reset()
	p.l2tp.reset()
	p.vxlan.reset()
	p.geneve.reset()
	p.gtp.reset()
	p.teredo.reset()
	p.tcp.reset()
	p.udp.reset()
	p.icmp.reset()
	p.icmpv6.reset()
}

// Parser decodes packets into HeaderDescriptor chains. One Parser may be
// reused across many Parse calls (typically one per capture worker); its
// pools are reset at the top of every call so it carries no per-packet
// state between them.
type Parser struct {
	cfg   Config
	pools *pools
}

// New creates a Parser with the given bounds.
func New(cfg Config) *Parser {
	return &Parser{cfg: cfg, pools: newPools(cfg)}
}

// ctx carries the in-progress parse's mutable state between state-machine
// steps: the bit cursor, the header chain built so far, and a transition
// counter for the timeout guard.
type ctx struct {
	r           *bitreader.Reader
	headers     []*HeaderDescriptor
	transitions int
	maxTrans    int
}

func (c *ctx) step() error {
	c.transitions++
	if c.transitions > c.maxTrans {
		return ErrParserTimeout
	}
	return nil
}

// appendDescriptor allocates a descriptor from the pool and records it at
// the current byte offset. The reader must be byte-aligned.
func (p *Parser) appendDescriptor(c *ctx, kind HeaderKind, value any) error {
	if !c.r.Aligned() {
		panic("parser: appendDescriptor on unaligned cursor")
	}
	d, ok := p.pools.descriptors.alloc()
	if !ok {
		return ErrOutOfMemory
	}
	d.Kind = kind
	d.Offset = c.r.ByteOffset()
	d.Value = value
	c.headers = append(c.headers, d)
	return nil
}

// Parse decodes packet into an ordered HeaderDescriptor chain terminated
// by a KindPayload marker, per §4.1.
func (p *Parser) Parse(packet []byte) (*Result, error) {
	if len(packet) == 0 {
		return nil, ErrParserInvalidArgument
	}
	p.pools.reset()

	c := &ctx{
		r:        bitreader.New(packet),
		headers:  make([]*HeaderDescriptor, 0, 8),
		maxTrans: p.cfg.MaxTransitions,
	}

	st := stEthernet
	var err error
	for {
		if stepErr := c.step(); stepErr != nil {
			return partial(c), stepErr
		}
		switch st {
		case stEthernet:
			st, err = p.stepEthernet(c)
		case stVLAN:
			st, err = p.stepVLAN(c)
		case stMPLS:
			st, err = p.stepMPLS(c)
		case stPPPoE:
			st, err = p.stepPPPoE(c)
		case stIPv4:
			st, err = p.stepIPv4(c)
		case stIPv6:
			st, err = p.stepIPv6(c)
		case stIPv6Ext:
			st, err = p.stepIPv6Ext(c)
		case stGRE:
			st, err = p.stepGRE(c)
		case stL2TP:
			st, err = p.stepL2TP(c)
		case stPPTPPlaceholder:
			st, err = p.stepPPTPPlaceholder(c)
		case stVXLAN:
			st, err = p.stepVXLAN(c)
		case stGeneve:
			st, err = p.stepGeneve(c)
		case stGTP:
			st, err = p.stepGTP(c)
		case stTeredo:
			st, err = p.stepTeredo(c)
		case stTCP:
			st, err = p.stepTCP(c)
		case stUDP:
			st, err = p.stepUDP(c)
		case stICMP:
			st, err = p.stepICMP(c)
		case stICMPv6:
			st, err = p.stepICMPv6(c)
		case stTRILLPlaceholder:
			st, err = stAccept, nil
		case stAccept:
			return p.finish(c)
		case stReject:
			return partial(c), ErrDefaultReject
		default:
			return partial(c), ErrDefaultReject
		}
		if err != nil {
			return partial(c), err
		}
	}
}

// partial returns whatever header chain had been built when a parse
// failed; §4.1 says callers may inspect this prefix on OutOfMemory or
// PacketTooShort.
func partial(c *ctx) *Result {
	return &Result{Headers: c.headers, PayloadOffset: -1}
}

func (p *Parser) finish(c *ctx) (*Result, error) {
	if err := p.appendDescriptor(c, KindPayload, nil); err != nil {
		return partial(c), err
	}
	return &Result{Headers: c.headers, PayloadOffset: c.r.ByteOffset()}, nil
}
