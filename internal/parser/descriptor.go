package parser

import "ipfixflow/internal/wire"

// HeaderKind tags which protocol a HeaderDescriptor carries. Descriptors
// form an ordered sequence in discovery order (§3 Data Model); Kind plus
// Value is the Go rendering of the spec's tagged-variant header descriptor.
type HeaderKind uint8

const (
	KindEthernet HeaderKind = iota
	KindVLAN
	KindMPLS
	KindPPPoE
	KindIPv4
	KindIPv6
	KindIPv6Ext
	KindGRE
	KindL2TP
	KindVXLAN
	KindGeneve
	KindGTP
	KindTeredo
	KindTCP
	KindUDP
	KindICMP
	KindICMPv6
	KindPayload
)

func (k HeaderKind) String() string {
	switch k {
	case KindEthernet:
		return "ethernet"
	case KindVLAN:
		return "vlan"
	case KindMPLS:
		return "mpls"
	case KindPPPoE:
		return "pppoe"
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	case KindIPv6Ext:
		return "ipv6ext"
	case KindGRE:
		return "gre"
	case KindL2TP:
		return "l2tp"
	case KindVXLAN:
		return "vxlan"
	case KindGeneve:
		return "geneve"
	case KindGTP:
		return "gtp"
	case KindTeredo:
		return "teredo"
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindICMP:
		return "icmp"
	case KindICMPv6:
		return "icmpv6"
	case KindPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// HeaderDescriptor is one entry in the ordered header chain a parse
// produces. Offset is the byte offset of this header within the packet.
// Value holds the decoded header struct from internal/wire, or nil for
// KindPayload (a pure marker: PayloadOffset on the Result carries the
// actual offset into the payload).
type HeaderDescriptor struct {
	Kind   HeaderKind
	Offset int
	Value  any
}

// Ethernet returns the descriptor's Ethernet header, or nil if Kind isn't
// KindEthernet. One accessor per kind keeps call sites free of type
// assertions; see the sibling accessors below.
func (d *HeaderDescriptor) Ethernet() *wire.Ethernet { v, _ := d.Value.(*wire.Ethernet); return v }
func (d *HeaderDescriptor) VLAN() *wire.VLAN         { v, _ := d.Value.(*wire.VLAN); return v }
func (d *HeaderDescriptor) MPLS() *wire.MPLSLabel     { v, _ := d.Value.(*wire.MPLSLabel); return v }
func (d *HeaderDescriptor) PPPoE() *wire.PPPoESession { v, _ := d.Value.(*wire.PPPoESession); return v }
func (d *HeaderDescriptor) IPv4() *wire.IPv4         { v, _ := d.Value.(*wire.IPv4); return v }
func (d *HeaderDescriptor) IPv6() *wire.IPv6         { v, _ := d.Value.(*wire.IPv6); return v }
func (d *HeaderDescriptor) IPv6Ext() *wire.IPv6ExtHeader {
	v, _ := d.Value.(*wire.IPv6ExtHeader)
	return v
}
func (d *HeaderDescriptor) GRE() *wire.GRE         { v, _ := d.Value.(*wire.GRE); return v }
func (d *HeaderDescriptor) L2TP() *wire.L2TP       { v, _ := d.Value.(*wire.L2TP); return v }
func (d *HeaderDescriptor) VXLAN() *wire.VXLAN     { v, _ := d.Value.(*wire.VXLAN); return v }
func (d *HeaderDescriptor) Geneve() *wire.Geneve   { v, _ := d.Value.(*wire.Geneve); return v }
func (d *HeaderDescriptor) GTP() *wire.GTP         { v, _ := d.Value.(*wire.GTP); return v }
func (d *HeaderDescriptor) Teredo() *wire.Teredo   { v, _ := d.Value.(*wire.Teredo); return v }
func (d *HeaderDescriptor) TCP() *wire.TCP         { v, _ := d.Value.(*wire.TCP); return v }
func (d *HeaderDescriptor) UDP() *wire.UDP         { v, _ := d.Value.(*wire.UDP); return v }
func (d *HeaderDescriptor) ICMP() *wire.ICMP       { v, _ := d.Value.(*wire.ICMP); return v }
func (d *HeaderDescriptor) ICMPv6() *wire.ICMPv6   { v, _ := d.Value.(*wire.ICMPv6); return v }

// Result is what a successful Parse returns: the ordered header chain and
// the byte offset where the payload begins.
type Result struct {
	Headers       []*HeaderDescriptor
	PayloadOffset int
}
