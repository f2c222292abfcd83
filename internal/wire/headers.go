// Package wire holds the decoded header value types the layered packet
// parser produces, plus the on-wire selector constants used to dispatch
// between them. One struct per protocol the parser understands; nothing
// here does any decoding itself, that's internal/parser's job.
package wire

import "net"

// EtherType selector values (§4.1 dispatch table, "ethernet" row).
const (
	EtherTypeIPv4    = 0x0800
	EtherTypeIPv6    = 0x86DD
	EtherTypeMPLSUni = 0x8847
	EtherTypeMPLSMul = 0x8848
	EtherTypeVLAN    = 0x8100 // 802.1Q
	EtherTypeVLANAD  = 0x88A8 // 802.1ad (Q-in-Q)
	EtherTypeVLANAH  = 0x88E7 // 802.1ah (PBB / MAC-in-MAC)
	EtherTypeTRILL   = 0x22F3
	EtherTypePPPoES  = 0x8864 // PPPoE session stage
	EtherTypePPPoED  = 0x8863 // PPPoE discovery stage, rejected
)

// IP protocol numbers relevant to the dispatch tables.
const (
	IPProtoICMP   = 1
	IPProtoIPv4   = 4
	IPProtoTCP    = 6
	IPProtoUDP    = 17
	IPProtoIPv6   = 41
	IPProtoGRE    = 47
	IPProtoICMPv6 = 58
	IPProtoEtherIP = 97
	IPProtoMPLS   = 137

	// IPv6 extension header "next header" values.
	IPv6HopByHop = 0
	IPv6Routing  = 43
	IPv6Fragment = 44
	IPv6Dest     = 60
	IPv6AH       = 51
	IPv6NoNext   = 59
)

// UDP destination ports that select a tunnel/encapsulation protocol.
const (
	UDPPortL2TP   = 1701
	UDPPortPPTP   = 1723
	UDPPortGTPC   = 2123
	UDPPortGTPU   = 2152
	UDPPortGTPp   = 3386
	UDPPortTeredo = 3544
	UDPPortVXLAN  = 4789
	UDPPortGeneve = 6081
)

// Ethernet is the 14-byte Ethernet II header.
type Ethernet struct {
	DstMAC   net.HardwareAddr
	SrcMAC   net.HardwareAddr
	EtherType uint16
}

// VLAN is an 802.1Q/802.1ad tag (4 bytes: PCP/DEI/VID + inner EtherType).
type VLAN struct {
	PCP       uint8
	DEI       bool
	VID       uint16
	EtherType uint16 // inner EtherType / next tag's EtherType
	Kind      VLANKind
}

// VLANKind distinguishes the three VLAN tag flavors the parser recognizes.
type VLANKind int

const (
	VLANKindQ VLANKind = iota
	VLANKindAD
	VLANKindAH
)

// MPLSLabel is a single 4-byte MPLS label stack entry.
type MPLSLabel struct {
	Label uint32
	Exp   uint8
	BoS   bool
	TTL   uint8
}

// PPPoESession is the 6-byte PPPoE session header (PPP payload follows).
type PPPoESession struct {
	VersionType uint8
	Code        uint8
	SessionID   uint16
	Length      uint16
	PPPProtocol uint16
}

// IPv4 is the decoded IPv4 header (options are skipped, not retained).
type IPv4 struct {
	Version    uint8
	IHL        uint8
	DSCP       uint8
	ECN        uint8
	TotalLen   uint16
	Identification uint16
	Flags      uint8
	FragOffset uint16
	TTL        uint8
	Protocol   uint8
	Checksum   uint16
	Src        net.IP
	Dst        net.IP
}

// IPv6 is the decoded fixed 40-byte IPv6 header.
type IPv6 struct {
	Version      uint8
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Src          net.IP
	Dst          net.IP
}

// IPv6ExtHeader is a generic IPv6 extension header (hop-by-hop, routing,
// fragment, destination options). The parser only needs the chain link
// (NextHeader) and length to skip over it; Fragment additionally carries
// the fields that end parsing per §4.1.
type IPv6ExtHeader struct {
	Kind        uint8 // the IPv6 next-header value that selected this header
	NextHeader  uint8
	HeaderExtLen uint8 // units of 8 octets, minus the first 8 octets
	// Fragment-only fields, zero otherwise.
	FragOffset   uint16
	MoreFragments bool
	Identification uint32
}

// TCP is the decoded TCP header (options are skipped).
type TCP struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // in 32-bit words
	Flags      uint8
	Window     uint16
	Checksum   uint16
	Urgent     uint16
}

// TCP flag bits, OR-accumulated into FlowRecord.TCPFlags per §3.
const (
	TCPFlagFIN = 0x01
	TCPFlagSYN = 0x02
	TCPFlagRST = 0x04
	TCPFlagPSH = 0x08
	TCPFlagACK = 0x10
	TCPFlagURG = 0x20
	TCPFlagECE = 0x40
	TCPFlagCWR = 0x80
)

// UDP is the decoded UDP header.
type UDP struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// ICMP is the decoded ICMPv4 header (type/code/checksum only; the rest of
// the message is payload as far as this parser is concerned).
type ICMP struct {
	Type     uint8
	Code     uint8
	Checksum uint16
}

// ICMPv6 mirrors ICMP for the v6 message format.
type ICMPv6 struct {
	Type     uint8
	Code     uint8
	Checksum uint16
}

// GRE is the decoded GRE header, version 0 (RFC 2784/2890) or version 1
// (RFC 2637, PPTP enhanced GRE).
type GRE struct {
	Version        uint8
	ChecksumPresent bool
	KeyPresent     bool
	SeqPresent     bool
	AckPresent     bool // v1 only
	Protocol       uint16
	Checksum       uint16
	Key            uint32
	CallID         uint16 // v1: low 16 bits of Key
	Sequence       uint32
	Acknowledgment uint32 // v1 only
}

// L2TP is the decoded L2TPv2 (RFC 2661) control/data header.
type L2TP struct {
	Type          uint8 // 0 = data, 1 = control
	Version       uint8
	LengthPresent bool
	SeqPresent    bool
	OffsetPresent bool
	PriorityFlag  bool
	Length        uint16
	TunnelID      uint16
	SessionID     uint16
	Ns            uint16
	Nr            uint16
	OffsetSize    uint16
}

// VXLAN is the decoded 8-byte VXLAN header (RFC 7348).
type VXLAN struct {
	Flags VXLANFlags
	VNI   uint32
}

// VXLANFlags holds the VXLAN header's single meaningful flag bit.
type VXLANFlags struct {
	VNIValid bool
}

// Geneve is the decoded Geneve header (RFC 8926), options are skipped.
type Geneve struct {
	Version      uint8
	OptionsLen   uint8 // units of 4 octets
	OAMPacket    bool
	CriticalOpts bool
	ProtocolType uint16
	VNI          uint32
}

// GTPVersion enumerates the GTP variants the parser distinguishes by the
// first 3 header bits.
type GTPVersion int

const (
	GTPv0 GTPVersion = iota
	GTPv1
	GTPv2
)

// GTP is the decoded GTP header across all three protocol versions; only
// the fields relevant to locating the inner PDU are kept.
type GTP struct {
	Version       GTPVersion
	MessageType   uint8
	Length        uint16
	TEID          uint32 // v1/v2 only
	SeqPresent    bool
	ExtPresent    bool // v1 only
	NPDUPresent   bool // v1 only
	FlowLabel     uint16 // v0 only
	IsTPDU        bool   // v0/v1: message type 0xFF carries an inner IP packet
}

// Teredo is the decoded Teredo (RFC 4380) authentication/origin header that
// can precede the tunneled IPv6 packet.
type Teredo struct {
	HasAuth   bool
	HasOrigin bool
	OriginPort uint16
	OriginAddr net.IP
}
