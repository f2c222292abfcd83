package parser

import (
	"net"

	"ipfixflow/internal/wire"
)

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// stepEthernet decodes the 14-byte Ethernet II header and dispatches on
// EtherType per the §4.1 "ethernet" row.
func (p *Parser) stepEthernet(c *ctx) (state, error) {
	dst, err := c.r.Bytes(6)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	src, err := c.r.Bytes(6)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	etherType, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	slot, ok := p.pools.ethernet.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.DstMAC = net.HardwareAddr(cloneBytes(dst))
	slot.SrcMAC = net.HardwareAddr(cloneBytes(src))
	slot.EtherType = uint16(etherType)
	if err := p.appendDescriptor(c, KindEthernet, slot); err != nil {
		return stReject, err
	}

	return dispatchEtherType(uint16(etherType))
}

func dispatchEtherType(et uint16) (state, error) {
	switch et {
	case wire.EtherTypeIPv4:
		return stIPv4, nil
	case wire.EtherTypeIPv6:
		return stIPv6, nil
	case wire.EtherTypeMPLSUni, wire.EtherTypeMPLSMul:
		return stMPLS, nil
	case wire.EtherTypeVLAN:
		return stVLAN, nil
	case wire.EtherTypeVLANAD:
		return stVLAN, nil
	case wire.EtherTypeVLANAH:
		return stVLAN, nil
	case wire.EtherTypeTRILL:
		return stTRILLPlaceholder, nil
	case wire.EtherTypePPPoES:
		return stPPPoE, nil
	case wire.EtherTypePPPoED:
		return stReject, ErrDefaultReject
	default:
		return stReject, ErrDefaultReject
	}
}

// stepVLAN decodes one 4-byte 802.1Q/802.1ad/802.1ah tag. The tag's flavor
// is the EtherType that selected it, read back from the previous
// descriptor. For Q and AD tags the inner EtherType selects the next state
// exactly like stepEthernet's dispatch; vlan_ah instead recurses to
// "ethernet" per the dispatch table (a PBB I-tag is followed by a full
// inner Ethernet frame).
func (p *Parser) stepVLAN(c *ctx) (state, error) {
	tci, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	etherType, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	slot, ok := p.pools.vlan.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.PCP = uint8(tci >> 13)
	slot.DEI = (tci>>12)&1 != 0
	slot.VID = uint16(tci & 0x0FFF)
	slot.EtherType = uint16(etherType)
	var outer uint16
	if n := len(c.headers); n > 0 {
		switch prev := c.headers[n-1]; prev.Kind {
		case KindEthernet:
			outer = prev.Ethernet().EtherType
		case KindVLAN:
			outer = prev.VLAN().EtherType
		}
	}
	slot.Kind = wire.VLANKindQ
	switch outer {
	case wire.EtherTypeVLANAD:
		slot.Kind = wire.VLANKindAD
	case wire.EtherTypeVLANAH:
		slot.Kind = wire.VLANKindAH
	}
	if err := p.appendDescriptor(c, KindVLAN, slot); err != nil {
		return stReject, err
	}

	if slot.Kind == wire.VLANKindAH {
		return stEthernet, nil
	}
	return dispatchEtherType(uint16(etherType))
}

// stepMPLS decodes one 4-byte MPLS label stack entry. BoS selects the
// next transition: BoS=0 loops back for another label; BoS=1 peeks the
// first nibble of the next byte without consuming it to decide whether
// the label stack bottoms out onto an IPv4 packet, an IPv6 packet, or an
// Ethernet frame (EoMPLS).
func (p *Parser) stepMPLS(c *ctx) (state, error) {
	label, err := c.r.Bits(20)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	exp, err := c.r.Bits(3)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	bos, err := c.r.Bits(1)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	ttl, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	slot, ok := p.pools.mpls.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Label = uint32(label)
	slot.Exp = uint8(exp)
	slot.BoS = bos == 1
	slot.TTL = uint8(ttl)
	if err := p.appendDescriptor(c, KindMPLS, slot); err != nil {
		return stReject, err
	}

	if bos == 0 {
		return stMPLS, nil
	}

	nibble, err := c.r.Peek(4)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	switch nibble {
	case 4:
		return stIPv4, nil
	case 6:
		return stIPv6, nil
	case 0:
		return stEthernet, nil // EoMPLS: an Ethernet frame follows
	default:
		return stReject, ErrDefaultReject
	}
}

// stepPPPoE decodes the 6-byte PPPoE session header and the 2-byte PPP
// protocol field that follows it.
func (p *Parser) stepPPPoE(c *ctx) (state, error) {
	verType, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	code, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	sessionID, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	length, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	pppProto, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	slot, ok := p.pools.pppoe.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.VersionType = uint8(verType)
	slot.Code = uint8(code)
	slot.SessionID = uint16(sessionID)
	slot.Length = uint16(length)
	slot.PPPProtocol = uint16(pppProto)
	if err := p.appendDescriptor(c, KindPPPoE, slot); err != nil {
		return stReject, err
	}

	switch pppProto {
	case 0x0021: // PPP IPv4
		return stIPv4, nil
	case 0x0057: // PPP IPv6
		return stIPv6, nil
	default:
		return stAccept, nil
	}
}
