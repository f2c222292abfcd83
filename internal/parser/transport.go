package parser

import "ipfixflow/internal/wire"

// stepTCP decodes the TCP header (options are skipped, not retained) and
// always accepts: TCP is a terminal protocol in the dispatch table.
func (p *Parser) stepTCP(c *ctx) (state, error) {
	srcPort, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	dstPort, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	seq, err := c.r.Bits(32)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	ack, err := c.r.Bits(32)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	dataOffsetReserved, err := c.r.Bits(4)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	if err := c.r.Skip(3); err != nil { // reserved
		return stReject, ErrPacketTooShort
	}
	flags, err := c.r.Bits(9)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	window, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	checksum, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	urgent, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	dataOffset := uint8(dataOffsetReserved)
	if dataOffset < 5 {
		return stReject, ErrDefaultReject
	}
	optionBits := int(dataOffset)*32 - 160
	if optionBits > 0 {
		if err := c.r.Skip(optionBits); err != nil {
			return stReject, ErrPacketTooShort
		}
	}

	slot, ok := p.pools.tcp.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.SrcPort = uint16(srcPort)
	slot.DstPort = uint16(dstPort)
	slot.Seq = uint32(seq)
	slot.Ack = uint32(ack)
	slot.DataOffset = dataOffset
	slot.Flags = uint8(flags & 0xFF) // 8 classic flag bits; NS (bit 8) is dropped
	slot.Window = uint16(window)
	slot.Checksum = uint16(checksum)
	slot.Urgent = uint16(urgent)
	if err := p.appendDescriptor(c, KindTCP, slot); err != nil {
		return stReject, err
	}
	return stAccept, nil
}

// stepUDP decodes the UDP header, then dispatches to a tunnel protocol by
// destination port first, falling back to source port, per §4.1's "udp"
// row ("well-known tunnel ports on either side select the encapsulated
// protocol"). An unrecognized port pair accepts as a plain UDP flow.
func (p *Parser) stepUDP(c *ctx) (state, error) {
	srcPort, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	dstPort, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	length, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	checksum, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	slot, ok := p.pools.udp.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.SrcPort = uint16(srcPort)
	slot.DstPort = uint16(dstPort)
	slot.Length = uint16(length)
	slot.Checksum = uint16(checksum)
	if err := p.appendDescriptor(c, KindUDP, slot); err != nil {
		return stReject, err
	}

	if next, ok := tunnelPortState(uint16(dstPort)); ok {
		return next, nil
	}
	if next, ok := tunnelPortState(uint16(srcPort)); ok {
		return next, nil
	}
	return stAccept, nil
}

func tunnelPortState(port uint16) (state, bool) {
	switch port {
	case wire.UDPPortL2TP:
		return stL2TP, true
	case wire.UDPPortPPTP:
		return stPPTPPlaceholder, true
	case wire.UDPPortGTPC, wire.UDPPortGTPU, wire.UDPPortGTPp:
		return stGTP, true
	case wire.UDPPortTeredo:
		return stTeredo, true
	case wire.UDPPortVXLAN:
		return stVXLAN, true
	case wire.UDPPortGeneve:
		return stGeneve, true
	default:
		return stAccept, false
	}
}

// stepICMP decodes the 4-byte ICMPv4 message header and always accepts.
func (p *Parser) stepICMP(c *ctx) (state, error) {
	typ, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	code, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	checksum, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	slot, ok := p.pools.icmp.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Type = uint8(typ)
	slot.Code = uint8(code)
	slot.Checksum = uint16(checksum)
	if err := p.appendDescriptor(c, KindICMP, slot); err != nil {
		return stReject, err
	}
	return stAccept, nil
}

// stepICMPv6 mirrors stepICMP for the ICMPv6 message format.
func (p *Parser) stepICMPv6(c *ctx) (state, error) {
	typ, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	code, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	checksum, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	slot, ok := p.pools.icmpv6.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Type = uint8(typ)
	slot.Code = uint8(code)
	slot.Checksum = uint16(checksum)
	if err := p.appendDescriptor(c, KindICMPv6, slot); err != nil {
		return stReject, err
	}
	return stAccept, nil
}
