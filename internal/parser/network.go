package parser

import (
	"net"

	"ipfixflow/internal/wire"
)

// dispatchL4 is the L4/tunnel protocol-number dispatch shared by IPv4's
// "protocol" field and IPv6's terminal next-header value (§4.1: "same L4
// set" for ipv6).
func dispatchL4(proto uint8) (state, error) {
	switch proto {
	case wire.IPProtoTCP:
		return stTCP, nil
	case wire.IPProtoUDP:
		return stUDP, nil
	case wire.IPProtoICMP:
		return stICMP, nil
	case wire.IPProtoICMPv6:
		return stICMPv6, nil
	case wire.IPProtoGRE:
		return stGRE, nil
	case wire.IPProtoIPv4:
		return stIPv4, nil
	case wire.IPProtoIPv6:
		return stIPv6, nil
	case wire.IPProtoMPLS:
		return stMPLS, nil
	default:
		return stAccept, nil
	}
}

// stepIPv4 decodes the IPv4 header (options are skipped, not retained)
// and dispatches on protocol, but only for the first fragment: §4.1's row
// reads "frag_offset==0 && protocol"; a non-zero fragment offset always
// accepts, since finding the L4 header of a non-initial fragment requires
// reassembly, which is explicitly out of scope (§1 Non-goals).
func (p *Parser) stepIPv4(c *ctx) (state, error) {
	verIHL, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	tos, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	totalLen, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	ident, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	flagsFrag, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	ttl, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	proto, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	checksum, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	srcBytes, err := c.r.Bytes(4)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	dstBytes, err := c.r.Bytes(4)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	ihl := uint8(verIHL & 0x0F)
	if ihl < 5 {
		return stReject, ErrDefaultReject
	}
	optionBits := int(ihl)*32 - 160
	if optionBits > 0 {
		if err := c.r.Skip(optionBits); err != nil {
			return stReject, ErrPacketTooShort
		}
	}

	slot, ok := p.pools.ipv4.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Version = uint8(verIHL >> 4)
	slot.IHL = ihl
	slot.DSCP = uint8(tos >> 2)
	slot.ECN = uint8(tos & 0x03)
	slot.TotalLen = uint16(totalLen)
	slot.Identification = uint16(ident)
	slot.Flags = uint8(flagsFrag >> 13)
	slot.FragOffset = uint16(flagsFrag & 0x1FFF)
	slot.TTL = uint8(ttl)
	slot.Protocol = uint8(proto)
	slot.Checksum = uint16(checksum)
	slot.Src = net.IP(cloneBytes(srcBytes))
	slot.Dst = net.IP(cloneBytes(dstBytes))
	if err := p.appendDescriptor(c, KindIPv4, slot); err != nil {
		return stReject, err
	}

	if slot.FragOffset != 0 {
		return stAccept, nil
	}
	switch proto {
	case wire.IPProtoEtherIP:
		if err := c.r.Skip(16); err != nil { // EtherIP version/reserved word
			return stReject, ErrPacketTooShort
		}
		return stEthernet, nil
	default:
		return dispatchL4(uint8(proto))
	}
}

// stepIPv6 decodes the fixed 40-byte IPv6 header and dispatches on next
// header, including the chain of extension headers §4.1 names.
func (p *Parser) stepIPv6(c *ctx) (state, error) {
	word, err := c.r.Bits(32)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	payloadLen, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	nextHdr, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	hopLimit, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	srcBytes, err := c.r.Bytes(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	dstBytes, err := c.r.Bytes(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	slot, ok := p.pools.ipv6.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Version = uint8(word >> 28)
	slot.TrafficClass = uint8((word >> 20) & 0xFF)
	slot.FlowLabel = uint32(word & 0xFFFFF)
	slot.PayloadLen = uint16(payloadLen)
	slot.NextHeader = uint8(nextHdr)
	slot.HopLimit = uint8(hopLimit)
	slot.Src = net.IP(cloneBytes(srcBytes))
	slot.Dst = net.IP(cloneBytes(dstBytes))
	if err := p.appendDescriptor(c, KindIPv6, slot); err != nil {
		return stReject, err
	}

	return dispatchIPv6Next(uint8(nextHdr))
}

func dispatchIPv6Next(next uint8) (state, error) {
	switch next {
	case wire.IPv6HopByHop, wire.IPv6Routing, wire.IPv6Fragment, wire.IPv6Dest, wire.IPv6AH:
		return stIPv6Ext, nil
	case wire.IPv6NoNext:
		return stAccept, nil
	default:
		return dispatchL4(next)
	}
}

// stepIPv6Ext decodes one IPv6 extension header from the chain. It is
// re-entered once per header (looping is how the outer Parse dispatch
// loop implements the chain); the fragment header unconditionally ends
// parsing, per §4.1.
func (p *Parser) stepIPv6Ext(c *ctx) (state, error) {
	// The caller only reaches stIPv6Ext when it already knows which
	// next-header value selected it; that value isn't re-derivable here,
	// so it is recovered from the previously appended descriptor.
	if len(c.headers) == 0 {
		return stReject, ErrDefaultReject
	}
	selector := lastExtSelector(c.headers)

	if selector == wire.IPv6Fragment {
		nextHdr, err := c.r.Bits(8)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		if err := c.r.Skip(8); err != nil { // reserved
			return stReject, ErrPacketTooShort
		}
		fragWord, err := c.r.Bits(16)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		ident, err := c.r.Bits(32)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		slot, ok := p.pools.ipv6ext.alloc()
		if !ok {
			return stReject, ErrOutOfMemory
		}
		slot.Kind = selector
		slot.NextHeader = uint8(nextHdr)
		slot.FragOffset = uint16(fragWord >> 3)
		slot.MoreFragments = fragWord&0x1 != 0
		slot.Identification = uint32(ident)
		if err := p.appendDescriptor(c, KindIPv6Ext, slot); err != nil {
			return stReject, err
		}
		return stAccept, nil // fragment header ends parsing
	}

	nextHdr, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	lenField, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	var totalBits int
	if selector == wire.IPv6AH {
		totalBits = (int(lenField) + 2) * 32 // AH: 4-octet units, minus 2
	} else {
		totalBits = (int(lenField) + 1) * 64 // 8-octet units, minus 1
	}
	remaining := totalBits - 16
	if remaining > 0 {
		if err := c.r.Skip(remaining); err != nil {
			return stReject, ErrPacketTooShort
		}
	}

	slot, ok := p.pools.ipv6ext.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Kind = selector
	slot.NextHeader = uint8(nextHdr)
	slot.HeaderExtLen = uint8(lenField)
	if err := p.appendDescriptor(c, KindIPv6Ext, slot); err != nil {
		return stReject, err
	}

	return dispatchIPv6Next(uint8(nextHdr))
}

// lastExtSelector recovers which next-header value routed us into the
// extension-header state: either the IPv6 fixed header's NextHeader (if
// no extension header has been seen yet) or the previous extension
// header's own NextHeader.
func lastExtSelector(headers []*HeaderDescriptor) uint8 {
	last := headers[len(headers)-1]
	switch last.Kind {
	case KindIPv6:
		return last.IPv6().NextHeader
	case KindIPv6Ext:
		return last.IPv6Ext().NextHeader
	default:
		return 0
	}
}
