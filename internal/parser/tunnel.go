package parser

import (
	"net"

	"ipfixflow/internal/wire"
)

// stepGRE decodes a GRE header, version 0 (RFC 2784/2890) or version 1
// (RFC 2637 enhanced GRE, used to carry PPTP). The version bits select
// which optional fields follow the fixed 4-byte word.
func (p *Parser) stepGRE(c *ctx) (state, error) {
	flagsVer, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	proto, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	version := uint8(flagsVer & 0x7)
	checksumPresent := flagsVer&0x8000 != 0
	keyPresent := flagsVer&0x2000 != 0
	seqPresent := flagsVer&0x1000 != 0
	ackPresent := version == 1 && flagsVer&0x0080 != 0

	slot, ok := p.pools.gre.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Version = version
	slot.ChecksumPresent = checksumPresent
	slot.KeyPresent = keyPresent
	slot.SeqPresent = seqPresent
	slot.AckPresent = ackPresent
	slot.Protocol = uint16(proto)

	if checksumPresent {
		checksum, err := c.r.Bits(16)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		if err := c.r.Skip(16); err != nil { // reserved1
			return stReject, ErrPacketTooShort
		}
		slot.Checksum = uint16(checksum)
	}
	if keyPresent {
		key, err := c.r.Bits(32)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		slot.Key = uint32(key)
		slot.CallID = uint16(key & 0xFFFF)
	}
	if seqPresent {
		seq, err := c.r.Bits(32)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		slot.Sequence = uint32(seq)
	}
	if ackPresent {
		ack, err := c.r.Bits(32)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		slot.Acknowledgment = uint32(ack)
	}

	if err := p.appendDescriptor(c, KindGRE, slot); err != nil {
		return stReject, err
	}

	switch proto {
	case wire.EtherTypeIPv4:
		return stIPv4, nil
	case wire.EtherTypeIPv6:
		return stIPv6, nil
	case 0x880B: // PPP, per RFC 2637: enhanced GRE carries a PPP frame
		return stPPTPPlaceholder, nil
	default:
		return stAccept, nil
	}
}

// stepPPTPPlaceholder consumes the 2-byte PPP address/control plus 2-byte
// protocol field that precedes the PPP payload inside enhanced GRE, then
// dispatches like PPPoE's PPP protocol field.
func (p *Parser) stepPPTPPlaceholder(c *ctx) (state, error) {
	addrCtrl, err := c.r.Peek(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	if addrCtrl == 0xFF03 { // standard PPP address/control, may be absent
		if err := c.r.Skip(16); err != nil {
			return stReject, ErrPacketTooShort
		}
	}
	proto, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	switch proto {
	case 0x0021:
		return stIPv4, nil
	case 0x0057:
		return stIPv6, nil
	default:
		return stAccept, nil
	}
}

// stepL2TP decodes an L2TPv2 (RFC 2661) header. Only the fields needed to
// skip to the payload are retained.
func (p *Parser) stepL2TP(c *ctx) (state, error) {
	flagsVer, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	typ := uint8(flagsVer>>15) & 0x1
	lengthPresent := flagsVer&0x4000 != 0
	seqPresent := flagsVer&0x0800 != 0
	offsetPresent := flagsVer&0x0200 != 0
	priority := flagsVer&0x0100 != 0
	version := uint8(flagsVer & 0x000F)

	slot, ok := p.pools.l2tp.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Type = typ
	slot.Version = version
	slot.LengthPresent = lengthPresent
	slot.SeqPresent = seqPresent
	slot.OffsetPresent = offsetPresent
	slot.PriorityFlag = priority

	if lengthPresent {
		length, err := c.r.Bits(16)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		slot.Length = uint16(length)
	}
	tunnelID, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	sessionID, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	slot.TunnelID = uint16(tunnelID)
	slot.SessionID = uint16(sessionID)
	if seqPresent {
		ns, err := c.r.Bits(16)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		nr, err := c.r.Bits(16)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		slot.Ns = uint16(ns)
		slot.Nr = uint16(nr)
	}
	if offsetPresent {
		offSize, err := c.r.Bits(16)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		slot.OffsetSize = uint16(offSize)
		if offSize > 0 {
			if err := c.r.Skip(int(offSize) * 8); err != nil {
				return stReject, ErrPacketTooShort
			}
		}
	}

	if err := p.appendDescriptor(c, KindL2TP, slot); err != nil {
		return stReject, err
	}

	if typ == 1 {
		// Control messages carry AVPs, not a tunneled payload.
		return stAccept, nil
	}
	return stPPTPPlaceholder, nil
}

// stepVXLAN decodes the 8-byte VXLAN header (RFC 7348); the payload is
// always an Ethernet frame.
func (p *Parser) stepVXLAN(c *ctx) (state, error) {
	flags, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	if err := c.r.Skip(24); err != nil { // reserved
		return stReject, ErrPacketTooShort
	}
	vni, err := c.r.Bits(24)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	if err := c.r.Skip(8); err != nil { // reserved
		return stReject, ErrPacketTooShort
	}

	slot, ok := p.pools.vxlan.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Flags = wire.VXLANFlags{VNIValid: flags&0x08 != 0}
	slot.VNI = uint32(vni)
	if err := p.appendDescriptor(c, KindVXLAN, slot); err != nil {
		return stReject, err
	}
	return stEthernet, nil
}

// stepGeneve decodes the fixed 8-byte Geneve header (RFC 8926), skipping
// any variable-length options that follow.
func (p *Parser) stepGeneve(c *ctx) (state, error) {
	verLen, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	flags, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	protoType, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	vni, err := c.r.Bits(24)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	if err := c.r.Skip(8); err != nil { // reserved
		return stReject, ErrPacketTooShort
	}

	optLen := uint8(verLen & 0x3F)
	if optLen > 0 {
		if err := c.r.Skip(int(optLen) * 32); err != nil {
			return stReject, ErrPacketTooShort
		}
	}

	slot, ok := p.pools.geneve.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.Version = uint8(verLen >> 6)
	slot.OptionsLen = optLen
	slot.OAMPacket = flags&0x80 != 0
	slot.CriticalOpts = flags&0x40 != 0
	slot.ProtocolType = uint16(protoType)
	slot.VNI = uint32(vni)
	if err := p.appendDescriptor(c, KindGeneve, slot); err != nil {
		return stReject, err
	}

	switch protoType {
	case wire.EtherTypeIPv4:
		return stIPv4, nil
	case wire.EtherTypeIPv6:
		return stIPv6, nil
	default:
		return stEthernet, nil // default Geneve payload is Ethernet
	}
}

// stepGTP decodes GTPv0, GTPv1 (GTP-U/GTP-C) or GTPv2 headers, distinguished
// by the version bits in the first octet, then locates the inner T-PDU.
// Only GTP-U data packets (message type 0xFF) carry a tunneled IP packet;
// signalling messages are accepted without further decoding.
func (p *Parser) stepGTP(c *ctx) (state, error) {
	flags, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	msgType, err := c.r.Bits(8)
	if err != nil {
		return stReject, ErrPacketTooShort
	}
	length, err := c.r.Bits(16)
	if err != nil {
		return stReject, ErrPacketTooShort
	}

	versionBits := uint8(flags >> 5)
	slot, ok := p.pools.gtp.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}
	slot.MessageType = uint8(msgType)
	slot.Length = uint16(length)

	switch versionBits {
	case 0:
		slot.Version = wire.GTPv0
		seqNum, err := c.r.Bits(16)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		flowLabel, err := c.r.Bits(16)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		if err := c.r.Skip(8); err != nil { // SNDCP N-PDU number
			return stReject, ErrPacketTooShort
		}
		if err := c.r.Skip(24); err != nil { // spare
			return stReject, ErrPacketTooShort
		}
		if err := c.r.Skip(64); err != nil { // TID
			return stReject, ErrPacketTooShort
		}
		_ = seqNum
		slot.FlowLabel = uint16(flowLabel)
		slot.IsTPDU = msgType == 0xFF
	case 1:
		slot.Version = wire.GTPv1
		ppFlag := flags&0x10 != 0 // reserved in v1, ignored
		slot.ExtPresent = flags&0x04 != 0
		slot.SeqPresent = flags&0x02 != 0
		slot.NPDUPresent = flags&0x01 != 0
		_ = ppFlag
		teid, err := c.r.Bits(32)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		slot.TEID = uint32(teid)
		if slot.SeqPresent || slot.NPDUPresent || slot.ExtPresent {
			if err := c.r.Skip(24); err != nil { // seq(16)+npdu(8)
				return stReject, ErrPacketTooShort
			}
			if err := p.skipGTPv1Extensions(c); err != nil {
				return stReject, err
			}
		}
		slot.IsTPDU = msgType == 0xFF
	default:
		slot.Version = wire.GTPv2
		teidPresent := flags&0x08 != 0
		if teidPresent {
			teid, err := c.r.Bits(32)
			if err != nil {
				return stReject, ErrPacketTooShort
			}
			slot.TEID = uint32(teid)
		}
		if err := c.r.Skip(32); err != nil { // sequence number + spare
			return stReject, ErrPacketTooShort
		}
		// GTPv2 carries only signalling; no T-PDU follows.
	}

	if err := p.appendDescriptor(c, KindGTP, slot); err != nil {
		return stReject, err
	}

	if !slot.IsTPDU {
		return stAccept, nil
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
	default:
		return stAccept, nil
	}
}

// skipGTPv1Extensions walks the chain of GTPv1 extension headers, each
// a (length-in-4-octet-units, content, next-extension-type) triple.
func (p *Parser) skipGTPv1Extensions(c *ctx) error {
	for {
		extType, err := c.r.Bits(8)
		if err != nil {
			return ErrPacketTooShort
		}
		if extType == 0 {
			return nil
		}
		extLen, err := c.r.Bits(8)
		if err != nil {
			return ErrPacketTooShort
		}
		// extLen counts the whole extension in 4-octet units, including
		// the length octet itself and the next-extension-type octet.
		remaining := int(extLen)*32 - 16
		if remaining > 0 {
			if err := c.r.Skip(remaining); err != nil { // content; the loop reads the next-ext octet
				return ErrPacketTooShort
			}
		}
	}
}

// stepTeredo decodes the optional Teredo (RFC 4380) authentication and
// origin indication headers that may precede the tunneled IPv6 packet.
func (p *Parser) stepTeredo(c *ctx) (state, error) {
	slot, ok := p.pools.teredo.alloc()
	if !ok {
		return stReject, ErrOutOfMemory
	}

	for {
		marker, err := c.r.Peek(16)
		if err != nil {
			return stReject, ErrPacketTooShort
		}
		switch marker {
		case 0x0000: // authentication header
			if err := c.r.Skip(16); err != nil {
				return stReject, ErrPacketTooShort
			}
			idLen, err := c.r.Bits(8)
			if err != nil {
				return stReject, ErrPacketTooShort
			}
			authLen, err := c.r.Bits(8)
			if err != nil {
				return stReject, ErrPacketTooShort
			}
			if err := c.r.Skip(int(idLen)*8 + int(authLen)*8 + 64); err != nil { // id+auth+nonce+confirmation
				return stReject, ErrPacketTooShort
			}
			slot.HasAuth = true
		case 0x0001: // origin indication header
			if err := c.r.Skip(16); err != nil {
				return stReject, ErrPacketTooShort
			}
			port, err := c.r.Bits(16)
			if err != nil {
				return stReject, ErrPacketTooShort
			}
			addrBytes, err := c.r.Bytes(4)
			if err != nil {
				return stReject, ErrPacketTooShort
			}
			slot.HasOrigin = true
			slot.OriginPort = uint16(port) ^ 0xFFFF
			slot.OriginAddr = net.IP(cloneBytes(addrBytes))
		default:
			if err := p.appendDescriptor(c, KindTeredo, slot); err != nil {
				return stReject, err
			}
			return stIPv6, nil
		}
	}
}
