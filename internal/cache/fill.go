package cache

import (
	"ipfixflow/internal/flow"
	"ipfixflow/internal/parser"
)

// conflict is returned by fill when the header chain contains a duplicate
// header of the same type, or both an IPv4 and an IPv6 header: §4.2 step 2
// models this as "this packet actually carries more than one flow" (an
// encapsulated packet) rather than an error.
type conflict struct {
	at int // index into headers where the conflicting header was found
}

// fillResult carries everything add_packet needs out of a single pass
// over the header list.
type fillResult struct {
	key           flow.Key
	srcAddr, dstAddr []byte
	srcMAC, dstMAC   []byte
	srcPort, dstPort uint16
	protocol         uint8
	tos, ttl         uint8
	tcpFlags         uint8
	payloadOffset    int
}

// fill walks the header chain in discovery order, accumulating the key
// and record fields §3/§4.2 describe, stopping at the Payload marker. It
// aborts with a conflict the first time it sees a second header of a kind
// it has already recorded, or both IPv4 and IPv6 in the same chain.
func fill(headers []*parser.HeaderDescriptor) (fillResult, *conflict, bool) {
	var r fillResult
	var sawEthernet, sawIPv4, sawIPv6, sawTCP, sawUDP, sawICMP, sawICMPv6 bool

	for i, h := range headers {
		switch h.Kind {
		case parser.KindIPv4:
			if sawIPv4 || sawIPv6 {
				return fillResult{}, &conflict{at: i}, false
			}
			sawIPv4 = true
			v4 := h.IPv4()
			r.srcAddr = v4.Src
			r.dstAddr = v4.Dst
			r.protocol = v4.Protocol
			r.tos = v4.DSCP<<2 | v4.ECN
			r.ttl = v4.TTL
		case parser.KindIPv6:
			if sawIPv6 || sawIPv4 {
				return fillResult{}, &conflict{at: i}, false
			}
			sawIPv6 = true
			v6 := h.IPv6()
			r.srcAddr = v6.Src
			r.dstAddr = v6.Dst
			r.protocol = v6.NextHeader
			r.tos = v6.TrafficClass
			r.ttl = v6.HopLimit
		case parser.KindEthernet:
			if sawEthernet {
				return fillResult{}, &conflict{at: i}, false
			}
			sawEthernet = true
			eth := h.Ethernet()
			r.srcMAC = eth.SrcMAC
			r.dstMAC = eth.DstMAC
		case parser.KindTCP:
			if sawTCP {
				return fillResult{}, &conflict{at: i}, false
			}
			sawTCP = true
			tcp := h.TCP()
			r.srcPort = tcp.SrcPort
			r.dstPort = tcp.DstPort
			r.protocol = 6
			r.tcpFlags = tcp.Flags
		case parser.KindUDP:
			if sawUDP {
				return fillResult{}, &conflict{at: i}, false
			}
			sawUDP = true
			udp := h.UDP()
			r.srcPort = udp.SrcPort
			r.dstPort = udp.DstPort
			r.protocol = 17
		case parser.KindICMP:
			if sawICMP {
				return fillResult{}, &conflict{at: i}, false
			}
			sawICMP = true
			icmp := h.ICMP()
			r.srcPort = 0
			r.dstPort = uint16(icmp.Type)<<8 | uint16(icmp.Code)
			r.protocol = 1
		case parser.KindICMPv6:
			if sawICMPv6 {
				return fillResult{}, &conflict{at: i}, false
			}
			sawICMPv6 = true
			icmp6 := h.ICMPv6()
			r.srcPort = 0
			r.dstPort = uint16(icmp6.Type)<<8 | uint16(icmp6.Code)
			r.protocol = 58
		case parser.KindPayload:
			r.payloadOffset = h.Offset
			r.key = flow.NewKey(r.srcAddr, r.dstAddr, r.srcPort, r.dstPort, r.protocol)
			return r, nil, true
		}
	}

	// No payload marker: the chain ended mid-decode (shouldn't happen for
	// a successful parse, but fill must not panic on it).
	r.key = flow.NewKey(r.srcAddr, r.dstAddr, r.srcPort, r.dstPort, r.protocol)
	return r, nil, true
}
