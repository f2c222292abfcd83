package parser

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Packet builder helpers
// ============================================================================

func beU16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func beU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func mac(n byte) []byte {
	return []byte{0x02, 0x00, 0x00, 0x00, 0x00, n}
}

func ethernet(etherType uint16, payload []byte) []byte {
	buf := append([]byte{}, mac(1)...)
	buf = append(buf, mac(2)...)
	buf = append(buf, beU16(etherType)...)
	return append(buf, payload...)
}

func ipv4Header(proto uint8, fragOffset uint16, payload []byte) []byte {
	total := 20 + len(payload)
	buf := []byte{
		0x45, 0x00, // version/IHL, DSCP/ECN
	}
	buf = append(buf, beU16(uint16(total))...)
	buf = append(buf, beU16(0)...) // identification
	flagsFrag := fragOffset & 0x1FFF
	buf = append(buf, beU16(flagsFrag)...)
	buf = append(buf, 64, proto) // TTL, protocol
	buf = append(buf, beU16(0)...)
	buf = append(buf, net.ParseIP("10.0.0.1").To4()...)
	buf = append(buf, net.ParseIP("10.0.0.2").To4()...)
	return append(buf, payload...)
}

func ipv6Header(next uint8, payload []byte) []byte {
	buf := beU32(0x60000000) // version 6, no traffic class/flow label
	buf = append(buf, beU16(uint16(len(payload)))...)
	buf = append(buf, next, 64) // next header, hop limit
	buf = append(buf, net.ParseIP("2001:db8::1").To16()...)
	buf = append(buf, net.ParseIP("2001:db8::2").To16()...)
	return append(buf, payload...)
}

func tcpSegment(srcPort, dstPort uint16) []byte {
	buf := append([]byte{}, beU16(srcPort)...)
	buf = append(buf, beU16(dstPort)...)
	buf = append(buf, beU32(1)...) // seq
	buf = append(buf, beU32(0)...) // ack
	buf = append(buf, 0x50, 0x02)  // data offset=5, SYN
	buf = append(buf, beU16(1024)...)
	buf = append(buf, beU16(0)...) // checksum
	buf = append(buf, beU16(0)...) // urgent
	return buf
}

func udpSegment(srcPort, dstPort uint16, payload []byte) []byte {
	buf := append([]byte{}, beU16(srcPort)...)
	buf = append(buf, beU16(dstPort)...)
	buf = append(buf, beU16(uint16(8+len(payload)))...)
	buf = append(buf, beU16(0)...)
	return append(buf, payload...)
}

// ============================================================================
// Tests
// ============================================================================

func TestParseEthernetIPv4TCP(t *testing.T) {
	pkt := ethernet(0x0800, ipv4Header(6, 0, tcpSegment(51000, 443)))

	p := New(DefaultConfig())
	res, err := p.Parse(pkt)
	require.NoError(t, err)
	require.Len(t, res.Headers, 4) // ethernet, ipv4, tcp, payload

	require.Equal(t, KindEthernet, res.Headers[0].Kind)
	require.Equal(t, KindIPv4, res.Headers[1].Kind)
	require.Equal(t, uint8(6), res.Headers[1].IPv4().Protocol)
	require.Equal(t, KindTCP, res.Headers[2].Kind)
	require.Equal(t, uint16(443), res.Headers[2].TCP().DstPort)
	require.Equal(t, KindPayload, res.Headers[3].Kind)
	require.Equal(t, len(pkt), res.PayloadOffset)
}

func TestParseEthernetIPv6UDP(t *testing.T) {
	pkt := ethernet(0x86DD, ipv6Header(17, udpSegment(5000, 53, nil)))

	p := New(DefaultConfig())
	res, err := p.Parse(pkt)
	require.NoError(t, err)

	var kinds []HeaderKind
	for _, h := range res.Headers {
		kinds = append(kinds, h.Kind)
	}
	require.Equal(t, []HeaderKind{KindEthernet, KindIPv6, KindUDP, KindPayload}, kinds)
}

func TestParseVLANTagged(t *testing.T) {
	inner := ipv4Header(6, 0, tcpSegment(1, 2))
	vlanTag := append(beU16(0x0064), beU16(0x0800)...) // VID=100, inner=IPv4
	pkt := ethernet(0x8100, append(vlanTag, inner...))

	p := New(DefaultConfig())
	res, err := p.Parse(pkt)
	require.NoError(t, err)
	require.Equal(t, KindVLAN, res.Headers[1].Kind)
	require.Equal(t, uint16(100), res.Headers[1].VLAN().VID)
	require.Equal(t, KindIPv4, res.Headers[2].Kind)
}

func TestParseMPLSTwoLabelsThenIPv4(t *testing.T) {
	inner := ipv4Header(6, 0, tcpSegment(1, 2))
	label := func(bos bool) []byte {
		v := uint32(100) << 12
		if bos {
			v |= 1 << 8
		}
		return beU32(v)[1:] // 3-byte label stack entry + ttl folded in below
	}
	_ = label
	// Build a 2-entry MPLS label stack by hand: 20-bit label, 3-bit exp,
	// 1-bit BoS, 8-bit TTL, packed as 4 bytes.
	entry := func(lbl uint32, bos bool) []byte {
		word := lbl << 12
		if bos {
			word |= 1 << 8
		}
		word |= 64 // TTL
		return beU32(word)
	}
	pkt := ethernet(0x8847, append(append(entry(16, false), entry(17, true)...), inner...))

	p := New(DefaultConfig())
	res, err := p.Parse(pkt)
	require.NoError(t, err)
	require.Equal(t, KindMPLS, res.Headers[1].Kind)
	require.False(t, res.Headers[1].MPLS().BoS)
	require.Equal(t, KindMPLS, res.Headers[2].Kind)
	require.True(t, res.Headers[2].MPLS().BoS)
	require.Equal(t, KindIPv4, res.Headers[3].Kind)
}

func TestParseIPv4FragmentSkipsL4(t *testing.T) {
	pkt := ethernet(0x0800, ipv4Header(6, 100, tcpSegment(1, 2)))

	p := New(DefaultConfig())
	res, err := p.Parse(pkt)
	require.NoError(t, err)

	var kinds []HeaderKind
	for _, h := range res.Headers {
		kinds = append(kinds, h.Kind)
	}
	require.Equal(t, []HeaderKind{KindEthernet, KindIPv4, KindPayload}, kinds)
}

func TestParseIPv6HopByHopThenTCP(t *testing.T) {
	hopByHop := append([]byte{6, 0}, make([]byte, 6)...) // next=TCP, len=0 -> 8 bytes total
	inner := append(hopByHop, tcpSegment(10, 20)...)
	pkt := ethernet(0x86DD, ipv6Header(0, inner))

	p := New(DefaultConfig())
	res, err := p.Parse(pkt)
	require.NoError(t, err)

	var kinds []HeaderKind
	for _, h := range res.Headers {
		kinds = append(kinds, h.Kind)
	}
	require.Equal(t, []HeaderKind{KindEthernet, KindIPv6, KindIPv6Ext, KindTCP, KindPayload}, kinds)
}

func TestParseVXLANEncapsulatedEthernet(t *testing.T) {
	inner := ethernet(0x0800, ipv4Header(6, 0, tcpSegment(1, 2)))
	vxlan := append([]byte{0x08, 0, 0, 0}, append(beU32(42<<8)[:3], 0)...)
	udp := udpSegment(33000, 4789, append(vxlan, inner...))
	pkt := ethernet(0x0800, ipv4Header(17, 0, udp))

	p := New(DefaultConfig())
	res, err := p.Parse(pkt)
	require.NoError(t, err)

	var kinds []HeaderKind
	for _, h := range res.Headers {
		kinds = append(kinds, h.Kind)
	}
	require.Equal(t, []HeaderKind{
		KindEthernet, KindIPv4, KindUDP, KindVXLAN, KindEthernet, KindIPv4, KindTCP, KindPayload,
	}, kinds)
}

func TestParseRejectsUnknownEtherType(t *testing.T) {
	pkt := ethernet(0x1234, []byte{1, 2, 3, 4})

	p := New(DefaultConfig())
	_, err := p.Parse(pkt)
	require.ErrorIs(t, err, ErrDefaultReject)
}

func TestParseShortPacketReturnsPartial(t *testing.T) {
	pkt := mac(1) // only 6 bytes, far short of a full Ethernet header

	p := New(DefaultConfig())
	res, err := p.Parse(pkt)
	require.ErrorIs(t, err, ErrPacketTooShort)
	require.NotNil(t, res)
	require.Equal(t, -1, res.PayloadOffset)
	require.Empty(t, res.Headers)
}

func TestParseEmptyPacketIsInvalidArgument(t *testing.T) {
	p := New(DefaultConfig())
	_, err := p.Parse(nil)
	require.ErrorIs(t, err, ErrParserInvalidArgument)
}

func TestParseOutOfMemoryOnExhaustedPerTypePool(t *testing.T) {
	inner := ipv4Header(6, 0, tcpSegment(1, 2))
	label := func(lbl uint32, bos bool) []byte {
		word := lbl << 12
		if bos {
			word |= 1 << 8
		}
		word |= 64
		return beU32(word)
	}
	var labels []byte
	for i := 0; i < 10; i++ {
		labels = append(labels, label(uint32(i+1), false)...)
	}
	labels = append(labels, label(99, true)...)
	pkt := ethernet(0x8847, append(labels, inner...))

	p := New(Config{PerTypeCap: 5, MaxLinks: 40, MaxTransitions: 256})
	_, err := p.Parse(pkt)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestParserReusableAcrossCalls(t *testing.T) {
	p := New(DefaultConfig())

	pkt1 := ethernet(0x0800, ipv4Header(6, 0, tcpSegment(1, 2)))
	res1, err := p.Parse(pkt1)
	require.NoError(t, err)
	require.Len(t, res1.Headers, 4)

	pkt2 := ethernet(0x86DD, ipv6Header(17, udpSegment(1, 2, nil)))
	res2, err := p.Parse(pkt2)
	require.NoError(t, err)
	require.Len(t, res2.Headers, 4)
	require.Equal(t, KindIPv6, res2.Headers[1].Kind)
}
