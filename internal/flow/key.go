// Package flow defines the flow record and key types the cache indexes
// by, generalizing the teacher's pkg/types.Flow (a flat struct keyed by a
// formatted string) into a fixed-size, hashable key suitable for a
// set-associative in-memory cache rather than a map.
package flow

import (
	"net"

	"github.com/cespare/xxhash/v2"
)

// Key is the FlowKey of §3 Data Model: IP version tag, src/dst addresses
// (4 or 16 bytes), L4 protocol, and src/dst L4 ports — for ICMP/ICMPv6,
// src port is 0 and dst port is `(type<<8)|code` per the spec's explicit
// rule. Keys are equal iff byte-equal, which Bytes realizes directly.
type Key struct {
	SrcAddr  [16]byte // IPv4 addresses are stored in the low 4 bytes
	DstAddr  [16]byte
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
	IsIPv6   bool
}

// NewKey builds a Key from decoded address/port/protocol values. addr must
// be a 4-byte or 16-byte net.IP.
func NewKey(srcAddr, dstAddr net.IP, srcPort, dstPort uint16, protocol uint8) Key {
	var k Key
	k.SrcPort = srcPort
	k.DstPort = dstPort
	k.Protocol = protocol
	if v4 := srcAddr.To4(); v4 != nil && dstAddr.To4() != nil {
		copy(k.SrcAddr[:4], v4)
		copy(k.DstAddr[:4], dstAddr.To4())
	} else {
		k.IsIPv6 = true
		copy(k.SrcAddr[:], srcAddr.To16())
		copy(k.DstAddr[:], dstAddr.To16())
	}
	return k
}

// Bytes serializes the key into the exact byte sequence §3 defines: a
// version tag, then addresses, protocol, and ports.
func (k Key) Bytes() []byte {
	buf := make([]byte, 0, 1+16+16+1+2+2)
	if k.IsIPv6 {
		buf = append(buf, 6)
		buf = append(buf, k.SrcAddr[:]...)
		buf = append(buf, k.DstAddr[:]...)
	} else {
		buf = append(buf, 4)
		buf = append(buf, k.SrcAddr[:4]...)
		buf = append(buf, k.DstAddr[:4]...)
	}
	buf = append(buf, k.Protocol)
	buf = append(buf, byte(k.SrcPort>>8), byte(k.SrcPort))
	buf = append(buf, byte(k.DstPort>>8), byte(k.DstPort))
	return buf
}

// Hash computes the xxhash64 (seed 0) digest of the key, adjusted so a
// raw digest of 0 never escapes as a cache hash: §3 reserves hash value 0
// as the cache's "empty slot" sentinel, so a genuine zero digest is
// remapped to 1.
func (k Key) Hash() uint64 {
	h := xxhash.Sum64(k.Bytes())
	if h == 0 {
		return 1
	}
	return h
}

// Reverse returns the key for the opposite direction of this flow
// (addresses and ports swapped). No package in this repository calls it;
// the cache does no biflow pairing.
func (k Key) Reverse() Key {
	r := k
	r.SrcAddr, r.DstAddr = k.DstAddr, k.SrcAddr
	r.SrcPort, r.DstPort = k.DstPort, k.SrcPort
	return r
}
