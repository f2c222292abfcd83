// Package tls implements a passive TLS extension plugin, ported from the
// original system's process/tls.cpp: scan a plaintext TCP TLS record for
// a ClientHello handshake message and extract its SNI. The ClientHello
// body layout (legacy_version, random, session_id, cipher_suites,
// compression_methods, extensions) is the same RFC 8446 §4.1.2 structure
// internal/plugin/quic decodes after AEAD decryption; this plugin reads
// it directly off the wire since a plaintext TLS handshake needs no
// header-protection removal or AEAD step first.
//
// tls.cpp also computes a JA3 fingerprint hash from the cipher suite,
// elliptic curve, and EC point format lists — that hashing pipeline is
// a distinct feature from SNI extraction and was not ported; see
// DESIGN.md.
package tls

import (
	"bytes"
	"encoding/binary"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

// ID is this plugin's dense extension id (§4.3).
const ID = 5

const sniCap = 255

const (
	recordTypeHandshake      = 0x16
	handshakeTypeClientHello = 0x01
)

// Extension is the per-flow TLS state: the SNI taken from the first
// observed ClientHello.
type Extension struct {
	SNI string
}

// Plugin implements plugin.Plugin for plaintext TLS ClientHello SNI
// extraction.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() int      { return ID }
func (p *Plugin) Name() string { return "tls" }

func (p *Plugin) PostCreate(f *flow.Record, payload []byte) plugin.ActionFlags {
	return p.observe(f, payload)
}

func (p *Plugin) PreUpdate(f *flow.Record, payload []byte) plugin.ActionFlags {
	return p.observe(f, payload)
}

func (p *Plugin) observe(f *flow.Record, payload []byte) plugin.ActionFlags {
	if f.Extension(ID) != nil {
		return plugin.Continue
	}
	sni, ok := parseClientHello(payload)
	if !ok {
		return plugin.Continue
	}
	f.SetExtension(ID, &Extension{SNI: sni})
	return plugin.Continue
}

// parseClientHello walks a TLS record looking for a Handshake/ClientHello
// and returns its server_name extension value, if present.
func parseClientHello(payload []byte) (string, bool) {
	if len(payload) < 9 || payload[0] != recordTypeHandshake {
		return "", false
	}
	recordLen := int(binary.BigEndian.Uint16(payload[3:5]))
	if recordLen < 4 || 5+recordLen > len(payload) {
		return "", false
	}
	hs := payload[5 : 5+recordLen]
	if hs[0] != handshakeTypeClientHello {
		return "", false
	}
	bodyLen := int(hs[1])<<16 | int(hs[2])<<8 | int(hs[3])
	if 4+bodyLen > len(hs) {
		return "", false
	}
	body := hs[4 : 4+bodyLen]

	if len(body) < 2+32+1 {
		return "", false
	}
	off := 2 + 32 // legacy_version, random

	sessIDLen := int(body[off])
	off++
	off += sessIDLen
	if off+2 > len(body) {
		return "", false
	}

	cipherSuitesLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2 + cipherSuitesLen
	if off+1 > len(body) {
		return "", false
	}

	compressionLen := int(body[off])
	off++
	off += compressionLen
	if off+2 > len(body) {
		return "", false
	}

	extensionsLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	if off+extensionsLen > len(body) {
		return "", false
	}
	extensions := body[off : off+extensionsLen]

	for len(extensions) >= 4 {
		extType := binary.BigEndian.Uint16(extensions[0:2])
		extLen := int(binary.BigEndian.Uint16(extensions[2:4]))
		if 4+extLen > len(extensions) {
			return "", false
		}
		data := extensions[4 : 4+extLen]
		if extType == 0x0000 {
			if sni := parseServerName(data); sni != "" {
				return sni, true
			}
		}
		extensions = extensions[4+extLen:]
	}
	return "", false
}

// parseServerName walks a server_name_list extension body and returns the
// first host_name (type 0) entry.
func parseServerName(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	listLen := int(binary.BigEndian.Uint16(data[0:2]))
	list := data[2:]
	if listLen > len(list) {
		listLen = len(list)
	}
	list = list[:listLen]

	for len(list) >= 3 {
		nameType := list[0]
		nameLen := int(binary.BigEndian.Uint16(list[1:3]))
		if 3+nameLen > len(list) {
			return ""
		}
		name := list[3 : 3+nameLen]
		if nameType == 0 {
			return truncate(name, sniCap)
		}
		list = list[3+nameLen:]
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(bytes.TrimRight(b, "\x00"))
}
