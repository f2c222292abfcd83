package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

func quicFlow() flow.Record {
	return flow.Record{Protocol: 17, SrcPort: 51000, DstPort: 443}
}

func encodeVarint(v uint64) []byte {
	switch {
	case v <= 63:
		return []byte{byte(v)}
	case v <= 16383:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v))
		b[0] |= 0x40
		return b
	case v <= 1073741823:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v))
		b[0] |= 0x80
		return b
	default:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, v)
		b[0] |= 0xC0
		return b
	}
}

// buildClientHello constructs a minimal TLS 1.3 ClientHello handshake
// message carrying a single server_name extension.
func buildClientHello(sni string) []byte {
	serverNameEntry := append([]byte{0x00}, appendUint16(nil, uint16(len(sni)))...)
	serverNameEntry = append(serverNameEntry, []byte(sni)...)
	serverNameList := append(appendUint16(nil, uint16(len(serverNameEntry))), serverNameEntry...)

	extServerName := append([]byte{0x00, 0x00}, appendUint16(nil, uint16(len(serverNameList)))...)
	extServerName = append(extServerName, serverNameList...)

	extensions := extServerName

	body := make([]byte, 0, 128)
	body = append(body, 0x03, 0x03) // legacy_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00) // session_id length 0
	body = append(body, appendUint16(nil, 2)...)
	body = append(body, 0x13, 0x01) // one cipher suite
	body = append(body, 0x01, 0x00) // compression methods: length 1, null
	body = append(body, appendUint16(nil, uint16(len(extensions)))...)
	body = append(body, extensions...)

	handshake := []byte{0x01} // ClientHello
	handshake = append(handshake, byte(len(body)>>16), byte(len(body)>>8), byte(len(body)))
	handshake = append(handshake, body...)
	return handshake
}

func appendUint16(b []byte, v uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, v)
	return append(b, out...)
}

// buildInitialPacket assembles a full QUIC v1 Initial packet around a
// CRYPTO frame carrying the given handshake bytes, encrypts it with the
// same key schedule the plugin itself derives, and applies header
// protection — a self-consistent round trip exercising every decode
// stage without depending on an external packet capture.
func buildInitialPacket(t *testing.T, dcid []byte, handshake []byte) []byte {
	frame := []byte{0x06}
	frame = append(frame, encodeVarint(0)...)
	frame = append(frame, encodeVarint(uint64(len(handshake)))...)
	frame = append(frame, handshake...)

	const pnLen = 1
	totalLen := pnLen + len(frame) + 16 // PN + ciphertext + GCM tag

	header := []byte{0xC0} // long header, Initial, pnLen-1=0
	header = append(header, 0x00, 0x00, 0x00, 0x01) // version 1
	header = append(header, byte(len(dcid)))
	header = append(header, dcid...)
	header = append(header, 0x00) // scid length 0
	header = append(header, encodeVarint(0)...) // token length 0
	header = append(header, encodeVarint(uint64(totalLen))...)
	pnOffset := len(header)
	header = append(header, 0x00) // packet number = 0

	salt := versionSalts[0x00000001]
	clientSecret := deriveInitialSecret(dcid, salt)
	key, iv, hp := deriveProtectionKeys(clientSecret)

	nonce := make([]byte, len(iv))
	copy(nonce, iv) // packet number 0, nonce unchanged by XOR

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	ciphertext := gcm.Seal(nil, nonce, frame, header)

	packet := append(append([]byte{}, header...), ciphertext...)

	sampleOffset := pnOffset + 4
	require.LessOrEqual(t, sampleOffset+16, len(packet))
	sample := packet[sampleOffset : sampleOffset+16]

	hpBlock, err := aes.NewCipher(hp)
	require.NoError(t, err)
	mask := make([]byte, aes.BlockSize)
	hpBlock.Encrypt(mask, sample)

	packet[0] ^= mask[0] & 0x0F
	for i := 0; i < pnLen; i++ {
		packet[pnOffset+i] ^= mask[1+i]
	}

	return packet
}

func TestExtractsSNIFromQUICv1Initial(t *testing.T) {
	dcid := []byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08}
	handshake := buildClientHello("example.com")
	packet := buildInitialPacket(t, dcid, handshake)

	p := New()
	f := quicFlow()

	p.PostCreate(&f, packet)

	ext, ok := f.Extension(ID).(*Extension)
	require.True(t, ok, "expected a QUIC extension to be attached")
	require.Equal(t, uint32(1), ext.QUICVersion)
	require.Equal(t, "example.com", ext.SNI)
}

func TestUnsupportedVersionAttachesNoExtension(t *testing.T) {
	dcid := []byte{0x01, 0x02, 0x03, 0x04}
	packet := []byte{0xC0, 0xAA, 0xBB, 0xCC, 0xDD, byte(len(dcid))}
	packet = append(packet, dcid...)
	packet = append(packet, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)

	p := New()
	f := quicFlow()
	p.PostCreate(&f, packet)

	require.Nil(t, f.Extension(ID))
}

func TestIgnoresShortHeaderPackets(t *testing.T) {
	p := New()
	f := quicFlow()

	act := p.PostCreate(&f, []byte{0x40, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	require.Equal(t, plugin.Continue, act)
	require.Nil(t, f.Extension(ID))
}

func TestSecondInitialDoesNotReprocess(t *testing.T) {
	dcid := []byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08}
	handshake := buildClientHello("example.com")
	packet := buildInitialPacket(t, dcid, handshake)

	p := New()
	f := quicFlow()
	p.PostCreate(&f, packet)
	first := f.Extension(ID).(*Extension)

	otherHandshake := buildClientHello("other.example")
	otherPacket := buildInitialPacket(t, dcid, otherHandshake)
	p.PreUpdate(&f, otherPacket)

	require.Same(t, first, f.Extension(ID).(*Extension))
	require.Equal(t, "example.com", first.SNI)
}
