package tls

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

func appendUint16(b []byte, v uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, v)
	return append(b, out...)
}

func buildClientHelloRecord(sni string) []byte {
	serverNameEntry := append([]byte{0x00}, appendUint16(nil, uint16(len(sni)))...)
	serverNameEntry = append(serverNameEntry, []byte(sni)...)
	serverNameList := append(appendUint16(nil, uint16(len(serverNameEntry))), serverNameEntry...)

	extServerName := append([]byte{0x00, 0x00}, appendUint16(nil, uint16(len(serverNameList)))...)
	extServerName = append(extServerName, serverNameList...)

	body := make([]byte, 0, 128)
	body = append(body, 0x03, 0x03)           // legacy_version
	body = append(body, make([]byte, 32)...)  // random
	body = append(body, 0x00)                 // session_id length 0
	body = append(body, appendUint16(nil, 2)...)
	body = append(body, 0x13, 0x01) // one cipher suite
	body = append(body, 0x01, 0x00) // compression methods: length 1, null
	body = append(body, appendUint16(nil, uint16(len(extServerName)))...)
	body = append(body, extServerName...)

	handshake := []byte{0x01}
	handshake = append(handshake, byte(len(body)>>16), byte(len(body)>>8), byte(len(body)))
	handshake = append(handshake, body...)

	record := []byte{0x16, 0x03, 0x01}
	record = append(record, appendUint16(nil, uint16(len(handshake)))...)
	record = append(record, handshake...)
	return record
}

func TestExtractsSNIFromPlaintextClientHello(t *testing.T) {
	p := New()
	var f flow.Record

	act := p.PostCreate(&f, buildClientHelloRecord("example.com"))
	require.Equal(t, plugin.Continue, act)

	ext, ok := f.Extension(ID).(*Extension)
	require.True(t, ok)
	require.Equal(t, "example.com", ext.SNI)
}

func TestNonHandshakeRecordIgnored(t *testing.T) {
	p := New()
	var f flow.Record

	act := p.PostCreate(&f, []byte{0x17, 0x03, 0x03, 0x00, 0x01, 0x00})
	require.Equal(t, plugin.Continue, act)
	require.Nil(t, f.Extension(ID))
}

func TestSecondClientHelloDoesNotReprocess(t *testing.T) {
	p := New()
	var f flow.Record

	p.PostCreate(&f, buildClientHelloRecord("example.com"))
	first := f.Extension(ID).(*Extension)

	p.PreUpdate(&f, buildClientHelloRecord("other.example"))
	require.Same(t, first, f.Extension(ID).(*Extension))
	require.Equal(t, "example.com", first.SNI)
}
