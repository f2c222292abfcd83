package ssdp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

func notifyPayload() []byte {
	return []byte("NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"NT: urn:schemas-upnp-org:device:MediaServer:1\r\n" +
		"SERVER: Linux/3.0 UPnP/1.0 test/1.0\r\n" +
		"LOCATION: http://192.168.1.1:8200/desc.xml\r\n" +
		"USER-AGENT: test-agent/1.0\r\n\r\n")
}

func TestPostCreateParsesHeaders(t *testing.T) {
	p := New()
	f := flow.Record{DstPort: 1900}

	act := p.PostCreate(&f, notifyPayload())
	require.Equal(t, plugin.Continue, act)

	ext, ok := f.Extension(ID).(*Extension)
	require.True(t, ok)
	require.Equal(t, "urn:schemas-upnp-org:device:MediaServer:1", ext.NT)
	require.Equal(t, "Linux/3.0 UPnP/1.0 test/1.0", ext.Server)
	require.Equal(t, "test-agent/1.0", ext.UserAgent)
	require.Equal(t, uint16(8200), ext.LocationPort)
}

func TestDuplicateURNNotAppendedTwice(t *testing.T) {
	p := New()
	f := flow.Record{DstPort: 1900}

	p.PostCreate(&f, notifyPayload())
	p.PreUpdate(&f, notifyPayload())

	ext := f.Extension(ID).(*Extension)
	require.Equal(t, "urn:schemas-upnp-org:device:MediaServer:1", ext.NT)
}

func TestWrongPortIgnored(t *testing.T) {
	p := New()
	f := flow.Record{DstPort: 80}

	act := p.PostCreate(&f, notifyPayload())
	require.Equal(t, plugin.Continue, act)
	require.Nil(t, f.Extension(ID))
}
