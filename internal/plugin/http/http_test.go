package http

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

func TestPostCreateParsesRequestLine(t *testing.T) {
	p := New()
	var f flow.Record

	payload := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\nUser-Agent: curl/8.0\r\n\r\n")
	act := p.PostCreate(&f, payload)
	require.Equal(t, plugin.Continue, act)

	ext, ok := f.Extension(ID).(*Extension)
	require.True(t, ok)
	require.Equal(t, "GET", ext.Method)
	require.Equal(t, "/index.html", ext.URI)
	require.Equal(t, "example.com", ext.Host)
	require.Equal(t, "curl/8.0", ext.UserAgent)
}

func TestSecondRequestFlushes(t *testing.T) {
	p := New()
	var f flow.Record

	first := []byte("GET /a HTTP/1.1\r\nHost: a\r\n\r\n")
	require.Equal(t, plugin.Continue, p.PostCreate(&f, first))

	second := []byte("GET /b HTTP/1.1\r\nHost: b\r\n\r\n")
	require.Equal(t, plugin.Flush, p.PreUpdate(&f, second))
}

func TestResponseParsesStatusAndContentType(t *testing.T) {
	p := New()
	var f flow.Record

	payload := []byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n")
	require.Equal(t, plugin.Continue, p.PostCreate(&f, payload))

	ext, ok := f.Extension(ID).(*Extension)
	require.True(t, ok)
	require.Equal(t, uint16(200), ext.StatusCode)
	require.Equal(t, "text/html", ext.ContentType)
}

func TestNonHTTPPayloadIgnored(t *testing.T) {
	p := New()
	var f flow.Record

	act := p.PostCreate(&f, []byte("not http at all"))
	require.Equal(t, plugin.Continue, act)
	require.Nil(t, f.Extension(ID))
}
