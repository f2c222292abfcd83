package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

func TestPostCreateParsesRequestLine(t *testing.T) {
	p := New()
	var f flow.Record

	payload := []byte("DESCRIBE rtsp://example.com/stream RTSP/1.0\nUser-Agent: curl/8.0\n\n")
	act := p.PostCreate(&f, payload)
	require.Equal(t, plugin.Continue, act)

	ext, ok := f.Extension(ID).(*Extension)
	require.True(t, ok)
	require.Equal(t, "DESCRIBE", ext.Method)
	require.Equal(t, "rtsp://example.com/stream", ext.URI)
	require.Equal(t, "curl/8.0", ext.UserAgent)
}

func TestSecondRequestFlushes(t *testing.T) {
	p := New()
	var f flow.Record

	first := []byte("SETUP rtsp://example.com/a RTSP/1.0\n\n")
	require.Equal(t, plugin.Continue, p.PostCreate(&f, first))

	second := []byte("PLAY rtsp://example.com/b RTSP/1.0\n\n")
	require.Equal(t, plugin.Flush, p.PreUpdate(&f, second))
}

func TestResponseParsesStatusServerAndContentType(t *testing.T) {
	p := New()
	var f flow.Record

	payload := []byte("RTSP/1.0 200 OK\nServer: example/1.0\nContent-Type: application/sdp\n\n")
	require.Equal(t, plugin.Continue, p.PostCreate(&f, payload))

	ext, ok := f.Extension(ID).(*Extension)
	require.True(t, ok)
	require.Equal(t, uint16(200), ext.StatusCode)
	require.Equal(t, "example/1.0", ext.Server)
	require.Equal(t, "application/sdp", ext.ContentType)
}

func TestNonRTSPPayloadIgnored(t *testing.T) {
	p := New()
	var f flow.Record

	act := p.PostCreate(&f, []byte("not rtsp at all"))
	require.Equal(t, plugin.Continue, act)
	require.Nil(t, f.Extension(ID))
}
