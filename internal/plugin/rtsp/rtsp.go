// Package rtsp implements an RTSP extension plugin, ported from the
// original system's process/rtsp.cpp — structurally the same
// request/response line parser as internal/plugin/http, generalized to
// RTSP's larger request-method vocabulary (DESCRIBE/SETUP/PLAY/PAUSE/
// TEARDOWN/RECORD/ANNOUNCE alongside the shared HTTP-style verbs) and its
// own bounded field set (method, user agent, URI, status code, server,
// content type).
package rtsp

import (
	"bytes"
	"strconv"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

// ID is this plugin's dense extension id (§4.3).
const ID = 3

const (
	methodCap = 10
	uaCap     = 128
	uriCap    = 128
	serverCap = 128
	ctypeCap  = 32
)

var requestPrefixes = [][]byte{
	[]byte("GET "), []byte("POST"), []byte("PUT "), []byte("HEAD"),
	[]byte("DELE"), []byte("TRAC"), []byte("OPTI"), []byte("CONN"), []byte("PATC"),
	[]byte("DESC"), []byte("SETU"), []byte("PLAY"), []byte("PAUS"),
	[]byte("TEAR"), []byte("RECO"), []byte("ANNO"),
}

// Extension is the per-flow RTSP state: method/URI/user-agent from the
// request line, status code/server/content-type from the response line.
type Extension struct {
	Method      string
	URI         string
	UserAgent   string
	StatusCode  uint16
	Server      string
	ContentType string

	hasRequest  bool
	hasResponse bool
}

// Plugin implements plugin.Plugin for RTSP request/response detection.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() int      { return ID }
func (p *Plugin) Name() string { return "rtsp" }

func (p *Plugin) PostCreate(f *flow.Record, payload []byte) plugin.ActionFlags {
	return p.observe(f, payload)
}

func (p *Plugin) PreUpdate(f *flow.Record, payload []byte) plugin.ActionFlags {
	return p.observe(f, payload)
}

func (p *Plugin) observe(f *flow.Record, payload []byte) plugin.ActionFlags {
	if len(payload) < 4 {
		return plugin.Continue
	}

	ext, _ := f.Extension(ID).(*Extension)

	if isRequest(payload) {
		if ext != nil && ext.hasRequest {
			return plugin.Flush
		}
		if ext == nil {
			ext = &Extension{}
			f.SetExtension(ID, ext)
		}
		if parseRequest(payload, ext) {
			ext.hasRequest = true
		}
		return plugin.Continue
	}

	if bytes.HasPrefix(payload, []byte("RTSP")) {
		if ext != nil && ext.hasResponse {
			return plugin.Flush
		}
		if ext == nil {
			ext = &Extension{}
			f.SetExtension(ID, ext)
		}
		if parseResponse(payload, ext) {
			ext.hasResponse = true
		}
		return plugin.Continue
	}

	return plugin.Continue
}

func isRequest(payload []byte) bool {
	for _, prefix := range requestPrefixes {
		if bytes.HasPrefix(payload, prefix) {
			return true
		}
	}
	return false
}

func lines(payload []byte) [][]byte {
	return bytes.Split(payload, []byte("\n"))
}

func truncate(s []byte, n int) string {
	s = bytes.TrimRight(s, "\r")
	if len(s) > n {
		s = s[:n]
	}
	return string(s)
}

// parseRequest parses the RTSP request line ("METHOD URI RTSP/1.0") plus
// the User-Agent header, mirroring rtsp.cpp's parse_rtsp_request.
func parseRequest(payload []byte, ext *Extension) bool {
	ls := lines(payload)
	if len(ls) == 0 {
		return false
	}
	fields := bytes.Fields(ls[0])
	if len(fields) < 3 || !bytes.HasPrefix(fields[2], []byte("RTSP")) {
		return false
	}
	ext.Method = truncate(fields[0], methodCap)
	ext.URI = truncate(fields[1], uriCap)

	for _, l := range ls[1:] {
		name, val, ok := splitHeader(l)
		if ok && bytes.EqualFold(name, []byte("User-Agent")) {
			ext.UserAgent = truncate(val, uaCap)
		}
	}
	return true
}

// parseResponse parses the RTSP status line ("RTSP/1.0 CODE REASON") plus
// Server/Content-Type headers, mirroring rtsp.cpp's parse_rtsp_response.
func parseResponse(payload []byte, ext *Extension) bool {
	ls := lines(payload)
	if len(ls) == 0 {
		return false
	}
	fields := bytes.Fields(ls[0])
	if len(fields) < 2 {
		return false
	}
	code, err := strconv.ParseUint(string(fields[1]), 10, 16)
	if err != nil || code == 0 {
		return false
	}
	ext.StatusCode = uint16(code)

	for _, l := range ls[1:] {
		name, val, ok := splitHeader(l)
		if !ok {
			continue
		}
		switch {
		case bytes.EqualFold(name, []byte("Content-Type")):
			ext.ContentType = truncate(val, ctypeCap)
		case bytes.EqualFold(name, []byte("Server")):
			ext.Server = truncate(val, serverCap)
		}
	}
	return true
}

func splitHeader(line []byte) (name, value []byte, ok bool) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return nil, nil, false
	}
	return bytes.TrimSpace(line[:idx]), bytes.TrimSpace(line[idx+1:]), true
}
