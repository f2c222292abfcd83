// Package http implements the HTTP extension plugin of §4.3.1: detects
// request/response lines by prefix match and records a handful of bounded
// fields per flow. No pack example parses HTTP at the packet level, so
// this is hand-written against the spec's own byte-exact rules in the
// parser package's line-oriented-decode idiom (bounded-length field
// copies, explicit prefix checks, no regex).
package http

import (
	"bytes"
	"strconv"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

// ID is this plugin's dense extension id (§4.3).
const ID = 0

const (
	methodCap  = 10
	uriCap     = 128
	hostCap    = 64
	uaCap      = 128
	refererCap = 128
	ctypeCap   = 32
)

var requestPrefixes = [][]byte{
	[]byte("GET "), []byte("POST"), []byte("PUT "), []byte("HEAD"),
	[]byte("DELE"), []byte("TRAC"), []byte("OPTI"), []byte("CONN"), []byte("PATC"),
}

// Extension is the per-flow HTTP state §4.3.1 describes.
type Extension struct {
	Method     string
	URI        string
	Host       string
	UserAgent  string
	Referer    string
	StatusCode uint16
	ContentType string

	hasRequest  bool
	hasResponse bool
}

// Plugin implements plugin.Plugin for HTTP request/response detection.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() int      { return ID }
func (p *Plugin) Name() string { return "http" }

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
			return plugin.Flush // second request on this flow: pipelined
		}
		if ext == nil {
			ext = &Extension{}
			f.SetExtension(ID, ext)
		}
		parseRequest(payload, ext)
		ext.hasRequest = true
		return plugin.Continue
	}

	if bytes.HasPrefix(payload, []byte("HTTP")) {
		if ext != nil && ext.hasResponse {
			return plugin.Flush
		}
		if ext == nil {
			ext = &Extension{}
			f.SetExtension(ID, ext)
		}
		parseResponse(payload, ext)
		ext.hasResponse = true
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
	return bytes.Split(payload, []byte("\r\n"))
}

func truncate(s []byte, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return string(s)
}

func parseRequest(payload []byte, ext *Extension) {
	ls := lines(payload)
	if len(ls) == 0 {
		return
	}
	fields := bytes.Fields(ls[0])
	if len(fields) >= 2 {
		ext.Method = truncate(fields[0], methodCap)
		ext.URI = truncate(fields[1], uriCap)
	}
	for _, l := range ls[1:] {
		name, val, ok := splitHeader(l)
		if !ok {
			continue
		}
		switch {
		case bytes.EqualFold(name, []byte("Host")):
			ext.Host = truncate(val, hostCap)
		case bytes.EqualFold(name, []byte("User-Agent")):
			ext.UserAgent = truncate(val, uaCap)
		case bytes.EqualFold(name, []byte("Referer")):
			ext.Referer = truncate(val, refererCap)
		}
	}
}

func parseResponse(payload []byte, ext *Extension) {
	ls := lines(payload)
	if len(ls) == 0 {
		return
	}
	fields := bytes.Fields(ls[0])
	if len(fields) >= 2 {
		if code, err := strconv.ParseUint(string(fields[1]), 10, 16); err == nil {
			ext.StatusCode = uint16(code)
		}
	}
	for _, l := range ls[1:] {
		name, val, ok := splitHeader(l)
		if ok && bytes.EqualFold(name, []byte("Content-Type")) {
			ext.ContentType = truncate(val, ctypeCap)
		}
	}
}

func splitHeader(line []byte) (name, value []byte, ok bool) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return nil, nil, false
	}
	return bytes.TrimSpace(line[:idx]), bytes.TrimSpace(line[idx+1:]), true
}
