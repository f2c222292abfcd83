// Package ssdp implements an SSDP extension plugin, ported from the
// original system's process/ssdp.cpp: UPnP discovery traffic (M-SEARCH
// requests, NOTIFY announcements), both carried as HTTP-style headers
// over UDP port 1900. Unlike HTTP/RTSP, SSDP accumulates a semicolon-
// separated, deduplicated list of distinct ST/NT URN values seen across
// every packet of the flow rather than keeping only the first.
package ssdp

import (
	"bytes"
	"strconv"
	"strings"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

// ID is this plugin's dense extension id (§4.3).
const ID = 4

const ssdpPort = 1900

const (
	urnCap    = 511
	serverCap = 255
	uaCap     = 255
)

// Extension is the per-flow SSDP state: a dedup'd, semicolon-joined list
// of ST/NT URN values, the port parsed out of LOCATION, and the Server/
// User-Agent header values.
type Extension struct {
	LocationPort uint16
	NT           string
	ST           string
	Server       string
	UserAgent    string
}

// Plugin implements plugin.Plugin for SSDP discovery traffic.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() int      { return ID }
func (p *Plugin) Name() string { return "ssdp" }

func (p *Plugin) PostCreate(f *flow.Record, payload []byte) plugin.ActionFlags {
	return p.observe(f, payload)
}

func (p *Plugin) PreUpdate(f *flow.Record, payload []byte) plugin.ActionFlags {
	return p.observe(f, payload)
}

func (p *Plugin) observe(f *flow.Record, payload []byte) plugin.ActionFlags {
	if f.DstPort != ssdpPort {
		return plugin.Continue
	}

	ext, _ := f.Extension(ID).(*Extension)
	if ext == nil {
		ext = &Extension{}
		f.SetExtension(ID, ext)
	}
	parseHeaders(payload, ext)
	return plugin.Continue
}

func parseHeaders(payload []byte, ext *Extension) {
	for _, line := range bytes.Split(payload, []byte("\r\n")) {
		name, val, ok := splitHeader(line)
		if !ok {
			continue
		}
		switch {
		case bytes.EqualFold(name, []byte("st")):
			appendURN(&ext.ST, val, urnCap)
		case bytes.EqualFold(name, []byte("nt")):
			appendURN(&ext.NT, val, urnCap)
		case bytes.EqualFold(name, []byte("location")):
			if port := locationPort(val); port > 0 {
				ext.LocationPort = port
			}
		case bytes.EqualFold(name, []byte("server")):
			ext.Server = truncate(val, serverCap)
		case bytes.EqualFold(name, []byte("user-agent")):
			ext.UserAgent = truncate(val, uaCap)
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

// appendURN adds val to curr as a semicolon-separated entry, skipping
// values that are not URNs and values already present, mirroring
// ssdp.cpp's append_value dedup.
func appendURN(curr *string, val []byte, max int) {
	if !bytes.HasPrefix(val, []byte("urn:")) {
		return
	}
	v := string(val)
	for _, existing := range strings.Split(*curr, ";") {
		if existing == v {
			return
		}
	}
	candidate := *curr
	if candidate != "" {
		candidate += ";"
	}
	candidate += v
	if len(candidate) < max {
		*curr = candidate
	}
}

// locationPort extracts the port suffix from a LOCATION URL such as
// "http://192.168.1.1:1900/desc.xml" or "http://[fe80::1]:1900/desc.xml".
func locationPort(val []byte) uint16 {
	idx := bytes.LastIndexByte(val, ':')
	if idx < 0 {
		return 0
	}
	rest := val[idx+1:]
	end := bytes.IndexByte(rest, '/')
	if end >= 0 {
		rest = rest[:end]
	}
	port, err := strconv.ParseUint(string(rest), 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}

func truncate(s []byte, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return string(s)
}
