// Package monitor implements the live dashboard of §C: a tview table of
// recent exported flows plus cache/export counters, and a plain
// terminal fallback, selected by the `-ui` flag — mirroring the
// teacher's TUI-vs-simple-CLI split (internal/display/tui.go vs
// cli.go) at the much smaller scale this spec's monitor needs (no
// biflow/context-menu/interface browsing, since nothing in the
// exporter's introspection surface calls for them).
package monitor

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"ipfixflow/internal/archive"
	"ipfixflow/internal/cache"
)

var counterPrinter = message.NewPrinter(language.English)

// Simple is a plain, redraw-on-tick terminal renderer, selected with
// `-ui cli`.
type Simple struct {
	cache       *cache.Cache
	archive     *archive.Archive
	refreshRate time.Duration
	stop        chan struct{}
}

// NewSimple creates a Simple monitor over the given cache and archive.
func NewSimple(c *cache.Cache, a *archive.Archive, refreshRate time.Duration) *Simple {
	if refreshRate == 0 {
		refreshRate = time.Second
	}
	return &Simple{cache: c, archive: a, refreshRate: refreshRate, stop: make(chan struct{})}
}

// Start runs the render loop until Stop is called.
func (s *Simple) Start() {
	ticker := time.NewTicker(s.refreshRate)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.render()
		}
	}
}

// Stop ends the render loop.
func (s *Simple) Stop() { close(s.stop) }

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

func (s *Simple) render() {
	width := terminalWidth()
	fmt.Print("\033[2J\033[H")

	counterPrinter.Printf("ipfixflow  live=%d free=%d exported=%d evicted=%d\n",
		s.cache.FlowsCurrent(), s.cache.FreeCount(), s.cache.ExportCount(), s.cache.EvictionCount())
	fmt.Println(dashes(width))

	recent := s.archive.Snapshot()
	start := 0
	if len(recent) > 20 {
		start = len(recent) - 20
	}
	fmt.Printf("%-16s %-6s %-16s %-6s %-5s %10s %10s\n", "SRC", "SPORT", "DST", "DPORT", "PROTO", "PACKETS", "BYTES")
	for _, f := range recent[start:] {
		counterPrinter.Printf("%-16s %-6d %-16s %-6d %-5d %10d %10d\n",
			f.SrcAddr, f.SrcPort, f.DstAddr, f.DstPort, f.Protocol, f.Packets, f.Bytes)
	}
}

func dashes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}
