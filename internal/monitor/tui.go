package monitor

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"ipfixflow/internal/archive"
	"ipfixflow/internal/cache"
)

// TUI is a tview dashboard: a stats line over a scrolling table of the
// most recently exported flows.
type TUI struct {
	app         *tview.Application
	cache       *cache.Cache
	archive     *archive.Archive
	refreshRate time.Duration

	statsView *tview.TextView
	table     *tview.Table
}

// NewTUI builds the dashboard's widget tree, wired to refresh on a
// ticker rather than per-event, since flow export volume can exceed
// the terminal's redraw rate.
func NewTUI(c *cache.Cache, a *archive.Archive, refreshRate time.Duration) *TUI {
	if refreshRate == 0 {
		refreshRate = time.Second
	}

	t := &TUI{
		app:         tview.NewApplication(),
		cache:       c,
		archive:     a,
		refreshRate: refreshRate,
	}

	t.statsView = tview.NewTextView().SetDynamicColors(true)
	t.statsView.SetBorder(true).SetTitle(" ipfixflow ")

	t.table = tview.NewTable().SetBorders(false).SetFixed(1, 0)
	t.table.SetBorder(true).SetTitle(" recent flows ")

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.statsView, 3, 0, false).
		AddItem(t.table, 0, 1, true)

	t.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC || event.Rune() == 'q' {
			t.app.Stop()
			return nil
		}
		return event
	})

	t.app.SetRoot(layout, true)
	return t
}

// Stop tears down the application from outside its own event loop, for
// callers that need to end the dashboard on an external signal rather
// than a keypress.
func (t *TUI) Stop() { t.app.Stop() }

// Run starts the refresh ticker and blocks until the user quits.
func (t *TUI) Run() error {
	done := make(chan struct{})
	ticker := time.NewTicker(t.refreshRate)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.app.QueueUpdateDraw(t.refresh)
			case <-done:
				return
			}
		}
	}()

	err := t.app.Run()
	close(done)
	return err
}

func (t *TUI) refresh() {
	t.statsView.SetText(fmt.Sprintf(
		"[yellow]live[white]=%d  [yellow]free[white]=%d  [yellow]exported[white]=%d  [yellow]evicted[white]=%d",
		t.cache.FlowsCurrent(), t.cache.FreeCount(), t.cache.ExportCount(), t.cache.EvictionCount()))

	headers := []string{"SRC", "SPORT", "DST", "DPORT", "PROTO", "PACKETS", "BYTES"}
	for col, h := range headers {
		t.table.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetTextColor(tcell.ColorYellow))
	}

	snapshots := t.archive.Snapshot()
	start := 0
	if len(snapshots) > 200 {
		start = len(snapshots) - 200
	}
	for row, f := range snapshots[start:] {
		r := row + 1
		t.table.SetCell(r, 0, tview.NewTableCell(f.SrcAddr))
		t.table.SetCell(r, 1, tview.NewTableCell(fmt.Sprintf("%d", f.SrcPort)))
		t.table.SetCell(r, 2, tview.NewTableCell(f.DstAddr))
		t.table.SetCell(r, 3, tview.NewTableCell(fmt.Sprintf("%d", f.DstPort)))
		t.table.SetCell(r, 4, tview.NewTableCell(fmt.Sprintf("%d", f.Protocol)))
		t.table.SetCell(r, 5, tview.NewTableCell(fmt.Sprintf("%d", f.Packets)))
		t.table.SetCell(r, 6, tview.NewTableCell(fmt.Sprintf("%d", f.Bytes)))
	}
}
