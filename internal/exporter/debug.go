package exporter

import (
	"fmt"
	"io"

	"ipfixflow/internal/flow"
)

// Debug is a stderr-printing Exporter used when no collector is
// configured, or as a fallback when the IPFIX transport fails — §7's
// error handling design says IPFIX transport failures are "reported to
// stderr; the cache continues to run", which this implementation takes
// literally as its entire behavior.
type Debug struct {
	w        io.Writer
	handles  map[TemplateHandle][]FieldDescriptor
	nextTmpl TemplateHandle
}

// NewDebug creates a Debug exporter writing to w.
func NewDebug(w io.Writer) *Debug {
	return &Debug{w: w, handles: make(map[TemplateHandle][]FieldDescriptor)}
}

func (d *Debug) Prepare() error { return nil }

func (d *Debug) Init(odid uint32, host string, port int, udp bool, verbose bool, dirBitField uint8, exportBasic bool) error {
	fmt.Fprintf(d.w, "ipfixflow: debug exporter initialized (odid=%d target=%s:%d udp=%v)\n", odid, host, port, udp)
	return nil
}

func (d *Debug) CreateTemplate(fields []FieldDescriptor) (TemplateHandle, error) {
	d.nextTmpl++
	d.handles[d.nextTmpl] = fields
	return d.nextTmpl, nil
}

func (d *Debug) SendTemplates() error {
	fmt.Fprintf(d.w, "ipfixflow: sending %d templates\n", len(d.handles))
	return nil
}

func (d *Debug) SendData() error { return nil }

func (d *Debug) ExportFlow(handle TemplateHandle, record *flow.Record) error {
	fmt.Fprintf(d.w, "ipfixflow: flow id=%d parent=%d proto=%d %s:%d -> %s:%d packets=%d bytes=%d\n",
		record.ID, record.ParentID, record.Protocol,
		record.SrcAddr, record.SrcPort, record.DstAddr, record.DstPort,
		record.Packets, record.Bytes)
	return nil
}

func (d *Debug) Flush() error   { return nil }
func (d *Debug) Shutdown() error { return nil }
