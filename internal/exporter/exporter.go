// Package exporter defines the IPFIX exporter contract FlowCache consumes
// (§6 External Interfaces): a set of operations a concrete transport
// implements, kept deliberately narrow so the cache never depends on a
// specific wire encoding.
package exporter

import "ipfixflow/internal/flow"

// FieldDescriptor is one IPFIX information element in a template, per
// §6's `{enterprise_number, element_id, length}` triple. Length -1 means
// variable-length.
type FieldDescriptor struct {
	EnterpriseNumber uint16
	ElementID        uint16
	Length           int32
}

// TemplateHandle identifies a registered template for later ExportFlow
// calls.
type TemplateHandle uint16

// Exporter is the cache→exporter contract of §6. Implementations own
// their own transport and template bookkeeping; the cache calls them
// strictly sequentially (§5: "single-threaded cooperative").
type Exporter interface {
	Prepare() error
	Init(odid uint32, host string, port int, udp bool, verbose bool, dirBitField uint8, exportBasic bool) error
	CreateTemplate(fields []FieldDescriptor) (TemplateHandle, error)
	SendTemplates() error
	SendData() error
	ExportFlow(handle TemplateHandle, record *flow.Record) error
	Flush() error
	Shutdown() error
}
