// Package smtp implements the SMTP extension plugin of §4.3.2: a
// command/response state machine that classifies each line of payload as
// either a client command or a server reply, accumulating histograms and
// capturing a handful of bounded fields. Structured the same way as
// internal/plugin/http — a single observe() entry point shared by
// PostCreate/PreUpdate, bounded-length field copies, explicit prefix
// checks instead of regex.
package smtp

import (
	"bytes"
	"strconv"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

// ID is this plugin's dense extension id (§4.3).
const ID = 1

const (
	domainCap = 255
	fromCap   = 255
	rcptCap   = 255
	port      = 25
)

// CodeFlags is a bitmask over the reply codes §4.3.2 tracks, plus SPAM
// and UNKNOWN bits for codes/heuristics outside that list.
type CodeFlags uint32

const (
	Code211 CodeFlags = 1 << iota
	Code214
	Code220
	Code221
	Code250
	Code251
	Code252
	Code354
	Code421
	Code450
	Code451
	Code452
	Code455
	Code500
	Code501
	Code502
	Code503
	Code504
	Code550
	Code551
	Code552
	Code553
	Code554
	Code555
	CodeSpam
	CodeUnknown
)

var codeFlagByValue = map[int]CodeFlags{
	211: Code211, 214: Code214, 220: Code220, 221: Code221,
	250: Code250, 251: Code251, 252: Code252, 354: Code354,
	421: Code421, 450: Code450, 451: Code451, 452: Code452, 455: Code455,
	500: Code500, 501: Code501, 502: Code502, 503: Code503, 504: Code504,
	550: Code550, 551: Code551, 552: Code552, 553: Code553, 554: Code554, 555: Code555,
}

// CommandFlags is a bitmask over the client commands §4.3.2 tracks.
type CommandFlags uint32

const (
	CmdEHLO CommandFlags = 1 << iota
	CmdHELO
	CmdMAIL
	CmdRCPT
	CmdDATA
	CmdRSET
	CmdVRFY
	CmdEXPN
	CmdHELP
	CmdNOOP
	CmdQUIT
	CmdUnknown
)

var commandFlagByWord = map[string]CommandFlags{
	"EHLO": CmdEHLO, "HELO": CmdHELO, "MAIL": CmdMAIL, "RCPT": CmdRCPT,
	"DATA": CmdDATA, "RSET": CmdRSET, "VRFY": CmdVRFY, "EXPN": CmdEXPN,
	"HELP": CmdHELP, "NOOP": CmdNOOP, "QUIT": CmdQUIT,
}

// Extension is the per-flow SMTP state §4.3.2 describes.
type Extension struct {
	CodeFlags    CodeFlags
	CommandFlags CommandFlags

	HeloDomain string
	MailFrom   string
	RcptTo     string

	MailCmdCount int
	RcptCmdCount int

	DataTransfer bool

	sawHelo bool
	sawMail bool
	sawRcpt bool
}

// Plugin implements plugin.Plugin for SMTP command/reply classification.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() int      { return ID }
func (p *Plugin) Name() string { return "smtp" }

func (p *Plugin) PostCreate(f *flow.Record, payload []byte) plugin.ActionFlags {
	return p.observe(f, payload)
}

func (p *Plugin) PreUpdate(f *flow.Record, payload []byte) plugin.ActionFlags {
	return p.observe(f, payload)
}

// Active reports whether this flow's ports make it a candidate for SMTP
// classification — §4.3.2 activates the plugin only when one side of the
// flow is port 25.
func Active(srcPort, dstPort uint16) bool {
	return srcPort == port || dstPort == port
}

func (p *Plugin) observe(f *flow.Record, payload []byte) plugin.ActionFlags {
	if !Active(f.SrcPort, f.DstPort) || len(payload) == 0 {
		return plugin.Continue
	}

	ext, _ := f.Extension(ID).(*Extension)
	if ext == nil {
		ext = &Extension{}
		f.SetExtension(ID, ext)
	}

	for _, line := range bytes.Split(payload, []byte("\r\n")) {
		if len(line) == 0 {
			continue
		}
		if ext.DataTransfer {
			if bytes.Equal(line, []byte(".")) {
				ext.DataTransfer = false
			}
			continue
		}
		if isReply(line) {
			observeReply(ext, line)
			continue
		}
		observeCommand(ext, line)
	}

	return plugin.Continue
}

// isReply matches §4.3.2's "DDDS" pattern: three ASCII digits followed
// by a space or hyphen (multi-line replies use '-' on non-final lines).
func isReply(line []byte) bool {
	if len(line) < 4 {
		return false
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return false
		}
	}
	return line[3] == ' ' || line[3] == '-'
}

func observeReply(ext *Extension, line []byte) {
	code, err := strconv.Atoi(string(line[:3]))
	if err != nil {
		return
	}
	if flag, ok := codeFlagByValue[code]; ok {
		ext.CodeFlags |= flag
	} else {
		ext.CodeFlags |= CodeUnknown
	}
}

func observeCommand(ext *Extension, line []byte) {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return
	}
	word := bytes.ToUpper(fields[0])

	flag, ok := commandFlagByWord[string(word)]
	if !ok {
		ext.CommandFlags |= CmdUnknown
		return
	}
	ext.CommandFlags |= flag

	switch flag {
	case CmdHELO, CmdEHLO:
		if !ext.sawHelo && len(fields) >= 2 {
			ext.HeloDomain = truncate(fields[1], domainCap)
			ext.sawHelo = true
		}
	case CmdMAIL:
		ext.MailCmdCount++
		if !ext.sawMail {
			ext.MailFrom = truncate(argAfter(line, word), fromCap)
			ext.sawMail = true
		}
	case CmdRCPT:
		ext.RcptCmdCount++
		if !ext.sawRcpt {
			ext.RcptTo = truncate(argAfter(line, word), rcptCap)
			ext.sawRcpt = true
		}
	case CmdDATA:
		ext.DataTransfer = true
	}
}

// argAfter returns the argument of a MAIL FROM:/RCPT TO: line: the text
// after the first colon that follows the command word (the whole remainder
// when there is no colon), trimmed of leading whitespace.
func argAfter(line, word []byte) []byte {
	rest := bytes.TrimLeft(line[len(word):], " \t")
	if idx := bytes.IndexByte(rest, ':'); idx >= 0 {
		rest = bytes.TrimLeft(rest[idx+1:], " \t")
	}
	return rest
}

func truncate(s []byte, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return string(s)
}
