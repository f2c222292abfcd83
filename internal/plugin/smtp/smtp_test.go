package smtp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ipfixflow/internal/flow"
	"ipfixflow/internal/plugin"
)

func smtpFlow() flow.Record {
	return flow.Record{SrcPort: 51000, DstPort: 25}
}

func TestCommandsAndReplyTrackedAcrossCalls(t *testing.T) {
	p := New()
	f := smtpFlow()

	act := p.PostCreate(&f, []byte("220 mail.example.com ESMTP ready\r\n"))
	require.Equal(t, plugin.Continue, act)

	act = p.PreUpdate(&f, []byte("EHLO client.example.com\r\n"))
	require.Equal(t, plugin.Continue, act)

	act = p.PreUpdate(&f, []byte("250-mail.example.com\r\n250 OK\r\n"))
	require.Equal(t, plugin.Continue, act)

	act = p.PreUpdate(&f, []byte("MAIL FROM:<alice@example.com>\r\n"))
	require.Equal(t, plugin.Continue, act)

	act = p.PreUpdate(&f, []byte("250 OK\r\n"))
	require.Equal(t, plugin.Continue, act)

	act = p.PreUpdate(&f, []byte("RCPT TO:<bob@example.com>\r\n"))
	require.Equal(t, plugin.Continue, act)

	ext, ok := f.Extension(ID).(*Extension)
	require.True(t, ok)
	require.Equal(t, "client.example.com", ext.HeloDomain)
	require.Equal(t, "<alice@example.com>", ext.MailFrom)
	require.Equal(t, "<bob@example.com>", ext.RcptTo)
	require.Equal(t, 1, ext.MailCmdCount)
	require.Equal(t, 1, ext.RcptCmdCount)
	require.NotZero(t, ext.CodeFlags&Code220)
	require.NotZero(t, ext.CodeFlags&Code250)
	require.NotZero(t, ext.CommandFlags&CmdEHLO)
	require.NotZero(t, ext.CommandFlags&CmdMAIL)
	require.NotZero(t, ext.CommandFlags&CmdRCPT)
}

func TestDataTransferTogglesUntilDot(t *testing.T) {
	p := New()
	f := smtpFlow()

	p.PostCreate(&f, []byte("DATA\r\n"))
	ext := f.Extension(ID).(*Extension)
	require.True(t, ext.DataTransfer)

	p.PreUpdate(&f, []byte("Subject: hi\r\nbody text\r\n"))
	require.True(t, ext.DataTransfer)

	p.PreUpdate(&f, []byte(".\r\n"))
	require.False(t, ext.DataTransfer)
}

func TestUnknownCodeAndCommandSetUnknownBits(t *testing.T) {
	p := New()
	f := smtpFlow()

	p.PostCreate(&f, []byte("299 weird reply\r\n"))
	p.PreUpdate(&f, []byte("BOGUS arg\r\n"))

	ext := f.Extension(ID).(*Extension)
	require.NotZero(t, ext.CodeFlags&CodeUnknown)
	require.NotZero(t, ext.CommandFlags&CmdUnknown)
}

func TestInactiveWhenNeitherPortIs25(t *testing.T) {
	p := New()
	f := flow.Record{SrcPort: 4000, DstPort: 4001}

	act := p.PostCreate(&f, []byte("220 mail.example.com\r\n"))
	require.Equal(t, plugin.Continue, act)
	require.Nil(t, f.Extension(ID))
}
