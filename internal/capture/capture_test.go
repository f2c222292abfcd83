package capture

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func encodeFrame(buf *bytes.Buffer, data []byte) {
	var hdr [20]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(data)))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(1700000000))
	binary.BigEndian.PutUint32(hdr[16:20], 0)
	buf.Write(hdr[:])
	buf.Write(data)
}

func TestFileSourceReplaysFramesInOrder(t *testing.T) {
	var buf bytes.Buffer
	encodeFrame(&buf, []byte{1, 2, 3})
	encodeFrame(&buf, []byte{4, 5})

	fs := NewFileSource(&buf, 4)
	defer fs.Close()

	var got [][]byte
	for p := range fs.Packets() {
		got = append(got, p.Data)
	}
	require.NoError(t, fs.Err())
	require.Equal(t, [][]byte{{1, 2, 3}, {4, 5}}, got)
}

func TestChannelSourceDropsWhenFull(t *testing.T) {
	cs := NewChannelSource(1)
	defer cs.Close()

	require.False(t, cs.Send(Packet{Data: []byte{1}, Timestamp: time.Now()}))
	require.True(t, cs.Send(Packet{Data: []byte{2}, Timestamp: time.Now()})) // buffer full, dropped

	p := <-cs.Packets()
	require.Equal(t, []byte{1}, p.Data)
}
