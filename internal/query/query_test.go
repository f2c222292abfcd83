package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ipfixflow/internal/archive"
)

func snap(src, dst string, sport, dport uint16, proto uint8) archive.Snapshot {
	return archive.Snapshot{SrcAddr: src, DstAddr: dst, SrcPort: sport, DstPort: dport, Protocol: proto}
}

func TestParseEmptyFilterMatchesEverything(t *testing.T) {
	f := Parse("")
	require.True(t, f.IsEmpty())
	require.True(t, f.Matches(snap("1.1.1.1", "2.2.2.2", 1, 2, 6)))
}

func TestCIDRAndPortAndImplicitAnd(t *testing.T) {
	f := Parse("src=10.0.0.0/8 port=443")
	require.True(t, f.IsValid())
	require.True(t, f.Matches(snap("10.1.2.3", "8.8.8.8", 51000, 443, 6)))
	require.False(t, f.Matches(snap("192.168.1.1", "8.8.8.8", 51000, 443, 6)))
}

func TestOrAndNegation(t *testing.T) {
	f := Parse("port=80 || port=443")
	require.True(t, f.Matches(snap("a", "b", 1, 443, 6)))
	require.False(t, f.Matches(snap("a", "b", 1, 22, 6)))

	f = Parse("!proto=udp")
	require.True(t, f.IsValid())
	require.True(t, f.Matches(snap("a", "b", 1, 2, 6)))
	require.False(t, f.Matches(snap("a", "b", 1, 2, 17)))
}

func TestParenGrouping(t *testing.T) {
	f := Parse("!(src=10.0.0.1 && port=53)")
	require.True(t, f.IsValid())
	require.False(t, f.Matches(snap("10.0.0.1", "b", 1, 53, 17)))
	require.True(t, f.Matches(snap("10.0.0.1", "b", 1, 54, 17)))
}

func TestUnknownFieldIsError(t *testing.T) {
	f := Parse("bogus=1")
	require.False(t, f.IsValid())
}
