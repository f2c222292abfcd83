package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndSnapshotOrder(t *testing.T) {
	a := New(3)
	a.Append(Snapshot{ID: 1})
	a.Append(Snapshot{ID: 2})
	a.Append(Snapshot{ID: 3})

	got := a.Snapshot()
	require.Len(t, got, 3)
	require.Equal(t, []uint64{1, 2, 3}, ids(got))
}

func TestAppendOverwritesOldestWhenFull(t *testing.T) {
	a := New(2)
	a.Append(Snapshot{ID: 1})
	a.Append(Snapshot{ID: 2})
	a.Append(Snapshot{ID: 3})

	got := a.Snapshot()
	require.Equal(t, []uint64{2, 3}, ids(got))
	require.Equal(t, 2, a.Len())
	require.Equal(t, uint64(3), a.Total())
}

func ids(snaps []Snapshot) []uint64 {
	out := make([]uint64, len(snaps))
	for i, s := range snaps {
		out[i] = s.ID
	}
	return out
}
