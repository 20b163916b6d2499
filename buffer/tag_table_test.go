package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avcomponent/types"
)

func TestTagTableWraps(t *testing.T) {
	table := NewTagTable[uint32](3)
	require.Equal(t, 3, table.Size())

	tags := []uint32{
		table.Put(100, 0),
		table.Put(200, types.BufferFlagSyncFrame),
		table.Put(300, types.BufferFlagEOS),
	}
	require.Equal(t, []uint32{0, 1, 2}, tags)

	entry, ok := table.Take(1)
	require.True(t, ok)
	require.Equal(t, int64(200), entry.Timestamp)
	require.Equal(t, types.BufferFlagSyncFrame, entry.Flags)

	_, ok = table.Take(1)
	require.False(t, ok)

	require.Equal(t, uint32(0), table.Put(400, 0))
	entry, ok = table.Peek(0)
	require.True(t, ok)
	require.Equal(t, int64(400), entry.Timestamp)

	_, ok = table.Take(7)
	require.False(t, ok)

	table.Reset()
	_, ok = table.Peek(2)
	require.False(t, ok)
	require.Equal(t, uint32(0), table.Put(1, 0))
}

func TestBypassQueueFIFO(t *testing.T) {
	var q BypassQueue
	q.Push(BypassEntry{Flags: types.BufferFlagEOS, Timestamp: 1})
	q.Push(BypassEntry{Flags: types.BufferFlagEOS, Timestamp: 2})
	require.Equal(t, 2, q.Len())

	entry, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, int64(1), entry.Timestamp)

	q.Reset()
	_, ok = q.Pop()
	require.False(t, ok)
}
