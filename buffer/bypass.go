// bypass.go implements the side channel for zero-payload EOS buffers.

package buffer

import (
	"github.com/xaionaro-go/avcomponent/types"
)

type BypassEntry struct {
	Flags     types.BufferFlags
	Timestamp int64
}

// BypassQueue is a FIFO of entries that never reach the hardware. It is
// not safe for concurrent use.
type BypassQueue struct {
	entries []BypassEntry
}

func (q *BypassQueue) Push(entry BypassEntry) {
	q.entries = append(q.entries, entry)
}

func (q *BypassQueue) Pop() (BypassEntry, bool) {
	if len(q.entries) == 0 {
		return BypassEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

func (q *BypassQueue) Len() int {
	return len(q.entries)
}

func (q *BypassQueue) Reset() {
	q.entries = nil
}
