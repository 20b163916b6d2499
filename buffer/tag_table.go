// tag_table.go implements the ring of timestamp/flag slots addressed by a wrapping tag.

package buffer

import (
	"golang.org/x/exp/constraints"

	"github.com/xaionaro-go/avcomponent/types"
)

// DefaultMaxTimestamp is the default amount of tag slots.
const DefaultMaxTimestamp = 40

type TagEntry struct {
	Timestamp int64
	Flags     types.BufferFlags
	InUse     bool
}

// TagTable carries timestamps and flags of input buffers through the
// hardware: the tag travels with the buffer, the entry stays here. It is
// not safe for concurrent use.
type TagTable[T constraints.Unsigned] struct {
	entries []TagEntry
	next    T
}

func NewTagTable[T constraints.Unsigned](size uint) *TagTable[T] {
	if size == 0 {
		size = DefaultMaxTimestamp
	}
	return &TagTable[T]{
		entries: make([]TagEntry, size),
	}
}

func (t *TagTable[T]) Size() int {
	return len(t.entries)
}

// Put stores the entry in the next slot and returns its tag. When the ring
// wraps, the oldest entry is overwritten.
func (t *TagTable[T]) Put(timestamp int64, flags types.BufferFlags) T {
	tag := t.next
	t.next = T((uint64(t.next) + 1) % uint64(len(t.entries)))
	t.entries[tag] = TagEntry{
		Timestamp: timestamp,
		Flags:     flags,
		InUse:     true,
	}
	return tag
}

// Take returns the entry of the tag and frees the slot.
func (t *TagTable[T]) Take(tag T) (TagEntry, bool) {
	if uint64(tag) >= uint64(len(t.entries)) {
		return TagEntry{}, false
	}
	entry := t.entries[tag]
	if !entry.InUse {
		return TagEntry{}, false
	}
	t.entries[tag] = TagEntry{}
	return entry, true
}

// Peek returns the entry of the tag without freeing the slot.
func (t *TagTable[T]) Peek(tag T) (TagEntry, bool) {
	if uint64(tag) >= uint64(len(t.entries)) {
		return TagEntry{}, false
	}
	entry := t.entries[tag]
	return entry, entry.InUse
}

func (t *TagTable[T]) Reset() {
	for idx := range t.entries {
		t.entries[idx] = TagEntry{}
	}
	t.next = 0
}
