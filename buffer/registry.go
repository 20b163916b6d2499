// registry.go implements the per-port buffer ownership registry.

package buffer

import (
	"fmt"
)

type Owner int

const (
	UndefinedOwner = Owner(iota)
	OwnerHost
	OwnerEngine
)

func (o Owner) String() string {
	switch o {
	case OwnerHost:
		return "host"
	case OwnerEngine:
		return "engine"
	}
	return "<undefined>"
}

type ErrUnknownBuffer struct {
	Header *Header
}

func (e ErrUnknownBuffer) Error() string {
	return fmt.Sprintf("buffer %s is not registered on this port", e.Header)
}

type ErrAlreadyRegistered struct {
	Header *Header
}

func (e ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("buffer %s is already registered on this port", e.Header)
}

type ErrWrongOwner struct {
	Header   *Header
	Expected Owner
	Actual   Owner
}

func (e ErrWrongOwner) Error() string {
	return fmt.Sprintf("buffer %s is owned by %s, expected %s", e.Header, e.Actual, e.Expected)
}

type registryEntry struct {
	Owner Owner
	Slot  int
}

// Registry maps buffer headers to their owner and slot index. It is not
// safe for concurrent use: the port lock guards it.
type Registry struct {
	entries   map[*Header]*registryEntry
	slots     []*Header
	freeSlots []int
}

func NewRegistry(capacityHint uint32) *Registry {
	return &Registry{
		entries: make(map[*Header]*registryEntry, capacityHint),
		slots:   make([]*Header, 0, capacityHint),
	}
}

// Register adds a host-owned buffer and returns its slot index.
func (r *Registry) Register(h *Header) (int, error) {
	if _, ok := r.entries[h]; ok {
		return -1, ErrAlreadyRegistered{Header: h}
	}
	var slot int
	if n := len(r.freeSlots); n > 0 {
		slot = r.freeSlots[n-1]
		r.freeSlots = r.freeSlots[:n-1]
		r.slots[slot] = h
	} else {
		slot = len(r.slots)
		r.slots = append(r.slots, h)
	}
	r.entries[h] = &registryEntry{
		Owner: OwnerHost,
		Slot:  slot,
	}
	return slot, nil
}

// Unregister removes a buffer; the buffer must be host-owned.
func (r *Registry) Unregister(h *Header) error {
	entry, ok := r.entries[h]
	if !ok {
		return ErrUnknownBuffer{Header: h}
	}
	if entry.Owner != OwnerHost {
		return ErrWrongOwner{Header: h, Expected: OwnerHost, Actual: entry.Owner}
	}
	delete(r.entries, h)
	r.slots[entry.Slot] = nil
	r.freeSlots = append(r.freeSlots, entry.Slot)
	return nil
}

// Acquire flips the buffer from host to engine ownership.
func (r *Registry) Acquire(h *Header) error {
	return r.flip(h, OwnerHost, OwnerEngine)
}

// Release flips the buffer from engine to host ownership.
func (r *Registry) Release(h *Header) error {
	return r.flip(h, OwnerEngine, OwnerHost)
}

func (r *Registry) flip(h *Header, from, to Owner) error {
	entry, ok := r.entries[h]
	if !ok {
		return ErrUnknownBuffer{Header: h}
	}
	if entry.Owner != from {
		return ErrWrongOwner{Header: h, Expected: from, Actual: entry.Owner}
	}
	entry.Owner = to
	return nil
}

func (r *Registry) Owner(h *Header) Owner {
	entry, ok := r.entries[h]
	if !ok {
		return UndefinedOwner
	}
	return entry.Owner
}

func (r *Registry) Slot(h *Header) (int, bool) {
	entry, ok := r.entries[h]
	if !ok {
		return -1, false
	}
	return entry.Slot, true
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Owned returns the buffers currently owned by the given side, in slot order.
func (r *Registry) Owned(owner Owner) []*Header {
	var result []*Header
	for _, h := range r.slots {
		if h == nil {
			continue
		}
		if r.entries[h].Owner == owner {
			result = append(result, h)
		}
	}
	return result
}

func (r *Registry) CountOwned(owner Owner) int {
	count := 0
	for _, entry := range r.entries {
		if entry.Owner == owner {
			count++
		}
	}
	return count
}
