// data.go defines the working unit passed between pipeline stages.

package buffer

import (
	"github.com/xaionaro-go/avcomponent/types"
)

// Data is the transient unit a pipeline stage works on. Header is nil
// while the data is not matched to a host buffer (e.g. header probing).
type Data struct {
	Planes       [][]byte
	FDs          []int
	Sizes        []uint32
	Length       uint32
	UsedLength   uint32
	RemainLength uint32
	Flags        types.BufferFlags
	Timestamp    int64
	Header       *Header
}

// FromHeader fills the data from the filled part of the header.
func (d *Data) FromHeader(h *Header) {
	d.Reset()
	d.Header = h
	d.Flags = h.Flags
	d.Timestamp = h.Timestamp
	d.Length = h.FilledLen
	d.RemainLength = h.FilledLen
	for idx, p := range h.Planes {
		data := p.Data
		if idx == 0 {
			data = h.Payload()
		}
		d.Planes = append(d.Planes, data)
		d.FDs = append(d.FDs, p.FD)
		d.Sizes = append(d.Sizes, uint32(len(p.Data)))
	}
}

// Lengths returns the used length per plane, as the bridge expects it.
func (d *Data) Lengths() []uint32 {
	lengths := make([]uint32, len(d.Planes))
	for idx, p := range d.Planes {
		lengths[idx] = uint32(len(p))
	}
	return lengths
}

func (d *Data) Reset() {
	d.Planes = d.Planes[:0]
	d.FDs = d.FDs[:0]
	d.Sizes = d.Sizes[:0]
	d.Length = 0
	d.UsedLength = 0
	d.RemainLength = 0
	d.Flags = 0
	d.Timestamp = 0
	d.Header = nil
}
