// header.go defines the host-visible buffer handle.

// Package buffer contains the buffer handle exchanged with the host, the
// ownership registry of a port, the tag table used to carry timestamps and
// flags through the hardware, and the transient data unit of the pipeline.
package buffer

import (
	"fmt"
	"unsafe"

	"github.com/xaionaro-go/avcomponent/types"
)

// HeaderStructSize is the value a well-formed Header carries in StructSize.
var HeaderStructSize = uint32(unsafe.Sizeof(Header{}))

// Plane is one memory plane of a buffer. FD is -1 for plain memory.
type Plane struct {
	Data []byte
	FD   int
}

// Header is the handle the host and the component exchange. Its identity
// (the pointer) is what the ownership registry tracks. The port index that
// does not apply to the header is set to PortIndexAll.
type Header struct {
	StructSize      uint32
	InputPortIndex  types.PortIndex
	OutputPortIndex types.PortIndex

	Planes    []Plane
	AllocLen  uint32
	FilledLen uint32
	Offset    uint32
	Flags     types.BufferFlags
	Timestamp int64

	// AppPrivate is owned by the host and never touched by the component.
	AppPrivate any

	// allocatedByComponent is true for headers created by AllocateBuffer.
	allocatedByComponent bool
}

// NewHeader builds a header for the given port over the given planes.
func NewHeader(
	portIndex types.PortIndex,
	appPrivate any,
	allocatedByComponent bool,
	planes ...Plane,
) *Header {
	h := &Header{
		StructSize:           HeaderStructSize,
		InputPortIndex:       types.PortIndexAll,
		OutputPortIndex:      types.PortIndexAll,
		Planes:               planes,
		AppPrivate:           appPrivate,
		allocatedByComponent: allocatedByComponent,
	}
	switch portIndex {
	case types.PortIndexInput:
		h.InputPortIndex = portIndex
	case types.PortIndexOutput:
		h.OutputPortIndex = portIndex
	}
	for _, p := range planes {
		h.AllocLen += uint32(len(p.Data))
	}
	return h
}

func (h *Header) GetObjectID() types.ObjectID {
	return types.GetObjectID(h)
}

func (h *Header) String() string {
	if h == nil {
		return "Header(nil)"
	}
	return fmt.Sprintf("Header(%s, len:%d/%d, flags:%s, ts:%d)", h.GetObjectID(), h.FilledLen, h.AllocLen, h.Flags, h.Timestamp)
}

// IsAllocatedByComponent returns true if the payload memory belongs to the
// component (AllocateBuffer) rather than to the host (UseBuffer).
func (h *Header) IsAllocatedByComponent() bool {
	return h.allocatedByComponent
}

// Payload returns the filled part of the first plane.
func (h *Header) Payload() []byte {
	if len(h.Planes) == 0 {
		return nil
	}
	data := h.Planes[0].Data
	end := h.Offset + h.FilledLen
	if end > uint32(len(data)) || h.Offset > end {
		return nil
	}
	return data[h.Offset:end]
}

// ResetForReturn clears everything describing the payload; used when a
// buffer is returned without being processed.
func (h *Header) ResetForReturn() {
	h.FilledLen = 0
	h.Offset = 0
	h.Flags &^= types.BufferFlagsPayload
	h.Timestamp = 0
}

// Validate checks the header belongs to the given port and is well-formed.
func (h *Header) Validate(portIndex types.PortIndex) error {
	if h == nil {
		return types.Errorf(types.ErrorCodeBadParameter, "the buffer header is nil")
	}
	if h.StructSize != HeaderStructSize {
		return types.Errorf(types.ErrorCodeBadParameter, "invalid struct size of the buffer header: %d != %d", h.StructSize, HeaderStructSize)
	}
	switch portIndex {
	case types.PortIndexInput:
		if h.InputPortIndex != portIndex {
			return types.Errorf(types.ErrorCodeBadParameter, "the buffer header belongs to input port %d, not %d", h.InputPortIndex, portIndex)
		}
	case types.PortIndexOutput:
		if h.OutputPortIndex != portIndex {
			return types.Errorf(types.ErrorCodeBadParameter, "the buffer header belongs to output port %d, not %d", h.OutputPortIndex, portIndex)
		}
	default:
		return types.Errorf(types.ErrorCodeBadPortIndex, "invalid port index %d", portIndex)
	}
	return nil
}
