// Package codecbridge defines the boundary between the component engine and
// a stateful codec device that consumes and produces buffers through its own
// queue/dequeue interface.
package codecbridge

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avcomponent/types"
)

// Tag is the key of the timestamp/flag slot an input buffer carries through
// the device; the device copies it from the consumed input to the produced
// output.
type Tag uint32

// Request is a buffer handed to the device. ID identifies the buffer in the
// Result that gives it back.
type Request struct {
	ID      uint64
	Planes  [][]byte
	FDs     []int
	Sizes   []uint32
	Lengths []uint32
	Tag     Tag
	Flags   types.BufferFlags
}

func (r *Request) String() string {
	return fmt.Sprintf("Request(id:%d, tag:%d, lengths:%v, flags:%s)", r.ID, r.Tag, r.Lengths, r.Flags)
}

// Result is a buffer the device is done with.
type Result struct {
	ID      uint64
	Tag     Tag
	Lengths []uint32
	Status  Status
}

func (r *Result) String() string {
	return fmt.Sprintf("Result(id:%d, tag:%d, lengths:%v, status:%s)", r.ID, r.Tag, r.Lengths, r.Status)
}

// TotalLength is the sum of the per-plane lengths.
func (r *Result) TotalLength() uint32 {
	var total uint32
	for _, l := range r.Lengths {
		total += l
	}
	return total
}

// CodecBridge is implemented by codec device drivers.
//
// Dequeue blocks until a buffer of the direction is done, the direction is
// cleared (ErrQueueCleared) or stopped (ErrStopped), or ctx is done.
type CodecBridge interface {
	fmt.Stringer
	types.Closer

	SetGeometry(ctx context.Context, dir types.Direction, geom types.Geometry) error
	GetGeometry(ctx context.Context, dir types.Direction) (types.Geometry, error)

	// ProbeHeader parses stream headers out of the data and returns the
	// geometry they declare. ErrCorruptedHeader means the data is not a
	// valid header; ErrNeedMoreData means the headers are incomplete.
	ProbeHeader(ctx context.Context, data []byte) (types.Geometry, error)

	Setup(ctx context.Context, dir types.Direction, count uint32) error
	Enqueue(ctx context.Context, dir types.Direction, req *Request) error
	Dequeue(ctx context.Context, dir types.Direction) (*Result, error)
	Run(ctx context.Context, dir types.Direction) error
	Stop(ctx context.Context, dir types.Direction) error
	ClearQueue(ctx context.Context, dir types.Direction) error

	GetParameter(ctx context.Context, name string) (any, error)
	SetParameter(ctx context.Context, name string, value any) error
}

// Drainer is implemented by bridges whose device may hold decoded frames
// back: Drain makes the device produce everything it holds without any
// further input.
type Drainer interface {
	Drain(ctx context.Context) error
}

// OutputReclaimer is implemented by bridges able to give back the output
// buffers they hold while having nothing to fill them with.
type OutputReclaimer interface {
	// ReclaimIdleOutputs forgets the queued output buffers and returns their
	// IDs if every produced frame was already dequeued; otherwise it does
	// nothing and returns false.
	ReclaimIdleOutputs(ctx context.Context) ([]uint64, bool)
}
