package queuedevice

import (
	"context"

	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/typing"
)

// Frame is a unit produced by a Processor for the output direction.
type Frame struct {
	Payload []byte
	Status  codecbridge.Status

	// Geometry is set when the frame announces a new output geometry.
	Geometry typing.Optional[types.Geometry]
}

// Processor is the codec logic plugged into a Device.
type Processor interface {
	// ProbeHeader parses the stream headers.
	ProbeHeader(ctx context.Context, data []byte) (types.Geometry, error)

	// Process consumes one input payload and returns the produced frames.
	// It is called synchronously from Enqueue, so its errors are returned
	// to the enqueuer.
	Process(ctx context.Context, geom types.Geometry, data []byte) ([]Frame, error)

	// Parameters returns the codec parameters the processor understands
	// with their default values.
	Parameters() map[string]any
}

// ParameterSetter may be implemented by a Processor to observe codec
// parameter changes.
type ParameterSetter interface {
	SetParameter(ctx context.Context, name string, value any) error
}

// Flusher may be implemented by a Processor to drop its internal state when
// the input queue is cleared.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Drainer may be implemented by a Processor holding frames back (e.g. for
// reordering): Drain is called on an EOS input and returns every frame
// still held, leaving the processor ready for a new stream.
type Drainer interface {
	Drain(ctx context.Context) ([]Frame, error)
}
