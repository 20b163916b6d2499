package codec

import (
	"context"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
)

// Encoder consumes raw frames on the input port and produces a bitstream.
type Encoder struct {
	variantCommons
}

var _ Variant = (*Encoder)(nil)

func NewEncoder(id ID) *Encoder {
	return &Encoder{
		variantCommons: variantCommons{
			id: id,
		},
	}
}

func (e *Encoder) String() string {
	return string(e.Name())
}

func (e *Encoder) Name() Name {
	return NewName(KindEncoder, e.id)
}

func (*Encoder) Kind() Kind {
	return KindEncoder
}

func (*Encoder) DestinationTrigger() Trigger {
	return TriggerFirstFrame
}

func (e *Encoder) DefaultPortDefinitions() [types.NumPorts]params.PortDefinition {
	return defaultPortDefinitions(types.DirectionOutput, e.id)
}

// SourceSetup pushes the geometry of the raw input to the device; the
// bitstream side gets the same resolution.
func (e *Encoder) SourceSetup(
	ctx context.Context,
	bridge codecbridge.CodecBridge,
	data *buffer.Data,
	defs [types.NumPorts]params.PortDefinition,
) (_ret types.Geometry, _err error) {
	logger.Debugf(ctx, "SourceSetup")
	defer func() { logger.Debugf(ctx, "/SourceSetup: %v %v", _ret, _err) }()

	inGeom := defs[types.PortIndexInput].Video.Geometry
	if err := bridge.SetGeometry(ctx, types.DirectionInput, inGeom); err != nil {
		return types.Geometry{}, codecbridge.ErrHardware{Err: err}
	}
	outGeom := types.Geometry{
		Resolution:     inGeom.Resolution,
		Crop:           inGeom.Crop,
		MinBufferCount: defs[types.PortIndexOutput].BufferCountMin,
		PlaneSizes:     []uint32{defs[types.PortIndexOutput].BufferSize},
	}
	if err := bridge.SetGeometry(ctx, types.DirectionOutput, outGeom); err != nil {
		return types.Geometry{}, codecbridge.ErrHardware{Err: err}
	}
	return outGeom, nil
}
