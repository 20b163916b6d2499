package codec

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
)

// Decoder consumes a bitstream on the input port and produces raw frames.
type Decoder struct {
	variantCommons
}

var _ Variant = (*Decoder)(nil)

func NewDecoder(id ID) *Decoder {
	return &Decoder{
		variantCommons: variantCommons{
			id:     id,
			quirks: id.DefaultQuirks(),
		},
	}
}

func (d *Decoder) String() string {
	return string(d.Name())
}

func (d *Decoder) Name() Name {
	return NewName(KindDecoder, d.id)
}

func (*Decoder) Kind() Kind {
	return KindDecoder
}

func (*Decoder) DestinationTrigger() Trigger {
	return TriggerHeaderParsed
}

func (d *Decoder) DefaultPortDefinitions() [types.NumPorts]params.PortDefinition {
	return defaultPortDefinitions(types.DirectionInput, d.id)
}

func (d *Decoder) SourceSetup(
	ctx context.Context,
	bridge codecbridge.CodecBridge,
	data *buffer.Data,
	defs [types.NumPorts]params.PortDefinition,
) (_ret types.Geometry, _err error) {
	logger.Debugf(ctx, "SourceSetup")
	defer func() { logger.Debugf(ctx, "/SourceSetup: %v %v", _ret, _err) }()

	if d.quirks.HasAny(QuirkNoHeaderParse) {
		geom := defs[types.PortIndexOutput].Video.Geometry
		if err := bridge.SetGeometry(ctx, types.DirectionOutput, geom); err != nil {
			return types.Geometry{}, codecbridge.ErrHardware{Err: err}
		}
		return geom, nil
	}

	if d.quirks.HasAny(QuirkParseCodecConfigOnly) && !data.Flags.HasAll(types.BufferFlagCodecConfig) {
		return types.Geometry{}, codecbridge.ErrNeedMoreData{}
	}

	var payload []byte
	if len(data.Planes) > 0 {
		payload = data.Planes[0]
	}
	geom, err := bridge.ProbeHeader(ctx, payload)
	if err != nil {
		return types.Geometry{}, fmt.Errorf("unable to parse the stream header: %w", err)
	}
	return geom, nil
}
