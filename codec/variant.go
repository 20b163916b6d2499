package codec

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
)

// Variant is the per-codec behavior the engine delegates to.
type Variant interface {
	fmt.Stringer

	Name() Name
	Kind() Kind
	ID() ID
	Quirks() Quirks

	// DestinationTrigger tells when the destination direction may be set up.
	DestinationTrigger() Trigger

	// DefaultPortDefinitions returns the definitions of the input and the
	// output port of a freshly created component.
	DefaultPortDefinitions() [types.NumPorts]params.PortDefinition

	// Open prepares the bridge on Loaded->Idle.
	Open(ctx context.Context, bridge codecbridge.CodecBridge, defs [types.NumPorts]params.PortDefinition) error

	// Close releases the bridge side on Idle->Loaded.
	Close(ctx context.Context, bridge codecbridge.CodecBridge) error

	// SourceSetup is called with the first input that carries payload and
	// until it succeeds. It returns the geometry of the output.
	SourceSetup(
		ctx context.Context,
		bridge codecbridge.CodecBridge,
		data *buffer.Data,
		defs [types.NumPorts]params.PortDefinition,
	) (types.Geometry, error)
}

type variantCommons struct {
	id     ID
	quirks Quirks
}

func (v *variantCommons) ID() ID {
	return v.id
}

func (v *variantCommons) Quirks() Quirks {
	return v.quirks
}

func (v *variantCommons) Open(
	ctx context.Context,
	bridge codecbridge.CodecBridge,
	defs [types.NumPorts]params.PortDefinition,
) error {
	for _, idx := range []types.PortIndex{types.PortIndexInput, types.PortIndexOutput} {
		def := defs[idx]
		if def.Video.Geometry.Width == 0 {
			continue
		}
		if err := bridge.SetGeometry(ctx, idx.Direction(), def.Video.Geometry); err != nil {
			return fmt.Errorf("unable to set the %s geometry: %w", idx.Direction(), err)
		}
	}
	return nil
}

func (v *variantCommons) Close(
	ctx context.Context,
	bridge codecbridge.CodecBridge,
) error {
	var errs []error
	for _, dir := range []types.Direction{types.DirectionInput, types.DirectionOutput} {
		if err := bridge.Stop(ctx, dir); err != nil {
			errs = append(errs, err)
		}
		if err := bridge.Setup(ctx, dir, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("unable to release the bridge: %w", err)
	}
	return nil
}

func defaultPortDefinitions(
	compressedDir types.Direction,
	id ID,
) [types.NumPorts]params.PortDefinition {
	rawGeom := types.Geometry{
		Resolution:  types.Resolution{Width: 320, Height: 240},
		PixelFormat: types.PixelFormatNV12,
	}
	rawGeom.Crop = rawGeom.Resolution.FullCrop()
	var defs [types.NumPorts]params.PortDefinition
	for _, idx := range []types.PortIndex{types.PortIndexInput, types.PortIndexOutput} {
		def := params.PortDefinition{
			PortIndex:         idx,
			Direction:         idx.Direction(),
			BufferCountActual: 4,
			BufferCountMin:    2,
			Enabled:           true,
		}
		if idx.Direction() == compressedDir {
			def.BufferSize = 1 << 20
			def.Video.MIMEType = id.MIMEType()
			def.Video.Compression = string(id)
		} else {
			def.Video.MIMEType = MIMERawVideo
			def.Video.Geometry = rawGeom
			def.BufferSize = rawGeom.FrameSize()
		}
		defs[idx] = def
	}
	return defs
}
