// structs.go defines the structures passed through the parameter calls.

package params

import (
	"fmt"

	"github.com/xaionaro-go/avcomponent/types"
)

type VideoPortDefinition struct {
	MIMEType    string
	Geometry    types.Geometry
	Bitrate     uint32
	Framerate   float64
	Compression string
}

type PortDefinition struct {
	PortIndex         types.PortIndex
	Direction         types.Direction
	BufferCountActual uint32
	BufferCountMin    uint32
	BufferSize        uint32
	Enabled           bool
	Populated         bool
	Video             VideoPortDefinition
}

func (def PortDefinition) String() string {
	return fmt.Sprintf(
		"PortDefinition(%s, bufs:%d/%d x %d, enabled:%t, populated:%t, %s %s)",
		def.PortIndex, def.BufferCountActual, def.BufferCountMin, def.BufferSize,
		def.Enabled, def.Populated, def.Video.MIMEType, def.Video.Geometry,
	)
}

// Validate checks the host-settable part of the definition.
func (def PortDefinition) Validate() error {
	if def.BufferCountActual < def.BufferCountMin {
		return types.Errorf(
			types.ErrorCodeBadParameter,
			"BufferCountActual (%d) is less than BufferCountMin (%d)",
			def.BufferCountActual, def.BufferCountMin,
		)
	}
	if def.BufferSize == 0 {
		return types.Errorf(types.ErrorCodeBadParameter, "BufferSize is zero")
	}
	return nil
}

type VideoPortFormat struct {
	PortIndex   types.PortIndex
	Compression string
	PixelFormat types.PixelFormat
	Framerate   float64
}

type ComponentRole struct {
	Role string
}

type Bitrate struct {
	PortIndex   types.PortIndex
	Target      uint32
	ControlRate string
}

type ProfileLevel struct {
	PortIndex types.PortIndex
	Profile   uint32
	Level     uint32
}

type Framerate struct {
	PortIndex types.PortIndex
	FPS       float64
}

type OutputCrop struct {
	PortIndex types.PortIndex
	Crop      types.Crop
}

type LowLatency struct {
	Enable bool
}

type ThumbnailMode struct {
	Enable bool
}

// CodecParameter passes a named codec parameter through to the bridge
// (Get/Set_<codec-parameter> of the hardware driver).
type CodecParameter struct {
	Name  string
	Value any
}
