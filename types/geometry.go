// geometry.go defines frame geometry: size, crop rectangle, and the buffer layout derived from them.

package types

import (
	"fmt"
)

type Resolution struct {
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r *Resolution) Parse(s string) error {
	_, err := fmt.Sscanf(s, "%dx%d", &r.Width, &r.Height)
	if err != nil {
		return fmt.Errorf("unable to parse resolution '%s': %w", s, err)
	}
	return nil
}

// Crop is the visible rectangle inside a frame.
type Crop struct {
	Left   uint32 `yaml:"left"`
	Top    uint32 `yaml:"top"`
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

func (c Crop) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", c.Width, c.Height, c.Left, c.Top)
}

// Geometry is what the hardware learns about the stream from its headers.
type Geometry struct {
	Resolution
	Crop           Crop
	PixelFormat    PixelFormat
	Stride         uint32
	SliceHeight    uint32
	MinBufferCount uint32
	PlaneSizes     []uint32
}

func (g Geometry) String() string {
	return fmt.Sprintf("%s(crop:%s, fmt:%s, min-bufs:%d)", g.Resolution, g.Crop, g.PixelFormat, g.MinBufferCount)
}

// FrameSize is the total amount of bytes of a frame over all planes.
func (g Geometry) FrameSize() uint32 {
	if len(g.PlaneSizes) > 0 {
		var total uint32
		for _, s := range g.PlaneSizes {
			total += s
		}
		return total
	}
	stride := g.Stride
	if stride == 0 {
		stride = g.Width
	}
	sliceHeight := g.SliceHeight
	if sliceHeight == 0 {
		sliceHeight = g.Height
	}
	return g.PixelFormat.FrameSize(stride, sliceHeight)
}

// IsCropOnlyChangeOf returns true if g differs from old only by the crop rectangle.
func (g Geometry) IsCropOnlyChangeOf(old Geometry) bool {
	return g.Resolution == old.Resolution && g.Crop != old.Crop
}

// FullCrop returns the crop rectangle that covers the whole frame.
func (r Resolution) FullCrop() Crop {
	return Crop{Width: r.Width, Height: r.Height}
}
