// pixel_format.go defines the PixelFormat type used by port definitions.

package types

type PixelFormat string

func (pf PixelFormat) String() string {
	return string(pf)
}

const (
	PixelFormatUnknown PixelFormat = "unknown"
	PixelFormatNV12    PixelFormat = "nv12"
	PixelFormatNV21    PixelFormat = "nv21"
	PixelFormatYUV420P PixelFormat = "yuv420p"
	PixelFormatRGBA    PixelFormat = "rgba"
	PixelFormatBGRA    PixelFormat = "bgra"
)

// FrameSize returns the byte size of a frame of the given stride and slice height.
func (pf PixelFormat) FrameSize(stride, sliceHeight uint32) uint32 {
	switch pf {
	case PixelFormatNV12, PixelFormatNV21, PixelFormatYUV420P:
		return stride * sliceHeight * 3 / 2
	case PixelFormatRGBA, PixelFormatBGRA:
		return stride * sliceHeight * 4
	}
	return stride * sliceHeight
}
