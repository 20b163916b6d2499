// Package loopback implements a pass-through codec on top of the software
// queue device. Its bitstream is trivial: a header packet declares the
// geometry, every other packet is a frame that is copied to the output as
// is. A header packet in the middle of the stream announces a new geometry.
//
// Header packet layout (big-endian):
//
//	"LBK1" | width u32 | height u32 | min-buffer-count u32 [| crop left, top, width, height u32]
//
// A frame starting with "BAD!" is corrupted, a frame starting with "IDR:"
// is a sync frame.
package loopback

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/codecbridge/queuedevice"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/typing"
)

const (
	headerSize         = 16
	headerWithCropSize = headerSize + 16
)

var (
	HeaderMagic     = []byte("LBK1")
	CorruptedMarker = []byte("BAD!")
	SyncMarker      = []byte("IDR:")
)

const (
	ParameterBitrate       = "bitrate"
	ParameterFramerate     = "framerate"
	ParameterProfile       = "profile"
	ParameterLevel         = "level"
	ParameterLowLatency    = "low_latency"
	ParameterThumbnailMode = "thumbnail_mode"
)

type Processor struct {
	PixelFormat types.PixelFormat
}

var _ queuedevice.Processor = (*Processor)(nil)

// New returns a loopback codec device.
func New() *queuedevice.Device {
	return queuedevice.New("loopback", &Processor{PixelFormat: types.PixelFormatNV12})
}

func IsHeader(data []byte) bool {
	return bytes.HasPrefix(data, HeaderMagic)
}

// EncodeHeader builds a header packet for the geometry. The crop rectangle
// is included only if it differs from the full frame.
func EncodeHeader(geom types.Geometry) []byte {
	size := headerSize
	hasCrop := geom.Crop != (types.Crop{}) && geom.Crop != geom.Resolution.FullCrop()
	if hasCrop {
		size = headerWithCropSize
	}
	buf := make([]byte, size)
	copy(buf, HeaderMagic)
	binary.BigEndian.PutUint32(buf[4:], geom.Width)
	binary.BigEndian.PutUint32(buf[8:], geom.Height)
	binary.BigEndian.PutUint32(buf[12:], geom.MinBufferCount)
	if hasCrop {
		binary.BigEndian.PutUint32(buf[16:], geom.Crop.Left)
		binary.BigEndian.PutUint32(buf[20:], geom.Crop.Top)
		binary.BigEndian.PutUint32(buf[24:], geom.Crop.Width)
		binary.BigEndian.PutUint32(buf[28:], geom.Crop.Height)
	}
	return buf
}

func (p *Processor) decodeHeader(data []byte) (types.Geometry, error) {
	if !IsHeader(data) {
		return types.Geometry{}, codecbridge.ErrCorruptedHeader{Err: fmt.Errorf("no header magic")}
	}
	if len(data) != headerSize && len(data) != headerWithCropSize {
		return types.Geometry{}, codecbridge.ErrCorruptedHeader{Err: fmt.Errorf("invalid header size %d", len(data))}
	}
	geom := types.Geometry{
		Resolution: types.Resolution{
			Width:  binary.BigEndian.Uint32(data[4:]),
			Height: binary.BigEndian.Uint32(data[8:]),
		},
		MinBufferCount: binary.BigEndian.Uint32(data[12:]),
		PixelFormat:    p.PixelFormat,
	}
	if geom.Width == 0 || geom.Height == 0 {
		return types.Geometry{}, codecbridge.ErrCorruptedHeader{Err: fmt.Errorf("zero resolution %s", geom.Resolution)}
	}
	geom.Stride = geom.Width
	geom.SliceHeight = geom.Height
	geom.Crop = geom.Resolution.FullCrop()
	if len(data) == headerWithCropSize {
		geom.Crop = types.Crop{
			Left:   binary.BigEndian.Uint32(data[16:]),
			Top:    binary.BigEndian.Uint32(data[20:]),
			Width:  binary.BigEndian.Uint32(data[24:]),
			Height: binary.BigEndian.Uint32(data[28:]),
		}
	}
	return geom, nil
}

func (p *Processor) ProbeHeader(ctx context.Context, data []byte) (types.Geometry, error) {
	if len(data) < headerSize && bytes.HasPrefix(HeaderMagic, data[:min(len(data), len(HeaderMagic))]) {
		return types.Geometry{}, codecbridge.ErrNeedMoreData{}
	}
	return p.decodeHeader(data)
}

func (p *Processor) Process(
	ctx context.Context,
	geom types.Geometry,
	data []byte,
) ([]queuedevice.Frame, error) {
	if IsHeader(data) {
		newGeom, err := p.decodeHeader(data)
		if err != nil {
			return nil, codecbridge.ErrCorruptedFrame{Err: err}
		}
		return []queuedevice.Frame{{Geometry: typing.Opt(newGeom)}}, nil
	}
	if bytes.HasPrefix(data, CorruptedMarker) {
		return nil, codecbridge.ErrCorruptedFrame{Err: fmt.Errorf("the frame is marked as corrupted")}
	}
	var status codecbridge.Status
	if bytes.HasPrefix(data, SyncMarker) {
		status |= codecbridge.StatusSync
	}
	return []queuedevice.Frame{{Payload: data, Status: status}}, nil
}

func (p *Processor) Parameters() map[string]any {
	return map[string]any{
		ParameterBitrate:       uint32(0),
		ParameterFramerate:     float64(30),
		ParameterProfile:       uint32(0),
		ParameterLevel:         uint32(0),
		ParameterLowLatency:    false,
		ParameterThumbnailMode: false,
	}
}
