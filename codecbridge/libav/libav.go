// Package libav implements a codec bridge on top of a libav decoder,
// optionally running on a hardware device context. The queue model is
// provided by queuedevice; this package supplies the codec logic.
package libav

import (
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/codecbridge/queuedevice"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xsync"
)

const (
	ParameterLowLatency  = "low_latency"
	ParameterThreadCount = "threads"
)

type Config struct {
	// CodecName is the libav decoder name (e.g. "h264", "h264_cuvid").
	CodecName          string
	HardwareDeviceType types.HardwareDeviceType
	HardwareDeviceName types.HardwareDeviceName
}

type Processor struct {
	Config Config

	locker                xsync.Mutex
	closer                *astikit.Closer
	codec                 *astiav.Codec
	codecContext          *astiav.CodecContext
	hardwareDeviceContext *astiav.HardwareDeviceContext
	lowLatency            bool
	threadCount           int
	pts                   int64
}

var (
	_ queuedevice.Processor       = (*Processor)(nil)
	_ queuedevice.ParameterSetter = (*Processor)(nil)
	_ queuedevice.Flusher         = (*Processor)(nil)
	_ queuedevice.Drainer         = (*Processor)(nil)
	_ types.Closer                = (*Processor)(nil)
)

// New returns a codec device decoding with libav.
func New(ctx context.Context, cfg Config) (_ret *queuedevice.Device, _err error) {
	logger.Debugf(ctx, "New(%#+v)", cfg)
	defer func() { logger.Debugf(ctx, "/New(%#+v): %v", cfg, _err) }()
	p, err := NewProcessor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return queuedevice.New(fmt.Sprintf("libav:%s", cfg.CodecName), p), nil
}

func NewProcessor(ctx context.Context, cfg Config) (*Processor, error) {
	codec := astiav.FindDecoderByName(cfg.CodecName)
	if codec == nil {
		return nil, fmt.Errorf("unable to find decoder '%s'", cfg.CodecName)
	}
	p := &Processor{
		Config: cfg,
		closer: astikit.NewCloser(),
		codec:  codec,
	}
	if err := p.open(ctx); err != nil {
		return nil, errors.Join(err, p.closer.Close())
	}
	return p, nil
}

func (p *Processor) open(ctx context.Context) (_err error) {
	ctx = belt.WithField(ctx, "codec_id", p.codec.ID())
	logger.Tracef(ctx, "open")
	defer func() { logger.Tracef(ctx, "/open: %v", _err) }()

	p.codecContext = astiav.AllocCodecContext(p.codec)
	if p.codecContext == nil {
		return fmt.Errorf("unable to allocate codec context")
	}
	codecContext := p.codecContext
	p.closer.Add(codecContext.Free)

	if p.lowLatency {
		codecContext.SetFlags(codecContext.Flags() | astiav.CodecContextFlags(astiav.CodecContextFlagLowDelay))
	}
	if p.threadCount > 0 {
		codecContext.SetThreadCount(p.threadCount)
	}

	if p.Config.HardwareDeviceType != types.HardwareDeviceTypeNone {
		if p.hardwareDeviceContext == nil {
			hwCtx, err := astiav.CreateHardwareDeviceContext(
				astiav.HardwareDeviceType(p.Config.HardwareDeviceType),
				string(p.Config.HardwareDeviceName),
				nil,
				0,
			)
			if err != nil {
				return fmt.Errorf("unable to create hardware (%s:%s) device context: %w", p.Config.HardwareDeviceType, p.Config.HardwareDeviceName, err)
			}
			p.hardwareDeviceContext = hwCtx
			p.closer.Add(hwCtx.Free)
		}
		codecContext.SetHardwareDeviceContext(p.hardwareDeviceContext)
	}

	if err := codecContext.Open(p.codec, nil); err != nil {
		return fmt.Errorf("unable to open the codec context: %w", err)
	}
	return nil
}

func (p *Processor) ProbeHeader(
	ctx context.Context,
	data []byte,
) (types.Geometry, error) {
	return xsync.DoR2(ctx, &p.locker, func() (types.Geometry, error) {
		frames, err := p.decodeLocked(ctx, data)
		if err != nil {
			return types.Geometry{}, codecbridge.ErrCorruptedHeader{Err: err}
		}
		if len(frames) > 0 && frames[0].Geometry.IsSet() {
			return frames[0].Geometry.Get(), nil
		}
		if p.codecContext.Width() == 0 || p.codecContext.Height() == 0 {
			return types.Geometry{}, codecbridge.ErrNeedMoreData{}
		}
		return p.geometryOf(p.codecContext.Width(), p.codecContext.Height(), p.codecContext.PixelFormat()), nil
	})
}

func (p *Processor) Process(
	ctx context.Context,
	geom types.Geometry,
	data []byte,
) ([]queuedevice.Frame, error) {
	return xsync.DoR2(ctx, &p.locker, func() ([]queuedevice.Frame, error) {
		frames, err := p.decodeLocked(ctx, data)
		if err != nil {
			return nil, codecbridge.ErrCorruptedFrame{Err: err}
		}
		return frames, nil
	})
}

// Drain makes the decoder give away the frames it still holds (e.g. for
// reordering) and resets it for the next stream.
func (p *Processor) Drain(ctx context.Context) (_ret []queuedevice.Frame, _err error) {
	logger.Debugf(ctx, "Drain")
	defer func() { logger.Debugf(ctx, "/Drain: %d %v", len(_ret), _err) }()
	return xsync.DoR2(ctx, &p.locker, func() ([]queuedevice.Frame, error) {
		if p.codecContext == nil {
			return nil, fmt.Errorf("the codec is closed")
		}
		if err := p.codecContext.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
			return nil, codecbridge.ErrCorruptedFrame{Err: fmt.Errorf("unable to send the drain packet: %w", err)}
		}
		frames, err := p.receiveLocked(ctx)
		p.codecContext.FlushBuffers()
		p.pts = 0
		if err != nil {
			return frames, codecbridge.ErrCorruptedFrame{Err: err}
		}
		return frames, nil
	})
}

func (p *Processor) geometryOf(
	width, height int,
	pixFmt astiav.PixelFormat,
) types.Geometry {
	res := types.Resolution{Width: uint32(width), Height: uint32(height)}
	return types.Geometry{
		Resolution:  res,
		Crop:        res.FullCrop(),
		PixelFormat: pixelFormatFromLibav(pixFmt),
		Stride:      res.Width,
		SliceHeight: res.Height,
	}
}

func (p *Processor) decodeLocked(
	ctx context.Context,
	data []byte,
) (_ret []queuedevice.Frame, _err error) {
	logger.Tracef(ctx, "decodeLocked(%d bytes)", len(data))
	defer func() { logger.Tracef(ctx, "/decodeLocked(%d bytes): %d %v", len(data), len(_ret), _err) }()
	if p.codecContext == nil {
		return nil, fmt.Errorf("the codec is closed")
	}

	pkt := packetPool.Get()
	defer packetPool.Put(pkt)
	if err := pkt.FromData(data); err != nil {
		return nil, fmt.Errorf("unable to fill the packet: %w", err)
	}
	pkt.SetPts(p.pts)
	p.pts++

	if err := p.codecContext.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("unable to send the packet: %w", err)
	}

	return p.receiveLocked(ctx)
}

func (p *Processor) receiveLocked(ctx context.Context) ([]queuedevice.Frame, error) {
	var result []queuedevice.Frame
	for {
		f := framePool.Get()
		err := p.codecContext.ReceiveFrame(f)
		if err != nil {
			framePool.Put(f)
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return result, nil
			}
			return result, fmt.Errorf("unable to receive a frame: %w", err)
		}
		frame, err := p.toFrame(ctx, f)
		framePool.Put(f)
		if err != nil {
			return result, err
		}
		result = append(result, frame)
	}
}

func (p *Processor) toFrame(
	ctx context.Context,
	f *astiav.Frame,
) (queuedevice.Frame, error) {
	src := f
	if p.hardwareDeviceContext != nil {
		swFrame := framePool.Get()
		defer framePool.Put(swFrame)
		if err := f.TransferHardwareData(swFrame); err != nil {
			return queuedevice.Frame{}, fmt.Errorf("unable to transfer the frame from the hardware: %w", err)
		}
		src = swFrame
	}
	payload, err := src.Data().Bytes(1)
	if err != nil {
		return queuedevice.Frame{}, fmt.Errorf("unable to get the frame data: %w", err)
	}
	var status codecbridge.Status
	if f.KeyFrame() {
		status |= codecbridge.StatusSync
	}
	logger.Tracef(ctx, "frame: %dx%d %s, %d bytes", src.Width(), src.Height(), src.PixelFormat(), len(payload))
	return queuedevice.Frame{
		Payload:  payload,
		Status:   status,
		Geometry: typing.Opt(p.geometryOf(src.Width(), src.Height(), src.PixelFormat())),
	}, nil
}

func (p *Processor) Parameters() map[string]any {
	return map[string]any{
		ParameterLowLatency:  false,
		ParameterThreadCount: 0,
	}
}

func (p *Processor) SetParameter(ctx context.Context, name string, value any) error {
	return xsync.DoR1(ctx, &p.locker, func() error {
		switch name {
		case ParameterLowLatency:
			v, ok := value.(bool)
			if !ok {
				return fmt.Errorf("expected bool, got %T", value)
			}
			p.lowLatency = v
			if p.codecContext != nil {
				flags := p.codecContext.Flags()
				if v {
					flags |= astiav.CodecContextFlags(astiav.CodecContextFlagLowDelay)
				} else {
					flags &= ^astiav.CodecContextFlags(astiav.CodecContextFlagLowDelay)
				}
				p.codecContext.SetFlags(flags)
			}
		case ParameterThreadCount:
			v, ok := value.(int)
			if !ok {
				return fmt.Errorf("expected int, got %T", value)
			}
			p.threadCount = v
		}
		return nil
	})
}

func (p *Processor) Flush(ctx context.Context) error {
	logger.Debugf(ctx, "Flush")
	return xsync.DoR1(ctx, &p.locker, func() error {
		if p.codecContext == nil {
			return fmt.Errorf("the codec is closed")
		}
		p.codecContext.FlushBuffers()
		return nil
	})
}

func (p *Processor) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	return xsync.DoR1(ctx, &p.locker, func() error {
		p.codecContext = nil
		p.hardwareDeviceContext = nil
		return p.closer.Close()
	})
}

func pixelFormatFromLibav(pixFmt astiav.PixelFormat) types.PixelFormat {
	switch pixFmt {
	case astiav.PixelFormatNv12:
		return types.PixelFormatNV12
	case astiav.PixelFormatNv21:
		return types.PixelFormatNV21
	case astiav.PixelFormatYuv420P:
		return types.PixelFormatYUV420P
	case astiav.PixelFormatRgba:
		return types.PixelFormatRGBA
	case astiav.PixelFormatBgra:
		return types.PixelFormatBGRA
	}
	return types.PixelFormatUnknown
}
