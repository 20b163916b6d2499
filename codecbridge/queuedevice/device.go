// Package queuedevice implements a software codec device with the queue
// model of stateful hardware codecs: each direction has a set of queued
// buffers and a list of done buffers, and Dequeue blocks until a buffer is
// done, the queue is cleared or the direction is stopped. The codec logic
// itself is a pluggable Processor.
package queuedevice

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/helpers/changesignal"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/pool"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/xsync"
)

type pendingFrame struct {
	Payload  *[]byte
	Status   codecbridge.Status
	Tag      codecbridge.Tag
	CropOnly bool
}

type direction struct {
	count         uint32
	running       bool
	clearGen      uint64
	queued        []*codecbridge.Request
	done          []*codecbridge.Result
	geometry      types.Geometry
	isGeomSet     bool
	failNext      error
	enqueuedTotal uint64

	// set after a resolution change was reported; the direction produces
	// nothing until it is set up again
	awaitingSetup bool
}

type Device struct {
	name         string
	processor    Processor
	locker       xsync.Mutex
	changeSignal *changesignal.ChangeSignal
	payloadPool  *pool.Pool[[]byte]
	directions   [2]direction
	pending      []pendingFrame
	lastTag      codecbridge.Tag
	parameters   map[string]any
	stalled      bool
	closed       bool
}

var (
	_ codecbridge.CodecBridge     = (*Device)(nil)
	_ codecbridge.Drainer         = (*Device)(nil)
	_ codecbridge.OutputReclaimer = (*Device)(nil)
)

func New(name string, processor Processor) *Device {
	d := &Device{
		name:         name,
		processor:    processor,
		changeSignal: changesignal.New(),
		payloadPool:  pool.NewBytesPool(4096),
		parameters:   map[string]any{},
	}
	for k, v := range processor.Parameters() {
		d.parameters[k] = v
	}
	return d
}

func (d *Device) String() string {
	return d.name
}

func (d *Device) lockCtx(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

func (d *Device) dir(dir types.Direction) *direction {
	return &d.directions[dir]
}

func checkDirection(dir types.Direction) error {
	switch dir {
	case types.DirectionInput, types.DirectionOutput:
		return nil
	}
	return types.Errorf(types.ErrorCodeBadParameter, "invalid direction %d", int(dir))
}

// Stall stops (or resumes) moving buffers through the device; queued
// buffers stay queued while stalled.
func (d *Device) Stall(ctx context.Context, stalled bool) {
	d.locker.Do(d.lockCtx(ctx), func() {
		d.stalled = stalled
		d.pumpLocked(ctx)
	})
	d.changeSignal.Broadcast()
}

// FailNextDequeue makes the next Dequeue of the direction return err.
func (d *Device) FailNextDequeue(ctx context.Context, dir types.Direction, err error) {
	d.locker.Do(d.lockCtx(ctx), func() {
		d.dir(dir).failNext = err
	})
	d.changeSignal.Broadcast()
}

// QueuedCount returns the amount of buffers of the direction the device
// holds (queued or done but not dequeued).
func (d *Device) QueuedCount(ctx context.Context, dir types.Direction) int {
	return xsync.DoR1(d.lockCtx(ctx), &d.locker, func() int {
		return len(d.dir(dir).queued) + len(d.dir(dir).done)
	})
}

// EnqueuedTotal returns how many buffers were ever enqueued to the direction.
func (d *Device) EnqueuedTotal(ctx context.Context, dir types.Direction) uint64 {
	return xsync.DoR1(d.lockCtx(ctx), &d.locker, func() uint64 {
		return d.dir(dir).enqueuedTotal
	})
}

func (d *Device) IsRunning(ctx context.Context, dir types.Direction) bool {
	return xsync.DoR1(d.lockCtx(ctx), &d.locker, func() bool {
		return d.dir(dir).running
	})
}

func (d *Device) SetGeometry(
	ctx context.Context,
	dir types.Direction,
	geom types.Geometry,
) error {
	if err := checkDirection(dir); err != nil {
		return err
	}
	d.locker.Do(d.lockCtx(ctx), func() {
		d.dir(dir).geometry = geom
		d.dir(dir).isGeomSet = true
	})
	return nil
}

func (d *Device) GetGeometry(
	ctx context.Context,
	dir types.Direction,
) (types.Geometry, error) {
	if err := checkDirection(dir); err != nil {
		return types.Geometry{}, err
	}
	return xsync.DoR2(d.lockCtx(ctx), &d.locker, func() (types.Geometry, error) {
		if !d.dir(dir).isGeomSet {
			return types.Geometry{}, fmt.Errorf("the geometry of the %s direction is not known yet", dir)
		}
		return d.dir(dir).geometry, nil
	})
}

func (d *Device) ProbeHeader(
	ctx context.Context,
	data []byte,
) (_ret types.Geometry, _err error) {
	logger.Debugf(ctx, "ProbeHeader(%d bytes)", len(data))
	defer func() { logger.Debugf(ctx, "/ProbeHeader: %v %v", _ret, _err) }()
	geom, err := d.processor.ProbeHeader(ctx, data)
	if err != nil {
		return types.Geometry{}, err
	}
	d.locker.Do(d.lockCtx(ctx), func() {
		out := d.dir(types.DirectionOutput)
		out.geometry = geom
		out.isGeomSet = true
	})
	return geom, nil
}

func (d *Device) Setup(
	ctx context.Context,
	dir types.Direction,
	count uint32,
) (_err error) {
	logger.Debugf(ctx, "Setup(%s, %d)", dir, count)
	defer func() { logger.Debugf(ctx, "/Setup(%s, %d): %v", dir, count, _err) }()
	if err := checkDirection(dir); err != nil {
		return err
	}
	return xsync.DoR1(d.lockCtx(ctx), &d.locker, func() error {
		if d.closed {
			return codecbridge.ErrHardware{Err: fmt.Errorf("the device is closed")}
		}
		s := d.dir(dir)
		if s.running {
			return types.Errorf(types.ErrorCodeIncorrectStateOperation, "the %s direction is running", dir)
		}
		d.releaseLocked(dir)
		s.count = count
		s.awaitingSetup = false
		return nil
	})
}

func (d *Device) releaseLocked(dir types.Direction) {
	s := d.dir(dir)
	s.queued = nil
	s.done = nil
	s.clearGen++
	if dir == types.DirectionInput {
		for _, f := range d.pending {
			d.payloadPool.Put(f.Payload)
		}
		d.pending = nil
	}
}

func (d *Device) Enqueue(
	ctx context.Context,
	dir types.Direction,
	req *codecbridge.Request,
) (_err error) {
	logger.Tracef(ctx, "Enqueue(%s, %s)", dir, req)
	defer func() { logger.Tracef(ctx, "/Enqueue(%s, %s): %v", dir, req, _err) }()
	if err := checkDirection(dir); err != nil {
		return err
	}
	err := xsync.DoR1(d.lockCtx(ctx), &d.locker, func() error {
		if d.closed {
			return codecbridge.ErrHardware{Err: fmt.Errorf("the device is closed")}
		}
		s := d.dir(dir)
		if s.count == 0 {
			return codecbridge.ErrNotSetUp{Direction: dir}
		}
		if uint32(len(s.queued)+len(s.done)) >= s.count {
			return codecbridge.ErrHardware{Err: fmt.Errorf("all %d buffers of the %s direction are already queued", s.count, dir)}
		}
		if dir == types.DirectionInput {
			if err := d.processLocked(ctx, req); err != nil {
				return err
			}
		}
		s.queued = append(s.queued, req)
		s.enqueuedTotal++
		d.pumpLocked(ctx)
		return nil
	})
	if err == nil {
		d.changeSignal.Broadcast()
	}
	return err
}

func (d *Device) processLocked(ctx context.Context, req *codecbridge.Request) error {
	var data []byte
	if len(req.Planes) > 0 {
		data = req.Planes[0]
		if len(req.Lengths) > 0 && int(req.Lengths[0]) <= len(data) {
			data = data[:req.Lengths[0]]
		}
	}
	var frames []Frame
	if len(data) > 0 {
		var err error
		frames, err = d.processor.Process(ctx, d.dir(types.DirectionOutput).geometry, data)
		if err != nil {
			return err
		}
	}
	if req.Flags.HasAll(types.BufferFlagEOS) {
		if drainer, ok := d.processor.(Drainer); ok {
			drained, err := drainer.Drain(ctx)
			if err != nil {
				return err
			}
			frames = append(frames, drained...)
		}
		if len(frames) == 0 {
			frames = append(frames, Frame{})
		}
		frames[len(frames)-1].Status |= codecbridge.StatusLastFrame
	}
	d.lastTag = req.Tag
	d.appendPendingLocked(frames, req.Tag)
	return nil
}

func (d *Device) appendPendingLocked(frames []Frame, tag codecbridge.Tag) {
	for _, f := range frames {
		status := f.Status
		var cropOnly bool
		if f.Geometry.IsSet() {
			out := d.dir(types.DirectionOutput)
			geom := f.Geometry.Get()
			if out.isGeomSet && !geometryEqual(geom, out.geometry) {
				status |= codecbridge.StatusResolutionChanged
				cropOnly = geom.IsCropOnlyChangeOf(out.geometry)
			}
			out.geometry = geom
			out.isGeomSet = true
		}
		if len(f.Payload) == 0 && status == 0 {
			continue
		}
		payload := d.payloadPool.Get()
		*payload = append(*payload, f.Payload...)
		d.pending = append(d.pending, pendingFrame{
			Payload:  payload,
			Status:   status,
			Tag:      tag,
			CropOnly: cropOnly,
		})
	}
}

// Drain makes a Drainer processor give away the frames it holds; they are
// attributed to the last input.
func (d *Device) Drain(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Drain")
	defer func() { logger.Debugf(ctx, "/Drain: %v", _err) }()
	drainer, ok := d.processor.(Drainer)
	if !ok {
		return nil
	}
	err := xsync.DoR1(d.lockCtx(ctx), &d.locker, func() error {
		if d.closed {
			return codecbridge.ErrHardware{Err: fmt.Errorf("the device is closed")}
		}
		frames, err := drainer.Drain(ctx)
		if err != nil {
			return err
		}
		d.appendPendingLocked(frames, d.lastTag)
		d.pumpLocked(ctx)
		return nil
	})
	d.changeSignal.Broadcast()
	return err
}

// ReclaimIdleOutputs drops the queued output buffers if nothing is pending
// and nothing is done but not dequeued on the output direction.
func (d *Device) ReclaimIdleOutputs(ctx context.Context) ([]uint64, bool) {
	ids, ok := xsync.DoR2(d.lockCtx(ctx), &d.locker, func() ([]uint64, bool) {
		out := d.dir(types.DirectionOutput)
		if len(d.pending) > 0 || len(out.done) > 0 {
			return nil, false
		}
		ids := make([]uint64, 0, len(out.queued))
		for _, req := range out.queued {
			ids = append(ids, req.ID)
		}
		out.queued = nil
		return ids, true
	})
	if len(ids) > 0 {
		d.changeSignal.Broadcast()
	}
	return ids, ok
}

func geometryEqual(a, b types.Geometry) bool {
	return a.Resolution == b.Resolution && a.Crop == b.Crop &&
		a.PixelFormat == b.PixelFormat && a.MinBufferCount == b.MinBufferCount
}

// pumpLocked moves buffers from queued to done as far as the running
// directions and the available output buffers allow.
func (d *Device) pumpLocked(ctx context.Context) {
	if d.stalled || d.closed {
		return
	}
	in := d.dir(types.DirectionInput)
	if in.running {
		for _, req := range in.queued {
			in.done = append(in.done, &codecbridge.Result{
				ID:      req.ID,
				Tag:     req.Tag,
				Lengths: make([]uint32, len(req.Planes)),
			})
		}
		in.queued = nil
	}

	out := d.dir(types.DirectionOutput)
	if !out.running || out.awaitingSetup {
		return
	}
	for len(d.pending) > 0 && len(out.queued) > 0 {
		f := d.pending[0]
		req := out.queued[0]
		result := &codecbridge.Result{
			ID:      req.ID,
			Tag:     f.Tag,
			Lengths: make([]uint32, len(req.Planes)),
			Status:  f.Status,
		}
		if f.Status.Has(codecbridge.StatusResolutionChanged) {
			// the buffer goes back empty, the frame is produced again once
			// the output is reconfigured (right away on a crop-only change)
			d.pending[0].Status &^= codecbridge.StatusResolutionChanged
			out.queued = out.queued[1:]
			out.done = append(out.done, result)
			if f.CropOnly {
				if len(*f.Payload) == 0 && f.Status == codecbridge.StatusResolutionChanged {
					d.payloadPool.Put(f.Payload)
					d.pending = d.pending[1:]
				}
				continue
			}
			out.awaitingSetup = true
			if len(*f.Payload) == 0 && f.Status == codecbridge.StatusResolutionChanged {
				d.payloadPool.Put(f.Payload)
				d.pending = d.pending[1:]
			}
			return
		}
		if len(req.Planes) > 0 {
			n := copy(req.Planes[0], *f.Payload)
			if n < len(*f.Payload) {
				logger.Warnf(ctx, "%s: output buffer %d is too small: %d < %d", d, req.ID, len(req.Planes[0]), len(*f.Payload))
				result.Status |= codecbridge.StatusCorrupt
			}
			result.Lengths[0] = uint32(n)
		}
		d.payloadPool.Put(f.Payload)
		d.pending = d.pending[1:]
		out.queued = out.queued[1:]
		out.done = append(out.done, result)
	}
}

func (d *Device) Dequeue(
	ctx context.Context,
	dir types.Direction,
) (_ret *codecbridge.Result, _err error) {
	logger.Tracef(ctx, "Dequeue(%s)", dir)
	defer func() { logger.Tracef(ctx, "/Dequeue(%s): %v %v", dir, _ret, _err) }()
	if err := checkDirection(dir); err != nil {
		return nil, err
	}

	var clearGen uint64
	d.locker.Do(d.lockCtx(ctx), func() {
		clearGen = d.dir(dir).clearGen
	})

	var (
		result *codecbridge.Result
		err    error
	)
	d.changeSignal.WaitFor(ctx, nil, func() bool {
		return xsync.DoR1(d.lockCtx(ctx), &d.locker, func() bool {
			s := d.dir(dir)
			switch {
			case s.failNext != nil:
				err, s.failNext = s.failNext, nil
			case d.closed:
				err = codecbridge.ErrStopped{}
			case len(s.done) > 0:
				result = s.done[0]
				s.done[0] = nil
				s.done = s.done[1:]
			case s.clearGen != clearGen:
				err = codecbridge.ErrQueueCleared{}
			case !s.running:
				err = codecbridge.ErrStopped{}
			default:
				return false
			}
			return true
		})
	})
	if result == nil && err == nil {
		return nil, ctx.Err()
	}
	return result, err
}

func (d *Device) Run(ctx context.Context, dir types.Direction) (_err error) {
	logger.Debugf(ctx, "Run(%s)", dir)
	defer func() { logger.Debugf(ctx, "/Run(%s): %v", dir, _err) }()
	if err := checkDirection(dir); err != nil {
		return err
	}
	err := xsync.DoR1(d.lockCtx(ctx), &d.locker, func() error {
		s := d.dir(dir)
		if s.count == 0 {
			return codecbridge.ErrNotSetUp{Direction: dir}
		}
		s.running = true
		d.pumpLocked(ctx)
		return nil
	})
	d.changeSignal.Broadcast()
	return err
}

func (d *Device) Stop(ctx context.Context, dir types.Direction) (_err error) {
	logger.Debugf(ctx, "Stop(%s)", dir)
	defer func() { logger.Debugf(ctx, "/Stop(%s): %v", dir, _err) }()
	if err := checkDirection(dir); err != nil {
		return err
	}
	d.locker.Do(d.lockCtx(ctx), func() {
		d.dir(dir).running = false
		d.releaseLocked(dir)
	})
	d.changeSignal.Broadcast()
	return nil
}

func (d *Device) ClearQueue(ctx context.Context, dir types.Direction) (_err error) {
	logger.Debugf(ctx, "ClearQueue(%s)", dir)
	defer func() { logger.Debugf(ctx, "/ClearQueue(%s): %v", dir, _err) }()
	if err := checkDirection(dir); err != nil {
		return err
	}
	var err error
	d.locker.Do(d.lockCtx(ctx), func() {
		d.releaseLocked(dir)
		if flusher, ok := d.processor.(Flusher); ok && dir == types.DirectionInput {
			if flushErr := flusher.Flush(ctx); flushErr != nil {
				err = codecbridge.ErrHardware{Err: flushErr}
			}
		}
	})
	d.changeSignal.Broadcast()
	return err
}

func (d *Device) GetParameter(ctx context.Context, name string) (any, error) {
	return xsync.DoR2(d.lockCtx(ctx), &d.locker, func() (any, error) {
		v, ok := d.parameters[name]
		if !ok {
			return nil, codecbridge.ErrUnknownParameter{Name: name}
		}
		return v, nil
	})
}

func (d *Device) SetParameter(ctx context.Context, name string, value any) error {
	logger.Debugf(ctx, "SetParameter(%s, %v)", name, value)
	return xsync.DoR1(d.lockCtx(ctx), &d.locker, func() error {
		if _, ok := d.parameters[name]; !ok {
			return codecbridge.ErrUnknownParameter{Name: name}
		}
		if setter, ok := d.processor.(ParameterSetter); ok {
			if err := setter.SetParameter(ctx, name, value); err != nil {
				return fmt.Errorf("unable to set '%s' to %v: %w", name, value, err)
			}
		}
		d.parameters[name] = value
		return nil
	})
}

func (d *Device) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	var err error
	d.locker.Do(d.lockCtx(ctx), func() {
		if d.closed {
			return
		}
		if closer, ok := d.processor.(types.Closer); ok {
			err = closer.Close(ctx)
		}
		d.closed = true
		for dir := range d.directions {
			d.directions[dir].running = false
			d.directions[dir].count = 0
			d.releaseLocked(types.Direction(dir))
		}
	})
	d.changeSignal.Broadcast()
	return err
}
