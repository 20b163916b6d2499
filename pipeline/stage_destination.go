package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/port"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/xsync"
)

// applyOutputGeometry reconciles the output port with the geometry the
// source setup reported. A decoder output that cannot hold the frames
// raises NeedsDisable and a port-settings-changed event.
func (w *Worker) applyOutputGeometry(
	ctx context.Context,
	geom types.Geometry,
) []action {
	out := w.outPort()
	def := out.Definition(ctx)
	if w.Variant.Kind() != codec.KindDecoder {
		out.UpdateGeometry(ctx, geom)
		out.TakePendingGeometry(ctx)
		return nil
	}
	cur := def.Video.Geometry
	switch {
	case geom.Resolution != cur.Resolution,
		geom.MinBufferCount > def.BufferCountActual,
		geom.FrameSize() > def.BufferSize:
		logger.Debugf(ctx, "the output port (%s) does not fit %s", def, geom)
		out.SetException(ctx, types.ExceptionNeedsDisable)
		out.UpdateGeometry(ctx, geom)
		return []action{func(ctx context.Context) {
			w.Dispatcher.PortSettingsChanged(ctx, types.PortIndexOutput, params.IndexParamPortDefinition)
		}}
	case geom.Crop != cur.Crop && geom.Crop != (types.Crop{}):
		out.SetCrop(ctx, geom.Crop)
		return []action{func(ctx context.Context) {
			w.Dispatcher.PortSettingsChanged(ctx, types.PortIndexOutput, params.IndexConfigCommonOutputCrop)
		}}
	}
	return nil
}

func (w *Worker) destinationTriggered() bool {
	switch w.Variant.DestinationTrigger() {
	case codec.TriggerHeaderParsed:
		return w.srcSetupDone.Load()
	case codec.TriggerFirstFrame:
		return w.srcStarted.Load()
	}
	return false
}

func (w *Worker) bypassPending(ctx context.Context) bool {
	if w.srcInFlightNum.Load() != 0 {
		return false
	}
	return xsync.DoR1(w.lockCtx(ctx), &w.bypassLocker, func() bool {
		return w.bypass.Len() > 0
	})
}

// outputsReclaimable is true when a bypassed entry waits for an output
// buffer while the bridge holds all of them.
func (w *Worker) outputsReclaimable(ctx context.Context) bool {
	if _, ok := w.Bridge.(codecbridge.OutputReclaimer); !ok {
		return false
	}
	return w.dstInFlightNum.Load() > 0 && !w.dstReclaimBlocked.Load() && w.bypassPending(ctx)
}

func (w *Worker) destinationInReady(ctx context.Context) bool {
	out := w.outPort()
	if out.Exceptions(ctx) != 0 {
		return false
	}
	if !out.HasMessages(ctx) {
		return w.outputsReclaimable(ctx) && w.IsDestinationSetupDone(ctx)
	}
	if w.IsDestinationSetupDone(ctx) {
		return true
	}
	if !out.IsReady(ctx) {
		return false
	}
	return w.destinationTriggered() || w.bypassPending(ctx)
}

func (w *Worker) destinationInLoop(ctx context.Context) error {
	for {
		if !w.waitFor(ctx, func() bool { return w.destinationInReady(ctx) }) {
			return nil
		}
		var actions []action
		err := xsync.DoR1(w.lockCtx(ctx), &w.dst.locker, func() error {
			out := w.outPort()
			if out.Exceptions(ctx) != 0 {
				return nil
			}
			if !w.dstSetupDone {
				if !out.IsReady(ctx) {
					return nil
				}
				switch {
				case w.destinationTriggered():
					if err := w.destinationSetupLocked(ctx); err != nil {
						return err
					}
				case !w.bypassPending(ctx):
					return nil
				}
			}
			msg, ok := out.Pop(ctx)
			if !ok {
				if !w.dstSetupDone || !w.bypassPending(ctx) {
					return nil
				}
				w.reclaimIdleOutputsLocked(ctx)
				if msg, ok = out.Pop(ctx); !ok {
					return nil
				}
			}
			var err error
			actions, err = w.processOutputLocked(ctx, msg)
			return err
		})
		runActions(ctx, actions)
		if err != nil {
			return err
		}
	}
}

func (w *Worker) destinationSetupLocked(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "destinationSetupLocked")
	defer func() { logger.Debugf(ctx, "/destinationSetupLocked: %v", _err) }()

	out := w.outPort()
	if geom := out.TakePendingGeometry(ctx); geom.IsSet() {
		if err := w.Bridge.SetGeometry(ctx, types.DirectionOutput, geom.Get()); err != nil {
			return fmt.Errorf("unable to set the destination geometry: %w", err)
		}
	}
	def := out.Definition(ctx)
	if err := w.Bridge.Setup(ctx, types.DirectionOutput, def.BufferCountActual); err != nil {
		return fmt.Errorf("unable to set up the destination direction with %d buffers: %w", def.BufferCountActual, err)
	}
	if err := w.Bridge.Run(ctx, types.DirectionOutput); err != nil {
		return fmt.Errorf("unable to start the destination direction: %w", err)
	}
	w.dstSetupDone = true
	w.ChangeSignal.Broadcast()
	return nil
}

func (w *Worker) processOutputLocked(
	ctx context.Context,
	msg port.Message,
) (_ []action, _err error) {
	h := msg.Header
	logger.Tracef(ctx, "processOutputLocked(%s)", h)
	defer func() { logger.Tracef(ctx, "/processOutputLocked(%s): %v", h, _err) }()

	if w.srcInFlightNum.Load() == 0 && w.bypassPending(ctx) && w.reclaimIdleOutputsLocked(ctx) {
		entry, ok := xsync.DoR2(w.lockCtx(ctx), &w.bypassLocker, w.bypass.Pop)
		if ok {
			logger.Debugf(ctx, "replaying a bypassed entry %#+v on %s", entry, h)
			h.FilledLen = 0
			h.Offset = 0
			h.Flags = entry.Flags
			h.Timestamp = entry.Timestamp
			return w.deliverOutputLocked(ctx, h), nil
		}
	}
	if !w.dstSetupDone {
		w.outPort().Unpop(ctx, msg)
		return nil, nil
	}
	return nil, w.enqueueOutputLocked(ctx, h)
}

// reclaimIdleOutputsLocked takes back the empty output buffers queued in
// the bridge and puts them to the head of the port FIFO. It returns true if
// no more frames can come out of the bridge.
func (w *Worker) reclaimIdleOutputsLocked(ctx context.Context) bool {
	reclaimer, ok := w.Bridge.(codecbridge.OutputReclaimer)
	if !ok || !w.dstSetupDone {
		return len(w.dst.inFlight) == 0
	}
	ids, ok := reclaimer.ReclaimIdleOutputs(ctx)
	if len(ids) > 0 {
		logger.Debugf(ctx, "reclaimed %d idle output buffers", len(ids))
	}
	out := w.outPort()
	for i := len(ids) - 1; i >= 0; i-- {
		h := w.untrackOutputLocked(ids[i])
		if h == nil {
			continue
		}
		out.Unpop(ctx, port.Message{Kind: port.MessageFillThisBuffer, Header: h})
	}
	drained := ok && len(w.dst.inFlight) == 0
	w.dstReclaimBlocked.Store(!drained)
	return drained
}

func (w *Worker) trackOutputLocked(id uint64, h *buffer.Header) {
	w.dst.inFlight[id] = h
	w.dstInFlightNum.Store(int64(len(w.dst.inFlight)))
}

func (w *Worker) untrackOutputLocked(id uint64) *buffer.Header {
	h := w.dst.inFlight[id]
	delete(w.dst.inFlight, id)
	w.dstInFlightNum.Store(int64(len(w.dst.inFlight)))
	return h
}

func (w *Worker) enqueueOutputLocked(ctx context.Context, h *buffer.Header) error {
	id := bufferID(h)
	req := &codecbridge.Request{
		ID: id,
	}
	for _, p := range h.Planes {
		req.Planes = append(req.Planes, p.Data)
		req.FDs = append(req.FDs, p.FD)
		req.Sizes = append(req.Sizes, uint32(len(p.Data)))
		req.Lengths = append(req.Lengths, 0)
	}
	w.trackOutputLocked(id, h)
	if err := w.Bridge.Enqueue(ctx, types.DirectionOutput, req); err != nil {
		w.untrackOutputLocked(id)
		return fmt.Errorf("unable to enqueue %s: %w", h, err)
	}
	return nil
}

// deliverOutputLocked finalizes the flags of an output buffer and returns
// the actions handing it to the host.
func (w *Worker) deliverOutputLocked(ctx context.Context, h *buffer.Header) []action {
	if h.FilledLen > 0 {
		w.eosDelivered = false
	}
	var actions []action
	if h.Flags.HasAll(types.BufferFlagEOS) {
		if w.eosDelivered {
			h.Flags.Unset(types.BufferFlagEOS)
		} else {
			w.eosDelivered = true
			flags := h.Flags
			actions = append(actions, func(ctx context.Context) {
				w.Dispatcher.BufferFlag(ctx, types.PortIndexOutput, flags)
			})
		}
	}
	return append([]action{func(ctx context.Context) {
		w.returnBuffer(ctx, types.PortIndexOutput, h)
	}}, actions...)
}

func (w *Worker) destinationOutLoop(ctx context.Context) error {
	for {
		if !w.waitFor(ctx, func() bool { return w.IsDestinationSetupDone(ctx) }) {
			return nil
		}
		ch := w.ChangeSignal.Chan()
		res, err := w.Bridge.Dequeue(ctx, types.DirectionOutput)
		switch {
		case err == nil:
		case errors.As(err, &codecbridge.ErrQueueCleared{}):
			continue
		case errors.As(err, &codecbridge.ErrStopped{}), ctx.Err() != nil:
			if !w.waitChange(ctx, ch) {
				return nil
			}
			continue
		default:
			return fmt.Errorf("unable to dequeue from the destination direction: %w", err)
		}

		var actions []action
		err = xsync.DoR1(w.lockCtx(ctx), &w.dst.locker, func() error {
			h := w.untrackOutputLocked(res.ID)
			if h == nil {
				logger.Debugf(ctx, "%s is not in flight anymore", res)
				return nil
			}
			w.dstReclaimBlocked.Store(false)
			var err error
			actions, err = w.processResultLocked(ctx, h, res)
			return err
		})
		runActions(ctx, actions)
		w.ChangeSignal.Broadcast()
		if err != nil {
			return err
		}
	}
}

func (w *Worker) processResultLocked(
	ctx context.Context,
	h *buffer.Header,
	res *codecbridge.Result,
) ([]action, error) {
	logger.Tracef(ctx, "processResultLocked(%s, %s)", h, res)

	if res.Status.Has(codecbridge.StatusResolutionChanged) {
		return w.resolutionChangedLocked(ctx, h)
	}

	takeTag := w.tagTable.Take
	if res.Status.Has(codecbridge.StatusDisplayOnly) {
		takeTag = w.tagTable.Peek
	}
	entry, tagOK := xsync.DoR2(w.lockCtx(ctx), &w.tagLocker, func() (buffer.TagEntry, bool) {
		return takeTag(res.Tag)
	})
	if !tagOK {
		logger.Debugf(ctx, "no tag entry for %s", res)
	}

	if w.outPort().Exceptions(ctx).HasAny(types.ExceptionNeedsDisable) {
		logger.Debugf(ctx, "holding %s until the output port is reconfigured", h)
		w.held = append(w.held, h)
		if res.Status.Has(codecbridge.StatusLastFrame) || (tagOK && entry.Flags.HasAll(types.BufferFlagEOS)) {
			w.bypassLocker.Do(w.lockCtx(ctx), func() {
				w.bypass.Push(buffer.BypassEntry{
					Flags:     types.BufferFlagEOS,
					Timestamp: entry.Timestamp,
				})
			})
		}
		return nil, nil
	}

	h.Offset = 0
	h.FilledLen = res.TotalLength()
	h.Timestamp = entry.Timestamp
	h.Flags = 0
	if h.FilledLen > 0 {
		h.Flags.Set(types.BufferFlagEndOfFrame)
	}
	if res.Status.Has(codecbridge.StatusCorrupt) {
		h.Flags.Set(types.BufferFlagDataCorrupt)
	}
	if res.Status.Has(codecbridge.StatusSync) {
		h.Flags.Set(types.BufferFlagSyncFrame)
	}
	if res.Status.Has(codecbridge.StatusLastFrame) || (tagOK && entry.Flags.HasAll(types.BufferFlagEOS)) {
		h.Flags.Set(types.BufferFlagEOS)
	}
	return w.deliverOutputLocked(ctx, h), nil
}

func (w *Worker) resolutionChangedLocked(
	ctx context.Context,
	h *buffer.Header,
) ([]action, error) {
	geom, err := w.Bridge.GetGeometry(ctx, types.DirectionOutput)
	if err != nil {
		return nil, fmt.Errorf("unable to get the new destination geometry: %w", err)
	}
	out := w.outPort()
	cur := out.Definition(ctx).Video.Geometry
	if geom.IsCropOnlyChangeOf(cur) {
		logger.Debugf(ctx, "crop changed: %s -> %s", cur.Crop, geom.Crop)
		out.SetCrop(ctx, geom.Crop)
		if err := w.enqueueOutputLocked(ctx, h); err != nil {
			return nil, err
		}
		return []action{func(ctx context.Context) {
			w.Dispatcher.PortSettingsChanged(ctx, types.PortIndexOutput, params.IndexConfigCommonOutputCrop)
		}}, nil
	}

	logger.Debugf(ctx, "resolution changed: %s -> %s", cur, geom)
	out.SetException(ctx, types.ExceptionNeedsDisable)
	out.UpdateGeometry(ctx, geom)
	w.held = append(w.held, h)
	return []action{func(ctx context.Context) {
		w.Dispatcher.PortSettingsChanged(ctx, types.PortIndexOutput, params.IndexParamPortDefinition)
	}}, nil
}
