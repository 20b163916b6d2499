package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/xsync"
)

// action is something to do once the locks are released.
type action func(ctx context.Context)

func runActions(ctx context.Context, actions []action) {
	for _, a := range actions {
		a(ctx)
	}
}

func (w *Worker) sourceInLoop(ctx context.Context) error {
	for {
		if !w.waitFor(ctx, func() bool { return w.inPort().HasMessages(ctx) }) {
			return nil
		}
		var actions []action
		err := xsync.DoR1(w.lockCtx(ctx), &w.src.locker, func() error {
			msg, ok := w.inPort().Pop(ctx)
			if !ok {
				return nil
			}
			var err error
			actions, err = w.processInputLocked(ctx, msg.Header)
			return err
		})
		runActions(ctx, actions)
		if err != nil {
			return err
		}
	}
}

func (w *Worker) returnInputAction(h *buffer.Header) action {
	return func(ctx context.Context) {
		h.FilledLen = 0
		h.Offset = 0
		w.returnBuffer(ctx, types.PortIndexInput, h)
	}
}

func (w *Worker) processInputLocked(
	ctx context.Context,
	h *buffer.Header,
) (_ []action, _err error) {
	logger.Tracef(ctx, "processInputLocked(%s)", h)
	defer func() { logger.Tracef(ctx, "/processInputLocked(%s): %v", h, _err) }()

	w.data.FromHeader(h)
	if w.data.Length == 0 {
		if w.data.Flags.HasAll(types.BufferFlagEOS) {
			logger.Debugf(ctx, "zero-payload EOS, bypassing the device")
			if err := w.drainSourceLocked(ctx); err != nil {
				return []action{w.returnInputAction(h)}, err
			}
			w.bypassLocker.Do(w.lockCtx(ctx), func() {
				w.bypass.Push(buffer.BypassEntry{
					Flags:     w.data.Flags,
					Timestamp: w.data.Timestamp,
				})
			})
			w.dstReclaimBlocked.Store(false)
			w.ChangeSignal.Broadcast()
		}
		return []action{w.returnInputAction(h)}, nil
	}

	if !w.srcSetupDone.Load() {
		ok, actions, err := w.sourceSetupLocked(ctx, h)
		if err != nil || !ok {
			return actions, err
		}
	}

	tag := xsync.DoR1(w.lockCtx(ctx), &w.tagLocker, func() codecbridge.Tag {
		return w.tagTable.Put(w.data.Timestamp, w.data.Flags)
	})
	id := bufferID(h)
	req := &codecbridge.Request{
		ID:      id,
		Planes:  w.data.Planes,
		FDs:     w.data.FDs,
		Sizes:   w.data.Sizes,
		Lengths: w.data.Lengths(),
		Tag:     tag,
		Flags:   w.data.Flags,
	}
	w.src.inFlight[id] = h
	w.srcInFlightNum.Add(1)
	err := w.Bridge.Enqueue(ctx, types.DirectionInput, req)
	if err != nil {
		delete(w.src.inFlight, id)
		w.srcInFlightNum.Add(-1)
		w.tagLocker.Do(w.lockCtx(ctx), func() {
			w.tagTable.Take(tag)
		})
		if errors.Is(err, types.ErrorCodeCorruptedFrame) {
			logger.Warnf(ctx, "dropping a corrupted frame %s: %v", h, err)
			w.Counters.Port(types.PortIndexInput).Dropped.Increment(uint64(h.FilledLen))
			return []action{
				func(ctx context.Context) {
					w.Dispatcher.Error(ctx, types.PortIndexInput, types.Error{Code: types.ErrorCodeCorruptedFrame, Err: err})
				},
				w.returnInputAction(h),
			}, nil
		}
		return []action{w.returnInputAction(h)}, fmt.Errorf("unable to enqueue %s: %w", h, err)
	}

	if !w.srcStarted.Load() {
		if err := w.Bridge.Run(ctx, types.DirectionInput); err != nil {
			return nil, fmt.Errorf("unable to start the source direction: %w", err)
		}
		w.srcStarted.Store(true)
		w.ChangeSignal.Broadcast()
	}
	return nil, nil
}

// drainSourceLocked makes the bridge give away the frames it holds back,
// since no further input is going to push them out.
func (w *Worker) drainSourceLocked(ctx context.Context) error {
	drainer, ok := w.Bridge.(codecbridge.Drainer)
	if !ok || !w.srcSetupDone.Load() {
		return nil
	}
	err := drainer.Drain(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrorCodeHardware):
		return fmt.Errorf("unable to drain the device: %w", err)
	}
	logger.Warnf(ctx, "unable to drain the device: %v", err)
	return nil
}

// sourceSetupLocked returns false if the buffer was consumed without being
// enqueued and the setup has to be retried with the next buffer.
func (w *Worker) sourceSetupLocked(
	ctx context.Context,
	h *buffer.Header,
) (_ bool, _ []action, _err error) {
	logger.Debugf(ctx, "sourceSetupLocked")
	defer func() { logger.Debugf(ctx, "/sourceSetupLocked: %v", _err) }()

	defs := [types.NumPorts]params.PortDefinition{
		w.inPort().Definition(ctx),
		w.outPort().Definition(ctx),
	}
	geom, err := w.Variant.SourceSetup(ctx, w.Bridge, &w.data, defs)
	switch {
	case err == nil:
	case errors.As(err, &codecbridge.ErrNeedMoreData{}):
		logger.Debugf(ctx, "not enough data to set up the source yet")
		return false, []action{w.returnInputAction(h)}, nil
	case errors.Is(err, types.ErrorCodeHardware):
		return false, []action{w.returnInputAction(h)}, err
	default:
		logger.Warnf(ctx, "unable to set up the source: %v", err)
		return false, []action{
			func(ctx context.Context) {
				w.Dispatcher.Error(ctx, types.PortIndexInput, types.Error{Code: types.ErrorCodeCorruptedHeader, Err: err})
			},
			w.returnInputAction(h),
		}, nil
	}

	if err := w.Bridge.Setup(ctx, types.DirectionInput, defs[types.PortIndexInput].BufferCountActual); err != nil {
		return false, []action{w.returnInputAction(h)}, fmt.Errorf("unable to set up the source direction: %w", err)
	}
	actions := w.applyOutputGeometry(ctx, geom)
	w.srcSetupDone.Store(true)
	w.ChangeSignal.Broadcast()
	return true, actions, nil
}

func (w *Worker) sourceOutLoop(ctx context.Context) error {
	for {
		if !w.waitFor(ctx, w.srcStarted.Load) {
			return nil
		}
		ch := w.ChangeSignal.Chan()
		res, err := w.Bridge.Dequeue(ctx, types.DirectionInput)
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
			return fmt.Errorf("unable to dequeue from the source direction: %w", err)
		}

		h := xsync.DoR1(w.lockCtx(ctx), &w.src.locker, func() *buffer.Header {
			h := w.src.inFlight[res.ID]
			if h == nil {
				return nil
			}
			delete(w.src.inFlight, res.ID)
			w.srcInFlightNum.Add(-1)
			return h
		})
		if h == nil {
			logger.Debugf(ctx, "%s is not in flight anymore", res)
			continue
		}
		w.returnInputAction(h)(ctx)
		w.ChangeSignal.Broadcast()
	}
}
