package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/types"
)

// FlushPort returns every buffer the engine owns on the port to the host
// with no payload and clears the bridge direction. With forDisable the
// destination direction is also torn down, so that it is set up again when
// the port is re-enabled, and the port ends in Disabling instead of Idle.
//
// On a bridge failure the port stays flushing and an error event is fired.
func (w *Worker) FlushPort(
	ctx context.Context,
	idx types.PortIndex,
	forDisable bool,
) (_err error) {
	ctx = logger.CtxWithPort(ctx, uint32(idx))
	logger.Debugf(ctx, "FlushPort(%s, %t)", idx, forDisable)
	defer func() { logger.Debugf(ctx, "/FlushPort(%s, %t): %v", idx, forDisable, _err) }()

	p := w.Ports[idx]
	p.BeginFlush(ctx, forDisable)
	w.ChangeSignal.Broadcast()

	var (
		released []*buffer.Header
		err      error
	)
	switch idx {
	case types.PortIndexInput:
		w.src.locker.Do(w.lockCtx(ctx), func() {
			err = w.flushSourceLocked(ctx)
			released = p.ReleaseAll(ctx)
		})
	case types.PortIndexOutput:
		w.dst.locker.Do(w.lockCtx(ctx), func() {
			err = w.flushDestinationLocked(ctx, forDisable)
			released = p.ReleaseAll(ctx)
		})
	default:
		return types.Errorf(types.ErrorCodeBadPortIndex, "invalid port index %d", idx)
	}
	for _, h := range released {
		w.Dispatcher.BufferDone(ctx, idx, h)
	}
	if err != nil {
		err = types.Error{Code: types.ErrorCodeHardware, Err: err}
		w.Dispatcher.Error(ctx, idx, err)
		return err
	}

	if forDisable {
		p.SetState(ctx, types.PortStateDisabling)
	} else {
		p.SetState(ctx, types.PortStateIdle)
	}
	w.ChangeSignal.Broadcast()
	return nil
}

func (w *Worker) flushSourceLocked(ctx context.Context) error {
	var err error
	if w.srcSetupDone.Load() {
		if clearErr := w.Bridge.ClearQueue(ctx, types.DirectionInput); clearErr != nil {
			err = fmt.Errorf("unable to clear the source queue: %w", clearErr)
		}
	}
	clear(w.src.inFlight)
	w.srcInFlightNum.Store(0)
	w.data.Reset()
	w.tagLocker.Do(w.lockCtx(ctx), func() {
		w.tagTable.Reset()
	})
	w.bypassLocker.Do(w.lockCtx(ctx), func() {
		w.bypass.Reset()
	})
	return err
}

func (w *Worker) flushDestinationLocked(ctx context.Context, forDisable bool) error {
	var err error
	if w.dstSetupDone {
		if clearErr := w.Bridge.ClearQueue(ctx, types.DirectionOutput); clearErr != nil {
			err = fmt.Errorf("unable to clear the destination queue: %w", clearErr)
		}
		if forDisable {
			if stopErr := w.Bridge.Stop(ctx, types.DirectionOutput); stopErr != nil && err == nil {
				err = fmt.Errorf("unable to stop the destination direction: %w", stopErr)
			}
			w.dstSetupDone = false
		}
	}
	clear(w.dst.inFlight)
	w.dstInFlightNum.Store(0)
	w.dstReclaimBlocked.Store(false)
	w.held = nil
	w.eosDelivered = false
	return err
}

// StopBridge stops both directions of the bridge; used on Executing->Idle
// after the ports are flushed and the stages are joined.
func (w *Worker) StopBridge(ctx context.Context) error {
	var errs []error
	for _, dir := range []types.Direction{types.DirectionInput, types.DirectionOutput} {
		if err := w.Bridge.Stop(ctx, dir); err != nil {
			errs = append(errs, fmt.Errorf("unable to stop the %s direction: %w", dir, err))
		}
	}
	w.srcStarted.Store(false)
	w.dst.locker.Do(w.lockCtx(ctx), func() {
		w.dstSetupDone = false
	})
	if err := errors.Join(errs...); err != nil {
		return codecbridge.ErrHardware{Err: err}
	}
	return nil
}
