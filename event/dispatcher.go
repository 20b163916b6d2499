// Package event delivers events and buffer completions to the host.
package event

import (
	"context"
	"sync/atomic"

	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
)

// Callbacks is implemented by the host. The calls are made from the
// component goroutines without any component lock held; a callback may call
// back into the component.
type Callbacks interface {
	EventHandler(ctx context.Context, ev types.Event)
	InputBufferDone(ctx context.Context, h *buffer.Header)
	OutputBufferDone(ctx context.Context, h *buffer.Header)
}

// Dispatcher forwards events to the current Callbacks.
type Dispatcher struct {
	callbacks  *Callbacks
	counters   *types.Counters
	suppressed atomic.Bool
}

func NewDispatcher(counters *types.Counters) *Dispatcher {
	if counters == nil {
		counters = types.NewCounters()
	}
	return &Dispatcher{
		counters: counters,
	}
}

// SetCallbacks replaces the callbacks; nil callbacks are ignored.
func (d *Dispatcher) SetCallbacks(callbacks Callbacks) {
	if callbacks == nil {
		return
	}
	xatomic.StorePointer(&d.callbacks, &callbacks)
}

func (d *Dispatcher) getCallbacks() Callbacks {
	cb := xatomic.LoadPointer(&d.callbacks)
	if cb == nil {
		return nil
	}
	return *cb
}

// SuppressErrors makes every further error event be dropped; used once the
// component is Invalid.
func (d *Dispatcher) SuppressErrors() {
	d.suppressed.Store(true)
}

func (d *Dispatcher) emit(ctx context.Context, ev types.Event) {
	logger.Debugf(ctx, "event: %s", ev)
	d.counters.Events.Increment(0)
	cb := d.getCallbacks()
	if cb == nil {
		logger.Debugf(ctx, "no callbacks set, dropping %s", ev)
		return
	}
	cb.EventHandler(ctx, ev)
}

func (d *Dispatcher) CommandComplete(ctx context.Context, cmd types.Command, data2 uint32) {
	d.emit(ctx, types.Event{
		Kind:  types.EventCommandComplete,
		Data1: uint32(cmd),
		Data2: data2,
	})
}

// Error emits an error event with the code of err; portIndex is
// PortIndexAll if the error is not port-specific.
func (d *Dispatcher) Error(ctx context.Context, portIndex types.PortIndex, err error) {
	d.counters.Errors.Increment(0)
	if d.suppressed.Load() {
		logger.Debugf(ctx, "suppressed error on port %s: %v", portIndex, err)
		return
	}
	logger.Errorf(ctx, "error on port %s: %v", portIndex, err)
	d.emit(ctx, types.Event{
		Kind:  types.EventError,
		Data1: uint32(types.ErrorCodeOf(err)),
		Data2: uint32(portIndex),
		Err:   err,
	})
}

func (d *Dispatcher) PortSettingsChanged(ctx context.Context, portIndex types.PortIndex, idx params.Index) {
	d.emit(ctx, types.Event{
		Kind:  types.EventPortSettingsChanged,
		Data1: uint32(portIndex),
		Data2: uint32(idx),
	})
}

func (d *Dispatcher) BufferFlag(ctx context.Context, portIndex types.PortIndex, flags types.BufferFlags) {
	d.emit(ctx, types.Event{
		Kind:  types.EventBufferFlag,
		Data1: uint32(portIndex),
		Data2: uint32(flags),
	})
}

func (d *Dispatcher) InputBufferDone(ctx context.Context, h *buffer.Header) {
	logger.Tracef(ctx, "InputBufferDone(%s)", h)
	cb := d.getCallbacks()
	if cb == nil {
		return
	}
	cb.InputBufferDone(ctx, h)
}

func (d *Dispatcher) OutputBufferDone(ctx context.Context, h *buffer.Header) {
	logger.Tracef(ctx, "OutputBufferDone(%s)", h)
	cb := d.getCallbacks()
	if cb == nil {
		return
	}
	cb.OutputBufferDone(ctx, h)
}

// BufferDone calls InputBufferDone or OutputBufferDone depending on the port.
func (d *Dispatcher) BufferDone(ctx context.Context, portIndex types.PortIndex, h *buffer.Header) {
	switch portIndex {
	case types.PortIndexInput:
		d.InputBufferDone(ctx, h)
	case types.PortIndexOutput:
		d.OutputBufferDone(ctx, h)
	}
}
