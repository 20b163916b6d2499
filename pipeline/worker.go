// Package pipeline implements the worker moving buffers between the ports
// of a component and its codec bridge. The worker runs four stages:
//
//   - source-in: takes input buffers from the input port, sets up the
//     source direction once and enqueues the buffers to the bridge;
//   - source-out: dequeues spent input buffers and returns them to the host;
//   - destination-in: sets up the destination direction once the codec
//     variant allows it and enqueues empty output buffers;
//   - destination-out: dequeues filled output buffers, attaches timestamps
//     and flags and returns them to the host.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/event"
	"github.com/xaionaro-go/avcomponent/helpers/changesignal"
	"github.com/xaionaro-go/avcomponent/helpers/closuresignaler"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/port"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

// FatalHandler is called (from a stage goroutine) when the worker cannot
// continue.
type FatalHandler func(ctx context.Context, err error)

type Config struct {
	Variant      codec.Variant
	Bridge       codecbridge.CodecBridge
	Ports        [types.NumPorts]*port.Port
	Dispatcher   *event.Dispatcher
	ChangeSignal *changesignal.ChangeSignal
	Counters     *types.Counters
	MaxTimestamp uint
	OnFatal      FatalHandler
}

type directionState struct {
	locker   xsync.Mutex
	inFlight map[uint64]*buffer.Header
}

type Worker struct {
	Config

	closer   *astikit.Closer
	mustExit *closuresignaler.ClosureSignaler
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
	paused   atomic.Bool

	src directionState
	dst directionState

	// guarded by src.locker
	data buffer.Data

	srcSetupDone   atomic.Bool
	srcStarted     atomic.Bool
	srcInFlightNum atomic.Int64

	// guarded by dst.locker
	dstSetupDone bool
	eosDelivered bool
	held         []*buffer.Header

	dstInFlightNum    atomic.Int64
	dstReclaimBlocked atomic.Bool

	tagLocker xsync.Mutex
	tagTable  *buffer.TagTable[codecbridge.Tag]

	bypassLocker xsync.Mutex
	bypass       buffer.BypassQueue
}

func New(cfg Config) *Worker {
	if cfg.Counters == nil {
		cfg.Counters = types.NewCounters()
	}
	if cfg.ChangeSignal == nil {
		cfg.ChangeSignal = changesignal.New()
	}
	return &Worker{
		Config:   cfg,
		closer:   astikit.NewCloser(),
		mustExit: closuresignaler.New(),
		src:      directionState{inFlight: map[uint64]*buffer.Header{}},
		dst:      directionState{inFlight: map[uint64]*buffer.Header{}},
		tagTable: buffer.NewTagTable[codecbridge.Tag](cfg.MaxTimestamp),
	}
}

func (w *Worker) String() string {
	return fmt.Sprintf("Worker(%s)", w.Variant)
}

func (w *Worker) lockCtx(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

func (w *Worker) inPort() *port.Port {
	return w.Ports[types.PortIndexInput]
}

func (w *Worker) outPort() *port.Port {
	return w.Ports[types.PortIndexOutput]
}

func bufferID(h *buffer.Header) uint64 {
	return uint64(h.GetObjectID())
}

// Start launches the stages. The stages outlive ctx cancellation only until
// Stop is called.
func (w *Worker) Start(ctx context.Context) {
	logger.Debugf(ctx, "Start")
	defer func() { logger.Debugf(ctx, "/Start") }()
	ctx, cancelFn := context.WithCancel(xcontext.DetachDone(ctx))
	w.cancelFn = cancelFn
	w.closer.Add(astikit.CloseFunc(cancelFn))

	for _, stage := range []struct {
		Name string
		Loop func(context.Context) error
	}{
		{"source-in", w.sourceInLoop},
		{"source-out", w.sourceOutLoop},
		{"destination-in", w.destinationInLoop},
		{"destination-out", w.destinationOutLoop},
	} {
		w.wg.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer w.wg.Done()
			ctx = logger.CtxWithStage(ctx, stage.Name)
			logger.Debugf(ctx, "stage started")
			err := stage.Loop(ctx)
			logger.Debugf(ctx, "stage finished: %v", err)
			if err != nil && !w.mustExit.IsClosed() {
				w.fatal(ctx, err)
			}
		})
	}
}

// Stop makes the stages exit and waits for them.
func (w *Worker) Stop(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Stop")
	defer func() { logger.Debugf(ctx, "/Stop: %v", _err) }()
	if !w.mustExit.Close(ctx) {
		return nil
	}
	w.ChangeSignal.Broadcast()
	err := w.closer.Close()
	w.wg.Wait()
	return err
}

// SetPaused gates all the stages.
func (w *Worker) SetPaused(ctx context.Context, paused bool) {
	logger.Debugf(ctx, "SetPaused(%t)", paused)
	w.paused.Store(paused)
	w.ChangeSignal.Broadcast()
}

func (w *Worker) fatal(ctx context.Context, err error) {
	logger.Errorf(ctx, "fatal: %v", err)
	errmon.ObserveErrorCtx(ctx, err)
	if w.OnFatal != nil {
		w.OnFatal(ctx, err)
	}
}

// waitFor blocks until the predicate holds; false means the worker must exit.
func (w *Worker) waitFor(ctx context.Context, predicate func() bool) bool {
	return w.ChangeSignal.WaitFor(ctx, w.mustExit.CloseChan(), func() bool {
		if w.mustExit.IsClosed() {
			return true
		}
		return !w.paused.Load() && predicate()
	}) && !w.mustExit.IsClosed()
}

// waitChange blocks until anything changes after ch was taken.
func (w *Worker) waitChange(ctx context.Context, ch <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.mustExit.CloseChan():
		return false
	case <-ch:
		return true
	}
}

// returnBuffer flips the buffer to the host and calls the completion
// callback; it must be called without any worker lock held.
func (w *Worker) returnBuffer(ctx context.Context, idx types.PortIndex, h *buffer.Header) {
	if err := w.Ports[idx].Return(ctx, h); err != nil {
		logger.Errorf(ctx, "%v", err)
		return
	}
	w.Dispatcher.BufferDone(ctx, idx, h)
}

// IsSourceSetupDone is true once the source direction of the bridge was set up.
func (w *Worker) IsSourceSetupDone() bool {
	return w.srcSetupDone.Load()
}

// IsDestinationSetupDone is true while the destination direction is set up.
func (w *Worker) IsDestinationSetupDone(ctx context.Context) bool {
	return xsync.DoR1(w.lockCtx(ctx), &w.dst.locker, func() bool {
		return w.dstSetupDone
	})
}
