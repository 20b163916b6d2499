// Package component implements a hardware video codec component: the
// host-facing surface, the component state machine and the command handler
// driving the ports and the pipeline worker.
package component

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/asticode/go-astikit"
	"github.com/google/uuid"
	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/event"
	"github.com/xaionaro-go/avcomponent/helpers/changesignal"
	"github.com/xaionaro-go/avcomponent/helpers/closuresignaler"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/pipeline"
	"github.com/xaionaro-go/avcomponent/port"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

type Component struct {
	Config
	Name    codec.Name
	Variant codec.Variant
	Bridge  codecbridge.CodecBridge

	locker          xsync.Mutex
	state           types.State
	transient       types.TransientState
	pendingStateSet bool
	invalidating    bool
	pendingPortCmd  [types.NumPorts]types.Command
	worker          *pipeline.Worker
	codecParams     codec.Params
	controlRate     string

	ports        [types.NumPorts]*port.Port
	changeSignal *changesignal.ChangeSignal
	dispatcher   *event.Dispatcher
	counters     *types.Counters
	extensions   *params.Extensions

	commandQueue chan command
	closer       *astikit.Closer
	closed       *closuresignaler.ClosureSignaler
	wg           sync.WaitGroup
}

// New creates a component in the Loaded state over the given bridge. The
// component takes the ownership of the bridge and closes it on Close.
func New(
	ctx context.Context,
	name codec.Name,
	bridge codecbridge.CodecBridge,
	opts ...Option,
) (_ret *Component, _err error) {
	logger.Debugf(ctx, "New(%s, %s)", name, bridge)
	defer func() { logger.Debugf(ctx, "/New(%s, %s): %v", name, bridge, _err) }()

	variant, err := codec.NewVariant(name)
	if err != nil {
		return nil, types.Error{Code: types.ErrorCodeBadParameter, Err: err}
	}
	if bridge == nil {
		return nil, types.Errorf(types.ErrorCodeBadParameter, "no codec bridge given")
	}

	cfg := Options(opts).config()
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	c := &Component{
		Config:       cfg,
		Name:         name,
		Variant:      variant,
		Bridge:       bridge,
		state:        types.StateLoaded,
		changeSignal: changesignal.New(),
		counters:     types.NewCounters(),
		extensions:   params.NewExtensions(),
		commandQueue: make(chan command, cfg.CommandQueueSize),
		closer:       astikit.NewCloser(),
		closed:       closuresignaler.New(),
	}
	c.dispatcher = event.NewDispatcher(c.counters)

	defs := variant.DefaultPortDefinitions()
	for idx := range defs {
		def := &defs[idx]
		if count := cfg.BufferCount[idx]; count > 0 {
			def.BufferCountActual = count
			if def.BufferCountMin > count {
				def.BufferCountMin = count
			}
		}
		if size := cfg.BufferSize[idx]; size > 0 {
			def.BufferSize = size
		}
		c.ports[idx] = port.New(types.PortIndex(idx), *def, c.changeSignal, c.counters.Port(types.PortIndex(idx)))
	}

	ctx = c.ctx(ctx)
	ctx, cancelFn := context.WithCancel(xcontext.DetachDone(ctx))
	c.closer.Add(astikit.CloseFunc(cancelFn))
	c.wg.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer c.wg.Done()
		c.commandLoop(ctx)
	})
	return c, nil
}

func (c *Component) String() string {
	return fmt.Sprintf("Component(%s, %s)", c.Name, c.InstanceID)
}

func (c *Component) ctx(ctx context.Context) context.Context {
	return logger.CtxWithComponent(ctx, string(c.Name), c.InstanceID)
}

func (c *Component) lockCtx(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

// GetState returns the current state; a transition in flight is not
// reflected until it completes.
func (c *Component) GetState(ctx context.Context) types.State {
	return xsync.DoR1(c.lockCtx(ctx), &c.locker, func() types.State {
		return c.state
	})
}

// GetTransientState returns the multi-step transition in flight, if any.
func (c *Component) GetTransientState(ctx context.Context) types.TransientState {
	return xsync.DoR1(c.lockCtx(ctx), &c.locker, func() types.TransientState {
		return c.transient
	})
}

func (c *Component) GetStatistics(ctx context.Context) types.Statistics {
	return c.counters.ToStats()
}

// SetCallbacks sets the sink of the events and of the buffer completions.
func (c *Component) SetCallbacks(ctx context.Context, callbacks event.Callbacks) {
	c.dispatcher.SetCallbacks(callbacks)
}

// Port returns the port by index; it is nil for an invalid index.
func (c *Component) Port(idx types.PortIndex) *port.Port {
	if !idx.IsValid() {
		return nil
	}
	return c.ports[idx]
}

func (c *Component) getWorker(ctx context.Context) *pipeline.Worker {
	return xsync.DoR1(c.lockCtx(ctx), &c.locker, func() *pipeline.Worker {
		return c.worker
	})
}

// Close stops everything and closes the bridge. The component is unusable
// afterwards.
func (c *Component) Close(ctx context.Context) (_err error) {
	ctx = c.ctx(ctx)
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	if !c.closed.Close(ctx) {
		return nil
	}

	var errs []error
	w := xsync.DoR1(c.lockCtx(ctx), &c.locker, func() *pipeline.Worker {
		w := c.worker
		c.worker = nil
		return w
	})
	if w != nil {
		if err := w.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to stop the worker: %w", err))
		}
		if err := w.StopBridge(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.closer.Close(); err != nil {
		errs = append(errs, err)
	}
	c.wg.Wait()
	if err := c.Bridge.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to close the bridge: %w", err))
	}
	return errors.Join(errs...)
}

// onFatal is called by the worker from a stage goroutine, so the worker is
// torn down from a separate goroutine.
func (c *Component) onFatal(ctx context.Context, err error) {
	if c.closed.IsClosed() {
		return
	}
	ctx = xcontext.DetachDone(ctx)
	c.wg.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer c.wg.Done()
		c.invalidate(ctx, err)
	})
}

// invalidate moves the component to Invalid: the error event goes out
// first, then the ports and the worker are torn down.
func (c *Component) invalidate(ctx context.Context, cause error) {
	logger.Debugf(ctx, "invalidate: %v", cause)
	defer func() { logger.Debugf(ctx, "/invalidate: %v", cause) }()

	w, ok := xsync.DoR2(c.lockCtx(ctx), &c.locker, func() (*pipeline.Worker, bool) {
		if c.state == types.StateInvalid || c.invalidating {
			return nil, false
		}
		c.invalidating = true
		w := c.worker
		c.worker = nil
		return w, true
	})
	if !ok {
		return
	}

	c.dispatcher.Error(ctx, types.PortIndexAll, types.Error{Code: types.ErrorCodeInvalidState, Err: cause})
	c.dispatcher.SuppressErrors()
	for _, p := range c.ports {
		p.SetState(ctx, types.PortStateInvalid)
	}
	if w != nil {
		if err := w.Stop(ctx); err != nil {
			logger.Errorf(ctx, "unable to stop the worker: %v", err)
		}
		if err := w.StopBridge(ctx); err != nil {
			logger.Errorf(ctx, "%v", err)
		}
	}

	c.locker.Do(c.lockCtx(ctx), func() {
		c.state = types.StateInvalid
		c.transient = types.TransientStateNone
		c.pendingStateSet = false
		c.pendingPortCmd = [types.NumPorts]types.Command{}
	})
	c.changeSignal.Broadcast()
}
