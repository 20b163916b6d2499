package component

import (
	"context"
	"errors"
	"maps"

	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/pipeline"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/xsync"
)

type command struct {
	Command types.Command
	Param   uint32
}

type action func(ctx context.Context)

func runActions(ctx context.Context, actions []action) {
	for _, a := range actions {
		a(ctx)
	}
}

func portsOf(param uint32) ([]types.PortIndex, error) {
	idx := types.PortIndex(param)
	switch {
	case idx == types.PortIndexAll:
		return []types.PortIndex{types.PortIndexInput, types.PortIndexOutput}, nil
	case idx.IsValid():
		return []types.PortIndex{idx}, nil
	}
	return nil, types.Errorf(types.ErrorCodeBadPortIndex, "invalid port index %d", param)
}

// SendCommand validates the command synchronously and queues it to the
// command handler; the completion is reported with an EventCommandComplete.
func (c *Component) SendCommand(
	ctx context.Context,
	cmd types.Command,
	param uint32,
) (_err error) {
	ctx = c.ctx(ctx)
	logger.Debugf(ctx, "SendCommand(%s, %d)", cmd, param)
	defer func() { logger.Debugf(ctx, "/SendCommand(%s, %d): %v", cmd, param, _err) }()

	if c.closed.IsClosed() {
		return types.Errorf(types.ErrorCodeInvalidState, "the component is closed")
	}
	err := xsync.DoR1(c.lockCtx(ctx), &c.locker, func() error {
		return c.acceptCommandLocked(ctx, cmd, param)
	})
	if err != nil {
		return err
	}

	select {
	case c.commandQueue <- command{Command: cmd, Param: param}:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-c.closed.CloseChan():
		err = types.Errorf(types.ErrorCodeInvalidState, "the component is closed")
	}
	c.locker.Do(c.lockCtx(ctx), func() {
		c.rejectCommandLocked(ctx, cmd, param)
	})
	return err
}

// acceptCommandLocked validates the command against the current state and
// marks it pending.
func (c *Component) acceptCommandLocked(
	ctx context.Context,
	cmd types.Command,
	param uint32,
) error {
	if c.state == types.StateInvalid || c.invalidating {
		return types.Errorf(types.ErrorCodeInvalidState, "the component is in state %s", types.StateInvalid)
	}
	stateSetInFlight := c.pendingStateSet || c.transient != types.TransientStateNone

	switch cmd {
	case types.CommandStateSet:
		to := types.State(param)
		switch {
		case stateSetInFlight:
			return types.Errorf(types.ErrorCodeIncorrectStateOperation, "a state transition is already in flight (%s)", c.transient)
		case c.hasPendingPortCommandLocked():
			return types.Errorf(types.ErrorCodeIncorrectStateOperation, "a port command is in flight")
		case to == c.state:
			return types.Errorf(types.ErrorCodeIncorrectStateOperation, "the component is already in state %s", to)
		case !c.state.CanTransitionTo(to):
			return types.Errorf(types.ErrorCodeIncorrectStateOperation, "transition %s -> %s is not allowed", c.state, to)
		}
		c.pendingStateSet = true
		switch {
		case to == types.StateIdle && (c.state == types.StateLoaded || c.state == types.StateWaitForResources):
			c.beginLoadedToIdleLocked(ctx)
		case to == types.StateLoaded && c.state == types.StateIdle:
			c.beginIdleToLoadedLocked(ctx)
		}
		return nil

	case types.CommandFlush:
		idxs, err := portsOf(param)
		if err != nil {
			return err
		}
		if !c.state.AcceptsBuffers() || stateSetInFlight {
			return types.Errorf(types.ErrorCodeIncorrectStateOperation, "cannot flush in state %s (%s)", c.state, c.transient)
		}
		for _, idx := range idxs {
			if c.pendingPortCmd[idx] != types.UndefinedCommand {
				return types.Errorf(types.ErrorCodeIncorrectStateOperation, "%s is pending on port %s", c.pendingPortCmd[idx], idx)
			}
		}
		return nil

	case types.CommandPortDisable, types.CommandPortEnable:
		idxs, err := portsOf(param)
		if err != nil {
			return err
		}
		if stateSetInFlight {
			return types.Errorf(types.ErrorCodeIncorrectStateOperation, "a state transition is in flight (%s)", c.transient)
		}
		wantEnabled := cmd == types.CommandPortDisable
		for _, idx := range idxs {
			if c.pendingPortCmd[idx] != types.UndefinedCommand {
				return types.Errorf(types.ErrorCodeIncorrectStateOperation, "%s is pending on port %s", c.pendingPortCmd[idx], idx)
			}
			if c.ports[idx].IsEnabled(ctx) != wantEnabled {
				return types.Errorf(types.ErrorCodeIncorrectStateOperation, "port %s: enabled is not %t", idx, wantEnabled)
			}
		}
		for _, idx := range idxs {
			c.pendingPortCmd[idx] = cmd
			if cmd == types.CommandPortEnable && c.state != types.StateLoaded && c.state != types.StateWaitForResources {
				// the host starts supplying buffers right after the call
				p := c.ports[idx]
				p.SetEnabled(ctx, true)
				p.SetState(ctx, types.PortStateEnabling)
			}
		}
		return nil
	}
	return types.Errorf(types.ErrorCodeBadParameter, "unknown command %s", cmd)
}

// rejectCommandLocked reverts what acceptCommandLocked did for a command
// that was not queued.
func (c *Component) rejectCommandLocked(ctx context.Context, cmd types.Command, param uint32) {
	switch cmd {
	case types.CommandStateSet:
		c.pendingStateSet = false
		switch c.transient {
		case types.TransientStateLoadedToIdle:
			for _, p := range c.ports {
				p.CompareAndSetState(ctx, types.PortStateLoaded, types.PortStateEnabling)
			}
		case types.TransientStateIdleToLoaded:
			for _, p := range c.ports {
				p.CompareAndSetState(ctx, types.PortStateIdle, types.PortStateDisabling)
			}
		}
		c.transient = types.TransientStateNone
	case types.CommandPortDisable, types.CommandPortEnable:
		idxs, _ := portsOf(param)
		for _, idx := range idxs {
			c.pendingPortCmd[idx] = types.UndefinedCommand
			if cmd == types.CommandPortEnable && c.ports[idx].CompareAndSetState(ctx, types.PortStateLoaded, types.PortStateEnabling) {
				c.ports[idx].SetEnabled(ctx, false)
			}
		}
	}
}

func (c *Component) hasPendingPortCommandLocked() bool {
	for _, cmd := range c.pendingPortCmd {
		if cmd != types.UndefinedCommand {
			return true
		}
	}
	return false
}

func (c *Component) commandLoop(ctx context.Context) {
	logger.Debugf(ctx, "commandLoop")
	defer func() { logger.Debugf(ctx, "/commandLoop") }()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commandQueue:
			c.processCommand(ctx, cmd)
		}
	}
}

func (c *Component) processCommand(ctx context.Context, cmd command) {
	logger.Debugf(ctx, "processCommand(%s, %d)", cmd.Command, cmd.Param)
	defer func() { logger.Debugf(ctx, "/processCommand(%s, %d)", cmd.Command, cmd.Param) }()

	if c.GetState(ctx) == types.StateInvalid {
		logger.Debugf(ctx, "the component is invalid, dropping the command")
		return
	}

	switch cmd.Command {
	case types.CommandStateSet:
		c.setState(ctx, types.State(cmd.Param))
	case types.CommandFlush:
		idxs, _ := portsOf(cmd.Param)
		c.flush(ctx, idxs)
	case types.CommandPortDisable:
		idxs, _ := portsOf(cmd.Param)
		for _, idx := range idxs {
			c.disablePort(ctx, idx)
		}
	case types.CommandPortEnable:
		idxs, _ := portsOf(cmd.Param)
		for _, idx := range idxs {
			c.enablePort(ctx, idx)
		}
	}
}

func (c *Component) setState(ctx context.Context, to types.State) {
	from := c.GetState(ctx)
	logger.Debugf(ctx, "setState: %s -> %s", from, to)
	switch {
	case to == types.StateInvalid:
		c.invalidate(ctx, types.Errorf(types.ErrorCodeInvalidState, "requested by the host"))
	case to == from:
		// already committed by a population change
	case to == types.StateIdle && (from == types.StateLoaded || from == types.StateWaitForResources),
		to == types.StateLoaded && from == types.StateIdle:
		c.checkPending(ctx)
	case to == types.StateLoaded && from == types.StateWaitForResources,
		to == types.StateWaitForResources && from == types.StateLoaded:
		c.commitState(ctx, to)
	case to.IsRunning() && from == types.StateIdle:
		c.idleToRunning(ctx, to)
	case to.IsRunning() && from.IsRunning():
		if w := c.getWorker(ctx); w != nil {
			w.SetPaused(ctx, to == types.StatePause)
		}
		c.commitState(ctx, to)
	case to == types.StateIdle && from.IsRunning():
		c.runningToIdle(ctx)
	default:
		logger.Errorf(ctx, "unexpected transition %s -> %s", from, to)
	}
}

func (c *Component) commitState(ctx context.Context, to types.State) {
	c.locker.Do(c.lockCtx(ctx), func() {
		c.commitStateLocked(ctx, to)
	})
	c.dispatcher.CommandComplete(ctx, types.CommandStateSet, uint32(to))
}

func (c *Component) commitStateLocked(ctx context.Context, to types.State) {
	logger.Debugf(ctx, "state %s -> %s", c.state, to)
	c.state = to
	c.transient = types.TransientStateNone
	c.pendingStateSet = false
	c.changeSignal.Broadcast()
}

func (c *Component) abortStateSet(ctx context.Context) {
	c.locker.Do(c.lockCtx(ctx), func() {
		c.transient = types.TransientStateNone
		c.pendingStateSet = false
	})
}

func (c *Component) beginLoadedToIdleLocked(ctx context.Context) {
	c.transient = types.TransientStateLoadedToIdle
	for _, p := range c.ports {
		if p.IsEnabled(ctx) {
			p.SetState(ctx, types.PortStateEnabling)
		}
	}
}

func (c *Component) beginIdleToLoadedLocked(ctx context.Context) {
	c.transient = types.TransientStateIdleToLoaded
	for _, p := range c.ports {
		if p.IsEnabled(ctx) {
			p.SetState(ctx, types.PortStateDisabling)
		}
	}
}

func (c *Component) idleToRunning(ctx context.Context, to types.State) {
	codecParams := xsync.DoR1(c.lockCtx(ctx), &c.locker, func() codec.Params {
		c.transient = types.TransientStateIdleToExecuting
		p := c.codecParams
		p.Extra = maps.Clone(p.Extra)
		return p
	})
	if err := codecParams.Push(ctx, c.Bridge); err != nil {
		c.abortStateSet(ctx)
		if types.ErrorCodeOf(err) == types.ErrorCodeUndefined {
			err = types.Error{Code: types.ErrorCodeBadParameter, Err: err}
		}
		c.dispatcher.Error(ctx, types.PortIndexAll, err)
		return
	}

	w := pipeline.New(pipeline.Config{
		Variant:      c.Variant,
		Bridge:       c.Bridge,
		Ports:        c.ports,
		Dispatcher:   c.dispatcher,
		ChangeSignal: c.changeSignal,
		Counters:     c.counters,
		MaxTimestamp: c.MaxTimestamp,
		OnFatal:      c.onFatal,
	})
	if to == types.StatePause {
		w.SetPaused(ctx, true)
	}
	c.locker.Do(c.lockCtx(ctx), func() {
		c.worker = w
	})
	w.Start(ctx)
	c.commitState(ctx, to)
}

// runningToIdle joins the worker, returns every buffer to the host and
// stops the bridge.
func (c *Component) runningToIdle(ctx context.Context) {
	w := xsync.DoR1(c.lockCtx(ctx), &c.locker, func() *pipeline.Worker {
		c.transient = types.TransientStateExecutingToIdle
		return c.worker
	})
	if w == nil {
		c.commitState(ctx, types.StateIdle)
		return
	}

	var errs []error
	if err := w.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, idx := range []types.PortIndex{types.PortIndexInput, types.PortIndexOutput} {
		if !c.ports[idx].IsEnabled(ctx) {
			continue
		}
		if err := w.FlushPort(ctx, idx, false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.StopBridge(ctx); err != nil {
		errs = append(errs, err)
	}
	c.locker.Do(c.lockCtx(ctx), func() {
		c.worker = nil
	})
	if err := errors.Join(errs...); err != nil {
		c.invalidate(ctx, err)
		return
	}
	c.commitState(ctx, types.StateIdle)
}

func (c *Component) flush(ctx context.Context, idxs []types.PortIndex) {
	w := c.getWorker(ctx)
	for _, idx := range idxs {
		p := c.ports[idx]
		if p.IsEnabled(ctx) && p.State(ctx) != types.PortStateLoaded {
			if w != nil {
				if err := w.FlushPort(ctx, idx, false); err != nil {
					continue
				}
			} else {
				c.flushPortOnly(ctx, idx, false)
			}
		}
		c.dispatcher.CommandComplete(ctx, types.CommandFlush, uint32(idx))
	}
}

// flushPortOnly returns what the port holds while there is no worker.
func (c *Component) flushPortOnly(ctx context.Context, idx types.PortIndex, forDisable bool) {
	p := c.ports[idx]
	p.BeginFlush(ctx, forDisable)
	for _, h := range p.ReleaseAll(ctx) {
		c.dispatcher.BufferDone(ctx, idx, h)
	}
	if forDisable {
		p.SetState(ctx, types.PortStateDisabling)
	} else {
		p.SetState(ctx, types.PortStateIdle)
	}
}

func (c *Component) disablePort(ctx context.Context, idx types.PortIndex) {
	ctx = logger.CtxWithPort(ctx, uint32(idx))
	p := c.ports[idx]
	p.SetEnabled(ctx, false)
	state := c.GetState(ctx)
	if state == types.StateLoaded || state == types.StateWaitForResources || p.State(ctx) == types.PortStateLoaded {
		p.SetState(ctx, types.PortStateLoaded)
		c.completePortCommand(ctx, types.CommandPortDisable, idx)
		return
	}

	if w := c.getWorker(ctx); w != nil {
		if err := w.FlushPort(ctx, idx, true); err != nil {
			c.locker.Do(c.lockCtx(ctx), func() {
				c.pendingPortCmd[idx] = types.UndefinedCommand
			})
			return
		}
	} else {
		c.flushPortOnly(ctx, idx, true)
	}
	c.checkPending(ctx)
}

func (c *Component) enablePort(ctx context.Context, idx types.PortIndex) {
	ctx = logger.CtxWithPort(ctx, uint32(idx))
	p := c.ports[idx]
	p.SetEnabled(ctx, true)
	state := c.GetState(ctx)
	if state == types.StateLoaded || state == types.StateWaitForResources {
		c.completePortCommand(ctx, types.CommandPortEnable, idx)
		return
	}
	c.checkPending(ctx)
}

func (c *Component) completePortCommand(ctx context.Context, cmd types.Command, idx types.PortIndex) {
	c.locker.Do(c.lockCtx(ctx), func() {
		c.pendingPortCmd[idx] = types.UndefinedCommand
	})
	c.dispatcher.CommandComplete(ctx, cmd, uint32(idx))
}

// checkPending completes whatever waits for the population of the ports:
// Loaded->Idle, Idle->Loaded, port enable and port disable.
func (c *Component) checkPending(ctx context.Context) {
	actions := xsync.DoR1(c.lockCtx(ctx), &c.locker, func() []action {
		return c.checkPendingLocked(ctx)
	})
	runActions(ctx, actions)
}

func (c *Component) checkPendingLocked(ctx context.Context) []action {
	var actions []action
	switch c.transient {
	case types.TransientStateLoadedToIdle:
		if c.allEnabledPopulatedLocked(ctx) {
			actions = append(actions, c.commitLoadedToIdleLocked(ctx)...)
		}
	case types.TransientStateIdleToLoaded:
		if c.allUnpopulatedLocked(ctx) {
			actions = append(actions, c.commitIdleToLoadedLocked(ctx)...)
		}
	}

	for idx, p := range c.ports {
		idx := types.PortIndex(idx)
		switch c.pendingPortCmd[idx] {
		case types.CommandPortDisable:
			if p.Assigned(ctx) == 0 && p.CompareAndSetState(ctx, types.PortStateLoaded, types.PortStateDisabling) {
				c.pendingPortCmd[idx] = types.UndefinedCommand
				actions = append(actions, func(ctx context.Context) {
					c.dispatcher.CommandComplete(ctx, types.CommandPortDisable, uint32(idx))
				})
			}
		case types.CommandPortEnable:
			if p.IsPopulated(ctx) && p.CompareAndSetState(ctx, types.PortStateIdle, types.PortStateEnabling) {
				c.pendingPortCmd[idx] = types.UndefinedCommand
				actions = append(actions, func(ctx context.Context) {
					c.dispatcher.CommandComplete(ctx, types.CommandPortEnable, uint32(idx))
				})
			}
		}
	}
	return actions
}

func (c *Component) allEnabledPopulatedLocked(ctx context.Context) bool {
	for _, p := range c.ports {
		if p.IsEnabled(ctx) && !p.IsPopulated(ctx) {
			return false
		}
	}
	return true
}

func (c *Component) allUnpopulatedLocked(ctx context.Context) bool {
	for _, p := range c.ports {
		if p.Assigned(ctx) > 0 {
			return false
		}
	}
	return true
}

func (c *Component) definitionsLocked(ctx context.Context) [types.NumPorts]params.PortDefinition {
	var defs [types.NumPorts]params.PortDefinition
	for idx, p := range c.ports {
		defs[idx] = p.Definition(ctx)
	}
	return defs
}

func (c *Component) commitLoadedToIdleLocked(ctx context.Context) []action {
	if err := c.Variant.Open(ctx, c.Bridge, c.definitionsLocked(ctx)); err != nil {
		logger.Errorf(ctx, "unable to open %s: %v", c.Variant, err)
		for _, p := range c.ports {
			if removed := p.UnregisterAll(ctx); len(removed) > 0 {
				logger.Debugf(ctx, "dropped %d buffers of %s", len(removed), p)
			}
			p.SetState(ctx, types.PortStateLoaded)
		}
		c.transient = types.TransientStateNone
		c.pendingStateSet = false
		return []action{func(ctx context.Context) {
			c.dispatcher.Error(ctx, types.PortIndexAll, types.Error{Code: types.ErrorCodeInsufficientResources, Err: err})
		}}
	}
	for _, p := range c.ports {
		p.CompareAndSetState(ctx, types.PortStateIdle, types.PortStateEnabling)
	}
	c.commitStateLocked(ctx, types.StateIdle)
	return []action{func(ctx context.Context) {
		c.dispatcher.CommandComplete(ctx, types.CommandStateSet, uint32(types.StateIdle))
	}}
}

func (c *Component) commitIdleToLoadedLocked(ctx context.Context) []action {
	var actions []action
	if err := c.Variant.Close(ctx, c.Bridge); err != nil {
		actions = append(actions, func(ctx context.Context) {
			c.dispatcher.Error(ctx, types.PortIndexAll, types.Error{Code: types.ErrorCodeHardware, Err: err})
		})
	}
	for _, p := range c.ports {
		p.SetState(ctx, types.PortStateLoaded)
	}
	c.commitStateLocked(ctx, types.StateLoaded)
	return append(actions, func(ctx context.Context) {
		c.dispatcher.CommandComplete(ctx, types.CommandStateSet, uint32(types.StateLoaded))
	})
}
