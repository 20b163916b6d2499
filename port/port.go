// Package port implements a component port: its sub-state machine, the
// ownership of the buffers assigned to it and the FIFO of buffers the host
// handed over but the pipeline did not pick up yet.
package port

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/helpers/changesignal"
	"github.com/xaionaro-go/avcomponent/internal"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xsync"
)

type Port struct {
	Index types.PortIndex

	locker          xsync.Mutex
	changeSignal    *changesignal.ChangeSignal
	counters        *types.CountersPort
	registry        *buffer.Registry
	queue           []Message
	state           types.PortState
	enabled         bool
	exceptions      types.ExceptionFlags
	definition      params.PortDefinition
	pendingGeometry typing.Optional[types.Geometry]
}

// New returns an enabled port in the Loaded state. The change signal is
// broadcast on every change of the port.
func New(
	idx types.PortIndex,
	def params.PortDefinition,
	changeSignal *changesignal.ChangeSignal,
	counters *types.CountersPort,
) *Port {
	def.PortIndex = idx
	def.Direction = idx.Direction()
	if counters == nil {
		counters = &types.CountersPort{}
	}
	return &Port{
		Index:        idx,
		changeSignal: changeSignal,
		counters:     counters,
		registry:     buffer.NewRegistry(def.BufferCountActual),
		state:        types.PortStateLoaded,
		enabled:      true,
		definition:   def,
	}
}

func (p *Port) String() string {
	return fmt.Sprintf("Port(%s)", p.Index)
}

func (p *Port) lockCtx(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

func (p *Port) changed() {
	if p.changeSignal != nil {
		p.changeSignal.Broadcast()
	}
}

func (p *Port) State(ctx context.Context) types.PortState {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() types.PortState {
		return p.state
	})
}

func (p *Port) SetState(ctx context.Context, state types.PortState) {
	p.locker.Do(p.lockCtx(ctx), func() {
		p.setStateLocked(ctx, state)
	})
	p.changed()
}

func (p *Port) setStateLocked(ctx context.Context, state types.PortState) {
	if p.state == state {
		return
	}
	logger.Debugf(ctx, "%s: state %s -> %s", p, p.state, state)
	p.state = state
}

// CompareAndSetState sets the state only if the port is currently in one of
// the given states.
func (p *Port) CompareAndSetState(
	ctx context.Context,
	state types.PortState,
	expected ...types.PortState,
) bool {
	ok := xsync.DoR1(p.lockCtx(ctx), &p.locker, func() bool {
		for _, s := range expected {
			if p.state == s {
				p.setStateLocked(ctx, state)
				return true
			}
		}
		return false
	})
	if ok {
		p.changed()
	}
	return ok
}

func (p *Port) IsEnabled(ctx context.Context) bool {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() bool {
		return p.enabled
	})
}

// SetEnabled changes the enabled flag; enabling clears the exception flags.
func (p *Port) SetEnabled(ctx context.Context, enabled bool) {
	p.locker.Do(p.lockCtx(ctx), func() {
		p.enabled = enabled
		if enabled {
			p.exceptions = 0
		}
	})
	p.changed()
}

func (p *Port) Exceptions(ctx context.Context) types.ExceptionFlags {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() types.ExceptionFlags {
		return p.exceptions
	})
}

func (p *Port) SetException(ctx context.Context, flag types.ExceptionFlags) {
	p.locker.Do(p.lockCtx(ctx), func() {
		p.exceptions.Set(flag)
	})
	p.changed()
}

func (p *Port) ClearException(ctx context.Context, flag types.ExceptionFlags) {
	p.locker.Do(p.lockCtx(ctx), func() {
		p.exceptions.Unset(flag)
	})
	p.changed()
}

// Assigned is the amount of buffers registered on the port.
func (p *Port) Assigned(ctx context.Context) int {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() int {
		return p.registry.Len()
	})
}

func (p *Port) isPopulatedLocked() bool {
	return p.definition.BufferCountActual > 0 &&
		uint32(p.registry.Len()) >= p.definition.BufferCountActual
}

func (p *Port) IsPopulated(ctx context.Context) bool {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, p.isPopulatedLocked)
}

// IsReady returns true if the port is enabled, populated, idle and has no
// exception raised.
func (p *Port) IsReady(ctx context.Context) bool {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() bool {
		return p.enabled && p.state == types.PortStateIdle &&
			p.exceptions == 0 && p.isPopulatedLocked()
	})
}

// Definition returns the port definition with Enabled and Populated
// reflecting the current state.
func (p *Port) Definition(ctx context.Context) params.PortDefinition {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() params.PortDefinition {
		def := p.definition
		def.Enabled = p.enabled
		def.Populated = p.isPopulatedLocked()
		return def
	})
}

// SetDefinition replaces the host-settable part of the definition. It is
// allowed only while the port is in Loaded or disabled.
func (p *Port) SetDefinition(ctx context.Context, def params.PortDefinition) error {
	if def.PortIndex != p.Index {
		return types.Errorf(types.ErrorCodeBadPortIndex, "definition is for port %s, not %s", def.PortIndex, p.Index)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	err := xsync.DoR1(p.lockCtx(ctx), &p.locker, func() error {
		if p.enabled && p.state != types.PortStateLoaded {
			return types.Errorf(types.ErrorCodeIncorrectStateOperation, "%s is enabled and in state %s", p, p.state)
		}
		def.Direction = p.definition.Direction
		def.Enabled = p.enabled
		def.Populated = false
		p.definition = def
		return nil
	})
	if err == nil {
		p.changed()
	}
	return err
}

// UpdateGeometry applies the geometry reported by the hardware to the
// definition: buffer count and size grow to what the new geometry needs.
func (p *Port) UpdateGeometry(ctx context.Context, geom types.Geometry) params.PortDefinition {
	def := xsync.DoR1(p.lockCtx(ctx), &p.locker, func() params.PortDefinition {
		def := &p.definition
		def.Video.Geometry = geom
		if geom.MinBufferCount > 0 {
			def.BufferCountMin = geom.MinBufferCount
		}
		if def.BufferCountActual < def.BufferCountMin {
			def.BufferCountActual = def.BufferCountMin
		}
		if size := geom.FrameSize(); size > def.BufferSize {
			def.BufferSize = size
		}
		p.pendingGeometry = typing.Opt(geom)
		return *def
	})
	p.changed()
	return def
}

// TakePendingGeometry returns the geometry set by the last UpdateGeometry
// that was not taken yet.
func (p *Port) TakePendingGeometry(ctx context.Context) typing.Optional[types.Geometry] {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() typing.Optional[types.Geometry] {
		geom := p.pendingGeometry
		p.pendingGeometry = typing.Optional[types.Geometry]{}
		return geom
	})
}

// SetCrop updates the crop rectangle of the definition.
func (p *Port) SetCrop(ctx context.Context, crop types.Crop) {
	p.locker.Do(p.lockCtx(ctx), func() {
		p.definition.Video.Geometry.Crop = crop
	})
}

// Register assigns a host buffer to the port; it is allowed only while the
// port is Enabling. It returns true if the port became populated with this
// buffer.
func (p *Port) Register(ctx context.Context, h *buffer.Header) (_ bool, _err error) {
	logger.Tracef(ctx, "Register(%s)", h)
	defer func() { logger.Tracef(ctx, "/Register(%s): %v", h, _err) }()
	if err := h.Validate(p.Index); err != nil {
		return false, err
	}
	populated, err := xsync.DoR2(p.lockCtx(ctx), &p.locker, func() (bool, error) {
		if p.state != types.PortStateEnabling {
			return false, types.Errorf(types.ErrorCodeIncorrectStateOperation, "%s is in state %s, not %s", p, p.state, types.PortStateEnabling)
		}
		if p.isPopulatedLocked() {
			return false, types.Errorf(types.ErrorCodeIncorrectStateOperation, "%s is already populated with %d buffers", p, p.registry.Len())
		}
		if _, err := p.registry.Register(h); err != nil {
			return false, types.Error{Code: types.ErrorCodeBadParameter, Err: err}
		}
		return p.isPopulatedLocked(), nil
	})
	if err == nil {
		p.changed()
	}
	return populated, err
}

// Unregister removes a host-owned buffer from the port. It returns the
// amount of buffers left and whether the port was populated before.
func (p *Port) Unregister(ctx context.Context, h *buffer.Header) (_ int, _ bool, _err error) {
	logger.Tracef(ctx, "Unregister(%s)", h)
	defer func() { logger.Tracef(ctx, "/Unregister(%s): %v", h, _err) }()
	if err := h.Validate(p.Index); err != nil {
		return 0, false, err
	}
	var (
		left         int
		wasPopulated bool
	)
	err := xsync.DoR1(p.lockCtx(ctx), &p.locker, func() error {
		wasPopulated = p.isPopulatedLocked()
		if err := p.registry.Unregister(h); err != nil {
			code := types.ErrorCodeBadParameter
			if _, ok := err.(buffer.ErrWrongOwner); ok {
				code = types.ErrorCodeIncorrectStateOperation
			}
			return types.Error{Code: code, Err: err}
		}
		left = p.registry.Len()
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	p.changed()
	return left, wasPopulated, nil
}

// UnregisterAll removes every host-owned buffer from the port and returns
// them.
func (p *Port) UnregisterAll(ctx context.Context) []*buffer.Header {
	removed := xsync.DoR1(p.lockCtx(ctx), &p.locker, func() []*buffer.Header {
		owned := p.registry.Owned(buffer.OwnerHost)
		for _, h := range owned {
			err := p.registry.Unregister(h)
			internal.Assert(ctx, err == nil, err)
		}
		return owned
	})
	if len(removed) > 0 {
		p.changed()
	}
	return removed
}

// Submit hands a buffer over to the engine. componentAcceptsBuffers tells
// whether the component state allows buffer submission.
func (p *Port) Submit(
	ctx context.Context,
	componentAcceptsBuffers bool,
	h *buffer.Header,
) (_err error) {
	logger.Tracef(ctx, "Submit(%s)", h)
	defer func() { logger.Tracef(ctx, "/Submit(%s): %v", h, _err) }()
	if err := h.Validate(p.Index); err != nil {
		p.counters.Rejected.Increment(0)
		return err
	}
	kind := MessageEmptyThisBuffer
	if p.Index == types.PortIndexOutput {
		kind = MessageFillThisBuffer
	}
	err := xsync.DoR1(p.lockCtx(ctx), &p.locker, func() error {
		if !componentAcceptsBuffers || !p.enabled || p.state != types.PortStateIdle {
			return types.Errorf(
				types.ErrorCodeIncorrectStateOperation,
				"%s does not accept buffers now (enabled:%t, state:%s)", p, p.enabled, p.state,
			)
		}
		switch p.registry.Owner(h) {
		case buffer.UndefinedOwner:
			return types.Errorf(types.ErrorCodeBadParameter, "buffer %s is not assigned to %s", h, p)
		case buffer.OwnerEngine:
			logger.Warnf(ctx, "buffer %s is submitted to %s while it is already owned by the component", h, p)
			return types.Errorf(types.ErrorCodeIncorrectStateOperation, "buffer %s is already owned by the component", h)
		}
		if err := p.registry.Acquire(h); err != nil {
			return types.Error{Code: types.ErrorCodeIncorrectStateOperation, Err: err}
		}
		internal.Assert(ctx, p.registry.Owner(h) == buffer.OwnerEngine, h)
		p.queue = append(p.queue, Message{Kind: kind, Header: h})
		return nil
	})
	if err != nil {
		p.counters.Rejected.Increment(0)
		return err
	}
	p.counters.Submitted.Increment(uint64(h.FilledLen))
	p.changed()
	return nil
}

// HasMessages returns true if a message can be popped now.
func (p *Port) HasMessages(ctx context.Context) bool {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() bool {
		return p.state == types.PortStateIdle && len(p.queue) > 0
	})
}

// Pop takes the oldest message; nothing is popped while the port is not Idle.
func (p *Port) Pop(ctx context.Context) (Message, bool) {
	return xsync.DoR2(p.lockCtx(ctx), &p.locker, func() (Message, bool) {
		if p.state != types.PortStateIdle || len(p.queue) == 0 {
			return Message{}, false
		}
		msg := p.queue[0]
		p.queue[0] = Message{}
		p.queue = p.queue[1:]
		return msg, true
	})
}

// Unpop puts a message back to the head of the FIFO.
func (p *Port) Unpop(ctx context.Context, msg Message) {
	p.locker.Do(p.lockCtx(ctx), func() {
		p.queue = append([]Message{msg}, p.queue...)
	})
	p.changed()
}

func (p *Port) QueueLen(ctx context.Context) int {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() int {
		return len(p.queue)
	})
}

// Return flips the buffer back to the host. The caller invokes the
// completion callback after this returns.
func (p *Port) Return(ctx context.Context, h *buffer.Header) error {
	err := xsync.DoR1(p.lockCtx(ctx), &p.locker, func() error {
		return p.registry.Release(h)
	})
	if err != nil {
		return fmt.Errorf("unable to return %s to the host: %w", h, err)
	}
	p.counters.Returned.Increment(uint64(h.FilledLen))
	p.changed()
	return nil
}

// IsEngineOwned returns true if the buffer is registered on the port and
// owned by the engine.
func (p *Port) IsEngineOwned(ctx context.Context, h *buffer.Header) bool {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() bool {
		return p.registry.Owner(h) == buffer.OwnerEngine
	})
}

func (p *Port) CountEngineOwned(ctx context.Context) int {
	return xsync.DoR1(p.lockCtx(ctx), &p.locker, func() int {
		return p.registry.CountOwned(buffer.OwnerEngine)
	})
}

// BeginFlush marks the port flushing and drops the queued messages; the
// buffers of the dropped messages stay engine-owned until ReleaseAll.
func (p *Port) BeginFlush(ctx context.Context, forDisable bool) int {
	state := types.PortStateFlushing
	if forDisable {
		state = types.PortStateFlushingForDisable
	}
	dropped := xsync.DoR1(p.lockCtx(ctx), &p.locker, func() int {
		p.setStateLocked(ctx, state)
		dropped := len(p.queue)
		p.queue = nil
		return dropped
	})
	p.changed()
	return dropped
}

// ReleaseAll flips every engine-owned buffer back to the host with no
// payload and returns them; the caller invokes the completion callbacks.
func (p *Port) ReleaseAll(ctx context.Context) []*buffer.Header {
	released := xsync.DoR1(p.lockCtx(ctx), &p.locker, func() []*buffer.Header {
		owned := p.registry.Owned(buffer.OwnerEngine)
		for _, h := range owned {
			err := p.registry.Release(h)
			internal.Assert(ctx, err == nil, err)
			h.ResetForReturn()
		}
		p.queue = nil
		return owned
	})
	for range released {
		p.counters.Flushed.Increment(0)
	}
	if len(released) > 0 {
		p.changed()
	}
	return released
}
