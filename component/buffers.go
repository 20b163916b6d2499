package component

import (
	"context"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/port"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/xsync"
)

func (c *Component) portFor(idx types.PortIndex) (*port.Port, error) {
	if !idx.IsValid() {
		return nil, types.Errorf(types.ErrorCodeBadPortIndex, "invalid port index %d", idx)
	}
	return c.ports[idx], nil
}

// UseBuffer assigns a host-allocated buffer to the port. It is allowed only
// while the port is being enabled (including Loaded->Idle).
func (c *Component) UseBuffer(
	ctx context.Context,
	idx types.PortIndex,
	appPrivate any,
	planes ...buffer.Plane,
) (_ret *buffer.Header, _err error) {
	ctx = c.ctx(ctx)
	logger.Debugf(ctx, "UseBuffer(%s, %d planes)", idx, len(planes))
	defer func() { logger.Debugf(ctx, "/UseBuffer(%s): %s %v", idx, _ret, _err) }()
	if len(planes) == 0 {
		return nil, types.Errorf(types.ErrorCodeBadParameter, "no planes given")
	}
	return c.assignBuffer(ctx, idx, buffer.NewHeader(idx, appPrivate, false, planes...))
}

// AllocateBuffer is UseBuffer with the memory allocated by the component.
func (c *Component) AllocateBuffer(
	ctx context.Context,
	idx types.PortIndex,
	appPrivate any,
	size uint32,
) (_ret *buffer.Header, _err error) {
	ctx = c.ctx(ctx)
	logger.Debugf(ctx, "AllocateBuffer(%s, %d)", idx, size)
	defer func() { logger.Debugf(ctx, "/AllocateBuffer(%s, %d): %s %v", idx, size, _ret, _err) }()
	plane := buffer.Plane{Data: make([]byte, size), FD: -1}
	return c.assignBuffer(ctx, idx, buffer.NewHeader(idx, appPrivate, true, plane))
}

func (c *Component) assignBuffer(
	ctx context.Context,
	idx types.PortIndex,
	h *buffer.Header,
) (*buffer.Header, error) {
	p, err := c.portFor(idx)
	if err != nil {
		return nil, err
	}
	if c.GetState(ctx) == types.StateInvalid {
		return nil, types.Errorf(types.ErrorCodeInvalidState, "the component is in state %s", types.StateInvalid)
	}
	def := p.Definition(ctx)
	if h.AllocLen < def.BufferSize {
		return nil, types.Errorf(types.ErrorCodeBadParameter, "the buffer is too small: %d < %d", h.AllocLen, def.BufferSize)
	}
	populated, err := p.Register(ctx, h)
	if err != nil {
		return nil, err
	}
	if populated {
		c.checkPending(ctx)
	}
	return h, nil
}

// FreeBuffer removes a host-owned buffer from the port. Freeing a buffer of
// an enabled port that is in use fires a PortUnpopulated error event.
func (c *Component) FreeBuffer(
	ctx context.Context,
	idx types.PortIndex,
	h *buffer.Header,
) (_err error) {
	ctx = c.ctx(ctx)
	logger.Debugf(ctx, "FreeBuffer(%s, %s)", idx, h)
	defer func() { logger.Debugf(ctx, "/FreeBuffer(%s, %s): %v", idx, h, _err) }()
	p, err := c.portFor(idx)
	if err != nil {
		return err
	}
	_, wasPopulated, err := p.Unregister(ctx, h)
	if err != nil {
		return err
	}

	var (
		state         types.State
		transient     types.TransientState
		disablingPort bool
	)
	c.locker.Do(c.lockCtx(ctx), func() {
		state, transient = c.state, c.transient
		disablingPort = c.pendingPortCmd[idx] == types.CommandPortDisable
	})
	if wasPopulated &&
		!disablingPort &&
		p.IsEnabled(ctx) &&
		state.AcceptsBuffers() &&
		transient != types.TransientStateIdleToLoaded &&
		p.State(ctx) != types.PortStateDisabling {
		c.dispatcher.Error(ctx, idx, types.Errorf(types.ErrorCodePortUnpopulated, "port %s lost buffer %s while in use", idx, h))
	}
	c.checkPending(ctx)
	return nil
}

// SubmitInputBuffer hands a filled buffer to the component ("empty this
// buffer"); it comes back through InputBufferDone.
func (c *Component) SubmitInputBuffer(ctx context.Context, h *buffer.Header) error {
	return c.submit(c.ctx(ctx), types.PortIndexInput, h)
}

// SubmitOutputBuffer hands an empty buffer to the component ("fill this
// buffer"); it comes back through OutputBufferDone.
func (c *Component) SubmitOutputBuffer(ctx context.Context, h *buffer.Header) error {
	return c.submit(c.ctx(ctx), types.PortIndexOutput, h)
}

// submit queues the buffer with the component lock held, so that no state
// commit interleaves between the state check and the queueing.
func (c *Component) submit(ctx context.Context, idx types.PortIndex, h *buffer.Header) error {
	return xsync.DoR1(c.lockCtx(ctx), &c.locker, func() error {
		return c.ports[idx].Submit(ctx, c.state.AcceptsBuffers() && !c.invalidating, h)
	})
}
