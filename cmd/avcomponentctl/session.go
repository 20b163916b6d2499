package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/component"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

// session drives one component from Loaded through a whole stream and back,
// acting as the host: it owns the buffers and reacts to the events.
type session struct {
	component *component.Component
	output    io.Writer
	header    []byte

	inputs      []*buffer.Header
	freeInputs  chan *buffer.Header
	outputs     []*buffer.Header
	outputsLock xsync.Mutex

	cmdDone         chan types.Event
	fatalErr        chan error
	eos             chan struct{}
	eosSeen         atomic.Bool
	stopping        atomic.Bool
	reconfiguring   atomic.Bool
	returnedOutputs chan *buffer.Header

	writtenBytes atomic.Uint64
	frames       atomic.Uint64
}

func newSession(
	c *component.Component,
	output io.Writer,
	header []byte,
) *session {
	s := &session{
		component:       c,
		output:          output,
		header:          header,
		cmdDone:         make(chan types.Event, 16),
		fatalErr:        make(chan error, 1),
		eos:             make(chan struct{}),
		returnedOutputs: make(chan *buffer.Header, 256),
	}
	return s
}

func (s *session) WrittenBytes() uint64 {
	return s.writtenBytes.Load()
}

func (s *session) Frames() uint64 {
	return s.frames.Load()
}

func (s *session) SetCodecParameters(
	ctx context.Context,
	codecParams map[string]any,
) error {
	if len(codecParams) == 0 {
		return nil
	}
	idx, err := s.component.GetExtensionIndex(ctx, params.ExtensionCodecParameter)
	if err != nil {
		return fmt.Errorf("unable to get the codec parameter index: %w", err)
	}
	for name, value := range codecParams {
		if err := s.component.SetParameter(ctx, idx, &params.CodecParameter{Name: name, Value: value}); err != nil {
			return fmt.Errorf("unable to set codec parameter '%s' to %v: %w", name, value, err)
		}
	}
	return nil
}

func (s *session) EventHandler(ctx context.Context, ev types.Event) {
	logger.Debugf(ctx, "event: %s", ev)
	switch ev.Kind {
	case types.EventCommandComplete:
		select {
		case s.cmdDone <- ev:
		default:
			logger.Errorf(ctx, "the command completion queue is full, dropping %s", ev)
		}
	case types.EventError:
		switch types.ErrorCode(ev.Data1) {
		case types.ErrorCodeCorruptedFrame, types.ErrorCodeCorruptedHeader:
			logger.Warnf(ctx, "%s", ev)
			return
		}
		err := ev.Err
		if err == nil {
			err = types.ErrorCode(ev.Data1)
		}
		select {
		case s.fatalErr <- err:
		default:
		}
	case types.EventPortSettingsChanged:
		if types.PortIndex(ev.Data1) != types.PortIndexOutput || params.Index(ev.Data2) != params.IndexParamPortDefinition {
			return
		}
		s.reconfiguring.Store(true)
		observability.Go(ctx, func(ctx context.Context) {
			if err := s.reconfigureOutput(ctx); err != nil {
				select {
				case s.fatalErr <- fmt.Errorf("unable to reconfigure the output port: %w", err):
				default:
				}
			}
		})
	case types.EventBufferFlag:
		if types.BufferFlags(ev.Data2)&types.BufferFlagEOS == 0 {
			return
		}
		if s.eosSeen.CompareAndSwap(false, true) {
			close(s.eos)
		}
	}
}

func (s *session) InputBufferDone(ctx context.Context, h *buffer.Header) {
	s.freeInputs <- h
}

func (s *session) OutputBufferDone(ctx context.Context, h *buffer.Header) {
	if payload := h.Payload(); len(payload) > 0 {
		n, err := s.output.Write(payload)
		s.writtenBytes.Add(uint64(n))
		if err != nil {
			select {
			case s.fatalErr <- fmt.Errorf("unable to write the output: %w", err):
			default:
			}
			return
		}
		s.frames.Add(1)
	}
	if h.Flags&types.BufferFlagEOS != 0 || s.stopping.Load() {
		return
	}
	if s.reconfiguring.Load() {
		s.returnedOutputs <- h
		return
	}
	if err := s.component.SubmitOutputBuffer(ctx, h); err != nil {
		logger.Debugf(ctx, "unable to resubmit %s: %v", h, err)
		s.returnedOutputs <- h
	}
}

func (s *session) waitCommand(
	ctx context.Context,
	cmd types.Command,
	data2 uint32,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.fatalErr:
			return err
		case ev := <-s.cmdDone:
			if types.Command(ev.Data1) == cmd && ev.Data2 == data2 {
				return nil
			}
			logger.Debugf(ctx, "skipping %s while waiting for %s(%d)", ev, cmd, data2)
		}
	}
}

func (s *session) allocate(
	ctx context.Context,
	idx types.PortIndex,
) ([]*buffer.Header, error) {
	def := s.component.Port(idx).Definition(ctx)
	result := make([]*buffer.Header, 0, def.BufferCountActual)
	for i := uint32(0); i < def.BufferCountActual; i++ {
		h, err := s.component.AllocateBuffer(ctx, idx, int(i), def.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("unable to allocate buffer #%d on port %s: %w", i, idx, err)
		}
		result = append(result, h)
	}
	return result, nil
}

func (s *session) free(
	ctx context.Context,
	idx types.PortIndex,
	headers []*buffer.Header,
) error {
	var errs []error
	for _, h := range headers {
		if err := s.component.FreeBuffer(ctx, idx, h); err != nil {
			errs = append(errs, fmt.Errorf("unable to free %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}

func (s *session) setState(ctx context.Context, state types.State, populate func() error) error {
	if err := s.component.SendCommand(ctx, types.CommandStateSet, uint32(state)); err != nil {
		return fmt.Errorf("unable to request state %s: %w", state, err)
	}
	if populate != nil {
		if err := populate(); err != nil {
			return err
		}
	}
	return s.waitCommand(ctx, types.CommandStateSet, uint32(state))
}

// Run feeds the whole input in chunks of chunkSize and returns after the
// EOS reached the output and the component is back in Loaded.
func (s *session) Run(
	ctx context.Context,
	input io.Reader,
	chunkSize uint32,
	timestampStep time.Duration,
) (_err error) {
	logger.Debugf(ctx, "Run")
	defer func() { logger.Debugf(ctx, "/Run: %v", _err) }()
	s.component.SetCallbacks(ctx, s)

	err := s.setState(ctx, types.StateIdle, func() error {
		var err error
		s.inputs, err = s.allocate(ctx, types.PortIndexInput)
		if err != nil {
			return err
		}
		outputs, err := s.allocate(ctx, types.PortIndexOutput)
		if err != nil {
			return err
		}
		s.outputsLock.Do(ctx, func() { s.outputs = outputs })
		return nil
	})
	if err != nil {
		return err
	}
	s.freeInputs = make(chan *buffer.Header, len(s.inputs))
	for _, h := range s.inputs {
		s.freeInputs <- h
	}

	if err := s.setState(ctx, types.StateExecuting, nil); err != nil {
		return err
	}
	if err := s.submitOutputs(ctx); err != nil {
		return err
	}

	if err := s.feed(ctx, input, chunkSize, timestampStep); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-s.fatalErr:
		return err
	case <-s.eos:
	}

	s.stopping.Store(true)
	if err := s.setState(ctx, types.StateIdle, nil); err != nil {
		return err
	}
	return s.setState(ctx, types.StateLoaded, func() error {
		outputs := xsync.DoR1(ctx, &s.outputsLock, func() []*buffer.Header { return s.outputs })
		return errors.Join(
			s.free(ctx, types.PortIndexInput, s.inputs),
			s.free(ctx, types.PortIndexOutput, outputs),
		)
	})
}

func (s *session) submitOutputs(ctx context.Context) error {
	outputs := xsync.DoR1(ctx, &s.outputsLock, func() []*buffer.Header { return s.outputs })
	for _, h := range outputs {
		if err := s.component.SubmitOutputBuffer(ctx, h); err != nil {
			return fmt.Errorf("unable to submit %s: %w", h, err)
		}
	}
	return nil
}

func (s *session) nextInput(ctx context.Context) (*buffer.Header, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.fatalErr:
		return nil, err
	case h := <-s.freeInputs:
		return h, nil
	}
}

func (s *session) feed(
	ctx context.Context,
	input io.Reader,
	chunkSize uint32,
	timestampStep time.Duration,
) (_err error) {
	logger.Debugf(ctx, "feed")
	defer func() { logger.Debugf(ctx, "/feed: %v", _err) }()

	submit := func(payload []byte, ts int64, flags types.BufferFlags) error {
		h, err := s.nextInput(ctx)
		if err != nil {
			return err
		}
		h.Offset = 0
		h.FilledLen = uint32(copy(h.Planes[0].Data, payload))
		h.Timestamp = ts
		h.Flags = flags
		if err := s.component.SubmitInputBuffer(ctx, h); err != nil {
			return fmt.Errorf("unable to submit %s: %w", h, err)
		}
		return nil
	}

	if s.header != nil {
		if err := submit(s.header, 0, types.BufferFlagCodecConfig); err != nil {
			return err
		}
	}

	def := s.component.Port(types.PortIndexInput).Definition(ctx)
	if chunkSize == 0 || chunkSize > def.BufferSize {
		chunkSize = def.BufferSize
	}
	chunk := make([]byte, chunkSize)
	var ts int64
	for {
		n, err := io.ReadFull(input, chunk)
		if n > 0 {
			if err := submit(chunk[:n], ts, types.BufferFlagEndOfFrame); err != nil {
				return err
			}
			ts += timestampStep.Microseconds()
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return submit(nil, ts, types.BufferFlagEOS)
		default:
			return fmt.Errorf("unable to read the input: %w", err)
		}
	}
}

// reconfigureOutput reallocates the output buffers after the stream
// geometry changed: disable the port, free, enable, allocate, resubmit.
func (s *session) reconfigureOutput(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "reconfigureOutput")
	defer func() { logger.Debugf(ctx, "/reconfigureOutput: %v", _err) }()

	if err := s.component.SendCommand(ctx, types.CommandPortDisable, uint32(types.PortIndexOutput)); err != nil {
		return err
	}
	old := xsync.DoR1(ctx, &s.outputsLock, func() []*buffer.Header { return s.outputs })
	for range old {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.returnedOutputs:
		}
	}
	if err := s.free(ctx, types.PortIndexOutput, old); err != nil {
		return err
	}
	if err := s.waitCommand(ctx, types.CommandPortDisable, uint32(types.PortIndexOutput)); err != nil {
		return err
	}

	if err := s.component.SendCommand(ctx, types.CommandPortEnable, uint32(types.PortIndexOutput)); err != nil {
		return err
	}
	outputs, err := s.allocate(ctx, types.PortIndexOutput)
	if err != nil {
		return err
	}
	s.outputsLock.Do(ctx, func() { s.outputs = outputs })
	if err := s.waitCommand(ctx, types.CommandPortEnable, uint32(types.PortIndexOutput)); err != nil {
		return err
	}
	s.reconfiguring.Store(false)
	return s.submitOutputs(ctx)
}
