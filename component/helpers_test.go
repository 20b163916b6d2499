package component

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/codecbridge/loopback"
	"github.com/xaionaro-go/avcomponent/codecbridge/queuedevice"
	"github.com/xaionaro-go/avcomponent/event"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
)

const testTimeout = 10 * time.Second

type testSession struct {
	t       *testing.T
	ctx     context.Context
	dev     *queuedevice.Device
	c       *Component
	rec     *event.Recorder
	inputs  []*buffer.Header
	outputs []*buffer.Header
}

func newTestSession(t *testing.T, opts ...Option) *testSession {
	dev := loopback.New()
	return newTestSessionWithBridge(t, dev, dev, opts...)
}

// newTestSessionWithBridge is newTestSession with the device wrapped into
// another bridge.
func newTestSessionWithBridge(
	t *testing.T,
	dev *queuedevice.Device,
	bridge codecbridge.CodecBridge,
	opts ...Option,
) *testSession {
	ctx, cancelFn := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancelFn)

	opts = append([]Option{OptionBufferSize(types.PortIndexInput, 4096)}, opts...)
	c, err := New(ctx, codec.NewName(codec.KindDecoder, codec.IDAVC), bridge, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close(context.Background()))
	})

	rec := event.NewRecorder()
	c.SetCallbacks(ctx, rec)
	return &testSession{
		t:   t,
		ctx: ctx,
		dev: dev,
		c:   c,
		rec: rec,
	}
}

func testGeometry(w, h uint32) types.Geometry {
	return types.Geometry{
		Resolution:     types.Resolution{Width: w, Height: h},
		MinBufferCount: 2,
	}
}

func (s *testSession) waitFor(predicate func(r *event.Recorder) bool) {
	s.t.Helper()
	require.True(s.t, s.rec.WaitFor(s.ctx, predicate), "timed out")
}

func countCommandComplete(events []types.Event, cmd types.Command, data2 uint32) int {
	var count int
	for _, ev := range events {
		if ev.Kind == types.EventCommandComplete && ev.Data1 == uint32(cmd) && ev.Data2 == data2 {
			count++
		}
	}
	return count
}

func countErrors(events []types.Event, code types.ErrorCode) int {
	var count int
	for _, ev := range events {
		if ev.Kind == types.EventError && ev.Data1 == uint32(code) {
			count++
		}
	}
	return count
}

// sendCommand sends the command and returns a function waiting for its
// completion event.
func (s *testSession) sendCommand(cmd types.Command, param uint32) func() {
	s.t.Helper()
	before := countCommandComplete(s.rec.EventsOf(types.EventCommandComplete), cmd, param)
	require.NoError(s.t, s.c.SendCommand(s.ctx, cmd, param))
	return func() {
		s.t.Helper()
		s.waitFor(func(r *event.Recorder) bool {
			return countCommandComplete(r.Events, cmd, param) > before
		})
	}
}

func (s *testSession) allocate(idx types.PortIndex) []*buffer.Header {
	s.t.Helper()
	def := s.c.Port(idx).Definition(s.ctx)
	var result []*buffer.Header
	for i := uint32(0); i < def.BufferCountActual; i++ {
		h, err := s.c.AllocateBuffer(s.ctx, idx, int(i), def.BufferSize)
		require.NoError(s.t, err)
		result = append(result, h)
	}
	return result
}

func (s *testSession) toIdle() {
	s.t.Helper()
	wait := s.sendCommand(types.CommandStateSet, uint32(types.StateIdle))
	s.inputs = s.allocate(types.PortIndexInput)
	s.outputs = s.allocate(types.PortIndexOutput)
	wait()
	require.Equal(s.t, types.StateIdle, s.c.GetState(s.ctx))
}

func (s *testSession) toState(state types.State) {
	s.t.Helper()
	s.sendCommand(types.CommandStateSet, uint32(state))()
	require.Equal(s.t, state, s.c.GetState(s.ctx))
}

func (s *testSession) submitInput(i int, payload []byte, ts int64, flags types.BufferFlags) {
	s.t.Helper()
	h := s.inputs[i]
	h.Offset = 0
	h.FilledLen = uint32(copy(h.Planes[0].Data, payload))
	h.Timestamp = ts
	h.Flags = flags
	require.NoError(s.t, s.c.SubmitInputBuffer(s.ctx, h))
}

func (s *testSession) submitOutputs(outputs ...*buffer.Header) {
	s.t.Helper()
	for _, h := range outputs {
		require.NoError(s.t, s.c.SubmitOutputBuffer(s.ctx, h))
	}
}

// startStream brings the component to Executing with every output buffer
// queued in the device and the stream header parsed.
func (s *testSession) startStream() {
	s.t.Helper()
	s.toIdle()
	s.toState(types.StateExecuting)
	s.submitOutputs(s.outputs...)
	s.submitInput(0, loopback.EncodeHeader(testGeometry(320, 240)), 0, types.BufferFlagCodecConfig)
	require.Eventually(s.t, func() bool {
		return s.dev.QueuedCount(s.ctx, types.DirectionOutput) == len(s.outputs)
	}, testTimeout, 10*time.Millisecond)
}

func filledOutputs(outputs []*buffer.Header) []*buffer.Header {
	var result []*buffer.Header
	for _, h := range outputs {
		if h.FilledLen > 0 {
			result = append(result, h)
		}
	}
	return result
}

// reconfigureOutput does what a host does on a port-settings-changed event:
// disable the output port, free its buffers, enable it with the new
// definition, allocate and submit new buffers.
func (s *testSession) reconfigureOutput() {
	s.t.Helper()
	ctx := s.ctx
	out := s.c.Port(types.PortIndexOutput)
	def := params.PortDefinition{PortIndex: types.PortIndexOutput}
	require.NoError(s.t, s.c.GetParameter(ctx, params.IndexParamPortDefinition, &def))

	wait := s.sendCommand(types.CommandPortDisable, uint32(types.PortIndexOutput))
	require.Eventually(s.t, func() bool {
		return out.State(ctx) == types.PortStateDisabling
	}, testTimeout, 10*time.Millisecond)
	for _, h := range s.outputs {
		require.NoError(s.t, s.c.FreeBuffer(ctx, types.PortIndexOutput, h))
	}
	wait()

	require.NoError(s.t, s.c.SetParameter(ctx, params.IndexParamPortDefinition, &def))
	wait = s.sendCommand(types.CommandPortEnable, uint32(types.PortIndexOutput))
	s.outputs = s.allocate(types.PortIndexOutput)
	wait()
	s.submitOutputs(s.outputs...)
}

// faultyBridge wraps a device to inject failures and resolution changes.
type faultyBridge struct {
	*queuedevice.Device

	failSetGeometry atomic.Bool
	failClearQueue  atomic.Bool

	// the filled output (counting from 1) to report as resolution-changed
	// with changeGeometry; zero disables
	changeAt       int32
	changeGeometry types.Geometry
	filled         atomic.Int32
}

var _ codecbridge.CodecBridge = (*faultyBridge)(nil)

func newFaultyBridge() *faultyBridge {
	return &faultyBridge{Device: loopback.New()}
}

func (b *faultyBridge) SetGeometry(ctx context.Context, dir types.Direction, geom types.Geometry) error {
	if b.failSetGeometry.Load() {
		return codecbridge.ErrHardware{Err: fmt.Errorf("cannot allocate the %s direction for %s", dir, geom)}
	}
	return b.Device.SetGeometry(ctx, dir, geom)
}

func (b *faultyBridge) ClearQueue(ctx context.Context, dir types.Direction) error {
	if b.failClearQueue.Load() {
		return codecbridge.ErrHardware{Err: fmt.Errorf("the %s queue is stuck", dir)}
	}
	return b.Device.ClearQueue(ctx, dir)
}

func (b *faultyBridge) Dequeue(ctx context.Context, dir types.Direction) (*codecbridge.Result, error) {
	res, err := b.Device.Dequeue(ctx, dir)
	if err != nil || dir != types.DirectionOutput || b.changeAt == 0 || res.TotalLength() == 0 {
		return res, err
	}
	if b.filled.Add(1) == b.changeAt {
		if err := b.Device.SetGeometry(ctx, types.DirectionOutput, b.changeGeometry); err != nil {
			return nil, err
		}
		res.Status |= codecbridge.StatusResolutionChanged
	}
	return res, nil
}
