package component

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codecbridge/loopback"
	"github.com/xaionaro-go/avcomponent/event"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
)

func isPortDefinitionChanged(ev types.Event) bool {
	return ev.Kind == types.EventPortSettingsChanged &&
		ev.Data1 == uint32(types.PortIndexOutput) &&
		ev.Data2 == uint32(params.IndexParamPortDefinition)
}

func countPortDefinitionChanged(events []types.Event) int {
	var count int
	for _, ev := range events {
		if isPortDefinitionChanged(ev) {
			count++
		}
	}
	return count
}

type deliveredFrame struct {
	Payload         string
	SettingsChanged int
}

// recordFrames remembers every filled output together with the amount of
// port-definition-changed events fired before it was delivered.
func (s *testSession) recordFrames() func() []deliveredFrame {
	var (
		locker sync.Mutex
		frames []deliveredFrame
	)
	s.rec.OnOutput = func(ctx context.Context, h *buffer.Header) {
		if h.FilledLen == 0 {
			return
		}
		changed := countPortDefinitionChanged(s.rec.EventsOf(types.EventPortSettingsChanged))
		locker.Lock()
		defer locker.Unlock()
		frames = append(frames, deliveredFrame{
			Payload:         string(h.Payload()),
			SettingsChanged: changed,
		})
	}
	return func() []deliveredFrame {
		locker.Lock()
		defer locker.Unlock()
		return append([]deliveredFrame{}, frames...)
	}
}

func TestResolutionChangeEventPrecedesFrame(t *testing.T) {
	s := newTestSession(t)
	frames := s.recordFrames()
	s.startStream()

	s.submitInput(1, []byte("IDR:frame1"), 100, 0)
	s.submitInput(2, loopback.EncodeHeader(testGeometry(640, 480)), 200, types.BufferFlagCodecConfig)
	s.submitInput(3, []byte("frame2"), 300, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return countPortDefinitionChanged(r.Events) == 1
	})
	require.Never(t, func() bool {
		return len(frames()) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)

	s.reconfigureOutput()
	s.waitFor(func(r *event.Recorder) bool {
		return len(filledOutputs(r.OutputsDone)) == 2
	})
	require.Equal(t, []deliveredFrame{
		{Payload: "IDR:frame1", SettingsChanged: 0},
		{Payload: "frame2", SettingsChanged: 1},
	}, frames())
}

func TestNoDeliveryAfterResolutionChange(t *testing.T) {
	bridge := newFaultyBridge()
	bridge.changeAt = 2
	bridge.changeGeometry = testGeometry(640, 480)
	s := newTestSessionWithBridge(t, bridge.Device, bridge)
	ctx := s.ctx
	frames := s.recordFrames()
	s.startStream()

	s.submitInput(1, []byte("IDR:frame1"), 100, 0)
	s.submitInput(2, []byte("frame2"), 200, 0)
	s.submitInput(3, []byte("frame3"), 300, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return countPortDefinitionChanged(r.Events) == 1 && len(r.InputsDone) == 4
	})
	require.True(t, s.c.Port(types.PortIndexOutput).Exceptions(ctx).HasAny(types.ExceptionNeedsDisable))
	require.Never(t, func() bool {
		return len(frames()) > 1
	}, 200*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, []deliveredFrame{{Payload: "IDR:frame1"}}, frames())

	s.reconfigureOutput()
	_, _, outputsDone := s.rec.Snapshot()
	require.Len(t, outputsDone, 4)
	for _, h := range outputsDone[1:] {
		require.Zero(t, h.FilledLen)
		require.Zero(t, h.Flags)
	}

	s.submitInput(1, []byte("frame4"), 400, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(filledOutputs(r.OutputsDone)) == 2
	})
	require.Equal(t, []deliveredFrame{
		{Payload: "IDR:frame1"},
		{Payload: "frame4", SettingsChanged: 1},
	}, frames())
	require.Equal(t, types.Resolution{Width: 640, Height: 480}, s.c.Port(types.PortIndexOutput).Definition(ctx).Video.Geometry.Resolution)
}

func TestCropChange(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.startStream()

	s.submitInput(1, []byte("IDR:frame1"), 100, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.OutputsDone) == 1
	})

	geom := testGeometry(320, 240)
	geom.Crop = types.Crop{Left: 8, Top: 4, Width: 304, Height: 232}
	s.submitInput(2, loopback.EncodeHeader(geom), 200, types.BufferFlagCodecConfig)
	s.submitInput(3, []byte("frame2"), 300, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(filledOutputs(r.OutputsDone)) == 2
	})

	events := s.rec.EventsOf(types.EventPortSettingsChanged)
	require.Len(t, events, 1)
	require.Equal(t, uint32(types.PortIndexOutput), events[0].Data1)
	require.Equal(t, uint32(params.IndexConfigCommonOutputCrop), events[0].Data2)

	out := s.c.Port(types.PortIndexOutput)
	require.Zero(t, out.Exceptions(ctx))
	require.Equal(t, geom.Crop, out.Definition(ctx).Video.Geometry.Crop)
	require.Equal(t, types.PortStateIdle, out.State(ctx))

	_, _, outputsDone := s.rec.Snapshot()
	frames := filledOutputs(outputsDone)
	require.Equal(t, "frame2", string(frames[1].Payload()))
	require.Equal(t, int64(300), frames[1].Timestamp)
}

func TestCorruptedHeaderAtSetup(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.toIdle()
	s.toState(types.StateExecuting)
	s.submitOutputs(s.outputs...)

	s.submitInput(0, []byte("garbage!"), 0, types.BufferFlagCodecConfig)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.InputsDone) == 1 && countErrors(r.Events, types.ErrorCodeCorruptedHeader) == 1
	})
	errs := s.rec.EventsOf(types.EventError)
	require.Len(t, errs, 1)
	require.Equal(t, uint32(types.PortIndexInput), errs[0].Data2)

	in := s.c.Port(types.PortIndexInput)
	require.Equal(t, types.PortStateIdle, in.State(ctx))
	require.Zero(t, in.CountEngineOwned(ctx))
	require.Equal(t, types.StateExecuting, s.c.GetState(ctx))
	require.Zero(t, s.dev.QueuedCount(ctx, types.DirectionOutput))

	s.submitInput(1, loopback.EncodeHeader(testGeometry(320, 240)), 0, types.BufferFlagCodecConfig)
	require.Eventually(t, func() bool {
		return s.dev.QueuedCount(ctx, types.DirectionOutput) == len(s.outputs)
	}, testTimeout, 10*time.Millisecond)
	s.submitInput(2, []byte("IDR:frame1"), 100, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.OutputsDone) == 1
	})
	_, _, outputsDone := s.rec.Snapshot()
	require.Equal(t, "IDR:frame1", string(outputsDone[0].Payload()))
	require.Len(t, s.rec.EventsOf(types.EventError), 1)
}

func TestFlushFailure(t *testing.T) {
	bridge := newFaultyBridge()
	s := newTestSessionWithBridge(t, bridge.Device, bridge)
	ctx := s.ctx
	s.startStream()

	bridge.failClearQueue.Store(true)
	require.NoError(t, s.c.SendCommand(ctx, types.CommandFlush, uint32(types.PortIndexInput)))
	s.waitFor(func(r *event.Recorder) bool {
		return countErrors(r.Events, types.ErrorCodeHardware) == 1
	})

	errs := s.rec.EventsOf(types.EventError)
	require.Len(t, errs, 1)
	require.Equal(t, uint32(types.PortIndexInput), errs[0].Data2)
	require.Equal(t, types.PortStateFlushing, s.c.Port(types.PortIndexInput).State(ctx))
	require.Never(t, func() bool {
		return countCommandComplete(s.rec.EventsOf(types.EventCommandComplete), types.CommandFlush, uint32(types.PortIndexInput)) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, types.StateExecuting, s.c.GetState(ctx))

	err := s.c.SubmitInputBuffer(ctx, s.inputs[1])
	require.ErrorIs(t, err, types.ErrorCodeIncorrectStateOperation)

	bridge.failClearQueue.Store(false)
	s.sendCommand(types.CommandFlush, uint32(types.PortIndexInput))()
	require.Equal(t, types.PortStateIdle, s.c.Port(types.PortIndexInput).State(ctx))
}

func TestDisableInputWhileExecuting(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.startStream()
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.InputsDone) == 1
	})

	s.dev.Stall(ctx, true)
	s.submitInput(1, []byte("IDR:frame1"), 100, 0)
	s.submitInput(2, []byte("frame2"), 200, 0)
	require.Eventually(t, func() bool {
		return s.dev.QueuedCount(ctx, types.DirectionInput) == 2
	}, testTimeout, 10*time.Millisecond)

	in := s.c.Port(types.PortIndexInput)
	wait := s.sendCommand(types.CommandPortDisable, uint32(types.PortIndexInput))
	require.Eventually(t, func() bool {
		return in.State(ctx) == types.PortStateDisabling
	}, testTimeout, 10*time.Millisecond)
	require.False(t, in.IsEnabled(ctx))
	require.Zero(t, in.CountEngineOwned(ctx))
	require.Zero(t, s.dev.QueuedCount(ctx, types.DirectionInput))

	_, inputsDone, _ := s.rec.Snapshot()
	require.Len(t, inputsDone, 3)
	for _, h := range inputsDone {
		require.Zero(t, h.FilledLen)
	}
	require.Zero(t, countCommandComplete(s.rec.EventsOf(types.EventCommandComplete), types.CommandPortDisable, uint32(types.PortIndexInput)))

	for _, h := range s.inputs {
		require.NoError(t, s.c.FreeBuffer(ctx, types.PortIndexInput, h))
	}
	wait()
	require.Equal(t, types.PortStateLoaded, in.State(ctx))
	require.Equal(t, types.StateExecuting, s.c.GetState(ctx))
	require.Zero(t, countErrors(s.rec.EventsOf(types.EventError), types.ErrorCodePortUnpopulated))

	s.dev.Stall(ctx, false)
	wait = s.sendCommand(types.CommandPortEnable, uint32(types.PortIndexInput))
	s.inputs = s.allocate(types.PortIndexInput)
	wait()
	require.Equal(t, types.PortStateIdle, in.State(ctx))
	require.True(t, in.IsEnabled(ctx))

	s.submitInput(0, []byte("IDR:frame3"), 300, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.OutputsDone) == 1
	})
	_, _, outputsDone := s.rec.Snapshot()
	require.Equal(t, "IDR:frame3", string(outputsDone[0].Payload()))
}

func TestEOSWithPayloadDeliveredOnce(t *testing.T) {
	s := newTestSession(t)
	s.startStream()

	s.submitInput(1, []byte("IDR:last"), 100, types.BufferFlagEOS)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.OutputsDone) == 1
	})
	_, _, outputsDone := s.rec.Snapshot()
	last := outputsDone[0]
	require.Equal(t, "IDR:last", string(last.Payload()))
	require.Equal(t, int64(100), last.Timestamp)
	require.True(t, last.Flags.HasAll(types.BufferFlagEOS|types.BufferFlagEndOfFrame))
	require.Len(t, s.rec.EventsOf(types.EventBufferFlag), 1)

	// a trailing zero-payload EOS of the same stream is not reported again
	s.submitInput(2, nil, 200, types.BufferFlagEOS)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.OutputsDone) == 2
	})
	_, _, outputsDone = s.rec.Snapshot()
	require.Zero(t, outputsDone[1].FilledLen)
	require.False(t, outputsDone[1].Flags.HasAll(types.BufferFlagEOS))
	require.Never(t, func() bool {
		return len(s.rec.EventsOf(types.EventBufferFlag)) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestOpenFailureDropsBuffers(t *testing.T) {
	bridge := newFaultyBridge()
	s := newTestSessionWithBridge(t, bridge.Device, bridge)
	ctx := s.ctx

	bridge.failSetGeometry.Store(true)
	require.NoError(t, s.c.SendCommand(ctx, types.CommandStateSet, uint32(types.StateIdle)))
	inputs := s.allocate(types.PortIndexInput)
	outputs := s.allocate(types.PortIndexOutput)
	s.waitFor(func(r *event.Recorder) bool {
		return countErrors(r.Events, types.ErrorCodeInsufficientResources) == 1
	})

	require.Equal(t, types.StateLoaded, s.c.GetState(ctx))
	for _, idx := range []types.PortIndex{types.PortIndexInput, types.PortIndexOutput} {
		p := s.c.Port(idx)
		require.Equal(t, types.PortStateLoaded, p.State(ctx))
		require.Zero(t, p.Assigned(ctx))
		require.False(t, p.IsPopulated(ctx))
	}
	require.ErrorIs(t, s.c.FreeBuffer(ctx, types.PortIndexInput, inputs[0]), types.ErrorCodeBadParameter)
	require.ErrorIs(t, s.c.FreeBuffer(ctx, types.PortIndexOutput, outputs[0]), types.ErrorCodeBadParameter)

	bridge.failSetGeometry.Store(false)
	s.toIdle()
	require.Equal(t, len(s.inputs), s.c.Port(types.PortIndexInput).Assigned(ctx))
}

func TestSubmitAgainstInvalidation(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.toIdle()

	var (
		wg       sync.WaitGroup
		accepted = make([]bool, len(s.inputs))
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, h := range s.inputs {
			accepted[i] = s.c.SubmitInputBuffer(ctx, h) == nil
			time.Sleep(time.Millisecond)
		}
	}()
	require.NoError(t, s.c.SendCommand(ctx, types.CommandStateSet, uint32(types.StateInvalid)))
	wg.Wait()
	require.Eventually(t, func() bool {
		return s.c.GetState(ctx) == types.StateInvalid
	}, testTimeout, 10*time.Millisecond)

	in := s.c.Port(types.PortIndexInput)
	for i, h := range s.inputs {
		require.Equal(t, accepted[i], in.IsEngineOwned(ctx, h), "buffer #%d", i)
	}
	for i, h := range s.inputs {
		if accepted[i] {
			continue
		}
		require.Error(t, s.c.SubmitInputBuffer(ctx, h))
	}
}
