// component_test.go tests the component state machine and the buffer flow over the loopback device.

package component

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/codecbridge/loopback"
	"github.com/xaionaro-go/avcomponent/event"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
)

func TestNew(t *testing.T) {
	ctx := t.Context()

	_, err := New(ctx, codec.Name("avcomponent.audio_decoder.mp3"), loopback.New())
	require.ErrorIs(t, err, types.ErrorCodeBadParameter)

	_, err = New(ctx, codec.NewName(codec.KindDecoder, codec.IDAVC), nil)
	require.ErrorIs(t, err, types.ErrorCodeBadParameter)

	c, err := New(
		ctx,
		codec.NewName(codec.KindEncoder, codec.IDVP8),
		loopback.New(),
		OptionInstanceID("enc0"),
		OptionBufferCount(types.PortIndexOutput, 1),
		OptionBufferSize(types.PortIndexOutput, 8192),
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close(ctx)) }()

	require.Equal(t, "enc0", c.InstanceID)
	require.Equal(t, types.StateLoaded, c.GetState(ctx))
	require.Equal(t, types.TransientStateNone, c.GetTransientState(ctx))
	require.Nil(t, c.Port(types.PortIndex(2)))

	def := c.Port(types.PortIndexOutput).Definition(ctx)
	require.Equal(t, uint32(1), def.BufferCountActual)
	require.Equal(t, uint32(1), def.BufferCountMin)
	require.Equal(t, uint32(8192), def.BufferSize)
	require.Equal(t, types.DirectionOutput, def.Direction)
	require.True(t, def.Enabled)
	require.False(t, def.Populated)
}

func TestStateGraph(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx

	for _, tc := range []struct {
		Name  string
		Cmd   types.Command
		Param uint32
		Code  types.ErrorCode
	}{
		{"LoadedToExecuting", types.CommandStateSet, uint32(types.StateExecuting), types.ErrorCodeIncorrectStateOperation},
		{"LoadedToLoaded", types.CommandStateSet, uint32(types.StateLoaded), types.ErrorCodeIncorrectStateOperation},
		{"FlushInLoaded", types.CommandFlush, uint32(types.PortIndexAll), types.ErrorCodeIncorrectStateOperation},
		{"UnknownCommand", types.Command(42), 0, types.ErrorCodeBadParameter},
		{"BadPortIndex", types.CommandPortDisable, 5, types.ErrorCodeBadPortIndex},
		{"EnableEnabledPort", types.CommandPortEnable, uint32(types.PortIndexInput), types.ErrorCodeIncorrectStateOperation},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			err := s.c.SendCommand(ctx, tc.Cmd, tc.Param)
			require.ErrorIs(t, err, tc.Code)
		})
	}

	s.toState(types.StateWaitForResources)
	s.toState(types.StateLoaded)

	wait := s.sendCommand(types.CommandStateSet, uint32(types.StateIdle))
	require.Equal(t, types.TransientStateLoadedToIdle, s.c.GetTransientState(ctx))
	require.ErrorIs(t,
		s.c.SendCommand(ctx, types.CommandStateSet, uint32(types.StateLoaded)),
		types.ErrorCodeIncorrectStateOperation,
	)
	for _, idx := range []types.PortIndex{types.PortIndexInput, types.PortIndexOutput} {
		require.Equal(t, types.PortStateEnabling, s.c.Port(idx).State(ctx))
	}
	s.inputs = s.allocate(types.PortIndexInput)
	require.Equal(t, types.StateLoaded, s.c.GetState(ctx))
	s.outputs = s.allocate(types.PortIndexOutput)
	wait()
	require.Equal(t, types.StateIdle, s.c.GetState(ctx))
	for _, idx := range []types.PortIndex{types.PortIndexInput, types.PortIndexOutput} {
		require.Equal(t, types.PortStateIdle, s.c.Port(idx).State(ctx))
		require.True(t, s.c.Port(idx).Definition(ctx).Populated)
	}

	s.toState(types.StateExecuting)
	s.toState(types.StatePause)
	s.toState(types.StateExecuting)
	s.toState(types.StateIdle)

	wait = s.sendCommand(types.CommandStateSet, uint32(types.StateLoaded))
	for _, h := range s.inputs {
		require.NoError(t, s.c.FreeBuffer(ctx, types.PortIndexInput, h))
	}
	for _, h := range s.outputs {
		require.NoError(t, s.c.FreeBuffer(ctx, types.PortIndexOutput, h))
	}
	wait()
	require.Equal(t, types.StateLoaded, s.c.GetState(ctx))
	for _, idx := range []types.PortIndex{types.PortIndexInput, types.PortIndexOutput} {
		require.Equal(t, types.PortStateLoaded, s.c.Port(idx).State(ctx))
		require.Zero(t, s.c.Port(idx).Assigned(ctx))
	}

	events, _, _ := s.rec.Snapshot()
	require.Zero(t, countErrors(events, types.ErrorCodePortUnpopulated))
	require.Zero(t, countErrors(events, types.ErrorCodeHardware))
}

func TestSubmitValidation(t *testing.T) {
	t.Run("Loaded", func(t *testing.T) {
		s := newTestSession(t)
		h := buffer.NewHeader(types.PortIndexInput, nil, false, buffer.Plane{Data: make([]byte, 16), FD: -1})
		require.ErrorIs(t, s.c.SubmitInputBuffer(s.ctx, h), types.ErrorCodeIncorrectStateOperation)
	})

	s := newTestSession(t)
	ctx := s.ctx
	s.toIdle()

	s.submitInput(0, []byte("IDR:frame"), 0, 0)
	require.ErrorIs(t, s.c.SubmitInputBuffer(ctx, s.inputs[0]), types.ErrorCodeIncorrectStateOperation)
	require.ErrorIs(t, s.c.SubmitInputBuffer(ctx, nil), types.ErrorCodeBadParameter)
	require.ErrorIs(t, s.c.SubmitInputBuffer(ctx, s.outputs[0]), types.ErrorCodeBadParameter)
	unknown := buffer.NewHeader(types.PortIndexInput, nil, false, buffer.Plane{Data: make([]byte, 4096), FD: -1})
	require.ErrorIs(t, s.c.SubmitInputBuffer(ctx, unknown), types.ErrorCodeBadParameter)
	require.NoError(t, s.c.SubmitOutputBuffer(ctx, s.outputs[0]))

	in := s.c.Port(types.PortIndexInput)
	require.Equal(t, 1, in.QueueLen(ctx))
	require.True(t, in.IsEngineOwned(ctx, s.inputs[0]))

	stats := s.c.GetStatistics(ctx)
	require.Equal(t, uint64(1), stats.Input.Submitted.Count)
	require.Equal(t, uint64(len("IDR:frame")), stats.Input.Submitted.Bytes)
	require.Equal(t, uint64(4), stats.Input.Rejected.Count)
	require.Equal(t, uint64(1), stats.Output.Submitted.Count)
}

func TestDecodeAndEOS(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.startStream()

	s.submitInput(1, []byte("IDR:frame1"), 100, 0)
	s.submitInput(2, []byte("frame2"), 200, 0)
	s.submitInput(3, nil, 300, types.BufferFlagEOS)

	// the EOS takes one of the output buffers the device holds empty
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.InputsDone) == 4 && len(r.OutputsDone) == 3
	})

	_, inputsDone, outputsDone := s.rec.Snapshot()
	for _, h := range inputsDone {
		require.Zero(t, h.FilledLen)
	}
	for _, tc := range []struct {
		Payload   string
		Timestamp int64
		Flags     types.BufferFlags
	}{
		{"IDR:frame1", 100, types.BufferFlagEndOfFrame | types.BufferFlagSyncFrame},
		{"frame2", 200, types.BufferFlagEndOfFrame},
	} {
		h := outputsDone[0]
		outputsDone = outputsDone[1:]
		require.Equal(t, tc.Payload, string(h.Payload()))
		require.Equal(t, tc.Timestamp, h.Timestamp)
		require.Equal(t, tc.Flags, h.Flags)
	}
	eos := outputsDone[0]
	require.Zero(t, eos.FilledLen)
	require.Equal(t, int64(300), eos.Timestamp)
	require.True(t, eos.Flags.HasAll(types.BufferFlagEOS))

	flagEvents := s.rec.EventsOf(types.EventBufferFlag)
	require.Len(t, flagEvents, 1)
	require.Equal(t, uint32(types.PortIndexOutput), flagEvents[0].Data1)
	require.True(t, types.BufferFlags(flagEvents[0].Data2).HasAll(types.BufferFlagEOS))
	require.Never(t, func() bool {
		return len(s.rec.EventsOf(types.EventBufferFlag)) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.dev.QueuedCount(ctx, types.DirectionOutput) == 1
	}, testTimeout, 10*time.Millisecond)
	stats := s.c.GetStatistics(ctx)
	require.Equal(t, uint64(4), stats.Input.Returned.Count)
	require.Equal(t, uint64(3), stats.Output.Returned.Count)
}

func TestEOSWaitsForPendingFrames(t *testing.T) {
	s := newTestSession(t, OptionBufferCount(types.PortIndexInput, 8))
	ctx := s.ctx
	s.startStream()
	require.Len(t, s.outputs, 4)

	for i := 1; i <= 5; i++ {
		s.submitInput(i, []byte(fmt.Sprintf("frame%d", i)), int64(i*100), 0)
	}
	s.submitInput(6, nil, 600, types.BufferFlagEOS)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.InputsDone) == 7 && len(r.OutputsDone) == 4
	})
	require.Never(t, func() bool {
		_, _, outputsDone := s.rec.Snapshot()
		return len(outputsDone) > 4
	}, 100*time.Millisecond, 10*time.Millisecond)
	require.Empty(t, s.rec.EventsOf(types.EventBufferFlag))

	_, _, outputsDone := s.rec.Snapshot()
	s.submitOutputs(outputsDone[0])
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.OutputsDone) == 5
	})
	_, _, outputsDone = s.rec.Snapshot()
	frame5 := outputsDone[4]
	require.Equal(t, "frame5", string(frame5.Payload()))
	require.Equal(t, int64(500), frame5.Timestamp)
	require.False(t, frame5.Flags.HasAll(types.BufferFlagEOS))
	require.Empty(t, s.rec.EventsOf(types.EventBufferFlag))

	s.submitOutputs(outputsDone[1])
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.OutputsDone) == 6
	})
	_, _, outputsDone = s.rec.Snapshot()
	eos := outputsDone[5]
	require.Zero(t, eos.FilledLen)
	require.Equal(t, int64(600), eos.Timestamp)
	require.True(t, eos.Flags.HasAll(types.BufferFlagEOS))
	require.Len(t, s.rec.EventsOf(types.EventBufferFlag), 1)
	require.Equal(t, types.StateExecuting, s.c.GetState(ctx))
}

func TestCorruptedFrame(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.startStream()

	s.submitInput(1, append(bytes.Clone(loopback.CorruptedMarker), "frame"...), 100, 0)
	s.submitInput(2, []byte("frame2"), 200, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.InputsDone) == 3 && len(r.OutputsDone) == 1
	})

	errs := s.rec.EventsOf(types.EventError)
	require.Len(t, errs, 1)
	require.Equal(t, uint32(types.ErrorCodeCorruptedFrame), errs[0].Data1)
	require.Equal(t, uint32(types.PortIndexInput), errs[0].Data2)

	_, _, outputsDone := s.rec.Snapshot()
	require.Equal(t, "frame2", string(outputsDone[0].Payload()))
	require.Equal(t, int64(200), outputsDone[0].Timestamp)
	require.Equal(t, types.StateExecuting, s.c.GetState(ctx))
	require.Equal(t, uint64(1), s.c.GetStatistics(ctx).Input.Dropped.Count)
}

func TestFlush(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.startStream()

	s.submitInput(1, []byte("IDR:frame1"), 100, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.InputsDone) == 2 && len(r.OutputsDone) == 1
	})

	s.dev.Stall(ctx, true)
	s.submitInput(2, []byte("frame2"), 200, 0)
	s.submitInput(3, []byte("frame3"), 300, 0)
	require.Eventually(t, func() bool {
		return s.dev.QueuedCount(ctx, types.DirectionInput) == 2
	}, testTimeout, 10*time.Millisecond)

	s.sendCommand(types.CommandFlush, uint32(types.PortIndexInput))()
	_, inputsDone, _ := s.rec.Snapshot()
	require.Len(t, inputsDone, 4)
	for _, h := range inputsDone[2:] {
		require.Zero(t, h.FilledLen)
		require.Zero(t, h.Flags&types.BufferFlagsPayload)
	}

	in := s.c.Port(types.PortIndexInput)
	require.Zero(t, in.QueueLen(ctx))
	require.Zero(t, in.CountEngineOwned(ctx))
	require.Equal(t, types.PortStateIdle, in.State(ctx))
	require.Equal(t, 1, countCommandComplete(s.rec.EventsOf(types.EventCommandComplete), types.CommandFlush, uint32(types.PortIndexInput)))
	require.Equal(t, uint64(2), s.c.GetStatistics(ctx).Input.Flushed.Count)
	require.Zero(t, s.dev.QueuedCount(ctx, types.DirectionInput))

	s.dev.Stall(ctx, false)
	s.submitInput(2, []byte("frame4"), 400, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(filledOutputs(r.OutputsDone)) == 2
	})
	_, _, outputsDone := s.rec.Snapshot()
	last := outputsDone[len(outputsDone)-1]
	require.Equal(t, "frame4", string(last.Payload()))
	require.Equal(t, int64(400), last.Timestamp)
}

func TestFlushOutputAndAll(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.startStream()

	s.sendCommand(types.CommandFlush, uint32(types.PortIndexOutput))()
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.OutputsDone) == len(s.outputs)
	})
	out := s.c.Port(types.PortIndexOutput)
	require.Zero(t, out.CountEngineOwned(ctx))
	require.Equal(t, types.PortStateIdle, out.State(ctx))
	require.Zero(t, s.dev.QueuedCount(ctx, types.DirectionOutput))

	s.submitOutputs(s.outputs...)
	require.Eventually(t, func() bool {
		return s.dev.QueuedCount(ctx, types.DirectionOutput) == len(s.outputs)
	}, testTimeout, 10*time.Millisecond)
	s.submitInput(1, []byte("frame1"), 100, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(filledOutputs(r.OutputsDone)) == 1
	})

	before := len(s.rec.EventsOf(types.EventCommandComplete))
	require.NoError(t, s.c.SendCommand(ctx, types.CommandFlush, uint32(types.PortIndexAll)))
	s.waitFor(func(r *event.Recorder) bool {
		return countCommandComplete(r.Events, types.CommandFlush, uint32(types.PortIndexInput)) == 1 &&
			countCommandComplete(r.Events, types.CommandFlush, uint32(types.PortIndexOutput)) == 2
	})
	require.Len(t, s.rec.EventsOf(types.EventCommandComplete), before+2)
	for _, idx := range []types.PortIndex{types.PortIndexInput, types.PortIndexOutput} {
		require.Zero(t, s.c.Port(idx).CountEngineOwned(ctx))
	}
}

func TestResolutionChange(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.startStream()

	s.submitInput(1, []byte("IDR:frame1"), 100, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.OutputsDone) == 1
	})
	s.submitInput(2, loopback.EncodeHeader(testGeometry(640, 480)), 200, types.BufferFlagCodecConfig)
	s.submitInput(3, []byte("frame2"), 300, 0)
	s.waitFor(func(r *event.Recorder) bool {
		for _, ev := range r.Events {
			if ev.Kind == types.EventPortSettingsChanged &&
				ev.Data1 == uint32(types.PortIndexOutput) &&
				ev.Data2 == uint32(params.IndexParamPortDefinition) {
				return true
			}
		}
		return false
	})

	out := s.c.Port(types.PortIndexOutput)
	require.True(t, out.Exceptions(ctx).HasAny(types.ExceptionNeedsDisable))
	_, _, outputsDone := s.rec.Snapshot()
	require.Len(t, filledOutputs(outputsDone), 1)

	def := params.PortDefinition{PortIndex: types.PortIndexOutput}
	require.NoError(t, s.c.GetParameter(ctx, params.IndexParamPortDefinition, &def))
	require.Equal(t, types.Resolution{Width: 640, Height: 480}, def.Video.Geometry.Resolution)
	require.GreaterOrEqual(t, def.BufferSize, uint32(640*480*3/2))

	wait := s.sendCommand(types.CommandPortDisable, uint32(types.PortIndexOutput))
	require.Eventually(t, func() bool {
		return out.State(ctx) == types.PortStateDisabling
	}, testTimeout, 10*time.Millisecond)
	require.Zero(t, out.CountEngineOwned(ctx))
	for _, h := range s.outputs {
		require.NoError(t, s.c.FreeBuffer(ctx, types.PortIndexOutput, h))
	}
	wait()
	require.Equal(t, types.PortStateLoaded, out.State(ctx))
	require.False(t, out.IsEnabled(ctx))

	require.NoError(t, s.c.SetParameter(ctx, params.IndexParamPortDefinition, &def))
	wait = s.sendCommand(types.CommandPortEnable, uint32(types.PortIndexOutput))
	s.outputs = s.allocate(types.PortIndexOutput)
	wait()
	require.Equal(t, types.PortStateIdle, out.State(ctx))
	require.Zero(t, out.Exceptions(ctx))

	s.submitOutputs(s.outputs...)
	s.waitFor(func(r *event.Recorder) bool {
		return len(filledOutputs(r.OutputsDone)) == 2
	})
	_, _, outputsDone = s.rec.Snapshot()
	frames := filledOutputs(outputsDone)
	require.Equal(t, "frame2", string(frames[1].Payload()))
	require.Equal(t, int64(300), frames[1].Timestamp)

	events, _, _ := s.rec.Snapshot()
	require.Zero(t, countErrors(events, types.ErrorCodePortUnpopulated))
	require.Equal(t, types.StateExecuting, s.c.GetState(ctx))
}

func TestPopulation(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx

	_, err := s.c.AllocateBuffer(ctx, types.PortIndexInput, nil, 4096)
	require.ErrorIs(t, err, types.ErrorCodeIncorrectStateOperation)
	_, err = s.c.UseBuffer(ctx, types.PortIndexInput, nil)
	require.ErrorIs(t, err, types.ErrorCodeBadParameter)

	wait := s.sendCommand(types.CommandStateSet, uint32(types.StateIdle))
	_, err = s.c.AllocateBuffer(ctx, types.PortIndexInput, nil, 100)
	require.ErrorIs(t, err, types.ErrorCodeBadParameter)
	_, err = s.c.AllocateBuffer(ctx, types.PortIndex(3), nil, 4096)
	require.ErrorIs(t, err, types.ErrorCodeBadPortIndex)

	in := s.c.Port(types.PortIndexInput)
	inDef := in.Definition(ctx)
	for i := uint32(0); i < inDef.BufferCountActual; i++ {
		require.False(t, in.Definition(ctx).Populated)
		h, err := s.c.UseBuffer(ctx, types.PortIndexInput, i, buffer.Plane{Data: make([]byte, inDef.BufferSize), FD: -1})
		require.NoError(t, err)
		require.False(t, h.IsAllocatedByComponent())
		require.Equal(t, i, h.AppPrivate)
		s.inputs = append(s.inputs, h)
	}
	require.True(t, in.Definition(ctx).Populated)
	_, err = s.c.AllocateBuffer(ctx, types.PortIndexInput, nil, inDef.BufferSize)
	require.ErrorIs(t, err, types.ErrorCodeIncorrectStateOperation)

	s.outputs = s.allocate(types.PortIndexOutput)
	require.True(t, s.outputs[0].IsAllocatedByComponent())
	wait()

	_, err = s.c.AllocateBuffer(ctx, types.PortIndexOutput, nil, 115200)
	require.ErrorIs(t, err, types.ErrorCodeIncorrectStateOperation)

	require.NoError(t, s.c.FreeBuffer(ctx, types.PortIndexInput, s.inputs[0]))
	s.waitFor(func(r *event.Recorder) bool {
		return countErrors(r.Events, types.ErrorCodePortUnpopulated) == 1
	})
	errs := s.rec.EventsOf(types.EventError)
	require.Equal(t, uint32(types.PortIndexInput), errs[0].Data2)
	require.ErrorIs(t, s.c.FreeBuffer(ctx, types.PortIndexInput, s.inputs[0]), types.ErrorCodeBadParameter)
	require.Equal(t, types.StateIdle, s.c.GetState(ctx))
}

func TestPortDisableEnableInIdle(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.toIdle()
	s.submitInput(0, []byte("IDR:frame"), 100, 0)

	in := s.c.Port(types.PortIndexInput)
	wait := s.sendCommand(types.CommandPortDisable, uint32(types.PortIndexInput))
	require.ErrorIs(t,
		s.c.SendCommand(ctx, types.CommandPortDisable, uint32(types.PortIndexInput)),
		types.ErrorCodeIncorrectStateOperation,
	)
	require.ErrorIs(t,
		s.c.SendCommand(ctx, types.CommandStateSet, uint32(types.StateExecuting)),
		types.ErrorCodeIncorrectStateOperation,
	)
	s.waitFor(func(r *event.Recorder) bool {
		return len(r.InputsDone) == 1
	})
	_, inputsDone, _ := s.rec.Snapshot()
	require.Zero(t, inputsDone[0].FilledLen)
	for _, h := range s.inputs {
		require.NoError(t, s.c.FreeBuffer(ctx, types.PortIndexInput, h))
	}
	wait()
	require.Equal(t, types.PortStateLoaded, in.State(ctx))
	require.False(t, in.Definition(ctx).Enabled)

	s.toState(types.StateExecuting)
	require.ErrorIs(t, s.c.SubmitInputBuffer(ctx, s.inputs[0]), types.ErrorCodeIncorrectStateOperation)

	wait = s.sendCommand(types.CommandPortEnable, uint32(types.PortIndexInput))
	require.Equal(t, types.PortStateEnabling, in.State(ctx))
	s.inputs = s.allocate(types.PortIndexInput)
	wait()
	require.Equal(t, types.PortStateIdle, in.State(ctx))
	require.True(t, in.Definition(ctx).Enabled)

	s.submitOutputs(s.outputs...)
	s.submitInput(0, loopback.EncodeHeader(testGeometry(320, 240)), 0, types.BufferFlagCodecConfig)
	require.Eventually(t, func() bool {
		return s.dev.QueuedCount(ctx, types.DirectionOutput) == len(s.outputs)
	}, testTimeout, 10*time.Millisecond)
	s.submitInput(1, []byte("IDR:frame"), 100, 0)
	s.waitFor(func(r *event.Recorder) bool {
		return len(filledOutputs(r.OutputsDone)) == 1
	})

	events, _, _ := s.rec.Snapshot()
	require.Zero(t, countErrors(events, types.ErrorCodePortUnpopulated))
}

func TestInvalid(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.toIdle()

	require.NoError(t, s.c.SendCommand(ctx, types.CommandStateSet, uint32(types.StateInvalid)))
	s.waitFor(func(r *event.Recorder) bool {
		return countErrors(r.Events, types.ErrorCodeInvalidState) > 0
	})
	require.Eventually(t, func() bool {
		return s.c.GetState(ctx) == types.StateInvalid
	}, testTimeout, 10*time.Millisecond)

	errs := s.rec.EventsOf(types.EventError)
	require.Len(t, errs, 1)
	require.Equal(t, uint32(types.ErrorCodeInvalidState), errs[0].Data1)
	require.Equal(t, uint32(types.PortIndexAll), errs[0].Data2)
	require.Zero(t, countCommandComplete(s.rec.EventsOf(types.EventCommandComplete), types.CommandStateSet, uint32(types.StateInvalid)))

	for _, idx := range []types.PortIndex{types.PortIndexInput, types.PortIndexOutput} {
		require.Equal(t, types.PortStateInvalid, s.c.Port(idx).State(ctx))
	}
	require.ErrorIs(t, s.c.SendCommand(ctx, types.CommandStateSet, uint32(types.StateLoaded)), types.ErrorCodeInvalidState)
	require.ErrorIs(t, s.c.SetParameter(ctx, params.IndexParamVideoBitrate, &params.Bitrate{}), types.ErrorCodeInvalidState)
	_, err := s.c.AllocateBuffer(ctx, types.PortIndexInput, nil, 4096)
	require.ErrorIs(t, err, types.ErrorCodeInvalidState)

	s.c.dispatcher.Error(ctx, types.PortIndexAll, types.Errorf(types.ErrorCodeHardware, "too late"))
	require.Len(t, s.rec.EventsOf(types.EventError), 1)
}

func TestHardwareFailure(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx
	s.startStream()

	s.dev.FailNextDequeue(ctx, types.DirectionOutput, codecbridge.ErrHardware{Err: errors.New("device lost")})
	s.waitFor(func(r *event.Recorder) bool {
		return countErrors(r.Events, types.ErrorCodeInvalidState) > 0
	})
	require.Eventually(t, func() bool {
		return s.c.GetState(ctx) == types.StateInvalid
	}, testTimeout, 10*time.Millisecond)
	require.Nil(t, s.c.getWorker(ctx))
	require.ErrorIs(t, s.c.SendCommand(ctx, types.CommandStateSet, uint32(types.StateIdle)), types.ErrorCodeInvalidState)
}

func TestClose(t *testing.T) {
	ctx := t.Context()
	c, err := New(ctx, codec.NewName(codec.KindDecoder, codec.IDHEVC), loopback.New())
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))
	require.ErrorIs(t, c.SendCommand(ctx, types.CommandStateSet, uint32(types.StateIdle)), types.ErrorCodeInvalidState)
}

func TestParameters(t *testing.T) {
	s := newTestSession(t)
	ctx := s.ctx

	t.Run("Role", func(t *testing.T) {
		var role params.ComponentRole
		require.NoError(t, s.c.GetParameter(ctx, params.IndexParamStandardComponentRole, &role))
		require.Equal(t, "video_decoder.avc", role.Role)
		require.NoError(t, s.c.SetParameter(ctx, params.IndexParamStandardComponentRole, &role))
		err := s.c.SetParameter(ctx, params.IndexParamStandardComponentRole, &params.ComponentRole{Role: "video_encoder.avc"})
		require.ErrorIs(t, err, types.ErrorCodeBadParameter)
	})

	t.Run("Bitrate", func(t *testing.T) {
		require.NoError(t, s.c.SetParameter(ctx, params.IndexParamVideoBitrate, &params.Bitrate{Target: 1000000, ControlRate: "cbr"}))
		var bitrate params.Bitrate
		require.NoError(t, s.c.GetParameter(ctx, params.IndexParamVideoBitrate, &bitrate))
		require.Equal(t, uint32(1000000), bitrate.Target)
		require.Equal(t, "cbr", bitrate.ControlRate)
	})

	t.Run("Framerate", func(t *testing.T) {
		require.ErrorIs(t, s.c.SetConfig(ctx, params.IndexConfigVideoFramerate, &params.Framerate{FPS: 0}), types.ErrorCodeBadParameter)
		require.NoError(t, s.c.SetConfig(ctx, params.IndexConfigVideoFramerate, &params.Framerate{FPS: 25}))
		var fps params.Framerate
		require.NoError(t, s.c.GetConfig(ctx, params.IndexConfigVideoFramerate, &fps))
		require.Equal(t, float64(25), fps.FPS)
	})

	t.Run("Crop", func(t *testing.T) {
		crop := params.OutputCrop{PortIndex: types.PortIndexOutput}
		require.NoError(t, s.c.GetConfig(ctx, params.IndexConfigCommonOutputCrop, &crop))
		require.Equal(t, types.Crop{Width: 320, Height: 240}, crop.Crop)
		require.ErrorIs(t, s.c.GetConfig(ctx, params.IndexConfigCommonOutputCrop, &params.OutputCrop{}), types.ErrorCodeBadPortIndex)
		require.ErrorIs(t, s.c.SetConfig(ctx, params.IndexConfigCommonOutputCrop, &crop), types.ErrorCodeUnsupportedIndex)
	})

	t.Run("PortFormat", func(t *testing.T) {
		format := params.VideoPortFormat{PortIndex: types.PortIndexInput}
		require.NoError(t, s.c.GetParameter(ctx, params.IndexParamVideoPortFormat, &format))
		require.Equal(t, "avc", format.Compression)
		format.Framerate = 50
		require.NoError(t, s.c.SetParameter(ctx, params.IndexParamVideoPortFormat, &format))
		require.Equal(t, float64(50), s.c.Port(types.PortIndexInput).Definition(ctx).Video.Framerate)
	})

	t.Run("Errors", func(t *testing.T) {
		require.ErrorIs(t, s.c.GetParameter(ctx, params.Index(0x12345), &params.Bitrate{}), types.ErrorCodeUnsupportedIndex)
		require.ErrorIs(t, s.c.GetParameter(ctx, params.IndexParamVideoBitrate, &params.Framerate{}), types.ErrorCodeBadParameter)
		require.ErrorIs(t, s.c.GetParameter(ctx, params.IndexParamVideoBitrate, nil), types.ErrorCodeBadParameter)
		require.ErrorIs(t, s.c.GetParameter(ctx, params.IndexParamPortDefinition, &params.PortDefinition{PortIndex: 7}), types.ErrorCodeBadPortIndex)
		_, err := s.c.GetExtensionIndex(ctx, "no.such.extension")
		require.ErrorIs(t, err, types.ErrorCodeUnsupportedIndex)
	})

	lowLatencyIdx, err := s.c.GetExtensionIndex(ctx, params.ExtensionLowLatency)
	require.NoError(t, err)
	require.True(t, lowLatencyIdx.IsVendor())
	require.NoError(t, s.c.SetParameter(ctx, lowLatencyIdx, &params.LowLatency{Enable: true}))
	var lowLatency params.LowLatency
	require.NoError(t, s.c.GetParameter(ctx, lowLatencyIdx, &lowLatency))
	require.True(t, lowLatency.Enable)

	codecParamIdx, err := s.c.GetExtensionIndex(ctx, params.ExtensionCodecParameter)
	require.NoError(t, err)
	require.ErrorIs(t, s.c.SetParameter(ctx, codecParamIdx, &params.CodecParameter{}), types.ErrorCodeBadParameter)
	require.NoError(t, s.c.SetParameter(ctx, codecParamIdx, &params.CodecParameter{Name: loopback.ParameterLevel, Value: uint32(41)}))

	s.toIdle()
	s.toState(types.StateExecuting)

	for name, expected := range map[string]any{
		loopback.ParameterBitrate:    uint32(1000000),
		loopback.ParameterFramerate:  float64(25),
		loopback.ParameterLowLatency: true,
		loopback.ParameterLevel:      uint32(41),
	} {
		v, err := s.dev.GetParameter(ctx, name)
		require.NoError(t, err, name)
		require.Equal(t, expected, v, name)
	}

	require.ErrorIs(t,
		s.c.SetParameter(ctx, params.IndexParamVideoBitrate, &params.Bitrate{Target: 2000000}),
		types.ErrorCodeIncorrectStateOperation,
	)
	require.NoError(t, s.c.SetConfig(ctx, params.IndexConfigVideoBitrate, &params.Bitrate{Target: 3000000}))
	v, err := s.dev.GetParameter(ctx, loopback.ParameterBitrate)
	require.NoError(t, err)
	require.Equal(t, uint32(3000000), v)

	codecParam := params.CodecParameter{Name: loopback.ParameterLevel}
	require.NoError(t, s.c.GetConfig(ctx, codecParamIdx, &codecParam))
	require.Equal(t, uint32(41), codecParam.Value)
}
