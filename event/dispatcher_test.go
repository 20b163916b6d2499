package event

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
)

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	counters := types.NewCounters()
	d := NewDispatcher(counters)

	// no callbacks yet: must not panic
	d.CommandComplete(ctx, types.CommandFlush, 0)

	rec := NewRecorder()
	d.SetCallbacks(rec)
	d.SetCallbacks(nil)

	d.CommandComplete(ctx, types.CommandStateSet, uint32(types.StateIdle))
	d.Error(ctx, types.PortIndexInput, types.Errorf(types.ErrorCodeCorruptedHeader, "bad"))
	d.PortSettingsChanged(ctx, types.PortIndexOutput, params.IndexParamPortDefinition)
	d.BufferFlag(ctx, types.PortIndexOutput, types.BufferFlagEOS)

	h := buffer.NewHeader(types.PortIndexOutput, nil, true)
	d.BufferDone(ctx, types.PortIndexOutput, h)

	events, inputs, outputs := rec.Snapshot()
	require.Len(t, events, 4)
	require.Empty(t, inputs)
	require.Equal(t, []*buffer.Header{h}, outputs)

	require.Equal(t, types.EventError, events[1].Kind)
	require.Equal(t, uint32(types.ErrorCodeCorruptedHeader), events[1].Data1)
	require.Equal(t, uint32(types.PortIndexInput), events[1].Data2)
	require.Equal(t, uint32(params.IndexParamPortDefinition), events[2].Data2)

	d.SuppressErrors()
	d.Error(ctx, types.PortIndexAll, fmt.Errorf("ignored"))
	require.Len(t, rec.EventsOf(types.EventError), 1)
	require.Equal(t, uint64(2), counters.Errors.Count.Load())
	require.Equal(t, uint64(5), counters.Events.Count.Load())
}

func TestErrorCodeOfPlainError(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	d := NewDispatcher(nil)
	d.SetCallbacks(rec)
	d.Error(ctx, types.PortIndexAll, fmt.Errorf("wrapped: %w", types.ErrorCodeHardware))
	evs := rec.EventsOf(types.EventError)
	require.Len(t, evs, 1)
	require.Equal(t, uint32(types.ErrorCodeHardware), evs[0].Data1)
}
