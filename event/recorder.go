package event

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/types"
)

// Recorder is a Callbacks implementation that keeps everything it receives
// and wakes up waiters; used by tests and the CLI.
type Recorder struct {
	locker      sync.Mutex
	cond        *sync.Cond
	Events      []types.Event
	InputsDone  []*buffer.Header
	OutputsDone []*buffer.Header

	// OnOutput, if set, is called for every OutputBufferDone after it is
	// recorded.
	OnOutput func(ctx context.Context, h *buffer.Header)
}

var _ Callbacks = (*Recorder)(nil)

func NewRecorder() *Recorder {
	r := &Recorder{}
	r.cond = sync.NewCond(&r.locker)
	return r
}

func (r *Recorder) EventHandler(ctx context.Context, ev types.Event) {
	r.locker.Lock()
	defer r.locker.Unlock()
	r.Events = append(r.Events, ev)
	r.cond.Broadcast()
}

func (r *Recorder) InputBufferDone(ctx context.Context, h *buffer.Header) {
	r.locker.Lock()
	defer r.locker.Unlock()
	r.InputsDone = append(r.InputsDone, h)
	r.cond.Broadcast()
}

func (r *Recorder) OutputBufferDone(ctx context.Context, h *buffer.Header) {
	r.locker.Lock()
	r.OutputsDone = append(r.OutputsDone, h)
	r.cond.Broadcast()
	onOutput := r.OnOutput
	r.locker.Unlock()
	if onOutput != nil {
		onOutput(ctx, h)
	}
}

// Snapshot returns copies of what was recorded so far.
func (r *Recorder) Snapshot() ([]types.Event, []*buffer.Header, []*buffer.Header) {
	r.locker.Lock()
	defer r.locker.Unlock()
	return append([]types.Event{}, r.Events...),
		append([]*buffer.Header{}, r.InputsDone...),
		append([]*buffer.Header{}, r.OutputsDone...)
}

// EventsOf returns the recorded events of the kind.
func (r *Recorder) EventsOf(kind types.EventKind) []types.Event {
	r.locker.Lock()
	defer r.locker.Unlock()
	var result []types.Event
	for _, ev := range r.Events {
		if ev.Kind == kind {
			result = append(result, ev)
		}
	}
	return result
}

// WaitFor blocks until the predicate returns true or ctx is done; the
// predicate is called with the recorder locked.
func (r *Recorder) WaitFor(ctx context.Context, predicate func(r *Recorder) bool) bool {
	stop := context.AfterFunc(ctx, func() {
		r.locker.Lock()
		defer r.locker.Unlock()
		r.cond.Broadcast()
	})
	defer stop()
	r.locker.Lock()
	defer r.locker.Unlock()
	for !predicate(r) {
		if ctx.Err() != nil {
			return false
		}
		r.cond.Wait()
	}
	return true
}
