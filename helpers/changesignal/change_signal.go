// change_signal.go provides a broadcast wake-up built on channel rotation.

// Package changesignal provides a broadcast wake-up: waiters take the
// current channel, re-check their predicate, and block on the channel; a
// Broadcast closes the channel and installs a fresh one, so no wake-up is
// lost between the predicate check and the wait.
package changesignal

import (
	"context"

	"github.com/go-ng/xatomic"
)

type ChangeSignal struct {
	ch *chan struct{}
}

func New() *ChangeSignal {
	ch := make(chan struct{})
	return &ChangeSignal{
		ch: &ch,
	}
}

// Chan must be called before checking the predicate the caller waits for.
func (s *ChangeSignal) Chan() <-chan struct{} {
	return *xatomic.LoadPointer(&s.ch)
}

func (s *ChangeSignal) Broadcast() {
	ch := make(chan struct{})
	close(*xatomic.SwapPointer(&s.ch, &ch))
}

// WaitFor blocks until predicate returns true, the context is done, or
// abortCh is closed. It returns false if the predicate never became true.
func (s *ChangeSignal) WaitFor(
	ctx context.Context,
	abortCh <-chan struct{},
	predicate func() bool,
) bool {
	for {
		ch := s.Chan()
		if predicate() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-abortCh:
			return false
		case <-ch:
		}
	}
}
