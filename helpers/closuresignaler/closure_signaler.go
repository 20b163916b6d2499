// closure_signaler.go provides a one-shot "must exit" signal.

// Package closuresignaler provides a one-shot signal that, once closed,
// wakes every goroutine waiting on it and stays closed.
package closuresignaler

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avcomponent/logger"
)

type ClosureSignaler struct {
	closeOnce sync.Once
	c         chan struct{}
}

func New() *ClosureSignaler {
	return &ClosureSignaler{
		c: make(chan struct{}),
	}
}

func (c *ClosureSignaler) CloseChan() <-chan struct{} {
	return c.c
}

// Close closes the signal; it returns true only for the call that actually
// closed it.
func (c *ClosureSignaler) Close(ctx context.Context) bool {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close") }()
	closedNow := false
	c.closeOnce.Do(func() {
		close(c.c)
		closedNow = true
	})
	return closedNow
}

func (c *ClosureSignaler) IsClosed() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}
