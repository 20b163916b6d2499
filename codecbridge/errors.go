package codecbridge

import (
	"fmt"

	"github.com/xaionaro-go/avcomponent/types"
)

type ErrCorruptedHeader struct {
	Err error
}

func (e ErrCorruptedHeader) Error() string {
	return fmt.Sprintf("corrupted header: %v", e.Err)
}

func (e ErrCorruptedHeader) Unwrap() []error {
	return []error{e.Err, types.ErrorCodeCorruptedHeader}
}

type ErrCorruptedFrame struct {
	Err error
}

func (e ErrCorruptedFrame) Error() string {
	return fmt.Sprintf("corrupted frame: %v", e.Err)
}

func (e ErrCorruptedFrame) Unwrap() []error {
	return []error{e.Err, types.ErrorCodeCorruptedFrame}
}

type ErrHardware struct {
	Err error
}

func (e ErrHardware) Error() string {
	return fmt.Sprintf("hardware error: %v", e.Err)
}

func (e ErrHardware) Unwrap() []error {
	return []error{e.Err, types.ErrorCodeHardware}
}

type ErrNeedMoreData struct{}

func (ErrNeedMoreData) Error() string {
	return "need more data"
}

// ErrQueueCleared is returned by a Dequeue woken up by ClearQueue.
type ErrQueueCleared struct{}

func (ErrQueueCleared) Error() string {
	return "the queue was cleared"
}

// ErrStopped is returned by a Dequeue on a stopped direction.
type ErrStopped struct{}

func (ErrStopped) Error() string {
	return "the direction is stopped"
}

type ErrNotSetUp struct {
	Direction types.Direction
}

func (e ErrNotSetUp) Error() string {
	return fmt.Sprintf("the %s direction is not set up", e.Direction)
}

type ErrUnknownParameter struct {
	Name string
}

func (e ErrUnknownParameter) Error() string {
	return fmt.Sprintf("unknown codec parameter '%s'", e.Name)
}

func (e ErrUnknownParameter) Unwrap() error {
	return types.ErrorCodeUnsupportedIndex
}
