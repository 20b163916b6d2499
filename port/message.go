package port

import (
	"fmt"

	"github.com/xaionaro-go/avcomponent/buffer"
)

type MessageKind int

const (
	UndefinedMessageKind = MessageKind(iota)
	MessageEmptyThisBuffer
	MessageFillThisBuffer
)

func (k MessageKind) String() string {
	switch k {
	case UndefinedMessageKind:
		return "<undefined>"
	case MessageEmptyThisBuffer:
		return "EmptyThisBuffer"
	case MessageFillThisBuffer:
		return "FillThisBuffer"
	}
	return fmt.Sprintf("MessageKind(%d)", int(k))
}

// Message is an entry of the inbound FIFO of a port.
type Message struct {
	Kind   MessageKind
	Header *buffer.Header
}

func (m Message) String() string {
	return fmt.Sprintf("%s(%s)", m.Kind, m.Header)
}
