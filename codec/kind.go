package codec

import (
	"fmt"
)

type Kind int

const (
	UndefinedKind = Kind(iota)
	KindDecoder
	KindEncoder
)

func (k Kind) String() string {
	switch k {
	case UndefinedKind:
		return "<undefined>"
	case KindDecoder:
		return "decoder"
	case KindEncoder:
		return "encoder"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) RolePrefix() string {
	switch k {
	case KindDecoder:
		return "video_decoder"
	case KindEncoder:
		return "video_encoder"
	}
	return ""
}

// Trigger is the event that allows the destination direction to be set up.
type Trigger int

const (
	UndefinedTrigger = Trigger(iota)

	// TriggerHeaderParsed: the stream headers were parsed successfully.
	TriggerHeaderParsed

	// TriggerFirstFrame: the first valid input frame was handed to the
	// device.
	TriggerFirstFrame
)

func (t Trigger) String() string {
	switch t {
	case UndefinedTrigger:
		return "<undefined>"
	case TriggerHeaderParsed:
		return "header-parsed"
	case TriggerFirstFrame:
		return "first-frame"
	}
	return fmt.Sprintf("Trigger(%d)", int(t))
}
