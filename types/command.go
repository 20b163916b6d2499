// command.go defines the commands accepted by SendCommand.

package types

import "fmt"

type Command int

const (
	UndefinedCommand = Command(iota)
	CommandStateSet
	CommandFlush
	CommandPortDisable
	CommandPortEnable
	EndOfCommand
)

func (c Command) String() string {
	switch c {
	case UndefinedCommand:
		return "<undefined>"
	case CommandStateSet:
		return "StateSet"
	case CommandFlush:
		return "Flush"
	case CommandPortDisable:
		return "PortDisable"
	case CommandPortEnable:
		return "PortEnable"
	}
	return fmt.Sprintf("Command(%d)", int(c))
}
