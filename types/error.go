// error.go defines the error taxonomy of the component.

package types

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	ErrorCodeNone = ErrorCode(iota)
	ErrorCodeBadParameter
	ErrorCodeBadPortIndex
	ErrorCodeIncorrectStateOperation
	ErrorCodeInsufficientResources
	ErrorCodeHardware
	ErrorCodeCorruptedHeader
	ErrorCodeCorruptedFrame
	ErrorCodeInvalidState
	ErrorCodeUnsupportedIndex
	ErrorCodePortUnpopulated
	ErrorCodeUndefined
	EndOfErrorCode
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeNone:
		return "None"
	case ErrorCodeBadParameter:
		return "BadParameter"
	case ErrorCodeBadPortIndex:
		return "BadPortIndex"
	case ErrorCodeIncorrectStateOperation:
		return "IncorrectStateOperation"
	case ErrorCodeInsufficientResources:
		return "InsufficientResources"
	case ErrorCodeHardware:
		return "Hardware"
	case ErrorCodeCorruptedHeader:
		return "CorruptedHeader"
	case ErrorCodeCorruptedFrame:
		return "CorruptedFrame"
	case ErrorCodeInvalidState:
		return "InvalidState"
	case ErrorCodeUnsupportedIndex:
		return "UnsupportedIndex"
	case ErrorCodePortUnpopulated:
		return "PortUnpopulated"
	case ErrorCodeUndefined:
		return "Undefined"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error makes it possible to use an ErrorCode as the target of errors.Is.
func (c ErrorCode) Error() string {
	return c.String()
}

type Error struct {
	Code ErrorCode
	Err  error
}

var _ error = Error{}

func Errorf(code ErrorCode, format string, args ...any) Error {
	return Error{
		Code: code,
		Err:  fmt.Errorf(format, args...),
	}
}

func (e Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

func (e Error) Is(target error) bool {
	code, ok := target.(ErrorCode)
	if !ok {
		return false
	}
	return code == e.Code
}

// ErrorCodeOf returns the code of the outermost Error in the chain, or
// ErrorCodeUndefined if there is none.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ErrorCodeNone
	}
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ErrorCodeUndefined
}
