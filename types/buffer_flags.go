// buffer_flags.go defines the flag vocabulary of buffer headers.

package types

import "strings"

type BufferFlags uint32

const (
	BufferFlagEOS BufferFlags = 1 << iota
	BufferFlagStartTime
	BufferFlagDecodeOnly
	BufferFlagDataCorrupt
	BufferFlagEndOfFrame
	BufferFlagSyncFrame
	BufferFlagExtraData
	BufferFlagCodecConfig
)

// BufferFlagsPayload are the flags describing the payload; a flushed
// buffer is returned with none of them set.
const BufferFlagsPayload = BufferFlagEOS | BufferFlagStartTime | BufferFlagDecodeOnly |
	BufferFlagDataCorrupt | BufferFlagEndOfFrame | BufferFlagSyncFrame |
	BufferFlagExtraData | BufferFlagCodecConfig

func (f BufferFlags) HasAll(flag BufferFlags) bool {
	return f&flag == flag
}

func (f BufferFlags) HasAny(flag BufferFlags) bool {
	return f&flag != 0
}

func (f *BufferFlags) Set(flag BufferFlags) {
	*f |= flag
}

func (f *BufferFlags) Unset(flag BufferFlags) {
	*f &^= flag
}

func (f BufferFlags) String() string {
	var s []string
	for _, item := range []struct {
		Flag BufferFlags
		Name string
	}{
		{BufferFlagEOS, "EOS"},
		{BufferFlagStartTime, "StartTime"},
		{BufferFlagDecodeOnly, "DecodeOnly"},
		{BufferFlagDataCorrupt, "DataCorrupt"},
		{BufferFlagEndOfFrame, "EndOfFrame"},
		{BufferFlagSyncFrame, "SyncFrame"},
		{BufferFlagExtraData, "ExtraData"},
		{BufferFlagCodecConfig, "CodecConfig"},
	} {
		if f.HasAll(item.Flag) {
			s = append(s, item.Name)
		}
	}
	return strings.Join(s, "|")
}

// ExceptionFlags gate reconfiguration of a port.
type ExceptionFlags uint32

const (
	ExceptionGeneral ExceptionFlags = 1 << iota
	ExceptionNeedsDisable
	ExceptionNeedsFlush
)

func (f ExceptionFlags) HasAny(flag ExceptionFlags) bool {
	return f&flag != 0
}

func (f *ExceptionFlags) Set(flag ExceptionFlags) {
	*f |= flag
}

func (f *ExceptionFlags) Unset(flag ExceptionFlags) {
	*f &^= flag
}

func (f ExceptionFlags) String() string {
	var s []string
	if f.HasAny(ExceptionGeneral) {
		s = append(s, "general")
	}
	if f.HasAny(ExceptionNeedsDisable) {
		s = append(s, "needs-disable")
	}
	if f.HasAny(ExceptionNeedsFlush) {
		s = append(s, "needs-flush")
	}
	return strings.Join(s, "|")
}
