package codecbridge

import (
	"strings"
)

// Status describes a dequeued buffer.
type Status uint32

const (
	StatusDisplayOnly Status = 1 << iota
	StatusLastFrame
	StatusResolutionChanged
	StatusCorrupt
	StatusSync
)

func (s Status) Has(flag Status) bool {
	return s&flag != 0
}

func (s Status) String() string {
	var r []string
	for _, item := range []struct {
		Flag Status
		Name string
	}{
		{StatusDisplayOnly, "display-only"},
		{StatusLastFrame, "last-frame"},
		{StatusResolutionChanged, "resolution-changed"},
		{StatusCorrupt, "corrupt"},
		{StatusSync, "sync"},
	} {
		if s.Has(item.Flag) {
			r = append(r, item.Name)
		}
	}
	if len(r) == 0 {
		return "ok"
	}
	return strings.Join(r, "|")
}
