package codec

import (
	"strings"
)

type Quirks uint64

const (
	// QuirkNoHeaderParse: the bitstream has no parseable sequence header;
	// the output geometry is taken from the output port definition.
	QuirkNoHeaderParse Quirks = 1 << iota

	// QuirkParseCodecConfigOnly: only input buffers flagged CodecConfig are
	// offered to the header parser; other buffers before setup are returned.
	QuirkParseCodecConfigOnly
)

func (q Quirks) HasAny(mask Quirks) bool {
	return q&mask != 0
}

func (q Quirks) String() string {
	var r []string
	if q.HasAny(QuirkNoHeaderParse) {
		r = append(r, "no-header-parse")
	}
	if q.HasAny(QuirkParseCodecConfigOnly) {
		r = append(r, "parse-codec-config-only")
	}
	return strings.Join(r, "|")
}

// DefaultQuirks returns the quirks of the codec.
func (id ID) DefaultQuirks() Quirks {
	switch id {
	case IDH263, IDMPEG2:
		return QuirkNoHeaderParse
	}
	return 0
}
