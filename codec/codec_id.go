// Package codec describes the codecs a component can be instantiated for
// and the per-codec behavior of the engine (decoder or encoder variant).
package codec

import (
	"fmt"
	"slices"
)

type ID string

const (
	IDUndefined = ID("")
	IDAVC       = ID("avc")
	IDHEVC      = ID("hevc")
	IDVP8       = ID("vp8")
	IDVP9       = ID("vp9")
	IDAV1       = ID("av1")
	IDMPEG4     = ID("mpeg4")
	IDMPEG2     = ID("mpeg2")
	IDH263      = ID("h263")
)

var AllIDs = []ID{
	IDAVC,
	IDHEVC,
	IDVP8,
	IDVP9,
	IDAV1,
	IDMPEG4,
	IDMPEG2,
	IDH263,
}

func (id ID) String() string {
	if id == IDUndefined {
		return "<undefined>"
	}
	return string(id)
}

func ParseID(s string) (ID, error) {
	id := ID(s)
	if !slices.Contains(AllIDs, id) {
		return IDUndefined, fmt.Errorf("unknown codec '%s'", s)
	}
	return id, nil
}

// LibavDecoderName returns the name of the libav software decoder of the codec.
func (id ID) LibavDecoderName() string {
	switch id {
	case IDAVC:
		return "h264"
	case IDHEVC:
		return "hevc"
	case IDMPEG2:
		return "mpeg2video"
	}
	return string(id)
}
