package codec

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/davecgh/go-spew/spew"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/logger"
)

// Bridge parameter names understood by the bridges.
const (
	ParameterBitrate       = "bitrate"
	ParameterFramerate     = "framerate"
	ParameterProfile       = "profile"
	ParameterLevel         = "level"
	ParameterLowLatency    = "low_latency"
	ParameterThumbnailMode = "thumbnail_mode"
)

// Params are the codec parameters collected by the component and pushed to
// the bridge on Idle->Executing.
type Params struct {
	Bitrate       uint32
	Framerate     float64
	Profile       uint32
	Level         uint32
	LowLatency    bool
	ThumbnailMode bool

	// Extra are named codec parameters passed as is.
	Extra map[string]any
}

func (p Params) asMap() map[string]any {
	m := map[string]any{
		ParameterBitrate:       p.Bitrate,
		ParameterFramerate:     p.Framerate,
		ParameterProfile:       p.Profile,
		ParameterLevel:         p.Level,
		ParameterLowLatency:    p.LowLatency,
		ParameterThumbnailMode: p.ThumbnailMode,
	}
	for k, v := range p.Extra {
		m[k] = v
	}
	return m
}

// Push sets every parameter on the bridge. Parameters the bridge does not
// know are skipped, except the explicitly requested Extra ones.
func (p Params) Push(ctx context.Context, bridge codecbridge.CodecBridge) (_err error) {
	logger.Debugf(ctx, "Push")
	defer func() { logger.Debugf(ctx, "/Push: %v", _err) }()
	logger.Tracef(ctx, "params: %s", spew.Sdump(p))

	m := p.asMap()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []error
	for _, name := range names {
		err := bridge.SetParameter(ctx, name, m[name])
		if err == nil {
			continue
		}
		var errUnknown codecbridge.ErrUnknownParameter
		if errors.As(err, &errUnknown) {
			if _, isExtra := p.Extra[name]; !isExtra {
				logger.Debugf(ctx, "bridge %s does not support parameter '%s'", bridge, name)
				continue
			}
		}
		result = append(result, fmt.Errorf("unable to set '%s': %w", name, err))
	}
	return errors.Join(result...)
}
