package component

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/params"
	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/xsync"
)

func valueAs[T any](idx params.Index, value any) (*T, error) {
	v, ok := value.(*T)
	if !ok || v == nil {
		var sample T
		return nil, types.Errorf(types.ErrorCodeBadParameter, "index %s expects *%T, received %T", idx, sample, value)
	}
	return v, nil
}

// GetExtensionIndex resolves a vendor extension name to its index.
func (c *Component) GetExtensionIndex(ctx context.Context, name string) (params.Index, error) {
	return c.extensions.Lookup(ctx, name)
}

// GetParameter fills the structure value points to.
func (c *Component) GetParameter(ctx context.Context, idx params.Index, value any) (_err error) {
	ctx = c.ctx(ctx)
	logger.Tracef(ctx, "GetParameter(%s)", idx)
	defer func() { logger.Tracef(ctx, "/GetParameter(%s): %v", idx, _err) }()
	return c.get(ctx, idx, value)
}

func (c *Component) GetConfig(ctx context.Context, idx params.Index, value any) (_err error) {
	ctx = c.ctx(ctx)
	logger.Tracef(ctx, "GetConfig(%s)", idx)
	defer func() { logger.Tracef(ctx, "/GetConfig(%s): %v", idx, _err) }()
	return c.get(ctx, idx, value)
}

// SetParameter applies a parameter. Everything except the port definition
// of a disabled port may be set only before the component starts running.
func (c *Component) SetParameter(ctx context.Context, idx params.Index, value any) (_err error) {
	ctx = c.ctx(ctx)
	logger.Debugf(ctx, "SetParameter(%s)", idx)
	defer func() { logger.Debugf(ctx, "/SetParameter(%s): %v", idx, _err) }()
	return c.set(ctx, idx, value, false)
}

// SetConfig applies a setting that may change at any time; while running it
// is pushed to the bridge immediately.
func (c *Component) SetConfig(ctx context.Context, idx params.Index, value any) (_err error) {
	ctx = c.ctx(ctx)
	logger.Debugf(ctx, "SetConfig(%s)", idx)
	defer func() { logger.Debugf(ctx, "/SetConfig(%s): %v", idx, _err) }()
	return c.set(ctx, idx, value, true)
}

func (c *Component) get(ctx context.Context, idx params.Index, value any) error {
	switch idx {
	case params.IndexParamPortDefinition:
		v, err := valueAs[params.PortDefinition](idx, value)
		if err != nil {
			return err
		}
		p, err := c.portFor(v.PortIndex)
		if err != nil {
			return err
		}
		*v = p.Definition(ctx)
		return nil

	case params.IndexParamVideoPortFormat:
		v, err := valueAs[params.VideoPortFormat](idx, value)
		if err != nil {
			return err
		}
		p, err := c.portFor(v.PortIndex)
		if err != nil {
			return err
		}
		def := p.Definition(ctx)
		v.Compression = def.Video.Compression
		v.PixelFormat = def.Video.Geometry.PixelFormat
		v.Framerate = def.Video.Framerate
		return nil

	case params.IndexParamStandardComponentRole:
		v, err := valueAs[params.ComponentRole](idx, value)
		if err != nil {
			return err
		}
		v.Role = c.Name.Role()
		return nil

	case params.IndexParamVideoBitrate, params.IndexConfigVideoBitrate:
		v, err := valueAs[params.Bitrate](idx, value)
		if err != nil {
			return err
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			v.Target = c.codecParams.Bitrate
			v.ControlRate = c.controlRate
		})
		return nil

	case params.IndexParamVideoProfileLevelCurrent:
		v, err := valueAs[params.ProfileLevel](idx, value)
		if err != nil {
			return err
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			v.Profile = c.codecParams.Profile
			v.Level = c.codecParams.Level
		})
		return nil

	case params.IndexConfigVideoFramerate:
		v, err := valueAs[params.Framerate](idx, value)
		if err != nil {
			return err
		}
		v.FPS = xsync.DoR1(c.lockCtx(ctx), &c.locker, func() float64 {
			return c.codecParams.Framerate
		})
		if v.FPS == 0 {
			v.FPS = c.ports[types.PortIndexInput].Definition(ctx).Video.Framerate
		}
		return nil

	case params.IndexConfigCommonOutputCrop:
		v, err := valueAs[params.OutputCrop](idx, value)
		if err != nil {
			return err
		}
		if v.PortIndex != types.PortIndexOutput {
			return types.Errorf(types.ErrorCodeBadPortIndex, "the crop is defined only for the output port")
		}
		v.Crop = c.ports[types.PortIndexOutput].Definition(ctx).Video.Geometry.Crop
		return nil
	}

	name, ok := c.extensions.Name(ctx, idx)
	if !ok {
		return types.Errorf(types.ErrorCodeUnsupportedIndex, "unsupported index %s", idx)
	}
	switch name {
	case params.ExtensionLowLatency:
		v, err := valueAs[params.LowLatency](idx, value)
		if err != nil {
			return err
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			v.Enable = c.codecParams.LowLatency
		})
		return nil
	case params.ExtensionThumbnailMode:
		v, err := valueAs[params.ThumbnailMode](idx, value)
		if err != nil {
			return err
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			v.Enable = c.codecParams.ThumbnailMode
		})
		return nil
	case params.ExtensionCodecParameter:
		v, err := valueAs[params.CodecParameter](idx, value)
		if err != nil {
			return err
		}
		value, err := c.Bridge.GetParameter(ctx, v.Name)
		if err != nil {
			return err
		}
		v.Value = value
		return nil
	}
	return types.Errorf(types.ErrorCodeUnsupportedIndex, "extension '%s' is not handled by %s", name, c)
}

func (c *Component) set(ctx context.Context, idx params.Index, value any, isConfig bool) error {
	state := c.GetState(ctx)
	if state == types.StateInvalid {
		return types.Errorf(types.ErrorCodeInvalidState, "the component is in state %s", state)
	}

	// the port definition follows the port rules rather than the component ones
	switch idx {
	case params.IndexParamPortDefinition:
		v, err := valueAs[params.PortDefinition](idx, value)
		if err != nil {
			return err
		}
		p, err := c.portFor(v.PortIndex)
		if err != nil {
			return err
		}
		return p.SetDefinition(ctx, *v)
	case params.IndexParamVideoPortFormat:
		v, err := valueAs[params.VideoPortFormat](idx, value)
		if err != nil {
			return err
		}
		p, err := c.portFor(v.PortIndex)
		if err != nil {
			return err
		}
		def := p.Definition(ctx)
		if v.Compression != "" {
			def.Video.Compression = v.Compression
		}
		if v.PixelFormat != "" {
			def.Video.Geometry.PixelFormat = v.PixelFormat
		}
		if v.Framerate > 0 {
			def.Video.Framerate = v.Framerate
		}
		return p.SetDefinition(ctx, def)
	case params.IndexConfigCommonOutputCrop:
		return types.Errorf(types.ErrorCodeUnsupportedIndex, "%s is read-only", idx)
	}

	if !isConfig && state.IsRunning() {
		return types.Errorf(types.ErrorCodeIncorrectStateOperation, "parameter %s cannot be set in state %s", idx, state)
	}

	var (
		bridgeName  string
		bridgeValue any
	)
	switch idx {
	case params.IndexParamStandardComponentRole:
		v, err := valueAs[params.ComponentRole](idx, value)
		if err != nil {
			return err
		}
		if v.Role != c.Name.Role() {
			return types.Errorf(types.ErrorCodeBadParameter, "role '%s' is not supported by %s", v.Role, c.Name)
		}
		return nil

	case params.IndexParamVideoBitrate, params.IndexConfigVideoBitrate:
		v, err := valueAs[params.Bitrate](idx, value)
		if err != nil {
			return err
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			c.codecParams.Bitrate = v.Target
			if v.ControlRate != "" {
				c.controlRate = v.ControlRate
			}
		})
		bridgeName, bridgeValue = codec.ParameterBitrate, v.Target

	case params.IndexParamVideoProfileLevelCurrent:
		v, err := valueAs[params.ProfileLevel](idx, value)
		if err != nil {
			return err
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			c.codecParams.Profile = v.Profile
			c.codecParams.Level = v.Level
		})
		return nil

	case params.IndexConfigVideoFramerate:
		v, err := valueAs[params.Framerate](idx, value)
		if err != nil {
			return err
		}
		if v.FPS <= 0 {
			return types.Errorf(types.ErrorCodeBadParameter, "invalid framerate %f", v.FPS)
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			c.codecParams.Framerate = v.FPS
		})
		bridgeName, bridgeValue = codec.ParameterFramerate, v.FPS

	default:
		var err error
		bridgeName, bridgeValue, err = c.setExtension(ctx, idx, value)
		if err != nil {
			return err
		}
	}

	if bridgeName == "" || !isConfig || !state.IsRunning() {
		return nil
	}
	if err := c.Bridge.SetParameter(ctx, bridgeName, bridgeValue); err != nil {
		return fmt.Errorf("unable to set '%s' on %s: %w", bridgeName, c.Bridge, err)
	}
	return nil
}

func (c *Component) setExtension(
	ctx context.Context,
	idx params.Index,
	value any,
) (string, any, error) {
	name, ok := c.extensions.Name(ctx, idx)
	if !ok {
		return "", nil, types.Errorf(types.ErrorCodeUnsupportedIndex, "unsupported index %s", idx)
	}
	switch name {
	case params.ExtensionLowLatency:
		v, err := valueAs[params.LowLatency](idx, value)
		if err != nil {
			return "", nil, err
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			c.codecParams.LowLatency = v.Enable
		})
		return codec.ParameterLowLatency, v.Enable, nil
	case params.ExtensionThumbnailMode:
		v, err := valueAs[params.ThumbnailMode](idx, value)
		if err != nil {
			return "", nil, err
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			c.codecParams.ThumbnailMode = v.Enable
		})
		return codec.ParameterThumbnailMode, v.Enable, nil
	case params.ExtensionCodecParameter:
		v, err := valueAs[params.CodecParameter](idx, value)
		if err != nil {
			return "", nil, err
		}
		if v.Name == "" {
			return "", nil, types.Errorf(types.ErrorCodeBadParameter, "the codec parameter name is empty")
		}
		c.locker.Do(c.lockCtx(ctx), func() {
			if c.codecParams.Extra == nil {
				c.codecParams.Extra = map[string]any{}
			}
			c.codecParams.Extra[v.Name] = v.Value
		})
		return v.Name, v.Value, nil
	}
	return "", nil, types.Errorf(types.ErrorCodeUnsupportedIndex, "extension '%s' is not handled by %s", name, c)
}
