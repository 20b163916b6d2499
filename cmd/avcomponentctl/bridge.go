package main

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/codecbridge"
	"github.com/xaionaro-go/avcomponent/codecbridge/libav"
	"github.com/xaionaro-go/avcomponent/codecbridge/loopback"
	"github.com/xaionaro-go/avcomponent/config"
)

// newBridge opens the codec bridge the config asks for on behalf of the
// named component.
func newBridge(
	ctx context.Context,
	cfg config.BridgeConfig,
	name codec.Name,
) (_ret codecbridge.CodecBridge, _err error) {
	logger.Debugf(ctx, "newBridge(%s, %s)", cfg.Kind, name)
	defer func() { logger.Debugf(ctx, "/newBridge(%s, %s): %v %v", cfg.Kind, name, _ret, _err) }()
	switch cfg.Kind {
	case config.BridgeKindLoopback:
		return loopback.New(), nil
	case config.BridgeKindLibav:
		kind, id, err := name.Parse()
		if err != nil {
			return nil, err
		}
		if kind != codec.KindDecoder {
			return nil, fmt.Errorf("the libav bridge supports decoders only, not %s", kind)
		}
		codecName := cfg.LibavCodecName
		if codecName == "" {
			codecName = id.LibavDecoderName()
		}
		dev, err := libav.New(ctx, libav.Config{
			CodecName:          codecName,
			HardwareDeviceType: cfg.HardwareDeviceType,
			HardwareDeviceName: cfg.HardwareDeviceName,
		})
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	return nil, fmt.Errorf("unknown bridge kind '%s'", cfg.Kind)
}
