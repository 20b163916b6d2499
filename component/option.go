// option.go defines configuration options for components.

package component

import (
	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/types"
)

type Config struct {
	InstanceID       string
	MaxTimestamp     uint
	CommandQueueSize uint
	BufferCount      [types.NumPorts]uint32
	BufferSize       [types.NumPorts]uint32
}

func defaultConfig() Config {
	return Config{
		MaxTimestamp:     buffer.DefaultMaxTimestamp,
		CommandQueueSize: 16,
	}
}

type Option interface {
	apply(*Config)
}
type Options []Option

func (opts Options) apply(cfg *Config) {
	for _, opt := range opts {
		opt.apply(cfg)
	}
}

func (opts Options) config() Config {
	cfg := defaultConfig()
	opts.apply(&cfg)
	return cfg
}

type OptionInstanceID string

func (o OptionInstanceID) apply(cfg *Config) {
	cfg.InstanceID = string(o)
}

// OptionMaxTimestamp sets the amount of timestamp/flag slots carried
// through the device.
type OptionMaxTimestamp uint

func (o OptionMaxTimestamp) apply(cfg *Config) {
	cfg.MaxTimestamp = uint(o)
}

type OptionCommandQueueSize uint

func (o OptionCommandQueueSize) apply(cfg *Config) {
	cfg.CommandQueueSize = uint(o)
}

// OptionBufferCountValue overrides BufferCountActual (and BufferCountMin,
// if it is larger) of a port.
type OptionBufferCountValue struct {
	PortIndex types.PortIndex
	Count     uint32
}

func (o OptionBufferCountValue) apply(cfg *Config) {
	if o.PortIndex.IsValid() {
		cfg.BufferCount[o.PortIndex] = o.Count
	}
}

func OptionBufferCount(idx types.PortIndex, count uint32) OptionBufferCountValue {
	return OptionBufferCountValue{PortIndex: idx, Count: count}
}

type OptionBufferSizeValue struct {
	PortIndex types.PortIndex
	Size      uint32
}

func (o OptionBufferSizeValue) apply(cfg *Config) {
	if o.PortIndex.IsValid() {
		cfg.BufferSize[o.PortIndex] = o.Size
	}
}

func OptionBufferSize(idx types.PortIndex, size uint32) OptionBufferSizeValue {
	return OptionBufferSizeValue{PortIndex: idx, Size: size}
}
