// Package config describes a component session in YAML: which component to
// instantiate, on which codec bridge, with which buffer layout and codec
// parameters.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/xaionaro-go/avcomponent/buffer"
	"github.com/xaionaro-go/avcomponent/codec"
	"github.com/xaionaro-go/avcomponent/component"
	"github.com/xaionaro-go/avcomponent/logger"
	"github.com/xaionaro-go/avcomponent/types"
	"gopkg.in/yaml.v3"
)

type BridgeKind string

const (
	BridgeKindLoopback = BridgeKind("loopback")
	BridgeKindLibav    = BridgeKind("libav")
)

type PortConfig struct {
	// BufferCount overrides the default amount of buffers; zero keeps the default.
	BufferCount uint32 `yaml:"buffer_count,omitempty"`
	// BufferSize overrides the default size of a buffer; zero keeps the default.
	BufferSize uint32 `yaml:"buffer_size,omitempty"`
}

type ComponentConfig struct {
	Name             codec.Name `yaml:"name"`
	InstanceID       string     `yaml:"instance_id,omitempty"`
	MaxTimestamp     uint       `yaml:"max_timestamp"`
	CommandQueueSize uint       `yaml:"command_queue_size"`
	Input            PortConfig `yaml:"input"`
	Output           PortConfig `yaml:"output"`

	// CodecParameters are passed to the bridge as named codec parameters
	// before the component starts executing.
	CodecParameters map[string]any `yaml:"codec_parameters,omitempty"`
}

type BridgeConfig struct {
	Kind BridgeKind `yaml:"kind"`

	// LibavCodecName is the libav decoder name; empty means the default
	// decoder of the component codec.
	LibavCodecName     string                   `yaml:"libav_codec_name,omitempty"`
	HardwareDeviceType types.HardwareDeviceType `yaml:"hardware_device_type"`
	HardwareDeviceName types.HardwareDeviceName `yaml:"hardware_device_name,omitempty"`
}

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Component ComponentConfig `yaml:"component"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

func Default() Config {
	return Config{
		LogLevel: logger.LevelWarning.String(),
		Component: ComponentConfig{
			Name:             codec.NewName(codec.KindDecoder, codec.IDAVC),
			MaxTimestamp:     buffer.DefaultMaxTimestamp,
			CommandQueueSize: 16,
		},
		Bridge: BridgeConfig{
			Kind: BridgeKindLoopback,
		},
	}
}

// Read decodes the YAML on top of the defaults.
func Read(r io.Reader) (Config, error) {
	cfg := Default()
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("unable to decode the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ReadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to open '%s': %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

func (cfg Config) WriteTo(w io.Writer) (int64, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("unable to encode the config: %w", err)
	}
	n, err := w.Write(b)
	return int64(n), err
}

func (cfg Config) Validate() error {
	if _, err := cfg.Level(); err != nil {
		return err
	}
	if _, err := codec.NewVariant(cfg.Component.Name); err != nil {
		return fmt.Errorf("invalid component name: %w", err)
	}
	if cfg.Component.MaxTimestamp == 0 {
		return fmt.Errorf("max_timestamp must be positive")
	}
	switch cfg.Bridge.Kind {
	case BridgeKindLoopback, BridgeKindLibav:
	default:
		return fmt.Errorf("unknown bridge kind '%s'", cfg.Bridge.Kind)
	}
	return nil
}

func (cfg Config) Level() (logger.Level, error) {
	var level logger.Level
	if err := level.Set(cfg.LogLevel); err != nil {
		return logger.LevelUndefined, fmt.Errorf("invalid log level '%s': %w", cfg.LogLevel, err)
	}
	return level, nil
}

// Options converts the component section to component options.
func (cfg ComponentConfig) Options() component.Options {
	opts := component.Options{
		component.OptionMaxTimestamp(cfg.MaxTimestamp),
		component.OptionCommandQueueSize(cfg.CommandQueueSize),
	}
	if cfg.InstanceID != "" {
		opts = append(opts, component.OptionInstanceID(cfg.InstanceID))
	}
	for idx, port := range []PortConfig{cfg.Input, cfg.Output} {
		idx := types.PortIndex(idx)
		if port.BufferCount > 0 {
			opts = append(opts, component.OptionBufferCount(idx, port.BufferCount))
		}
		if port.BufferSize > 0 {
			opts = append(opts, component.OptionBufferSize(idx, port.BufferSize))
		}
	}
	return opts
}
