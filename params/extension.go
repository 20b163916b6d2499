// extension.go implements the name-to-index registry of vendor extensions.

package params

import (
	"context"
	"sort"

	"github.com/xaionaro-go/avcomponent/types"
	"github.com/xaionaro-go/xsync"
)

const (
	ExtensionLowLatency     = "avcomponent.index.param.low_latency"
	ExtensionThumbnailMode  = "avcomponent.index.param.thumbnail_mode"
	ExtensionCodecParameter = "avcomponent.index.config.codec_parameter"
)

type Extensions struct {
	locker xsync.Mutex
	byName map[string]Index
	next   Index
}

// NewExtensions returns a registry with the built-in extensions registered.
func NewExtensions() *Extensions {
	e := &Extensions{
		byName: map[string]Index{},
		next:   IndexVendorStartUnused,
	}
	for _, name := range []string{
		ExtensionLowLatency,
		ExtensionThumbnailMode,
		ExtensionCodecParameter,
	} {
		e.Register(context.Background(), name)
	}
	return e
}

// Register returns the index of the extension, allocating it on first use.
func (e *Extensions) Register(ctx context.Context, name string) Index {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &e.locker, func() Index {
		if idx, ok := e.byName[name]; ok {
			return idx
		}
		idx := e.next
		e.next++
		e.byName[name] = idx
		return idx
	})
}

// Lookup resolves a vendor extension name; unknown names are UnsupportedIndex.
func (e *Extensions) Lookup(ctx context.Context, name string) (Index, error) {
	return xsync.DoR2(xsync.WithNoLogging(ctx, true), &e.locker, func() (Index, error) {
		idx, ok := e.byName[name]
		if !ok {
			return IndexUndefined, types.Errorf(types.ErrorCodeUnsupportedIndex, "unknown extension '%s'", name)
		}
		return idx, nil
	})
}

// Name returns the extension name of the index, if it is a registered one.
func (e *Extensions) Name(ctx context.Context, idx Index) (string, bool) {
	return xsync.DoR2(xsync.WithNoLogging(ctx, true), &e.locker, func() (string, bool) {
		for name, candidate := range e.byName {
			if candidate == idx {
				return name, true
			}
		}
		return "", false
	})
}

func (e *Extensions) Names(ctx context.Context) []string {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &e.locker, func() []string {
		names := make([]string, 0, len(e.byName))
		for name := range e.byName {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	})
}
