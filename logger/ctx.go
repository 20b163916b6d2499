package logger

import (
	"context"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
)

func FromCtx(ctx context.Context) logger.Logger {
	return logger.FromCtx(ctx)
}

func CtxWithLogger(ctx context.Context, l logger.Logger) context.Context {
	return logger.CtxWithLogger(ctx, l)
}

// CtxWithComponent attaches the component identity to every log entry
// produced with the returned context.
func CtxWithComponent(ctx context.Context, name string, instanceID string) context.Context {
	ctx = belt.WithField(ctx, "component", name)
	return belt.WithField(ctx, "component_instance", instanceID)
}

// CtxWithPort attaches the port index to every log entry produced with the
// returned context.
func CtxWithPort(ctx context.Context, portIndex uint32) context.Context {
	return belt.WithField(ctx, "port", portIndex)
}

// CtxWithStage attaches the pipeline stage name to every log entry produced
// with the returned context.
func CtxWithStage(ctx context.Context, stage string) context.Context {
	return belt.WithField(ctx, "stage", stage)
}
