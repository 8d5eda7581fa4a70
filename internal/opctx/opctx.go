// Package opctx threads structured-logging fields through a
// context.Context, so a long call chain (queue dispatch, transaction,
// attachment ref-counting) can accumulate zap.Fields without every
// layer needing its own logger parameter.
//
// Adapted from utils/log, which did the same for Raft/replication call
// chains; generalized here from a request-scoped RPC context to a
// per-operation one threaded through engine.Queue tasks.
package opctx

import (
	"context"

	"go.uber.org/zap"
)

type key int

const fieldsKey key = iota

// WithFields appends fields to whatever this context already carries,
// returning a new context that Logger can later unpack.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, fieldsKey, append(Fields(ctx), fields...))
}

// Fields extracts the accumulated fields from ctx, or an empty slice if
// none were ever attached.
func Fields(ctx context.Context) []zap.Field {
	raw := ctx.Value(fieldsKey)
	if raw == nil {
		return nil
	}

	fields, ok := raw.([]zap.Field)
	if !ok {
		return nil
	}

	return fields
}

// Logger enriches base with every field accumulated on ctx.
func Logger(ctx context.Context, base *zap.Logger) *zap.Logger {
	return base.With(Fields(ctx)...)
}
