package auth

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

type ctxKey string

const actorKey ctxKey = "actor"

// WithActor stores the authenticated actor in ctx.
func WithActor(ctx context.Context, actor generic.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the authenticated actor, if any.
func ActorFrom(ctx context.Context) (generic.Actor, bool) {
	if ctx == nil {
		return generic.Actor{}, false
	}
	actor, ok := ctx.Value(actorKey).(generic.Actor)
	return actor, ok
}
