package application

import "context"

// SystemActor is recorded in audit events when no caller identity is known.
const SystemActor = "system"

type actorKey struct{}

// WithActor attaches the identity of the caller to ctx for audit entries.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or SystemActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
