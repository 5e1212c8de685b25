package shared

import "context"

// Actor identifies who performs an operation and in which tenant/branch scope.
// Authentication happens upstream; the engine only consumes the result.
type Actor struct {
	TenantID int64
	BranchID int64
	UserID   int64
	Role     string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
