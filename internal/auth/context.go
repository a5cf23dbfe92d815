package auth

import (
	"context"
)

type contextKey string

const (
	accountIDKey contextKey = "accountID"
	actorIDKey   contextKey = "actorID"
)

// ContextWithAccountID returns a new context that carries the account scope.
func ContextWithAccountID(ctx context.Context, id int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, accountIDKey, id)
}

// AccountIDFromContext retrieves the account scope from the context, if any.
func AccountIDFromContext(ctx context.Context) (int64, bool) {
	return positiveID(ctx, accountIDKey)
}

// ContextWithActorID returns a new context that carries the acting user.
func ContextWithActorID(ctx context.Context, id int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorIDKey, id)
}

// ActorIDFromContext retrieves the acting user from the context, if any.
func ActorIDFromContext(ctx context.Context) (int64, bool) {
	return positiveID(ctx, actorIDKey)
}

func positiveID(ctx context.Context, key contextKey) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(key).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}
