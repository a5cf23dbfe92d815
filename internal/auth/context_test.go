package auth

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
)

func TestAccountID(t *testing.T) {
	_, ok := AccountIDFromContext(context.Background())
	gt.Bool(t, ok).False()

	ctx := ContextWithAccountID(context.Background(), 42)
	id, ok := AccountIDFromContext(ctx)
	gt.Bool(t, ok).True()
	gt.Value(t, id).Equal(int64(42))

	_, ok = AccountIDFromContext(ContextWithAccountID(context.Background(), 0))
	gt.Bool(t, ok).False()
}

func TestActorIDIsSeparateFromAccount(t *testing.T) {
	ctx := ContextWithAccountID(context.Background(), 1)
	_, ok := ActorIDFromContext(ctx)
	gt.Bool(t, ok).False()

	ctx = ContextWithActorID(ctx, 7)
	actor, ok := ActorIDFromContext(ctx)
	gt.Bool(t, ok).True()
	gt.Value(t, actor).Equal(int64(7))
}
