package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/matters/internal/auth"
	"github.com/rpattn/matters/internal/logging"
)

const (
	AccountHeader = "X-Account-ID"
	ActorHeader   = "X-User-ID"
)

// ScopeMiddleware reads the account and acting user from request headers.
// Requests without an account header use defaultAccountID.
func ScopeMiddleware(defaultAccountID int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := defaultAccountID
			if raw := strings.TrimSpace(r.Header.Get(AccountHeader)); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || id <= 0 {
					http.Error(w, "invalid "+AccountHeader+" header", http.StatusBadRequest)
					return
				}
				accountID = id
			}

			ctx := auth.ContextWithAccountID(r.Context(), accountID)

			if raw := strings.TrimSpace(r.Header.Get(ActorHeader)); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || id <= 0 {
					http.Error(w, "invalid "+ActorHeader+" header", http.StatusBadRequest)
					return
				}
				ctx = auth.ContextWithActorID(ctx, id)
			}

			logger := logging.From(ctx).With("account_id", accountID)
			next.ServeHTTP(w, r.WithContext(logging.With(ctx, logger)))
		})
	}
}
