package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/matters/internal/matterloader"
)

type ctxKey string

const matterLoaderKey ctxKey = "matterLoader"

// DataLoaderMiddleware attaches a fresh matter loader to each request context
func DataLoaderMiddleware(fetcher matterloader.Fetcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := matterloader.NewMatterLoader(fetcher)
			ctx := context.WithValue(r.Context(), matterLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MatterLoaderFromContext retrieves the matter loader from context
func MatterLoaderFromContext(ctx context.Context) *matterloader.MatterLoader {
	if l, ok := ctx.Value(matterLoaderKey).(*matterloader.MatterLoader); ok {
		return l
	}
	return nil
}
