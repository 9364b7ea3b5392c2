package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/pkg/auth"
)

type actorContextKey struct{}

// AuthMiddleware resolves the caller from the Authorization header and
// injects the actor into the request context.
// A bare key without the "Bearer " prefix is accepted as well.
func AuthMiddleware(resolver ports.IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				header := strings.TrimSpace(r.Header.Get("Authorization"))
				if header == "" || strings.Contains(header, " ") {
					WriteError(w, r, domain.ErrUnauthenticated(err.Error()))
					return
				}
				apiKey = header
			}

			actor, err := resolver.Resolve(r.Context(), apiKey)
			if err != nil {
				WriteError(w, r, err)
				return
			}

			AddLogField(r.Context(), "user_id", actor.UserID)
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor *ports.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor retrieves the authenticated actor from context.
// Returns nil if no actor is set.
func GetActor(ctx context.Context) *ports.Actor {
	if a, ok := ctx.Value(actorContextKey{}).(*ports.Actor); ok {
		return a
	}
	return nil
}
