package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
	"go.uber.org/zap"
)

// ActorResolver looks up the user behind a token subject.
// timeoff.UserService implements it.
type ActorResolver interface {
	Resolve(ctx context.Context, id string) (*timeoff.User, error)
}

// ErrorWriter renders a failed authentication.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates the bearer token and puts the actor in the
// request context. The user is re-read on every request so that deleted
// or locked accounts lose access immediately.
func Middleware(tokens *TokenService, users ActorResolver, fail ErrorWriter) func(http.Handler) http.Handler {
	logger := zap.L().Named("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				fail(w, r, fmt.Errorf("%w: missing bearer token", generic.ErrUnauthenticated))
				return
			}

			claims, err := tokens.Validate(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				logger.Debug("token rejected", zap.Error(err))
				fail(w, r, fmt.Errorf("%w: %v", generic.ErrUnauthenticated, err))
				return
			}

			user, err := users.Resolve(r.Context(), claims.Subject)
			if err != nil {
				logger.Debug("actor rejected", zap.String("user_id", claims.Subject), zap.Error(err))
				fail(w, r, err)
				return
			}

			ctx := WithActor(r.Context(), user.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
