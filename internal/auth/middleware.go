package auth

import (
	"context"
	"errors"
	"fmt"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
	"net/http"
)

type contextKey string

const actorKey contextKey = "actor"

// Verifier turns a bearer token into the calling actor.
type Verifier interface {
	Verify(ctx context.Context, raw string) (models.Actor, error)
}

// Chain tries each verifier in order and accepts the first success.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, raw string) (models.Actor, error) {
	err := ErrInvalidToken
	for _, v := range c {
		actor, verr := v.Verify(ctx, raw)
		if verr == nil {
			return actor, nil
		}
		err = verr
	}
	return models.Actor{}, err
}

func Middleware(verifier Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
				return
			}

			actor, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrUnknownRole) {
					status = http.StatusForbidden
				}
				log.LogSecurity("AUTH_FAILED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				utils.WriteJSON(w, status, utils.ErrorResponse("Unauthorized", err.Error()))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if ok {
				for _, role := range roles {
					if actor.Role == role {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "insufficient role"))
		})
	}
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the authenticated actor stored by Middleware.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	actor, _ := ActorFrom(ctx)
	return actor.ID
}
