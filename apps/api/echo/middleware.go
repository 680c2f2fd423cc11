package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

const rateLimitKey = "rateLimitKey"

func adminMiddleware(auth *authenticator, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := auth.contextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && auth.contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// rateLimitMiddleware counts the attempts made on an endpoint per client IP.
// Handlers reset the count on success with resetRateLimit.
func rateLimitMiddleware(limiter core.RateLimiter, scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if limiter == nil {
			return next
		}
		return func(ctx echo.Context) error {
			key := scope + ":" + ctx.RealIP()
			ok, err := limiter.Hit(ctx.Request().Context(), key)
			if err != nil {
				return errors.Wrap(err, "hitting rate limiter")
			}
			if !ok {
				return core.ErrTooManyAttempts
			}
			ctx.Set(rateLimitKey, key)
			return next(ctx)
		}
	}
}

func resetRateLimit(ctx echo.Context, limiter core.RateLimiter) {
	key, ok := ctx.Get(rateLimitKey).(string)
	if !ok || limiter == nil {
		return
	}
	if err := limiter.Reset(ctx.Request().Context(), key); err != nil {
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "resetting rate limiter"))
	}
}
