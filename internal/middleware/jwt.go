package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/presensi-qr/internal/repository"
	"github.com/iliyamo/presensi-qr/internal/utils"
)

// SessionValidator confirms that a token is the user's current login and
// returns the user's current role.
type SessionValidator interface {
	Validate(ctx context.Context, userID, tokenHash string) (string, error)
}

// JWTAuth validates a Bearer access token and stores its subject and role
// in the context as "user_id" and "role" (both strings).  When sessions is
// not nil the token must also match the user's stored session, so logging
// out or logging in elsewhere revokes it.  The stored account then also
// decides the role, and a deactivated account is refused with 403.
func JWTAuth(secret string, sessions SessionValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return unauthorized(c, "missing bearer token")
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			userID, role, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return unauthorized(c, "invalid token")
			}

			if sessions != nil {
				current, err := sessions.Validate(c.Request().Context(), userID, utils.HashToken(raw))
				switch {
				case errors.Is(err, repository.ErrNotFound):
					return unauthorized(c, "session expired or revoked")
				case errors.Is(err, repository.ErrDisabled):
					return c.JSON(http.StatusForbidden, echo.Map{"error": "ACCOUNT_DISABLED", "message": "account is disabled"})
				case err != nil:
					c.Logger().Errorf("jwt: session lookup for %s: %v", userID, err)
					return c.JSON(http.StatusInternalServerError, echo.Map{"error": "INTERNAL", "message": "internal server error"})
				}
				if current != "" {
					role = current
				}
			}

			c.Set("user_id", userID)
			c.Set("role", role)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "UNAUTHORIZED", "message": msg})
}
