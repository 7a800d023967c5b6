package middleware

import "github.com/labstack/echo/v4"

// CurrentUserID returns the user id stored by JWTAuth, or "" on
// unauthenticated routes.
func CurrentUserID(c echo.Context) string {
	s, _ := c.Get("user_id").(string)
	return s
}

// CurrentRole returns the role stored by JWTAuth, or "".
func CurrentRole(c echo.Context) string {
	s, _ := c.Get("role").(string)
	return s
}

// rateSubject names the caller in rate limit keys.
func rateSubject(c echo.Context) string {
	if id := CurrentUserID(c); id != "" {
		return id
	}
	return "anon"
}
