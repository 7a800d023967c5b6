package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/presensi-qr/internal/qrtoken"
	"github.com/iliyamo/presensi-qr/internal/ratelimit"
	"github.com/iliyamo/presensi-qr/internal/service"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorTable = []struct {
	err    error
	status int
	code   string
	msg    string
}{
	{qrtoken.ErrMalformedToken, http.StatusBadRequest, "MALFORMED_TOKEN", "QR code is not valid"},
	{qrtoken.ErrInvalidSignature, http.StatusBadRequest, "INVALID_SIGNATURE", "QR code signature is not valid"},
	{qrtoken.ErrExpired, http.StatusBadRequest, "TOKEN_EXPIRED", "QR code has expired"},
	{service.ErrAlreadyComplete, http.StatusBadRequest, "ALREADY_COMPLETE", "attendance for today is already complete"},
	{service.ErrInvalidRange, http.StatusBadRequest, "INVALID_RANGE", "start must not be after end"},
	{service.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "user not found"},
	{service.ErrAccountDisabled, http.StatusForbidden, "ACCOUNT_DISABLED", "account is disabled"},
	{ratelimit.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", "QR requested too often, try again shortly"},
	{service.ErrConstraintConflict, http.StatusConflict, "CONSTRAINT_CONFLICT", "concurrent scan conflict, please scan again"},
	{qrtoken.ErrNoSecret, http.StatusInternalServerError, "CONFIG_ERROR", "server is not configured"},
}

// writeError maps domain errors onto HTTP statuses.  Unknown errors are
// logged and reported as 500 without detail.
func writeError(c echo.Context, err error) error {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return c.JSON(e.status, apiError{Error: e.code, Message: e.msg})
		}
	}
	c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, apiError{Error: "INTERNAL", Message: "internal server error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, apiError{Error: "BAD_REQUEST", Message: msg})
}
