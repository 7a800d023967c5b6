package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/presensi-qr/internal/config"
	"github.com/iliyamo/presensi-qr/internal/middleware"
	"github.com/iliyamo/presensi-qr/internal/repository"
	"github.com/iliyamo/presensi-qr/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Users    *repository.UserRepo
	Sessions *repository.SessionRepo
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, s *repository.SessionRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Sessions: s}
}

type loginReq struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type userPart struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

type loginResp struct {
	User        userPart  `json:"user"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login verifies phone and password and returns an access token.  The token
// becomes the user's only session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Phone = repository.NormalizePhone(req.Phone)
	if req.Phone == "" || req.Password == "" {
		return badRequest(c, "phone and password are required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByPhone(ctx, req.Phone)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !utils.VerifyPassword(u.PasswordHash, req.Password)) {
		return c.JSON(http.StatusUnauthorized, apiError{Error: "INVALID_CREDENTIALS", Message: "phone or password is wrong"})
	}
	if err != nil {
		return writeError(c, err)
	}
	if !u.IsActive {
		return c.JSON(http.StatusForbidden, apiError{Error: "ACCOUNT_DISABLED", Message: "account is disabled"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Sessions.Store(ctx, u.ID, utils.HashToken(access.Token), access.Exp); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, loginResp{
		User:        userPart{ID: u.ID, Name: u.Name, Phone: u.Phone, Role: u.Role},
		AccessToken: access.Token,
		ExpiresAt:   access.Exp,
	})
}

// Logout drops the caller's session.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Sessions.Revoke(ctx, middleware.CurrentUserID(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	u, err := h.Users.GetByID(ctx, middleware.CurrentUserID(c))
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, apiError{Error: "USER_NOT_FOUND", Message: "user not found"})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, userPart{ID: u.ID, Name: u.Name, Phone: u.Phone, Role: strings.ToUpper(u.Role)})
}
