// Package router registers the HTTP routes of the API.
package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/presensi-qr/internal/handler"
	"github.com/iliyamo/presensi-qr/internal/middleware"
	"github.com/iliyamo/presensi-qr/internal/model"
)

// RegisterRoutes registers the unauthenticated health endpoints.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterAuth registers login under /v1/auth and the session endpoints
// that need a valid token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, auth echo.MiddlewareFunc) {
	e.POST("/v1/auth/login", a.Login)
	e.POST("/v1/auth/logout", a.Logout, auth)
	e.GET("/v1/me", a.Me, auth)
}

// RegisterAttendance registers /v1/attendance.  Every role may read its own
// records and request a QR; summaries and payroll are ADMIN only.  cache
// wraps the daily summary.
func RegisterAttendance(e *echo.Echo, h *handler.AttendanceHandler, auth, cache echo.MiddlewareFunc) {
	g := e.Group("/v1/attendance", auth)
	g.GET("/my-qr", h.MyQR)
	g.GET("/me", h.MyHistory)
	g.GET("/today", h.MyToday)

	admin := middleware.RequireRole(model.RoleAdmin)
	g.GET("/summary/today", h.TodaySummary, admin, cache)
	g.GET("/allowances/summary", h.AllowanceSummary, admin)
	g.POST("/allowances/mark-paid", h.MarkPaid, admin)
}

// RegisterSecurity registers the checkpoint scan endpoint.  purge runs
// after a successful scan so cached summaries do not lag behind it.
func RegisterSecurity(e *echo.Echo, h *handler.SecurityHandler, auth, purge echo.MiddlewareFunc) {
	g := e.Group("/v1/security", auth, middleware.RequireRole(model.RoleSecurity))
	g.POST("/scan-attendance", h.Scan, purge)
}
