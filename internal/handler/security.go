package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/presensi-qr/internal/service"
)

// SecurityHandler serves the checkpoint scanner.
type SecurityHandler struct {
	Scanner *service.Scanner
}

type scanReq struct {
	QR string `json:"qr"`
}

// Scan records a check-in or check-out from a scanned QR payload.
func (h *SecurityHandler) Scan(c echo.Context) error {
	var req scanReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.QR = strings.TrimSpace(req.QR)
	if req.QR == "" {
		return badRequest(c, "qr is required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	res, err := h.Scanner.Scan(ctx, req.QR)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
