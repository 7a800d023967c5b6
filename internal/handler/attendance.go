package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/presensi-qr/internal/config"
	"github.com/iliyamo/presensi-qr/internal/middleware"
	"github.com/iliyamo/presensi-qr/internal/service"
	"github.com/iliyamo/presensi-qr/internal/sitetime"
)

// AttendanceHandler serves employee and admin attendance endpoints.
type AttendanceHandler struct {
	Zone       sitetime.Zone
	Issuer     *service.Issuer
	History    *service.HistoryService
	Summary    *service.SummaryService
	Allowances *service.AllowanceService
}

type qrResp struct {
	QR          string `json:"qr"`
	ExpiresInMs int64  `json:"expires_in_ms"`
}

// MyQR issues a QR token for the caller.
func (h *AttendanceHandler) MyQR(c echo.Context) error {
	tok, err := h.Issuer.Issue(c.Request().Context(), middleware.CurrentUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, qrResp{QR: tok.Token, ExpiresInMs: tok.ExpiresInMs()})
}

// MyHistory lists the caller's records, newest first.  Query: page,
// pageSize.
func (h *AttendanceHandler) MyHistory(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("pageSize"))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	res, err := h.History.List(ctx, middleware.CurrentUserID(c), page, pageSize)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// MyToday returns the caller's record for today, or null.
func (h *AttendanceHandler) MyToday(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	rec, err := h.History.Today(ctx, middleware.CurrentUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"attendance": rec})
}

// TodaySummary counts active users by check-in state.  Query: cutoff
// (HH:MM, site time).
func (h *AttendanceHandler) TodaySummary(c echo.Context) error {
	cutoff := h.Summary.DefaultCutoff()
	if raw := c.QueryParam("cutoff"); raw != "" {
		hm, err := config.ParseHourMinute(raw)
		if err != nil {
			return badRequest(c, err.Error())
		}
		cutoff = service.Clock{Hour: hm.Hour, Minute: hm.Minute}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	sum, err := h.Summary.Today(ctx, cutoff)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// AllowanceSummary totals unpaid eligible allowances.  Query: start, end
// (RFC 3339 or YYYY-MM-DD); both or neither, defaulting to the last 14
// days.
func (h *AttendanceHandler) AllowanceSummary(c echo.Context) error {
	start, end := h.Allowances.DefaultRange()
	rawStart, rawEnd := c.QueryParam("start"), c.QueryParam("end")
	if rawStart != "" || rawEnd != "" {
		var err error
		if start, end, err = h.parseRange(rawStart, rawEnd); err != nil {
			return badRequest(c, err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	sum, err := h.Allowances.SummarizeUnpaid(ctx, start, end)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

type markPaidReq struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	UserID string `json:"user_id"`
}

// MarkPaid settles unpaid eligible allowances in [start, end], optionally
// for one user.  start and end are required, in the body or the query.
func (h *AttendanceHandler) MarkPaid(c echo.Context) error {
	var req markPaidReq
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid body")
		}
	}
	if req.Start == "" {
		req.Start = c.QueryParam("start")
	}
	if req.End == "" {
		req.End = c.QueryParam("end")
	}
	if req.UserID == "" {
		req.UserID = c.QueryParam("user_id")
	}
	if req.Start == "" || req.End == "" {
		return badRequest(c, "start and end are required")
	}
	start, end, err := h.parseRange(req.Start, req.End)
	if err != nil {
		return badRequest(c, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	n, err := h.Allowances.MarkPaid(ctx, service.Selector{Start: start, End: end, UserID: strings.TrimSpace(req.UserID)})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"updated": n, "start": start, "end": end})
}

func (h *AttendanceHandler) parseRange(rawStart, rawEnd string) (time.Time, time.Time, error) {
	if rawStart == "" || rawEnd == "" {
		return time.Time{}, time.Time{}, errRangeIncomplete
	}
	start, err := parseBound(h.Zone, rawStart, false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseBound(h.Zone, rawEnd, true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

type rangeError string

func (e rangeError) Error() string { return string(e) }

const errRangeIncomplete = rangeError("start and end must be given together")

func parseBound(zone sitetime.Zone, raw string, end bool) (time.Time, error) {
	t, err := zone.ParseBound(raw, end)
	if err != nil {
		return time.Time{}, rangeError(err.Error())
	}
	return t, nil
}
