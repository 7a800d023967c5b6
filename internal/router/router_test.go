package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/presensi-qr/internal/config"
	"github.com/iliyamo/presensi-qr/internal/database"
	"github.com/iliyamo/presensi-qr/internal/handler"
	"github.com/iliyamo/presensi-qr/internal/logger"
	"github.com/iliyamo/presensi-qr/internal/middleware"
	"github.com/iliyamo/presensi-qr/internal/model"
	"github.com/iliyamo/presensi-qr/internal/qrtoken"
	"github.com/iliyamo/presensi-qr/internal/ratelimit"
	"github.com/iliyamo/presensi-qr/internal/repository"
	"github.com/iliyamo/presensi-qr/internal/service"
	"github.com/iliyamo/presensi-qr/internal/sitetime"
)

const jwtSecret = "router-test-secret"

// 07:30 on 2026-10-16 at UTC+8.
var fixedNow = time.Date(2026, 10, 15, 23, 30, 0, 0, time.UTC)

type apiFixture struct {
	e     *echo.Echo
	users *repository.UserRepo
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := database.Migrate(context.Background(), db, database.DialectSQLite); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	now := func() time.Time { return fixedNow }
	zone := sitetime.MustNew(8 * time.Hour)
	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(db)
	attendance := repository.NewAttendanceRepo(db)

	codec, err := qrtoken.New("qr-secret", 0)
	if err != nil {
		t.Fatalf("qrtoken.New: %v", err)
	}
	codec.WithClock(now)

	rdb := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { rdb.Close() })
	cache := middleware.NewResponseCache(config.CacheConfig{
		Enabled:     true,
		Methods:     map[string]bool{http.MethodGet: true},
		TTL:         time.Minute,
		KeyStrategy: "route_query",
		Prefix:      "api-test",
	}, rdb)

	cfg := config.Config{JWTSecret: jwtSecret, AccessTTLMin: 60, BcryptCost: bcrypt.MinCost}
	e := echo.New()
	auth := middleware.JWTAuth(jwtSecret, sessions)
	RegisterRoutes(e, db)
	RegisterAuth(e, handler.NewAuthHandler(cfg, users, sessions), auth)
	RegisterAttendance(e, &handler.AttendanceHandler{
		Zone:       zone,
		Issuer:     service.NewIssuer(codec, ratelimit.NewMemory(10*time.Second)).WithClock(now),
		History:    service.NewHistoryService(attendance, zone).WithClock(now),
		Summary:    service.NewSummaryService(users, attendance, zone, service.Clock{Hour: 8}).WithClock(now),
		Allowances: service.NewAllowanceService(repository.NewAllowanceRepo(db)).WithClock(now),
	}, auth, cache.Read())
	RegisterSecurity(e, &handler.SecurityHandler{
		Scanner: service.NewScanner(codec, users, service.SQLScanStore{Repo: attendance},
			service.DefaultPolicy(zone), nil, logger.Discard()).WithClock(now),
	}, auth, cache.PurgeOnSuccess())

	return &apiFixture{e: e, users: users}
}

func (f *apiFixture) addUser(t *testing.T, phone, role string, active bool) string {
	t.Helper()
	id, err := f.users.Create(context.Background(), role+" user", phone, "pw-"+phone, role, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !active {
		if err := f.users.SetActive(context.Background(), id, false); err != nil {
			t.Fatalf("SetActive: %v", err)
		}
	}
	return id
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) login(t *testing.T, phone string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"phone": phone, "password": "pw-" + phone})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s = %d %s", phone, rec.Code, rec.Body)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, rec, &out)
	return out.AccessToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body, err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Error string `json:"error"`
	}
	decode(t, rec, &out)
	return out.Error
}

func TestLogin(t *testing.T) {
	f := newAPI(t)
	f.addUser(t, "0811", model.RoleEmployee, true)
	f.addUser(t, "0812", model.RoleEmployee, false)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"valid", map[string]string{"phone": "0811", "password": "pw-0811"}, http.StatusOK},
		{"wrong password", map[string]string{"phone": "0811", "password": "nope"}, http.StatusUnauthorized},
		{"unknown phone", map[string]string{"phone": "0899", "password": "x"}, http.StatusUnauthorized},
		{"disabled", map[string]string{"phone": "0812", "password": "pw-0812"}, http.StatusForbidden},
		{"missing fields", map[string]string{"phone": "0811"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, http.MethodPost, "/v1/auth/login", "", tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newAPI(t)
	f.addUser(t, "0811", model.RoleEmployee, true)
	tok := f.login(t, "0811")

	if rec := f.do(t, http.MethodGet, "/v1/me", tok, nil); rec.Code != http.StatusOK {
		t.Fatalf("me = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/auth/logout", tok, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/me", tok, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", rec.Code)
	}
}

func TestDisabledAccountLosesAccess(t *testing.T) {
	f := newAPI(t)
	adminID := f.addUser(t, "0821", model.RoleAdmin, true)
	admin := f.login(t, "0821")

	if rec := f.do(t, http.MethodGet, "/v1/attendance/my-qr", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("my-qr before disable = %d %s", rec.Code, rec.Body)
	}
	if err := f.users.SetActive(context.Background(), adminID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	tests := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/v1/attendance/my-qr", nil},
		{http.MethodGet, "/v1/me", nil},
		{http.MethodPost, "/v1/attendance/allowances/mark-paid", map[string]string{"start": "2026-10-16", "end": "2026-10-16"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, admin, tt.body)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403 (%s)", rec.Code, rec.Body)
			}
			if code := errorCode(t, rec); code != "ACCOUNT_DISABLED" {
				t.Fatalf("error = %q, want ACCOUNT_DISABLED", code)
			}
		})
	}
}

func TestAttendanceFlow(t *testing.T) {
	f := newAPI(t)
	f.addUser(t, "0801", model.RoleAdmin, true)
	f.addUser(t, "0802", model.RoleEmployee, true)
	f.addUser(t, "0803", model.RoleSecurity, true)
	f.addUser(t, "0804", model.RoleEmployee, false)
	admin, employee, guard := f.login(t, "0801"), f.login(t, "0802"), f.login(t, "0803")

	rec := f.do(t, http.MethodGet, "/v1/attendance/my-qr", employee, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("my-qr = %d %s", rec.Code, rec.Body)
	}
	var qr struct {
		QR          string `json:"qr"`
		ExpiresInMs int64  `json:"expires_in_ms"`
	}
	decode(t, rec, &qr)
	if qr.QR == "" || qr.ExpiresInMs != 60000 {
		t.Fatalf("my-qr body = %+v", qr)
	}
	rec = f.do(t, http.MethodGet, "/v1/attendance/my-qr", employee, nil)
	if rec.Code != http.StatusTooManyRequests || errorCode(t, rec) != "RATE_LIMITED" {
		t.Fatalf("second my-qr = %d %s", rec.Code, rec.Body)
	}

	scan := map[string]string{"qr": qr.QR}
	if rec := f.do(t, http.MethodPost, "/v1/security/scan-attendance", employee, scan); rec.Code != http.StatusForbidden {
		t.Fatalf("employee scan = %d, want 403", rec.Code)
	}
	for _, want := range []string{"CHECK_IN", "CHECK_OUT"} {
		rec := f.do(t, http.MethodPost, "/v1/security/scan-attendance", guard, scan)
		if rec.Code != http.StatusOK {
			t.Fatalf("scan = %d %s", rec.Code, rec.Body)
		}
		var res struct {
			Mode string `json:"mode"`
		}
		decode(t, rec, &res)
		if res.Mode != want {
			t.Fatalf("mode = %s, want %s", res.Mode, want)
		}
	}
	rec = f.do(t, http.MethodPost, "/v1/security/scan-attendance", guard, scan)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "ALREADY_COMPLETE" {
		t.Fatalf("third scan = %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodPost, "/v1/security/scan-attendance", guard, map[string]string{"qr": "nonsense"})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "MALFORMED_TOKEN" {
		t.Fatalf("garbage scan = %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/v1/attendance/today", employee, nil)
	var today struct {
		Attendance *model.Attendance `json:"attendance"`
	}
	decode(t, rec, &today)
	if today.Attendance == nil || today.Attendance.CheckOutAt == nil {
		t.Fatalf("today = %s", rec.Body)
	}
	rec = f.do(t, http.MethodGet, "/v1/attendance/today", admin, nil)
	decode(t, rec, &today)
	if today.Attendance != nil {
		t.Fatalf("admin today = %s, want null", rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/v1/attendance/me?page=1&pageSize=5", employee, nil)
	var page service.HistoryPage
	decode(t, rec, &page)
	if page.Total != 1 || len(page.Items) != 1 || page.PageSize != 5 || page.Items[0].Allowance == nil {
		t.Fatalf("history = %s", rec.Body)
	}
	rec = f.do(t, http.MethodGet, "/v1/attendance/me?page=99999999999999999999", employee, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history with huge page = %d %s", rec.Code, rec.Body)
	}
	decode(t, rec, &page)
	if page.Page != service.MaxPage || len(page.Items) != 0 {
		t.Fatalf("history with huge page = %s", rec.Body)
	}

	if rec := f.do(t, http.MethodGet, "/v1/attendance/summary/today", employee, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("employee summary = %d, want 403", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/attendance/summary/today", admin, nil)
	var sum service.TodaySummary
	decode(t, rec, &sum)
	if sum.TotalUsers != 3 || sum.OnTime != 1 || sum.Terlambat != 0 || sum.BelumCheckIn != 2 {
		t.Fatalf("summary = %s", rec.Body)
	}
	rec = f.do(t, http.MethodGet, "/v1/attendance/summary/today?cutoff=07:00", admin, nil)
	decode(t, rec, &sum)
	if sum.OnTime != 0 || sum.Terlambat != 1 {
		t.Fatalf("summary at 07:00 = %s", rec.Body)
	}
	if rec := f.do(t, http.MethodGet, "/v1/attendance/summary/today?cutoff=7", admin, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cutoff = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/attendance/allowances/summary", admin, nil)
	var allowance model.AllowanceSummary
	decode(t, rec, &allowance)
	if allowance.Total != service.DefaultAllowanceAmount || allowance.Count != 1 {
		t.Fatalf("allowance summary = %s", rec.Body)
	}
	if rec := f.do(t, http.MethodGet, "/v1/attendance/allowances/summary?start=2026-10-16", admin, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("half range = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodPost, "/v1/attendance/allowances/mark-paid", admin, map[string]string{"start": "2026-10-16"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("mark-paid without end = %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/v1/attendance/allowances/mark-paid", admin, map[string]string{"start": "2026-10-17", "end": "2026-10-16"})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_RANGE" {
		t.Fatalf("inverted mark-paid = %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodPost, "/v1/attendance/allowances/mark-paid", admin, map[string]string{"start": "2026-10-16", "end": "2026-10-16"})
	var paid struct {
		Updated int64 `json:"updated"`
	}
	decode(t, rec, &paid)
	if rec.Code != http.StatusOK || paid.Updated != 1 {
		t.Fatalf("mark-paid = %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodGet, "/v1/attendance/allowances/summary?start=2026-10-16&end=2026-10-16", admin, nil)
	decode(t, rec, &allowance)
	if allowance.Count != 0 {
		t.Fatalf("allowance after paying = %s", rec.Body)
	}
}

func TestHealth(t *testing.T) {
	f := newAPI(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if rec := f.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Errorf("%s = %d", path, rec.Code)
		}
	}
}

func TestScanPurgesCachedSummary(t *testing.T) {
	f := newAPI(t)
	f.addUser(t, "0701", model.RoleAdmin, true)
	f.addUser(t, "0702", model.RoleSecurity, true)
	f.addUser(t, "0703", model.RoleEmployee, true)
	admin, guard, employee := f.login(t, "0701"), f.login(t, "0702"), f.login(t, "0703")

	type counts struct {
		OnTime       int `json:"on_time"`
		BelumCheckIn int `json:"belum_check_in"`
	}
	summary := func(wantCache string) counts {
		t.Helper()
		rec := f.do(t, http.MethodGet, "/v1/attendance/summary/today", admin, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("summary = %d %s", rec.Code, rec.Body)
		}
		if got := rec.Header().Get("X-Cache"); got != wantCache {
			t.Fatalf("X-Cache = %q, want %q", got, wantCache)
		}
		var c counts
		decode(t, rec, &c)
		return c
	}

	if c := summary("MISS"); c.BelumCheckIn != 3 || c.OnTime != 0 {
		t.Fatalf("before scan = %+v", c)
	}
	summary("HIT")

	rec := f.do(t, http.MethodGet, "/v1/attendance/my-qr", employee, nil)
	var qr struct {
		QR string `json:"qr"`
	}
	decode(t, rec, &qr)
	if rec := f.do(t, http.MethodPost, "/v1/security/scan-attendance", guard, map[string]string{"qr": qr.QR}); rec.Code != http.StatusOK {
		t.Fatalf("scan = %d %s", rec.Code, rec.Body)
	}
	if c := summary("MISS"); c.BelumCheckIn != 2 || c.OnTime != 1 {
		t.Fatalf("after scan = %+v", c)
	}

	rec = f.do(t, http.MethodPost, "/v1/security/scan-attendance", guard, map[string]string{"qr": "nonsense"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad scan = %d", rec.Code)
	}
	summary("HIT")
}
