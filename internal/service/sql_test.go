package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/presensi-qr/internal/database"
	"github.com/iliyamo/presensi-qr/internal/logger"
	"github.com/iliyamo/presensi-qr/internal/model"
	"github.com/iliyamo/presensi-qr/internal/qrtoken"
	"github.com/iliyamo/presensi-qr/internal/repository"
)

// sqlFixture runs the services against migrated SQLite repositories.
type sqlFixture struct {
	clock       time.Time
	users       *repository.UserRepo
	attendance  *repository.AttendanceRepo
	scanner     *Scanner
	allowances  *AllowanceService
	summary     *SummaryService
	codec       *qrtoken.Codec
	employeeIDs []string
}

func newSQLFixture(t *testing.T, employees int) *sqlFixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if _, err := database.Migrate(ctx, db, database.DialectSQLite); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	fx := &sqlFixture{
		clock:      siteTime(7, 0, 0, 0),
		users:      repository.NewUserRepo(db),
		attendance: repository.NewAttendanceRepo(db),
	}
	now := func() time.Time { return fx.clock }
	for i := 0; i < employees; i++ {
		id, err := fx.users.Create(ctx, "Employee", fmt.Sprintf("0810%04d", i), "pw", model.RoleEmployee, bcrypt.MinCost)
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		fx.employeeIDs = append(fx.employeeIDs, id)
	}
	codec, err := qrtoken.New("sql-secret", 0)
	if err != nil {
		t.Fatalf("qrtoken.New: %v", err)
	}
	fx.codec = codec.WithClock(now)
	fx.scanner = NewScanner(fx.codec, fx.users, SQLScanStore{Repo: fx.attendance}, DefaultPolicy(testZone), nil, logger.Discard()).
		WithClock(now)
	fx.allowances = NewAllowanceService(repository.NewAllowanceRepo(db)).WithClock(now)
	fx.summary = NewSummaryService(fx.users, fx.attendance, testZone, Clock{Hour: 8}).WithClock(now)
	return fx
}

func (fx *sqlFixture) scan(t *testing.T, userID string, at time.Time) (ScanResult, error) {
	t.Helper()
	fx.clock = at
	tok, _, err := fx.codec.Encode(userID)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return fx.scanner.Scan(context.Background(), tok)
}

func TestSQLScanLifecycleAndPayroll(t *testing.T) {
	fx := newSQLFixture(t, 3)
	ctx := context.Background()
	early, late := fx.employeeIDs[0], fx.employeeIDs[1]

	res, err := fx.scan(t, early, siteTime(7, 45, 0, 0))
	if err != nil || res.Mode != ModeCheckIn || res.Attendance.Status != model.StatusOnTime {
		t.Fatalf("early check-in = %+v, %v", res, err)
	}
	if res.Allowance == nil || !res.Allowance.IsEligible || res.Allowance.Amount != DefaultAllowanceAmount {
		t.Fatalf("early allowance = %+v", res.Allowance)
	}
	res, err = fx.scan(t, late, siteTime(8, 0, 30, 0))
	if err != nil || res.Attendance.Status != model.StatusLate || !res.Allowance.IsEligible {
		t.Fatalf("08:00:30 check-in = %+v, %v", res, err)
	}

	fx.clock = siteTime(10, 0, 0, 0)
	sum, err := fx.summary.Today(ctx, fx.summary.DefaultCutoff())
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if sum.TotalUsers != 3 || sum.OnTime != 1 || sum.Terlambat != 1 || sum.BelumCheckIn != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	res, err = fx.scan(t, early, siteTime(17, 0, 0, 0))
	if err != nil || res.Mode != ModeCheckOut {
		t.Fatalf("check-out = %+v, %v", res, err)
	}
	if _, err := fx.scan(t, early, siteTime(17, 5, 0, 0)); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("third scan err = %v, want ErrAlreadyComplete", err)
	}

	start, end := fx.allowances.DefaultRange()
	unpaid, err := fx.allowances.SummarizeUnpaid(ctx, start, end)
	if err != nil || unpaid.Count != 2 || unpaid.Total != 2*DefaultAllowanceAmount {
		t.Fatalf("unpaid = %+v, %v", unpaid, err)
	}
	n, err := fx.allowances.MarkPaid(ctx, Selector{Start: start, End: end})
	if err != nil || n != 2 {
		t.Fatalf("MarkPaid = %d, %v", n, err)
	}
	unpaid, _ = fx.allowances.SummarizeUnpaid(ctx, start, end)
	if unpaid.Count != 0 || unpaid.Total != 0 {
		t.Fatalf("unpaid after MarkPaid = %+v", unpaid)
	}
}

func TestSQLScanClosesYesterday(t *testing.T) {
	fx := newSQLFixture(t, 1)
	uid := fx.employeeIDs[0]

	if _, err := fx.scan(t, uid, siteTime(7, 0, 0, 0).AddDate(0, 0, -1)); err != nil {
		t.Fatalf("yesterday check-in: %v", err)
	}
	res, err := fx.scan(t, uid, siteTime(7, 10, 0, 0))
	if err != nil || res.Mode != ModeCheckIn || res.ClosedStale != 1 {
		t.Fatalf("today scan = %+v, %v", res, err)
	}
	items, err := fx.attendance.ListByUser(context.Background(), uid, 10, 0)
	if err != nil || len(items) != 2 {
		t.Fatalf("ListByUser = %d, %v", len(items), err)
	}
	wantOut := time.Date(2026, 10, 15, 15, 59, 59, int(999*time.Millisecond), time.UTC)
	if items[1].CheckOutAt == nil || !items[1].CheckOutAt.Equal(wantOut) {
		t.Fatalf("yesterday closed at %v, want %s", items[1].CheckOutAt, wantOut)
	}
}

func TestSQLConcurrentScansOfOneUser(t *testing.T) {
	fx := newSQLFixture(t, 1)
	uid := fx.employeeIDs[0]
	fx.clock = siteTime(7, 50, 0, 0)
	tok, _, err := fx.codec.Encode(uid)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	const n = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		modes   = map[ScanMode]int{}
		already int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fx.scanner.Scan(context.Background(), tok)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				modes[res.Mode]++
			case errors.Is(err, ErrAlreadyComplete):
				already++
			default:
				t.Errorf("Scan: %v", err)
			}
		}()
	}
	wg.Wait()

	if modes[ModeCheckIn] != 1 || modes[ModeCheckOut] != 1 || already != n-2 {
		t.Fatalf("modes = %v, already complete = %d", modes, already)
	}
	if c, _ := fx.attendance.CountByUser(context.Background(), uid); c != 1 {
		t.Fatalf("records = %d, want 1", c)
	}
}
