package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/presensi-qr/internal/model"
	"github.com/iliyamo/presensi-qr/internal/queue"
	"github.com/iliyamo/presensi-qr/internal/repository"
)

// fakeUsers is an in-memory UserStore and ActiveUserLister.
type fakeUsers struct {
	users map[string]model.User
	err   error
}

func newFakeUsers(users ...model.User) *fakeUsers {
	f := &fakeUsers{users: map[string]model.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (model.User, error) {
	if f.err != nil {
		return model.User{}, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) ListActiveIDs(_ context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for id, u := range f.users {
		if u.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// fakeStore is an in-memory ScanStore whose transactions roll back by
// restoring a snapshot taken when they began.
type fakeStore struct {
	mu         sync.Mutex
	records    map[string]model.Attendance
	allowances map[string]model.MealAllowance // by attendance id
	nextID     int

	txCount int
	// createErrs are returned by successive Create calls before any
	// real insert happens.
	createErrs []error
	// afterConflict runs after a transaction rolled back with ErrConflict,
	// standing in for the concurrent writer that won the race.
	afterConflict func(f *fakeStore)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    map[string]model.Attendance{},
		allowances: map[string]model.MealAllowance{},
	}
}

func (f *fakeStore) WithinTx(ctx context.Context, fn func(ScanTx) error) error {
	f.mu.Lock()
	f.txCount++
	recSnap := make(map[string]model.Attendance, len(f.records))
	for k, v := range f.records {
		recSnap[k] = v
	}
	allowSnap := make(map[string]model.MealAllowance, len(f.allowances))
	for k, v := range f.allowances {
		allowSnap[k] = v
	}
	err := fn(&fakeTx{f: f})
	if err != nil {
		f.records = recSnap
		f.allowances = allowSnap
	}
	hook := f.afterConflict
	f.mu.Unlock()

	if err != nil && errors.Is(err, repository.ErrConflict) && hook != nil {
		f.mu.Lock()
		hook(f)
		f.mu.Unlock()
	}
	return err
}

// put inserts a record directly, outside any transaction.  Callers hold
// no lock.
func (f *fakeStore) put(a model.Attendance) model.Attendance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(a)
}

func (f *fakeStore) insertLocked(a model.Attendance) model.Attendance {
	if a.ID == "" {
		f.nextID++
		a.ID = fmt.Sprintf("att-%d", f.nextID)
	}
	f.records[a.ID] = a
	return a
}

func (f *fakeStore) get(id string) model.Attendance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

func (f *fakeStore) allowance(attendanceID string) (model.MealAllowance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.allowances[attendanceID]
	return m, ok
}

func (f *fakeStore) byUserDay(userID string, day time.Time) (model.Attendance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.UserID == userID && r.AttendanceDate.Equal(day) {
			return r, true
		}
	}
	return model.Attendance{}, false
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeTx struct{ f *fakeStore }

func (t *fakeTx) OpenBefore(_ context.Context, userID string, day time.Time) ([]model.Attendance, error) {
	var out []model.Attendance
	for _, r := range t.f.records {
		if r.UserID == userID && r.AttendanceDate.Before(day) && r.CheckOutAt == nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttendanceDate.Before(out[j].AttendanceDate) })
	return out, nil
}

func (t *fakeTx) FindByUserDay(_ context.Context, userID string, day time.Time) (model.Attendance, error) {
	for _, r := range t.f.records {
		if r.UserID == userID && r.AttendanceDate.Equal(day) {
			return r, nil
		}
	}
	return model.Attendance{}, repository.ErrNotFound
}

func (t *fakeTx) Create(_ context.Context, a *model.Attendance) error {
	if len(t.f.createErrs) > 0 {
		err := t.f.createErrs[0]
		t.f.createErrs = t.f.createErrs[1:]
		return err
	}
	for _, r := range t.f.records {
		if r.UserID == a.UserID && r.AttendanceDate.Equal(a.AttendanceDate) {
			return repository.ErrConflict
		}
	}
	*a = t.f.insertLocked(*a)
	return nil
}

func (t *fakeTx) SetCheckIn(_ context.Context, id string, at time.Time, status string, now time.Time) error {
	r, ok := t.f.records[id]
	if !ok || r.CheckInAt != nil {
		return repository.ErrConflict
	}
	r.CheckInAt = &at
	r.Status = status
	r.UpdatedAt = now
	t.f.records[id] = r
	return nil
}

func (t *fakeTx) SetCheckOut(_ context.Context, id string, at, now time.Time) error {
	r, ok := t.f.records[id]
	if !ok || r.CheckOutAt != nil {
		return repository.ErrConflict
	}
	r.CheckOutAt = &at
	r.UpdatedAt = now
	t.f.records[id] = r
	return nil
}

func (t *fakeTx) UpsertAllowance(_ context.Context, m *model.MealAllowance) error {
	cur, ok := t.f.allowances[m.AttendanceID]
	if ok && cur.IsPaid {
		*m = cur
		return nil
	}
	if ok {
		m.ID = cur.ID
		m.CreatedAt = cur.CreatedAt
	} else if m.ID == "" {
		m.ID = "ma-" + m.AttendanceID
	}
	m.IsPaid = false
	m.PaidAt = nil
	t.f.allowances[m.AttendanceID] = *m
	return nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []queue.ScanEvent
	err    error
}

func (p *fakePublisher) PublishScan(_ context.Context, ev queue.ScanEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

// fakeReader implements AttendanceReader with function fields.
type fakeReader struct {
	listByUser           func(userID string, limit, offset int) ([]model.Attendance, error)
	countByUser          func(userID string) (int64, error)
	latestCreatedBetween func(userID string, start, end time.Time) (model.Attendance, error)
	listCreatedBetween   func(start, end time.Time) ([]model.Attendance, error)
}

func (r *fakeReader) ListByUser(_ context.Context, userID string, limit, offset int) ([]model.Attendance, error) {
	return r.listByUser(userID, limit, offset)
}

func (r *fakeReader) CountByUser(_ context.Context, userID string) (int64, error) {
	return r.countByUser(userID)
}

func (r *fakeReader) LatestCreatedBetween(_ context.Context, userID string, start, end time.Time) (model.Attendance, error) {
	return r.latestCreatedBetween(userID, start, end)
}

func (r *fakeReader) ListCreatedBetween(_ context.Context, start, end time.Time) ([]model.Attendance, error) {
	return r.listCreatedBetween(start, end)
}

// fakeAllowances implements AllowanceStore with function fields.
type fakeAllowances struct {
	summarize func(start, end time.Time) (int64, int64, error)
	markPaid  func(start, end time.Time, userID string, paidAt time.Time) (int64, error)
}

func (a *fakeAllowances) SummarizeUnpaid(_ context.Context, start, end time.Time) (int64, int64, error) {
	return a.summarize(start, end)
}

func (a *fakeAllowances) MarkPaid(_ context.Context, start, end time.Time, userID string, paidAt time.Time) (int64, error) {
	return a.markPaid(start, end, userID, paidAt)
}
