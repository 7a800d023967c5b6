package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/iliyamo/presensi-qr/internal/model"
	"github.com/iliyamo/presensi-qr/internal/repository"
	"github.com/iliyamo/presensi-qr/internal/sitetime"
)

// Paging bounds for history listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxPage keeps the row offset within a signed 32-bit integer.
	MaxPage = math.MaxInt32 / MaxPageSize
)

// HistoryPage is one page of a user's attendance history.
type HistoryPage struct {
	Items    []model.Attendance `json:"items"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Total    int64              `json:"total"`
}

// HistoryService reads a user's own attendance.
type HistoryService struct {
	reader AttendanceReader
	zone   sitetime.Zone
	now    func() time.Time
}

func NewHistoryService(reader AttendanceReader, zone sitetime.Zone) *HistoryService {
	return &HistoryService{reader: reader, zone: zone, now: time.Now}
}

func (s *HistoryService) WithClock(now func() time.Time) *HistoryService {
	s.now = now
	return s
}

// ClampPage normalizes paging input: page defaults to 1 and pageSize to
// DefaultPageSize, page is capped at MaxPage and pageSize at MaxPageSize.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// List returns the user's records ordered by day, newest first.
func (s *HistoryService) List(ctx context.Context, userID string, page, pageSize int) (HistoryPage, error) {
	page, pageSize = ClampPage(page, pageSize)
	items, err := s.reader.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("list history: %w", err)
	}
	total, err := s.reader.CountByUser(ctx, userID)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("count history: %w", err)
	}
	return HistoryPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

// Today returns the user's latest record created during today's site-local
// day, or nil when there is none.
func (s *HistoryService) Today(ctx context.Context, userID string) (*model.Attendance, error) {
	now := s.now().UTC()
	a, err := s.reader.LatestCreatedBetween(ctx, userID, s.zone.StartOfDay(now), s.zone.EndOfDay(now))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load today's record: %w", err)
	}
	return &a, nil
}
