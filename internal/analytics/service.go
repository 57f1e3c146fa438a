package analytics

import (
	"context"
	"fmt"
	"time"
)

// Service builds the admin dashboard overview
type Service struct {
	db  *DB
	now func() time.Time
}

// NewService creates a new analytics service
func NewService(db *DB, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, now: now}
}

// Overview is the marketplace snapshot shown on the admin dashboard
type Overview struct {
	TotalRequests  int            `json:"total_requests"`
	ByStatus       map[string]int `json:"requests_by_status"`
	ByEventStatus  map[string]int `json:"requests_by_event_status"`
	OffersByStatus map[string]int `json:"offers_by_status"`
	TopInstruments []GroupCount   `json:"top_instruments"`
	UpcomingByDate []GroupCount   `json:"upcoming_by_date"`
	LedgerTotals   []KindTotal    `json:"ledger_totals"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	byStatus, err := s.db.CountRequestsBy(ctx, "status")
	if err != nil {
		return nil, fmt.Errorf("failed to count requests by status: %w", err)
	}
	byEventStatus, err := s.db.CountRequestsBy(ctx, "event_status")
	if err != nil {
		return nil, fmt.Errorf("failed to count requests by event status: %w", err)
	}
	offers, err := s.db.CountOffersByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count offers: %w", err)
	}
	instruments, err := s.db.TopInstruments(ctx, 5)
	if err != nil {
		return nil, fmt.Errorf("failed to rank instruments: %w", err)
	}
	now := s.now().UTC()
	upcoming, err := s.db.UpcomingByDate(ctx, now.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to count upcoming events: %w", err)
	}
	ledger, err := s.db.LedgerTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to total ledger: %w", err)
	}

	overview := &Overview{
		ByStatus:       toMap(byStatus),
		ByEventStatus:  toMap(byEventStatus),
		OffersByStatus: toMap(offers),
		TopInstruments: nonNil(instruments),
		UpcomingByDate: nonNil(upcoming),
		LedgerTotals:   ledger,
		GeneratedAt:    now,
	}
	if overview.LedgerTotals == nil {
		overview.LedgerTotals = []KindTotal{}
	}
	for _, c := range byStatus {
		overview.TotalRequests += c.Count
	}
	return overview, nil
}

func toMap(rows []GroupCount) map[string]int {
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out
}

func nonNil(rows []GroupCount) []GroupCount {
	if rows == nil {
		return []GroupCount{}
	}
	return rows
}
