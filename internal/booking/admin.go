package booking

import (
	"context"
	"fmt"
	"ms-booking/internal/analytics"
	"ms-booking/internal/billing"
	"ms-booking/internal/booking/qr"
	"ms-booking/internal/models"
	"ms-booking/internal/notify"
	"ms-booking/internal/pricing"
	"ms-booking/internal/utils"
	"time"

	"github.com/shopspring/decimal"
)

const opModerate = "moderate request"

func requireAdmin(op string, actor models.Actor) error {
	if err := actor.Validate(op); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return models.Unauthorized(op, "admin role required")
	}
	return nil
}

// ---------------- MODERATION ----------------

// RequestLockHeld reports whether a transition currently holds the request's
// lock. Admins use it to diagnose requests stuck behind a lock.
func (s *Service) RequestLockHeld(ctx context.Context, actor models.Actor, id string) (bool, error) {
	const op = "inspect request lock"
	if err := requireAdmin(op, actor); err != nil {
		return false, err
	}
	if _, err := s.DB.GetRequestByID(ctx, id); err != nil {
		return false, err
	}
	locked, err := s.Lock.IsRequestLocked(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return locked, nil
}

// SetRequestStatus moves an open request between pending and active.
func (s *Service) SetRequestStatus(ctx context.Context, actor models.Actor, id string, status models.RequestStatus) (*models.Request, error) {
	if err := requireAdmin(opModerate, actor); err != nil {
		return nil, s.record(opModerate, err)
	}
	if status != models.RequestPending && status != models.RequestActive {
		return nil, s.record(opModerate, models.Validation(opModerate, "status must be %q or %q", models.RequestPending, models.RequestActive))
	}
	req, err := s.transitionRequest(ctx, opModerate, actor, id, func(r *models.Request, now time.Time) ([]models.BalanceEntry, error) {
		if r.IsClosed() || r.EventStatus != models.EventScheduled {
			return nil, models.InvalidTransition(opModerate, "event is %s; only scheduled requests can be moderated", r.EventStatus)
		}
		r.Status = status
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notify.RequestUpdatedEvent(req, "set to "+string(status)))
	return req, nil
}

// ---------------- RATES ----------------

func (s *Service) ListRates(ctx context.Context, actor models.Actor) ([]models.InstrumentRate, error) {
	if err := actor.Validate("list rates"); err != nil {
		return nil, err
	}
	return s.DB.ListRates(ctx)
}

func (s *Service) SetRate(ctx context.Context, actor models.Actor, instrument string, hourlyRate decimal.Decimal) (*models.InstrumentRate, error) {
	const op = "set rate"
	if err := requireAdmin(op, actor); err != nil {
		return nil, err
	}
	instrument = pricing.NormalizeInstrument(instrument)
	if instrument == "" {
		return nil, models.Validation(op, "instrument is required")
	}
	if hourlyRate.IsNegative() {
		return nil, models.Validation(op, "hourly_rate must not be negative")
	}
	rate := &models.InstrumentRate{
		Instrument: instrument,
		HourlyRate: hourlyRate.Round(2),
		UpdatedAt:  utils.DBTime(s.Clock.Now()),
	}
	if err := s.DB.UpsertRate(ctx, rate); err != nil {
		return nil, err
	}
	s.Logger.LogBilling("RATE", actor.ID, fmt.Sprintf("%s set to %s/h", rate.Instrument, rate.HourlyRate.StringFixed(2)))
	return rate, nil
}

// ---------------- BALANCES ----------------

func (s *Service) ListBalances(ctx context.Context, actor models.Actor) ([]models.Balance, error) {
	if err := requireAdmin("list balances", actor); err != nil {
		return nil, err
	}
	return s.DB.ListBalances(ctx)
}

// GetBalance is available to admins and to the user the balance belongs to.
func (s *Service) GetBalance(ctx context.Context, actor models.Actor, userID string) (*models.Balance, []models.BalanceEntry, error) {
	const op = "get balance"
	if err := actor.Validate(op); err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin() && actor.ID != userID {
		return nil, nil, models.Unauthorized(op, "you can only view your own balance")
	}
	balance, err := s.DB.GetBalance(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.DB.ListBalanceEntries(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return balance, entries, nil
}

func (s *Service) AdjustBalance(ctx context.Context, actor models.Actor, userID string, adj models.BalanceAdjustment) (*models.BalanceEntry, error) {
	const op = "adjust balance"
	if err := requireAdmin(op, actor); err != nil {
		return nil, err
	}
	entry, err := billing.AdjustmentEntry(userID, adj, actor.ID, utils.DBTime(s.Clock.Now()))
	if err != nil {
		return nil, err
	}
	if err := s.DB.InsertBalanceEntry(ctx, entry); err != nil {
		return nil, err
	}
	s.Logger.LogBilling("ADJUST", userID, fmt.Sprintf("%s by %s", entry.Amount.StringFixed(2), actor.ID))
	return entry, nil
}

// ---------------- OVERVIEW ----------------

func (s *Service) Overview(ctx context.Context, actor models.Actor) (*analytics.Overview, error) {
	if err := requireAdmin("overview", actor); err != nil {
		return nil, err
	}
	if s.Analytics == nil {
		return nil, fmt.Errorf("analytics is not configured")
	}
	return s.Analytics.Overview(ctx)
}

// ---------------- CONFIRMATION ----------------

// Confirmation returns the booking proof for the leader, the confirmed
// musician or an admin.
func (s *Service) Confirmation(ctx context.Context, actor models.Actor, id string) (*qr.Confirmation, error) {
	const op = "booking confirmation"
	req, err := s.GetRequest(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.Owns(req) && req.AssignmentMusicianID != actor.ID {
		return nil, models.Unauthorized(op, "only the leader and the confirmed musician can view the confirmation")
	}
	if req.EventStatus == models.EventCancelled || req.Status == models.RequestCancelled {
		return nil, models.InvalidTransition(op, "request is cancelled")
	}
	c, err := qr.ConfirmationFor(req)
	if err != nil {
		return nil, models.InvalidTransition(op, "%v", err)
	}
	return c, nil
}
