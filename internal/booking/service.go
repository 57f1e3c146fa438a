package booking

import (
	"context"
	"errors"
	"fmt"
	"ms-booking/internal/analytics"
	"ms-booking/internal/billing"
	"ms-booking/internal/lifecycle"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/notify"
	"ms-booking/internal/pricing"
	"ms-booking/internal/utils"
	"strings"
	"time"
)

type DBLayer interface {
	CreateRequest(ctx context.Context, req *models.Request) error
	GetRequestByID(ctx context.Context, id string) (*models.Request, error)
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	SaveRequestTransition(ctx context.Context, req *models.Request, expectedVersion int, entries ...models.BalanceEntry) error

	CreateOffer(ctx context.Context, offer *models.Offer) error
	GetOfferByID(ctx context.Context, id string) (*models.Offer, error)
	ListOffersByRequest(ctx context.Context, requestID string) ([]models.Offer, error)
	ListOffersByMusician(ctx context.Context, musicianID string) ([]models.Offer, error)
	SaveOfferTransition(ctx context.Context, offer *models.Offer, expectedOfferVersion int, req *models.Request, expectedRequestVersion int) error

	ListRates(ctx context.Context) ([]models.InstrumentRate, error)
	UpsertRate(ctx context.Context, rate *models.InstrumentRate) error
	InsertBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error
	ListBalances(ctx context.Context) ([]models.Balance, error)
	GetBalance(ctx context.Context, userID string) (*models.Balance, error)
	ListBalanceEntries(ctx context.Context, userID string) ([]models.BalanceEntry, error)
}

type RequestLock interface {
	LockRequest(ctx context.Context, requestID string) (string, bool, error)
	UnlockRequest(ctx context.Context, requestID, token string) error
	IsRequestLocked(ctx context.Context, requestID string) (bool, error)
}

type Estimator interface {
	Estimate(ctx context.Context, r *models.Request) (*pricing.Estimate, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n models.Notification)
}

type PenaltyCharger interface {
	ChargePenalty(ctx context.Context, r *models.Request) (string, error)
}

type OverviewSource interface {
	Overview(ctx context.Context) (*analytics.Overview, error)
}

type Service struct {
	DB         DBLayer
	Lock       RequestLock
	Engine     *lifecycle.Engine
	Estimator  Estimator
	Dispatcher Dispatcher
	Clock      lifecycle.Clock
	Logger     *logger.Logger

	// Optional collaborators; nil disables them.
	Charger   PenaltyCharger
	Analytics OverviewSource
	Metrics   *metrics.Metrics
}

func NewService(db DBLayer, lock RequestLock, engine *lifecycle.Engine, estimator Estimator, dispatcher Dispatcher, clock lifecycle.Clock, log *logger.Logger) *Service {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	return &Service{
		DB:         db,
		Lock:       lock,
		Engine:     engine,
		Estimator:  estimator,
		Dispatcher: dispatcher,
		Clock:      clock,
		Logger:     log,
	}
}

// ---------------- HELPERS ----------------

// withRequestLock runs fn while holding the request's lock. A lock held by
// someone else is reported as a concurrent modification.
func (s *Service) withRequestLock(ctx context.Context, op, requestID string, fn func() error) error {
	token, ok, err := s.Lock.LockRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.Metrics.RecordLockContention(op)
		return models.Conflict(op, "another change to this request is in progress, try again", nil)
	}
	defer func() {
		if err := s.Lock.UnlockRequest(context.WithoutCancel(ctx), requestID, token); err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("Failed to release lock for request %s: %v", requestID, err))
		}
	}()
	return fn()
}

// transitionRequest re-reads the request under its lock, lets apply mutate it
// at a fresh instant and saves it against the version it was read at. Ledger
// entries returned by apply are written in the same transaction.
func (s *Service) transitionRequest(ctx context.Context, op string, actor models.Actor, requestID string, apply func(r *models.Request, now time.Time) ([]models.BalanceEntry, error)) (*models.Request, error) {
	if err := actor.Validate(op); err != nil {
		return nil, s.record(op, err)
	}
	var saved *models.Request
	err := s.withRequestLock(ctx, op, requestID, func() error {
		req, err := s.DB.GetRequestByID(ctx, requestID)
		if err != nil {
			return err
		}
		expected := req.Version
		entries, err := apply(req, s.Clock.Now())
		if err != nil {
			return err
		}
		if err := s.DB.SaveRequestTransition(ctx, req, expected, entries...); err != nil {
			return err
		}
		saved = req
		return nil
	})
	if err != nil {
		return nil, s.record(op, err)
	}
	s.record(op, nil)
	s.Logger.LogRequest(strings.ToUpper(op), saved.ID, fmt.Sprintf("by %s %s, version %d", actor.Role, actor.ID, saved.Version))
	return saved, nil
}

func (s *Service) record(op string, err error) error {
	s.Metrics.RecordTransition(op, outcome(err))
	if err != nil && !errors.Is(err, models.ErrValidation) && !errors.Is(err, models.ErrNotFound) {
		s.Logger.Warn("LIFECYCLE", fmt.Sprintf("%s refused: %v", op, err))
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrConcurrentModification):
		return "conflict"
	default:
		return "error"
	}
}

func (s *Service) dispatch(ctx context.Context, n models.Notification) {
	if s.Dispatcher == nil {
		return
	}
	s.Dispatcher.Dispatch(context.WithoutCancel(ctx), n)
}

// ---------------- REQUESTS ----------------

func validateInput(in models.RequestInput) error {
	required := []struct{ name, value string }{
		{"event_type", in.EventType},
		{"event_date", in.EventDate},
		{"start_time", in.StartTime},
		{"end_time", in.EndTime},
		{"location", in.Location},
		{"required_instrument", in.RequiredInstrument},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return models.Validation(lifecycle.OpCreate, "%s is required", field.name)
		}
	}
	if _, err := lifecycle.ParseDate(in.EventDate); err != nil {
		return models.Validation(lifecycle.OpCreate, "event_date must be YYYY-MM-DD")
	}
	if _, err := lifecycle.ParseTimeOfDay(in.StartTime); err != nil {
		return models.Validation(lifecycle.OpCreate, "start_time must be HH:MM")
	}
	if _, err := lifecycle.ParseTimeOfDay(in.EndTime); err != nil {
		return models.Validation(lifecycle.OpCreate, "end_time must be HH:MM")
	}
	if in.ExtraAmount.IsNegative() {
		return models.Validation(lifecycle.OpCreate, "extra_amount must not be negative")
	}
	return nil
}

// CreateRequest posts a new active request priced from the instrument's hourly rate.
func (s *Service) CreateRequest(ctx context.Context, actor models.Actor, in models.RequestInput) (*models.Request, error) {
	op := lifecycle.OpCreate
	if err := actor.Validate(op); err != nil {
		return nil, s.record(op, err)
	}
	if actor.Role != models.RoleLeader {
		return nil, s.record(op, models.Unauthorized(op, "only leaders can create requests"))
	}
	if err := validateInput(in); err != nil {
		return nil, s.record(op, err)
	}

	now := s.Clock.Now()
	req := &models.Request{
		ID:                 utils.NewID(),
		LeaderID:           actor.ID,
		EventType:          strings.TrimSpace(in.EventType),
		EventDate:          strings.TrimSpace(in.EventDate),
		StartTime:          strings.TrimSpace(in.StartTime),
		EndTime:            strings.TrimSpace(in.EndTime),
		Location:           strings.TrimSpace(in.Location),
		RequiredInstrument: strings.TrimSpace(in.RequiredInstrument),
		ExtraAmount:        in.ExtraAmount.Round(2),
		Description:        strings.TrimSpace(in.Description),
		Status:             models.RequestActive,
		EventStatus:        models.EventScheduled,
		CreatedAt:          utils.DBTime(now),
	}

	start, err := s.Engine.EventStart(req)
	if err != nil {
		return nil, s.record(op, models.Validation(op, "%v", err))
	}
	if !start.After(now) {
		return nil, s.record(op, models.Validation(op, "the event must start in the future"))
	}

	estimate, err := s.Estimator.Estimate(ctx, req)
	if err != nil {
		return nil, s.record(op, err)
	}
	req.EstimatedBaseAmount = estimate.BaseAmount

	if err := s.DB.CreateRequest(ctx, req); err != nil {
		return nil, s.record(op, err)
	}
	s.record(op, nil)
	s.Logger.LogRequest("CREATE", req.ID, fmt.Sprintf("%s on %s for %s, base %s", req.EventType, req.EventDate, req.RequiredInstrument, req.EstimatedBaseAmount.StringFixed(2)))

	s.dispatch(ctx, notify.NewRequestEvent(req))
	return req, nil
}

func (s *Service) GetRequest(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	if err := actor.Validate(lifecycle.OpViewRequest); err != nil {
		return nil, err
	}
	req, err := s.DB.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Engine.CanView(req, actor); err != nil {
		return nil, err
	}
	return req, nil
}

// ListRequests scopes filter to what actor may see: leaders their own,
// musicians open requests plus their bookings, admins everything.
func (s *Service) ListRequests(ctx context.Context, actor models.Actor, filter models.RequestFilter) ([]models.Request, error) {
	if err := actor.Validate(lifecycle.OpViewRequest); err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleLeader:
		filter.LeaderID = actor.ID
		filter.MusicianID = ""
	case models.RoleMusician:
		filter.LeaderID = ""
		filter.MusicianID = actor.ID
		filter.OpenOnly = true
	}
	return s.DB.ListRequests(ctx, filter)
}

// UpdateRequest edits the free-form fields of a request nobody is booked for yet.
func (s *Service) UpdateRequest(ctx context.Context, actor models.Actor, id string, patch models.RequestPatch) (*models.Request, error) {
	op := lifecycle.OpEditRequest
	req, err := s.transitionRequest(ctx, op, actor, id, func(r *models.Request, now time.Time) ([]models.BalanceEntry, error) {
		if err := s.Engine.CheckEditable(r, actor); err != nil {
			return nil, err
		}
		if patch.Location != nil {
			location := strings.TrimSpace(*patch.Location)
			if location == "" {
				return nil, models.Validation(op, "location must not be empty")
			}
			r.Location = location
		}
		if patch.Description != nil {
			r.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.ExtraAmount != nil {
			if patch.ExtraAmount.IsNegative() {
				return nil, models.Validation(op, "extra_amount must not be negative")
			}
			r.ExtraAmount = patch.ExtraAmount.Round(2)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notify.RequestUpdatedEvent(req, "updated"))
	return req, nil
}

// RecalculateAmount re-prices the request from the current instrument rates.
func (s *Service) RecalculateAmount(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	req, err := s.transitionRequest(ctx, lifecycle.OpEditRequest, actor, id, func(r *models.Request, now time.Time) ([]models.BalanceEntry, error) {
		if err := s.Engine.CheckEditable(r, actor); err != nil {
			return nil, err
		}
		estimate, err := s.Estimator.Estimate(ctx, r)
		if err != nil {
			return nil, err
		}
		r.EstimatedBaseAmount = estimate.BaseAmount
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notify.RequestUpdatedEvent(req, "repriced"))
	return req, nil
}

// ---------------- LIFECYCLE ----------------

func (s *Service) StartEvent(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	req, err := s.transitionRequest(ctx, lifecycle.OpStart, actor, id, func(r *models.Request, now time.Time) ([]models.BalanceEntry, error) {
		return nil, s.Engine.StartEvent(r, actor, now)
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notify.RequestUpdatedEvent(req, "started"))
	return req, nil
}

// CompleteEvent closes a started event and credits the assigned musician.
func (s *Service) CompleteEvent(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	req, err := s.transitionRequest(ctx, lifecycle.OpComplete, actor, id, func(r *models.Request, now time.Time) ([]models.BalanceEntry, error) {
		if err := s.Engine.CompleteEvent(r, actor, now); err != nil {
			return nil, err
		}
		var selected *models.Offer
		if r.AssignmentOfferID != "" {
			offer, err := s.DB.GetOfferByID(ctx, r.AssignmentOfferID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return nil, err
			}
			selected = offer
		}
		if entry := billing.PayoutEntry(r, selected, now); entry != nil {
			return []models.BalanceEntry{*entry}, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notify.RequestUpdatedEvent(req, "completed"))
	return req, nil
}

// PenaltyQuote previews what cancelling right now would cost the leader.
func (s *Service) PenaltyQuote(ctx context.Context, actor models.Actor, id string) (*lifecycle.Penalty, error) {
	if err := actor.Validate(lifecycle.OpCancel); err != nil {
		return nil, err
	}
	req, err := s.DB.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Engine.CheckCancel(req, actor); err != nil {
		if !actor.IsAdmin() || !errors.Is(err, models.ErrUnauthorized) {
			return nil, err
		}
	}
	penalty, err := s.Engine.QuotePenalty(req, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	return &penalty, nil
}

// CancelRequest cancels a scheduled event, records the penalty on the leader's
// balance and, when a payment gateway is configured, requests its payment.
func (s *Service) CancelRequest(ctx context.Context, actor models.Actor, id, reason string) (*models.Request, *lifecycle.Penalty, error) {
	var penalty lifecycle.Penalty
	req, err := s.transitionRequest(ctx, lifecycle.OpCancel, actor, id, func(r *models.Request, now time.Time) ([]models.BalanceEntry, error) {
		p, err := s.Engine.CancelRequest(r, actor, reason, now)
		if err != nil {
			return nil, err
		}
		penalty = p
		if entry := billing.PenaltyEntry(r, p, now); entry != nil {
			return []models.BalanceEntry{*entry}, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}

	if s.Charger != nil {
		if _, err := s.Charger.ChargePenalty(context.WithoutCancel(ctx), req); err != nil {
			s.Logger.Warn("BILLING", fmt.Sprintf("Penalty for request %s stays on the ledger only: %v", req.ID, err))
		}
	}
	s.dispatch(ctx, notify.RequestUpdatedEvent(req, "cancelled"))
	return req, &penalty, nil
}

func (s *Service) AcceptRequest(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	req, err := s.transitionRequest(ctx, lifecycle.OpAccept, actor, id, func(r *models.Request, now time.Time) ([]models.BalanceEntry, error) {
		return nil, s.Engine.AcceptByMusician(r, actor, now)
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notify.RequestUpdatedEvent(req, "accepted"))
	return req, nil
}

func (s *Service) RejectRequest(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	req, err := s.transitionRequest(ctx, lifecycle.OpReject, actor, id, func(r *models.Request, now time.Time) ([]models.BalanceEntry, error) {
		return nil, s.Engine.RejectByMusician(r, actor, now)
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notify.RequestUpdatedEvent(req, "rejected", actor.ID))
	return req, nil
}
