package booking

import (
	"context"
	"fmt"
	"ms-booking/internal/lifecycle"
	"ms-booking/internal/models"
	"ms-booking/internal/notify"
	"ms-booking/internal/utils"
	"strings"
)

// ---------------- OFFERS ----------------

// SubmitOffer records a musician's bid on an open request. One offer per
// musician per request.
func (s *Service) SubmitOffer(ctx context.Context, actor models.Actor, requestID string, in models.OfferInput) (*models.Offer, error) {
	op := lifecycle.OpSubmitOffer
	if err := actor.Validate(op); err != nil {
		return nil, s.record(op, err)
	}
	if in.ProposedPrice.IsNegative() {
		return nil, s.record(op, models.Validation(op, "proposed_price must not be negative"))
	}

	var (
		offer *models.Offer
		req   *models.Request
	)
	err := s.withRequestLock(ctx, op, requestID, func() error {
		var err error
		req, err = s.DB.GetRequestByID(ctx, requestID)
		if err != nil {
			return err
		}
		if err := s.Engine.CheckSubmitOffer(req, actor); err != nil {
			return err
		}
		offer = &models.Offer{
			ID:                    utils.NewID(),
			RequestID:             req.ID,
			MusicianID:            actor.ID,
			ProposedPrice:         in.ProposedPrice.Round(2),
			Message:               strings.TrimSpace(in.Message),
			AvailabilityConfirmed: in.AvailabilityConfirmed,
			Status:                models.OfferPending,
			CreatedAt:             utils.DBTime(s.Clock.Now()),
		}
		return s.DB.CreateOffer(ctx, offer)
	})
	if err != nil {
		return nil, s.record(op, err)
	}
	s.record(op, nil)
	s.Logger.LogOffer("SUBMIT", offer.ID, fmt.Sprintf("musician %s offered %s on request %s", actor.ID, offer.ProposedPrice.StringFixed(2), req.ID))

	s.dispatch(ctx, notify.NewOfferEvent(req, offer))
	return offer, nil
}

// GetOffer is visible to the musician who made it, the request owner and admins.
func (s *Service) GetOffer(ctx context.Context, actor models.Actor, offerID string) (*models.Offer, error) {
	if err := actor.Validate("get offer"); err != nil {
		return nil, err
	}
	offer, err := s.DB.GetOfferByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || offer.MusicianID == actor.ID {
		return offer, nil
	}
	req, err := s.DB.GetRequestByID(ctx, offer.RequestID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(req) {
		return nil, models.Unauthorized("get offer", "you do not have access to this offer")
	}
	return offer, nil
}

// ListOffers returns every offer on the request for its owner and admins, and
// only their own offer for a musician.
func (s *Service) ListOffers(ctx context.Context, actor models.Actor, requestID string) ([]models.Offer, error) {
	if err := actor.Validate("list offers"); err != nil {
		return nil, err
	}
	req, err := s.DB.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	offers, err := s.DB.ListOffersByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.IsAdmin() || actor.Owns(req):
		return offers, nil
	case actor.Role == models.RoleMusician:
		own := []models.Offer{}
		for _, o := range offers {
			if o.MusicianID == actor.ID {
				own = append(own, o)
			}
		}
		return own, nil
	default:
		return nil, models.Unauthorized("list offers", "you do not have access to offers on this request")
	}
}

func (s *Service) ListMyOffers(ctx context.Context, actor models.Actor) ([]models.Offer, error) {
	if err := actor.Validate("list offers"); err != nil {
		return nil, err
	}
	if actor.Role != models.RoleMusician {
		return nil, models.Unauthorized("list offers", "only musicians have offers")
	}
	return s.DB.ListOffersByMusician(ctx, actor.ID)
}

// decideOffer runs an offer decision under the request lock. The offer and the
// request are re-read and written back together, each against its version.
func (s *Service) decideOffer(ctx context.Context, op string, actor models.Actor, offerID string, decide func(req *models.Request, offer *models.Offer) (bool, error)) (*models.Request, *models.Offer, error) {
	if err := actor.Validate(op); err != nil {
		return nil, nil, s.record(op, err)
	}
	offer, err := s.DB.GetOfferByID(ctx, offerID)
	if err != nil {
		return nil, nil, s.record(op, err)
	}

	var req *models.Request
	err = s.withRequestLock(ctx, op, offer.RequestID, func() error {
		var err error
		if offer, err = s.DB.GetOfferByID(ctx, offerID); err != nil {
			return err
		}
		if req, err = s.DB.GetRequestByID(ctx, offer.RequestID); err != nil {
			return err
		}
		offerVersion, requestVersion := offer.Version, req.Version

		touchesRequest, err := decide(req, offer)
		if err != nil {
			return err
		}
		if !touchesRequest {
			return s.DB.SaveOfferTransition(ctx, offer, offerVersion, nil, 0)
		}
		return s.DB.SaveOfferTransition(ctx, offer, offerVersion, req, requestVersion)
	})
	if err != nil {
		return nil, nil, s.record(op, err)
	}
	s.record(op, nil)
	s.Logger.LogOffer(strings.ToUpper(op), offer.ID, fmt.Sprintf("request %s by %s %s", req.ID, actor.Role, actor.ID))
	return req, offer, nil
}

// SelectOffer confirms the offer's musician for the request. Other offers stay pending.
func (s *Service) SelectOffer(ctx context.Context, actor models.Actor, offerID string) (*models.Offer, error) {
	req, offer, err := s.decideOffer(ctx, lifecycle.OpSelectOffer, actor, offerID, func(req *models.Request, offer *models.Offer) (bool, error) {
		siblings, err := s.DB.ListOffersByRequest(ctx, req.ID)
		if err != nil {
			return false, err
		}
		return true, s.Engine.SelectOffer(req, offer, siblings, actor, s.Clock.Now())
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notify.OfferSelectedEvent(req, offer))
	return offer, nil
}

func (s *Service) RejectOffer(ctx context.Context, actor models.Actor, offerID string) (*models.Offer, error) {
	req, offer, err := s.decideOffer(ctx, lifecycle.OpRejectOffer, actor, offerID, func(req *models.Request, offer *models.Offer) (bool, error) {
		return false, s.Engine.RejectOffer(req, offer, actor, s.Clock.Now())
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, notify.RequestUpdatedEvent(req, "offer rejected", offer.MusicianID))
	return offer, nil
}
