package lifecycle

import (
	"fmt"
	"ms-booking/internal/models"
	"strings"
	"time"
)

const (
	OpStart       = "start event"
	OpComplete    = "complete event"
	OpCancel      = "cancel request"
	OpAccept      = "accept request"
	OpReject      = "reject request"
	OpSelectOffer = "select offer"
	OpRejectOffer = "reject offer"
	OpSubmitOffer = "submit offer"
	OpEditRequest = "edit request"
	OpViewRequest = "view request"
	OpCreate      = "create request"
)

// verdict turns a check result into the advisory (allowed, reason) pair.
func verdict(err error) (bool, string) {
	if err != nil {
		return false, models.ReasonOf(err)
	}
	return true, ""
}

// ---------------- EVENT EXECUTION ----------------

// CanStart is advisory: the answer depends on now, so callers must re-check
// with StartEvent right before persisting.
func (e *Engine) CanStart(r *models.Request, actor models.Actor, now time.Time) (bool, string) {
	return verdict(e.CheckStart(r, actor, now))
}

func (e *Engine) CheckStart(r *models.Request, actor models.Actor, now time.Time) error {
	if r.EventStatus != models.EventScheduled {
		return models.InvalidTransition(OpStart, "event is %s; only a scheduled event can be started", r.EventStatus)
	}
	if actor.Role != models.RoleMusician {
		return models.Unauthorized(OpStart, "only the accepted musician can start the event")
	}
	assignment := r.Assignment()
	if assignment == nil {
		return models.InvalidTransition(OpStart, "no musician has accepted this request yet")
	}
	if assignment.MusicianID != actor.ID {
		return models.Unauthorized(OpStart, "only the accepted musician can start the event")
	}
	start, err := e.EventStart(r)
	if err != nil {
		return models.Validation(OpStart, "%v", err)
	}
	if now.Before(start.Add(-e.policy.StartGrace)) {
		return models.InvalidTransition(OpStart, "the event cannot be started before its scheduled start time (%s %s)", r.EventDate, r.StartTime)
	}
	return nil
}

func (e *Engine) StartEvent(r *models.Request, actor models.Actor, now time.Time) error {
	if err := e.CheckStart(r, actor, now); err != nil {
		return err
	}
	startedAt := now
	r.EventStatus = models.EventStarted
	r.EventStartedAt = &startedAt
	r.StartedByMusicianID = actor.ID
	return nil
}

func (e *Engine) CanComplete(r *models.Request, actor models.Actor, now time.Time) (bool, string) {
	return verdict(e.CheckComplete(r, actor, now))
}

func (e *Engine) CheckComplete(r *models.Request, actor models.Actor, now time.Time) error {
	if r.EventStatus != models.EventStarted {
		return models.InvalidTransition(OpComplete, "event is %s; only a started event can be completed", r.EventStatus)
	}
	if !actor.Owns(r) {
		return models.Unauthorized(OpComplete, "only the leader who created the request can complete the event")
	}
	if r.EventStartedAt == nil {
		return models.InvalidTransition(OpComplete, "event has no recorded start time")
	}
	if elapsed := now.Sub(*r.EventStartedAt); elapsed < e.policy.MinEventDuration {
		return models.InvalidTransition(OpComplete, "the event must run for at least %s before it can be completed", humanDuration(e.policy.MinEventDuration))
	}
	return nil
}

func (e *Engine) CompleteEvent(r *models.Request, actor models.Actor, now time.Time) error {
	if err := e.CheckComplete(r, actor, now); err != nil {
		return err
	}
	completedAt := now
	r.EventStatus = models.EventCompleted
	r.EventCompletedAt = &completedAt
	r.Status = models.RequestCompleted
	return nil
}

// ---------------- CANCELLATION ----------------

func (e *Engine) CanCancel(r *models.Request, actor models.Actor) (bool, string) {
	return verdict(e.CheckCancel(r, actor))
}

// CheckCancel returns the typed failure for cancelling r, or nil when allowed.
func (e *Engine) CheckCancel(r *models.Request, actor models.Actor) error {
	if r.EventStatus != models.EventScheduled {
		return models.InvalidTransition(OpCancel, "event is %s; only a scheduled event can be cancelled", r.EventStatus)
	}
	if !actor.Owns(r) {
		return models.Unauthorized(OpCancel, "only the leader who created the request can cancel it")
	}
	return nil
}

// QuotePenalty previews the penalty a cancellation at now would incur.
func (e *Engine) QuotePenalty(r *models.Request, now time.Time) (Penalty, error) {
	start, err := e.EventStart(r)
	if err != nil {
		return Penalty{}, models.Validation(OpCancel, "%v", err)
	}
	return ComputePenalty(start, now).ApplyTo(r.TotalAmount()), nil
}

// CancelRequest cancels a scheduled event and returns the penalty owed. The
// request is left untouched on any failure.
func (e *Engine) CancelRequest(r *models.Request, actor models.Actor, reason string, now time.Time) (Penalty, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Penalty{}, models.Validation(OpCancel, "a cancellation reason is required")
	}
	if err := e.CheckCancel(r, actor); err != nil {
		return Penalty{}, err
	}
	penalty, err := e.QuotePenalty(r, now)
	if err != nil {
		return Penalty{}, err
	}
	cancelledAt := now
	r.EventStatus = models.EventCancelled
	r.Status = models.RequestCancelled
	r.CancelledAt = &cancelledAt
	r.CancellationReason = reason
	r.CancellationPenaltyPercent = penalty.Percent
	r.CancellationPenaltyAmount = penalty.Amount
	return penalty, nil
}

// ---------------- MUSICIAN RESPONSE ----------------

func (e *Engine) checkMusicianResponse(op string, r *models.Request, actor models.Actor) error {
	if actor.Role != models.RoleMusician {
		return models.Unauthorized(op, "only musicians can respond to a request")
	}
	if r.EventStatus != models.EventScheduled {
		return models.InvalidTransition(op, "event is %s; musicians can only respond to scheduled events", r.EventStatus)
	}
	if a := r.Assignment(); a != nil {
		if a.MusicianID == actor.ID {
			return models.InvalidTransition(op, "you have already accepted this request")
		}
		return models.InvalidTransition(op, "this request has already been accepted by another musician")
	}
	if r.RejectionBy(actor.ID) != nil {
		return models.InvalidTransition(op, "you have already declined this request")
	}
	return nil
}

func (e *Engine) CanAccept(r *models.Request, actor models.Actor) (bool, string) {
	return verdict(e.checkMusicianResponse(OpAccept, r, actor))
}

func (e *Engine) AcceptByMusician(r *models.Request, actor models.Actor, now time.Time) error {
	if err := e.checkMusicianResponse(OpAccept, r, actor); err != nil {
		return err
	}
	r.Assign(models.AcceptedAssignment{
		MusicianID: actor.ID,
		Source:     models.AssignmentMusicianAccept,
		AssignedAt: now,
	})
	return nil
}

func (e *Engine) RejectByMusician(r *models.Request, actor models.Actor, now time.Time) error {
	if err := e.checkMusicianResponse(OpReject, r, actor); err != nil {
		return err
	}
	r.Rejections = append(r.Rejections, models.MusicianRejection{
		MusicianID: actor.ID,
		RejectedAt: now,
	})
	return nil
}

// ---------------- OFFERS ----------------

func (e *Engine) CheckSubmitOffer(r *models.Request, actor models.Actor) error {
	if actor.Role != models.RoleMusician {
		return models.Unauthorized(OpSubmitOffer, "only musicians can submit offers")
	}
	if r.Status != models.RequestActive || r.EventStatus != models.EventScheduled {
		return models.InvalidTransition(OpSubmitOffer, "this request is not accepting offers")
	}
	if r.Assignment() != nil {
		return models.InvalidTransition(OpSubmitOffer, "a musician has already been confirmed for this request")
	}
	if r.RejectionBy(actor.ID) != nil {
		return models.InvalidTransition(OpSubmitOffer, "you have already declined this request")
	}
	return nil
}

func (e *Engine) checkOfferDecision(op string, r *models.Request, offer *models.Offer, actor models.Actor) error {
	if !actor.Owns(r) && !actor.IsAdmin() {
		return models.Unauthorized(op, "only the request owner or an admin can decide on offers")
	}
	if offer.RequestID != r.ID {
		return models.Validation(op, "offer %s does not belong to request %s", offer.ID, r.ID)
	}
	if r.IsClosed() {
		return models.InvalidTransition(op, "request is %s", closedState(r))
	}
	if offer.Status != models.OfferPending {
		return models.InvalidTransition(op, "offer is already %s", offer.Status)
	}
	return nil
}

// SelectOffer confirms offer's musician for the request. Sibling offers are
// left as they are.
func (e *Engine) SelectOffer(r *models.Request, offer *models.Offer, siblings []models.Offer, actor models.Actor, now time.Time) error {
	if err := e.checkOfferDecision(OpSelectOffer, r, offer, actor); err != nil {
		return err
	}
	for _, s := range siblings {
		if s.ID != offer.ID && s.Status == models.OfferSelected {
			return models.InvalidTransition(OpSelectOffer, "another offer has already been selected for this request")
		}
	}
	assignedAt := now
	if a := r.Assignment(); a != nil {
		if a.MusicianID != offer.MusicianID {
			return models.InvalidTransition(OpSelectOffer, "this request has already been accepted by another musician")
		}
		assignedAt = a.AssignedAt
	}

	respondedAt := now
	offer.Status = models.OfferSelected
	offer.RespondedAt = &respondedAt
	r.Assign(models.AcceptedAssignment{
		MusicianID: offer.MusicianID,
		OfferID:    offer.ID,
		Source:     models.AssignmentOfferSelected,
		AssignedAt: assignedAt,
	})
	return nil
}

func (e *Engine) RejectOffer(r *models.Request, offer *models.Offer, actor models.Actor, now time.Time) error {
	if err := e.checkOfferDecision(OpRejectOffer, r, offer, actor); err != nil {
		return err
	}
	respondedAt := now
	offer.Status = models.OfferRejected
	offer.RespondedAt = &respondedAt
	return nil
}

// ---------------- EDITS ----------------

// CheckEditable allows edits and amount recalculation only before anyone is confirmed.
func (e *Engine) CheckEditable(r *models.Request, actor models.Actor) error {
	if !actor.Owns(r) && !actor.IsAdmin() {
		return models.Unauthorized(OpEditRequest, "only the leader who created the request can edit it")
	}
	if r.EventStatus != models.EventScheduled || r.IsClosed() {
		return models.InvalidTransition(OpEditRequest, "event is %s; only scheduled requests can be edited", r.EventStatus)
	}
	if r.Assignment() != nil {
		return models.InvalidTransition(OpEditRequest, "a musician has already been confirmed for this request")
	}
	return nil
}

// CanView applies role scoping to a single request.
func (e *Engine) CanView(r *models.Request, actor models.Actor) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleLeader:
		if r.LeaderID == actor.ID {
			return nil
		}
	case models.RoleMusician:
		if r.AssignmentMusicianID == actor.ID || r.StartedByMusicianID == actor.ID {
			return nil
		}
		if r.Status == models.RequestActive && r.EventStatus == models.EventScheduled {
			return nil
		}
	}
	return models.Unauthorized(OpViewRequest, "you do not have access to this request")
}

func closedState(r *models.Request) string {
	if r.EventStatus == models.EventCancelled || r.Status == models.RequestCancelled {
		return string(models.RequestCancelled)
	}
	return string(models.RequestCompleted)
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}
