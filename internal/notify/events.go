package notify

import (
	"fmt"
	"ms-booking/internal/models"
)

func NewRequestEvent(r *models.Request) models.Notification {
	return models.Notification{
		Type:     models.NotificationNewRequest,
		EntityID: r.ID,
		Message:  fmt.Sprintf("New %s request for %s on %s", r.RequiredInstrument, r.EventType, r.EventDate),
		Data: map[string]any{
			"request_id":          r.ID,
			"event_type":          r.EventType,
			"event_date":          r.EventDate,
			"start_time":          r.StartTime,
			"required_instrument": r.RequiredInstrument,
			"location":            r.Location,
		},
		Audience: models.Audience{Roles: []models.Role{models.RoleMusician}, UserIDs: []string{r.LeaderID}},
	}
}

func NewOfferEvent(r *models.Request, o *models.Offer) models.Notification {
	return models.Notification{
		Type:     models.NotificationNewOffer,
		EntityID: o.ID,
		Message:  fmt.Sprintf("New offer of %s for your %s request", o.ProposedPrice.StringFixed(2), r.EventType),
		Data: map[string]any{
			"offer_id":       o.ID,
			"request_id":     r.ID,
			"musician_id":    o.MusicianID,
			"proposed_price": o.ProposedPrice.StringFixed(2),
		},
		Audience: models.Audience{UserIDs: []string{r.LeaderID}},
	}
}

func OfferSelectedEvent(r *models.Request, o *models.Offer) models.Notification {
	return models.Notification{
		Type:     models.NotificationOfferSelected,
		EntityID: o.ID,
		Message:  fmt.Sprintf("Your offer for %s on %s was selected", r.EventType, r.EventDate),
		Data: map[string]any{
			"offer_id":    o.ID,
			"request_id":  r.ID,
			"musician_id": o.MusicianID,
		},
		Audience: models.Audience{UserIDs: []string{o.MusicianID, r.LeaderID}},
	}
}

// RequestUpdatedEvent tells the owner and any involved musician that the
// request changed. action names what happened, e.g. "started" or "cancelled".
func RequestUpdatedEvent(r *models.Request, action string, extraRecipients ...string) models.Notification {
	recipients := []string{r.LeaderID}
	if r.AssignmentMusicianID != "" {
		recipients = append(recipients, r.AssignmentMusicianID)
	}
	recipients = append(recipients, extraRecipients...)

	data := map[string]any{
		"request_id":      r.ID,
		"action":          action,
		"status":          r.Status,
		"event_status":    r.EventStatus,
		"musician_status": r.MusicianStatus(),
		"version":         r.Version,
	}
	if r.CancellationReason != "" {
		data["cancellation_reason"] = r.CancellationReason
		data["penalty_percent"] = r.CancellationPenaltyPercent
		data["penalty_amount"] = r.CancellationPenaltyAmount.StringFixed(2)
	}

	return models.Notification{
		Type:     models.NotificationRequestUpdated,
		EntityID: r.ID,
		Message:  fmt.Sprintf("Request for %s on %s was %s", r.EventType, r.EventDate, action),
		Data:     data,
		Audience: models.Audience{UserIDs: recipients},
	}
}
