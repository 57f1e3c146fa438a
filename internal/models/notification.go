package models

import (
	"fmt"
	"time"
)

type NotificationType string

const (
	NotificationNewRequest     NotificationType = "new_request"
	NotificationNewOffer       NotificationType = "new_offer"
	NotificationOfferSelected  NotificationType = "offer_selected"
	NotificationRequestUpdated NotificationType = "request_updated"
)

// AllNotificationTypes lists every kind the dispatcher can emit.
var AllNotificationTypes = []NotificationType{
	NotificationNewRequest,
	NotificationNewOffer,
	NotificationOfferSelected,
	NotificationRequestUpdated,
}

// Audience selects which connected clients receive a notification.
type Audience struct {
	UserIDs []string `json:"user_ids,omitempty"`
	Roles   []Role   `json:"roles,omitempty"`
}

func (a Audience) Includes(actor Actor) bool {
	if actor.Role == RoleAdmin {
		return true
	}
	for _, id := range a.UserIDs {
		if id == actor.ID {
			return true
		}
	}
	for _, role := range a.Roles {
		if role == actor.Role {
			return true
		}
	}
	return false
}

type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	EntityID  string           `json:"entity_id"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
	Audience  Audience         `json:"audience"`
}

// DedupeKey identifies a notification across redeliveries.
func (n Notification) DedupeKey() string {
	return fmt.Sprintf("%s:%s:%d", n.Type, n.EntityID, n.Timestamp.UnixNano())
}
