package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestActive    RequestStatus = "active"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventStarted   EventStatus = "started"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

type MusicianStatus string

const (
	MusicianPending  MusicianStatus = "pending"
	MusicianAccepted MusicianStatus = "accepted"
	MusicianRejected MusicianStatus = "rejected"
)

type AssignmentSource string

const (
	AssignmentMusicianAccept AssignmentSource = "musician_accept"
	AssignmentOfferSelected  AssignmentSource = "offer_selected"
)

// AcceptedAssignment is the single record of which musician is confirmed for a
// request, whether they accepted it directly or their offer was selected.
type AcceptedAssignment struct {
	MusicianID string           `json:"musician_id"`
	OfferID    string           `json:"offer_id,omitempty"`
	Source     AssignmentSource `json:"source"`
	AssignedAt time.Time        `json:"assigned_at"`
}

// MusicianRejection records one musician declining a request. It only
// closes the request for that musician.
type MusicianRejection struct {
	MusicianID string    `json:"musician_id"`
	RejectedAt time.Time `json:"rejected_at"`
}

type Request struct {
	bun.BaseModel `bun:"table:requests"`

	ID                  string          `bun:"id,pk" json:"id"`
	LeaderID            string          `bun:"leader_id,notnull" json:"leader_id"`
	EventType           string          `bun:"event_type,notnull" json:"event_type"`
	EventDate           string          `bun:"event_date,notnull" json:"event_date"`
	StartTime           string          `bun:"start_time,notnull" json:"start_time"`
	EndTime             string          `bun:"end_time,notnull" json:"end_time"`
	Location            string          `bun:"location,notnull" json:"location"`
	RequiredInstrument  string          `bun:"required_instrument,notnull" json:"required_instrument"`
	ExtraAmount         decimal.Decimal `bun:"extra_amount,type:decimal(12,2),notnull" json:"extra_amount"`
	Description         string          `bun:"description" json:"description"`
	EstimatedBaseAmount decimal.Decimal `bun:"estimated_base_amount,type:decimal(12,2),notnull" json:"estimated_base_amount"`

	Status      RequestStatus `bun:"status,notnull" json:"status"`
	EventStatus EventStatus   `bun:"event_status,notnull" json:"event_status"`

	EventStartedAt      *time.Time `bun:"event_started_at" json:"event_started_at,omitempty"`
	EventCompletedAt    *time.Time `bun:"event_completed_at" json:"event_completed_at,omitempty"`
	StartedByMusicianID string     `bun:"started_by_musician_id,nullzero" json:"started_by_musician_id,omitempty"`

	AssignmentMusicianID string              `bun:"assignment_musician_id,nullzero" json:"-"`
	AssignmentOfferID    string              `bun:"assignment_offer_id,nullzero" json:"-"`
	AssignmentSource     AssignmentSource    `bun:"assignment_source,nullzero" json:"-"`
	AssignedAt           *time.Time          `bun:"assigned_at" json:"-"`
	Rejections           []MusicianRejection `bun:"rejections,nullzero" json:"rejections,omitempty"`

	CancelledAt                *time.Time      `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason         string          `bun:"cancellation_reason,nullzero" json:"cancellation_reason,omitempty"`
	CancellationPenaltyPercent int             `bun:"cancellation_penalty_percent,notnull,default:0" json:"cancellation_penalty_percent"`
	CancellationPenaltyAmount  decimal.Decimal `bun:"cancellation_penalty_amount,type:decimal(12,2),notnull,default:0" json:"cancellation_penalty_amount"`

	Version   int       `bun:"version,notnull,default:0" json:"version"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// Assignment returns the accepted musician, or nil while nobody is confirmed.
func (r *Request) Assignment() *AcceptedAssignment {
	if r.AssignmentMusicianID == "" {
		return nil
	}
	a := &AcceptedAssignment{
		MusicianID: r.AssignmentMusicianID,
		OfferID:    r.AssignmentOfferID,
		Source:     r.AssignmentSource,
	}
	if r.AssignedAt != nil {
		a.AssignedAt = *r.AssignedAt
	}
	return a
}

// Assign records a as the request's accepted musician.
func (r *Request) Assign(a AcceptedAssignment) {
	at := a.AssignedAt
	r.AssignmentMusicianID = a.MusicianID
	r.AssignmentOfferID = a.OfferID
	r.AssignmentSource = a.Source
	r.AssignedAt = &at
}

// MusicianStatus is accepted once someone is assigned, pending otherwise.
// Rejections are tracked per musician, see MusicianStatusFor.
func (r *Request) MusicianStatus() MusicianStatus {
	if r.AssignmentMusicianID != "" {
		return MusicianAccepted
	}
	return MusicianPending
}

// MusicianStatusFor is the request's status from one musician's point of view.
func (r *Request) MusicianStatusFor(musicianID string) MusicianStatus {
	switch {
	case r.AssignmentMusicianID == musicianID:
		return MusicianAccepted
	case r.RejectionBy(musicianID) != nil:
		return MusicianRejected
	default:
		return MusicianPending
	}
}

// RejectionBy returns musicianID's rejection, or nil if they never declined.
func (r *Request) RejectionBy(musicianID string) *MusicianRejection {
	for i := range r.Rejections {
		if r.Rejections[i].MusicianID == musicianID {
			return &r.Rejections[i]
		}
	}
	return nil
}

func (r *Request) AcceptedByMusicianID() string {
	return r.AssignmentMusicianID
}

func (r *Request) MusicianResponseAt() *time.Time {
	return r.AssignedAt
}

// IsClosed reports whether the request reached a terminal state.
func (r *Request) IsClosed() bool {
	return r.Status == RequestCancelled || r.Status == RequestCompleted ||
		r.EventStatus == EventCancelled || r.EventStatus == EventCompleted
}

// TotalAmount is the amount the leader owes for the event before any penalty.
func (r *Request) TotalAmount() decimal.Decimal {
	return r.EstimatedBaseAmount.Add(r.ExtraAmount)
}

func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	return json.Marshal(struct {
		plain
		MusicianStatus       MusicianStatus      `json:"musician_status"`
		AcceptedByMusicianID string              `json:"accepted_by_musician_id,omitempty"`
		MusicianResponseAt   *time.Time          `json:"musician_response_at,omitempty"`
		Assignment           *AcceptedAssignment `json:"assignment,omitempty"`
	}{
		plain:                plain(r),
		MusicianStatus:       r.MusicianStatus(),
		AcceptedByMusicianID: r.AcceptedByMusicianID(),
		MusicianResponseAt:   r.MusicianResponseAt(),
		Assignment:           r.Assignment(),
	})
}

// RequestInput is the payload a leader submits to create a request.
type RequestInput struct {
	EventType          string          `json:"event_type"`
	EventDate          string          `json:"event_date"`
	StartTime          string          `json:"start_time"`
	EndTime            string          `json:"end_time"`
	Location           string          `json:"location"`
	RequiredInstrument string          `json:"required_instrument"`
	ExtraAmount        decimal.Decimal `json:"extra_amount"`
	Description        string          `json:"description"`
}

// RequestPatch holds the fields a leader may edit before anyone is assigned.
type RequestPatch struct {
	Location    *string          `json:"location,omitempty"`
	Description *string          `json:"description,omitempty"`
	ExtraAmount *decimal.Decimal `json:"extra_amount,omitempty"`
}

// RequestFilter narrows list queries. Scope is applied by the service from the actor.
type RequestFilter struct {
	LeaderID    string
	MusicianID  string
	OpenOnly    bool
	Instrument  string
	FromDate    string
	Status      RequestStatus
	EventStatus EventStatus
	Limit       int
	Offset      int
}
