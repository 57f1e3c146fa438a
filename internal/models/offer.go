package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferSelected OfferStatus = "selected"
	OfferRejected OfferStatus = "rejected"
)

type Offer struct {
	bun.BaseModel `bun:"table:offers"`

	ID                    string          `bun:"id,pk" json:"id"`
	RequestID             string          `bun:"request_id,notnull" json:"request_id"`
	MusicianID            string          `bun:"musician_id,notnull" json:"musician_id"`
	ProposedPrice         decimal.Decimal `bun:"proposed_price,type:decimal(12,2),notnull" json:"proposed_price"`
	Message               string          `bun:"message" json:"message"`
	AvailabilityConfirmed bool            `bun:"availability_confirmed,notnull,default:false" json:"availability_confirmed"`
	Status                OfferStatus     `bun:"status,notnull" json:"status"`
	RespondedAt           *time.Time      `bun:"responded_at" json:"responded_at,omitempty"`
	Version               int             `bun:"version,notnull,default:0" json:"version"`
	CreatedAt             time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt             time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

func (o *Offer) IsTerminal() bool {
	return o.Status == OfferSelected || o.Status == OfferRejected
}

type OfferInput struct {
	ProposedPrice         decimal.Decimal `json:"proposed_price"`
	Message               string          `json:"message"`
	AvailabilityConfirmed bool            `json:"availability_confirmed"`
}
