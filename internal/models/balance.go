package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type BalanceEntryKind string

const (
	EntryCancellationPenalty BalanceEntryKind = "cancellation_penalty"
	EntryEventPayout         BalanceEntryKind = "event_payout"
	EntryAdminAdjustment     BalanceEntryKind = "admin_adjustment"
)

// BalanceEntry is an append-only ledger line. Penalties are negative amounts.
type BalanceEntry struct {
	bun.BaseModel `bun:"table:balance_entries"`

	ID        string           `bun:"id,pk" json:"id"`
	UserID    string           `bun:"user_id,notnull" json:"user_id"`
	RequestID string           `bun:"request_id,nullzero" json:"request_id,omitempty"`
	Kind      BalanceEntryKind `bun:"kind,notnull" json:"kind"`
	Amount    decimal.Decimal  `bun:"amount,type:decimal(12,2),notnull" json:"amount"`
	Note      string           `bun:"note" json:"note,omitempty"`
	CreatedAt time.Time        `bun:"created_at,notnull" json:"created_at"`
}

type Balance struct {
	UserID  string          `bun:"user_id" json:"user_id"`
	Balance decimal.Decimal `bun:"balance" json:"balance"`
	Entries int             `bun:"entries" json:"entries"`
}

type BalanceAdjustment struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

type InstrumentRate struct {
	bun.BaseModel `bun:"table:instrument_rates"`

	Instrument string          `bun:"instrument,pk" json:"instrument"`
	HourlyRate decimal.Decimal `bun:"hourly_rate,type:decimal(12,2),notnull" json:"hourly_rate"`
	UpdatedAt  time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}
