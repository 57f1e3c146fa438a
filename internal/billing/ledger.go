package billing

import (
	"fmt"
	"ms-booking/internal/lifecycle"
	"ms-booking/internal/models"
	"time"

	"github.com/shopspring/decimal"
)

// PenaltyEntry debits the leader for a cancellation. It returns nil when
// nothing is owed.
func PenaltyEntry(r *models.Request, p lifecycle.Penalty, at time.Time) *models.BalanceEntry {
	if !p.Amount.IsPositive() {
		return nil
	}
	return &models.BalanceEntry{
		UserID:    r.LeaderID,
		RequestID: r.ID,
		Kind:      models.EntryCancellationPenalty,
		Amount:    p.Amount.Neg(),
		Note:      fmt.Sprintf("%d%% cancellation penalty (%s)", p.Percent, p.Label),
		CreatedAt: at,
	}
}

// PayoutAmount is what the assigned musician earns for a completed event:
// the selected offer's price, or the request total when they accepted directly.
func PayoutAmount(r *models.Request, selected *models.Offer) decimal.Decimal {
	if selected != nil && selected.ID == r.AssignmentOfferID {
		return selected.ProposedPrice
	}
	return r.TotalAmount()
}

// PayoutEntry credits the assigned musician for a completed event.
func PayoutEntry(r *models.Request, selected *models.Offer, at time.Time) *models.BalanceEntry {
	if r.AssignmentMusicianID == "" {
		return nil
	}
	amount := PayoutAmount(r, selected)
	if !amount.IsPositive() {
		return nil
	}
	return &models.BalanceEntry{
		UserID:    r.AssignmentMusicianID,
		RequestID: r.ID,
		Kind:      models.EntryEventPayout,
		Amount:    amount.Round(2),
		Note:      fmt.Sprintf("payout for %s on %s", r.EventType, r.EventDate),
		CreatedAt: at,
	}
}

// AdjustmentEntry records a manual admin correction.
func AdjustmentEntry(userID string, adj models.BalanceAdjustment, adminID string, at time.Time) (*models.BalanceEntry, error) {
	if userID == "" {
		return nil, models.Validation("adjust balance", "user id is required")
	}
	if adj.Amount.IsZero() {
		return nil, models.Validation("adjust balance", "adjustment amount must not be zero")
	}
	note := adj.Note
	if note == "" {
		note = "admin adjustment"
	}
	return &models.BalanceEntry{
		UserID:    userID,
		Kind:      models.EntryAdminAdjustment,
		Amount:    adj.Amount.Round(2),
		Note:      fmt.Sprintf("%s (by %s)", note, adminID),
		CreatedAt: at,
	}, nil
}
