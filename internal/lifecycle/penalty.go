package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PenaltyLabelUnder24h = "less than 24h notice"
	PenaltyLabelUnder48h = "less than 48h notice"
	PenaltyLabelOver48h  = "more than 48h notice"
)

// Penalty is the charge applied when a leader cancels a scheduled event.
type Penalty struct {
	Percent    int             `json:"percent"`
	Label      string          `json:"label"`
	HoursUntil float64         `json:"hours_until_event"`
	Amount     decimal.Decimal `json:"amount"`
}

// ComputePenalty tiers the penalty by notice given. It depends only on its
// arguments; Amount is left zero for the caller to fill with ApplyTo.
func ComputePenalty(eventAt, now time.Time) Penalty {
	hours := eventAt.Sub(now).Hours()
	switch {
	case hours < 24:
		return Penalty{Percent: 50, Label: PenaltyLabelUnder24h, HoursUntil: hours}
	case hours < 48:
		return Penalty{Percent: 25, Label: PenaltyLabelUnder48h, HoursUntil: hours}
	default:
		return Penalty{Percent: 0, Label: PenaltyLabelOver48h, HoursUntil: hours}
	}
}

// ApplyTo sets Amount to Percent of total, rounded to cents.
func (p Penalty) ApplyTo(total decimal.Decimal) Penalty {
	if total.IsNegative() {
		total = decimal.Zero
	}
	p.Amount = total.Mul(decimal.NewFromInt(int64(p.Percent))).Div(decimal.NewFromInt(100)).Round(2)
	return p
}
